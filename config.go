package wsshell

// config.go - Host configuration loading and parsing
// Author: CyberPanther232

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// HostConfig is one named endpoint in the configuration file.
type HostConfig struct {
	Host         string // config entry name
	URL          string // ws:// or wss:// endpoint carrying the SSH stream
	User         string
	IdentityFile string
	CertFile     string
	Cols         int
	Rows         int
	TermType     string
}

// LoadConfig reads a wsshell.conf style file: blank-line separated blocks
// of "Key value" pairs, each block introduced by a Host line. A missing
// file is an empty configuration, not an error.
func LoadConfig(configurationPath string) (map[string]HostConfig, error) {
	if _, err := os.Stat(configurationPath); os.IsNotExist(err) {
		return map[string]HostConfig{}, nil
	}

	data, err := os.ReadFile(configurationPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading configuration")
	}

	lines := strings.Split(string(data), "\n")

	cfgs := map[string]HostConfig{}
	var current HostConfig

	commitCurrent := func() {
		if strings.TrimSpace(current.Host) != "" {
			cfgs[current.Host] = current
		}
		current = HostConfig{}
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		sp := strings.IndexFunc(line, func(r rune) bool { return r == ' ' || r == '\t' })
		var key, val string
		if sp == -1 {
			key = line
		} else {
			key = strings.TrimSpace(line[:sp])
			val = strings.TrimSpace(line[sp+1:])
		}

		switch key {
		case "Host":
			commitCurrent()
			current.Host = val
		case "URL":
			current.URL = val
		case "User":
			current.User = val
		case "IdentityFile":
			current.IdentityFile = val
		case "CertFile":
			current.CertFile = val
		case "Cols":
			current.Cols, _ = strconv.Atoi(val)
		case "Rows":
			current.Rows, _ = strconv.Atoi(val)
		case "TermType":
			current.TermType = val
		}
	}

	commitCurrent()
	return cfgs, nil
}

// SampleConfig is what --generate-config writes out.
const SampleConfig = `# Sample wsshell Configuration File
# Each block names one endpoint; select it with --host <name>.
Host sample_host
URL wss://gateway.example.com/ssh
User testuser
IdentityFile ~/.ssh/id_ed25519
CertFile ~/.ssh/id_ed25519-cert.pub
Cols 80
Rows 24
`
