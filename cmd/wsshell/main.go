package main

// wsshell - Interactive SSH shell over a WebSocket gateway
// Author: CyberPanther232

import (
	"bufio"
	f "fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/CyberPanther232/wsshell"
)

var (
	flagConfig         string
	flagHost           string
	flagVerbose        bool
	flagListHosts      bool
	flagGenerateConfig bool
	flagTest           bool
)

func main() {
	root := &cobra.Command{
		Use:           "wsshell",
		Short:         "SSH-2 client over WebSocket transports",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVar(&flagConfig, "config", "wsshell.conf", "alternative configuration file")
	root.Flags().StringVar(&flagHost, "host", "", "host config name to connect to")
	root.Flags().BoolVar(&flagVerbose, "verbose", false, "enable verbose protocol output")
	root.Flags().BoolVar(&flagListHosts, "list-hosts", false, "list available hosts in configuration")
	root.Flags().BoolVar(&flagGenerateConfig, "generate-config", false, "generate a sample configuration file")
	root.Flags().BoolVar(&flagTest, "test", false, "run handshake and authentication, then exit")

	if err := root.Execute(); err != nil {
		f.Fprintln(os.Stderr, "wsshell:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagGenerateConfig {
		return generateSampleConfig()
	}

	configuration, err := wsshell.LoadConfig(flagConfig)
	if err != nil {
		return err
	}
	if len(configuration) == 0 {
		f.Println("No configuration found. Please create a wsshell.conf file (see --generate-config).")
		return nil
	}

	if flagListHosts {
		f.Println("Available Hosts:")
		for host := range configuration {
			f.Println(" -", host)
		}
		return nil
	}

	var selected wsshell.HostConfig
	var ok bool
	if flagHost == "" {
		f.Println("Available Hosts:")
		for host := range configuration {
			f.Println(" -", host)
		}
		choice := getUserInput("Select a host: ")
		selected, ok = configuration[choice]
	} else {
		selected, ok = configuration[strings.TrimSpace(flagHost)]
	}
	if !ok {
		return f.Errorf("host not found in configuration")
	}

	creds, err := loadCredentials(selected)
	if err != nil {
		return err
	}

	f.Printf("Connecting to %s...\n", selected.URL)
	transport, err := wsshell.DialWebSocket(selected.URL, nil)
	if err != nil {
		return err
	}

	return runSession(transport, creds, selected)
}

// loadCredentials tries the identity file plainly first and falls back to a
// passphrase prompt when the key turns out to be encrypted.
func loadCredentials(hc wsshell.HostConfig) (*wsshell.Credentials, error) {
	creds, err := wsshell.LoadCredentials(hc.User, hc.IdentityFile, hc.CertFile)
	if err == nil {
		return creds, nil
	}
	if !strings.Contains(err.Error(), "passphrase") {
		return nil, err
	}

	f.Print("Enter key passphrase: ")
	passBytes, _ := term.ReadPassword(int(os.Stdin.Fd()))
	f.Println()
	return wsshell.LoadCredentialsWithPassphrase(hc.User, hc.IdentityFile, hc.CertFile, string(passBytes))
}

func runSession(transport wsshell.Transport, creds *wsshell.Credentials, hc wsshell.HostConfig) error {
	cols, rows := hc.Cols, hc.Rows
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		cols, rows = w, h
	}

	errCh := make(chan error, 1)
	opts := &wsshell.Options{
		Cols:     cols,
		Rows:     rows,
		TermType: hc.TermType,
		OnPtyDenied: func() {
			f.Fprintln(os.Stderr, "\r\nwsshell: server denied the pty request; output may be garbled")
		},
		OnError: func(err error) {
			errCh <- err
		},
	}
	if flagVerbose {
		opts.Logger = wsshell.NewDebugLogger(os.Stderr)
	}

	conn, err := wsshell.Connect(transport, creds, opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.OnData(func(b []byte) {
		os.Stdout.Write(b)
	})

	if flagTest {
		// Give the handshake a chance to fail, then report.
		select {
		case err := <-errCh:
			return err
		case <-time.After(10 * time.Second):
			f.Println("Test mode: handshake started cleanly, exiting before session start.")
			return nil
		}
	}

	// Raw mode: every keystroke goes to the remote shell, Ctrl-] comes
	// back to us as the escape hatch.
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err == nil {
		defer term.Restore(int(os.Stdin.Fd()), oldState)
	}

	go watchResize(conn, cols, rows)

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				errCh <- err
				return
			}
			if n == 1 && buf[0] == 0x1d { // Ctrl-]
				errCh <- nil
				return
			}
			if err := conn.Write(buf[:n]); err != nil {
				errCh <- err
				return
			}
		}
	}()

	err = <-errCh
	if tc, ok := err.(*wsshell.TransportClosedError); ok && tc.Clean {
		f.Fprintln(os.Stderr, "\r\nConnection closed.")
		return nil
	}
	return err
}

// watchResize polls the local terminal size and forwards changes. Polling
// keeps this portable; a SIGWINCH handler would be unix-only.
func watchResize(conn *wsshell.Conn, cols, rows int) {
	for {
		time.Sleep(500 * time.Millisecond)
		w, h, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil {
			return
		}
		if w != cols || h != rows {
			cols, rows = w, h
			if conn.Resize(cols, rows) != nil {
				return
			}
		}
	}
}

func generateSampleConfig() error {
	if _, err := os.Stat("wsshell.conf"); err == nil {
		f.Println("Configuration file 'wsshell.conf' already exists. Aborting generation.")
		return nil
	}
	if err := os.WriteFile("wsshell.conf", []byte(wsshell.SampleConfig), 0644); err != nil {
		return err
	}
	f.Println("Sample configuration file 'wsshell.conf' generated.")
	return nil
}

func getUserInput(prompt string) string {
	f.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}
