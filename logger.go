package wsshell

// logger.go - Logging defaults
// Author: CyberPanther232

import (
	"io"

	"github.com/sirupsen/logrus"
)

// discardLogger is the default: the engine logs nothing unless the caller
// hands in a logger via Options.
func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// NewDebugLogger builds the logger the CLI uses in verbose mode: trace
// level with timestamps down to the millisecond, matching the pace of a
// packet trace.
func NewDebugLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.TraceLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return l
}
