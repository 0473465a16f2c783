package sherlock

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a text-formatted logrus logger writing to stderr,
// used by cmd/* to thread a single logger into a Session. Debuggee
// output (breakpoint hits, register dumps, backtraces) goes to stdout
// through the action handlers directly; Logger is reserved for the
// debugger's own diagnostics.
func NewLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	return logger
}
