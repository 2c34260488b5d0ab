package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog prints to the standard streams before the structured logger
// has been configured.
type EarlyLog struct {
	stdout io.Writer
	stderr io.Writer
	exit   func(int)
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{stdout: os.Stdout, stderr: os.Stderr, exit: os.Exit}
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	fmt.Fprintf(l.stderr, "FATAL: "+msg+"\n", args...)
	l.exit(1)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	fmt.Fprintf(l.stderr, "WARN: "+msg+"\n", args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	fmt.Fprintf(l.stdout, "INFO: "+msg+"\n", args...)
}
