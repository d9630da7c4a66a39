// Package log provides the logging backend shared by every Bmail component,
// built on the go-logging package.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

const logFormat = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

// Backend is a log backend.
type Backend struct {
	w       io.Writer
	backend logging.LeveledBackend
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b.backend)
	return l
}

// Close closes the log file, if the backend owns one.
func (b *Backend) Close() error {
	if c, ok := b.w.(io.Closer); ok && b.w != os.Stdout && b.w != os.Stderr {
		return c.Close()
	}
	return nil
}

// New initializes a logging backend writing to file f, stdout when f is
// empty, or nowhere when disable is set.
func New(f string, level string, disable bool) (*Backend, error) {
	var w io.Writer
	switch {
	case disable:
		w = io.Discard
	case f == "":
		w = os.Stdout
	default:
		const fileMode = 0600

		var err error
		flags := os.O_CREATE | os.O_APPEND | os.O_WRONLY
		w, err = os.OpenFile(f, flags, fileMode)
		if err != nil {
			return nil, fmt.Errorf("log: failed to create log file: %v", err)
		}
	}
	return NewWithWriter(w, level)
}

// NewWithWriter initializes a logging backend writing to w.
func NewWithWriter(w io.Writer, level string) (*Backend, error) {
	lvl, err := levelFromString(level)
	if err != nil {
		return nil, err
	}

	base := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(base, logging.MustStringFormatter(logFormat))
	b := &Backend{w: w, backend: logging.AddModuleLevel(formatted)}
	b.backend.SetLevel(lvl, "")
	return b, nil
}

var (
	discardOnce    sync.Once
	discardBackend *Backend
)

// Discard returns a logger for module that drops everything. Components use
// it when the caller did not supply a logger.
func Discard(module string) *logging.Logger {
	discardOnce.Do(func() {
		discardBackend, _ = NewWithWriter(io.Discard, "ERROR")
	})
	return discardBackend.GetLogger(module)
}

func levelFromString(l string) (logging.Level, error) {
	switch strings.ToUpper(l) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE", "":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.CRITICAL, fmt.Errorf("log: invalid level: '%v'", l)
	}
}
