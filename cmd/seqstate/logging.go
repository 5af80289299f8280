package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/samcharles93/seqstate/internal/logger"
)

func newLogger(w io.Writer) (logger.Logger, error) {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isTerminal(f)
	}
	return logger.New(w, logFormat, level, tty)
}
