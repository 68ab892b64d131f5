package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-canfd-console/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "canfd-console")
	logging.Set(l)
	return l
}
