package main

import (
	"log/slog"
	"os"

	"emprofiler/internal/app"
)

// Set at build time via -ldflags
var (
	version   = ""
	buildTime = ""
)

func main() {
	if version != "" {
		app.Version = version
	}
	app.BuildTime = buildTime

	application, err := app.NewApplication(nil)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
