// Command spendsync runs the expense API and realtime sync server.
package main

import (
	"log/slog"
	"os"

	"spendsync/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		slog.Error("spendsync.exit", "err", err)
		os.Exit(1)
	}
}
