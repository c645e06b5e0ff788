package storetest

import (
	"log/slog"
	"os"

	"github.com/golang-cz/devslog"
)

// ConfigureLogging routes slog through the devslog development handler so
// dropped-signal and dropped-outcome warnings read well in test output.
// Call it from TestMain.
func ConfigureLogging() {
	logOpts := &devslog.Options{HandlerOptions: &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}}
	slog.SetDefault(slog.New(devslog.NewHandler(os.Stdout, logOpts)))
}
