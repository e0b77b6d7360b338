package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns the service logger: JSON to stdout, or a human-friendly
// console writer when APP_ENV is dev/development. Every line carries the
// service name so the api and ingestor streams stay distinguishable from
// neighbours in a shared log pipeline.
func NewLogger(env string) zerolog.Logger {
	out := io.Writer(os.Stdout)
	if env == "dev" || env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Str("service", "staymatch").Logger()
}
