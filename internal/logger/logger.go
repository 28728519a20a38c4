package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger. format is "console" (default) or "json";
// level is any zerolog level name.
func Setup(level, format string) error {
	return setup(os.Stdout, level, format)
}

func setup(out io.Writer, level, format string) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(lvl)

	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger()
		return nil
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
		With().Timestamp().Caller().Logger()
	return nil
}
