// Package logging adapts zerolog to the service's Logger interface.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"daoforge/internal/core"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options selects the log level and output format.
type Options struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultOptions logs info and above as JSON.
func DefaultOptions() Options {
	return Options{Level: "info", Format: FormatJSON}
}

// OptionsFromEnv reads DAOFORGE_LOG_LEVEL and DAOFORGE_LOG_FORMAT. Unset
// variables stay empty.
func OptionsFromEnv() Options {
	return Options{
		Level:  os.Getenv("DAOFORGE_LOG_LEVEL"),
		Format: os.Getenv("DAOFORGE_LOG_FORMAT"),
	}
}

// ParseLevel maps a level name to zerolog. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off", "none":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Validate checks the level and format names.
func (o Options) Validate() error {
	if _, err := ParseLevel(o.Level); err != nil {
		return err
	}
	switch o.Format {
	case "", FormatJSON, FormatConsole:
		return nil
	default:
		return fmt.Errorf("unknown log format %q", o.Format)
	}
}

// New builds a zerolog logger writing to w.
func New(w io.Writer, opts Options) (zerolog.Logger, error) {
	if err := opts.Validate(); err != nil {
		return zerolog.Nop(), err
	}
	level, _ := ParseLevel(opts.Level)
	if opts.Format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("app", "daoforge").Logger(), nil
}

// Adapter implements core.Logger on top of zerolog. Arguments after the
// message are alternating keys and values.
type Adapter struct {
	log zerolog.Logger
}

var _ core.Logger = (*Adapter)(nil)

// NewAdapter wraps log.
func NewAdapter(log zerolog.Logger) *Adapter {
	return &Adapter{log: log}
}

// Zerolog returns the wrapped logger.
func (a *Adapter) Zerolog() zerolog.Logger { return a.log }

func (a *Adapter) Debug(msg string, args ...any) { emit(a.log.Debug(), msg, args) }
func (a *Adapter) Info(msg string, args ...any)  { emit(a.log.Info(), msg, args) }
func (a *Adapter) Warn(msg string, args ...any)  { emit(a.log.Warn(), msg, args) }
func (a *Adapter) Error(msg string, args ...any) { emit(a.log.Error(), msg, args) }

func emit(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 == len(args) {
			e = e.Interface("!BADKEY", args[i])
			break
		}
		switch v := args[i+1].(type) {
		case error:
			e = e.AnErr(key, v)
		case string:
			e = e.Str(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		case fmt.Stringer:
			e = e.Stringer(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}
