package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/thediveo/enumflag/v2"
)

type Level enumflag.Flag

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// LevelIDs maps levels to their command line names.
var LevelIDs = map[Level][]string{
	LevelDebug: {"debug"},
	LevelInfo:  {"info"},
	LevelWarn:  {"warn"},
	LevelError: {"error"},
}

type Format enumflag.Flag

const (
	FormatText Format = iota
	FormatJSON
)

var FormatIDs = map[Format][]string{
	FormatText: {"text"},
	FormatJSON: {"json"},
}

type Config struct {
	Level  Level
	Format Format
	Output io.Writer // defaults to os.Stderr
}

// Logger is the printf-style logger used throughout mergectl.
type Logger struct {
	logger zerolog.Logger
}

func NewLogger(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	if config.Format == FormatText {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: !isTerminal(out)}
	}

	return &Logger{logger: zerolog.New(out).Level(config.Level.zerolog()).With().Timestamp().Logger()}
}

func NewNoOpLogger() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// With returns a child logger that adds key=value to every entry.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{logger: l.logger.With().Str(key, value).Logger()}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.logger.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.logger.Info().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.logger.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error().Msg(fmt.Sprintf(format, args...))
}

// Enabled reports whether entries at level are written.
func (l *Logger) Enabled(level Level) bool {
	return l.logger.GetLevel() <= level.zerolog()
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
