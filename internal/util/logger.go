package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

func WrapErrorForLog(packageName string, funcName string, err error) error {
	return fmt.Errorf("%s.%s: %w", packageName, funcName, err)
}

func WrapLogMessage(packageName, funcName, message string) string {
	return fmt.Sprintf("%s.%s: %s", packageName, funcName, message)
}

func FuncName() string {
	pc, _, _, _ := runtime.Caller(1)
	fullFuncName := runtime.FuncForPC(pc).Name()
	funcName := filepath.Ext(fullFuncName)
	return funcName[1:]
}

// InitLogger replaces the global zerolog logger. Unknown levels fall back to info.
func InitLogger(level, format string) {
	log.Logger = NewLogger(os.Stderr, level, format)
}

// NewLogger builds a logger writing to w, colored console output unless format is json.
func NewLogger(w io.Writer, level, format string) zerolog.Logger {
	var out io.Writer = w
	if strings.ToLower(format) != LogFormatJSON {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
