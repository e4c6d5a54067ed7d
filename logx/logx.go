package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
)

const (
	defaultLogFile     = "chainfork.log"
	defaultMaxSizeMB   = 100
	defaultMaxAgeDays  = 7
	defaultMaxBackups  = 10
	logDirectory       = "./logs/"
	envLogFile         = "LOGFILE"
	envLogMaxSizeMB    = "LOGFILE_MAX_SIZE_MB"
	envLogMaxAgeDays   = "LOGFILE_MAX_AGE_DAYS"
	envLogStdout       = "LOG_STDOUT"
	envLogDebugEnabled = "LOG_DEBUG"
)

var (
	logger       = log.New(newWriter(), "", log.Ldate|log.Ltime|log.Lmicroseconds)
	debugEnabled = os.Getenv(envLogDebugEnabled) != ""
)

func newWriter() io.Writer {
	if os.Getenv(envLogStdout) != "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   getLogFilename(),
		MaxSize:    envInt(envLogMaxSizeMB, defaultMaxSizeMB), // megabytes
		MaxAge:     envInt(envLogMaxAgeDays, defaultMaxAgeDays),
		MaxBackups: defaultMaxBackups,
	}
}

func getLogFilename() string {
	if logFile := os.Getenv(envLogFile); logFile != "" {
		return logDirectory + logFile
	}
	return logDirectory + defaultLogFile
}

// envInt falls back to def when the variable is unset or malformed.
func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		fmt.Fprintf(os.Stderr, "invalid value for %s: %q, using %d\n", name, raw, def)
		return def
	}
	return v
}

// SetOutput redirects all log lines, used by the CLI when --stdout is given.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// EnableDebug toggles Debug lines.
func EnableDebug(enabled bool) {
	debugEnabled = enabled
}

func write(level, color, category string, content []interface{}) {
	message := fmt.Sprint(content...)
	coloredCategory := fmt.Sprintf("%s[%s][%s]%s", color, level, category, ColorReset)
	logger.Printf("%s: %s", coloredCategory, message)
}

func Info(category string, content ...interface{}) {
	write("INFO", ColorGreen, category, content)
}

func Error(category string, content ...interface{}) {
	write("ERROR", ColorRed, category, content)
}

func Warn(category string, content ...interface{}) {
	write("WARN", ColorYellow, category, content)
}

func Debug(category string, content ...interface{}) {
	if !debugEnabled {
		return
	}
	write("DEBUG", ColorBlue, category, content)
}

// Errorf logs an error message under category and returns it as an error
func Errorf(category string, format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	Error(category, err.Error())
	return err
}
