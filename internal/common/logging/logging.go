// Package logging configures steward's logger: terse terminal output on
// stderr plus optional timestamped file logs under the managed-installs
// Logs directory. Warnings and errors are additionally appended to their
// own files so the status UI can surface them without parsing the main log.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// MainLogName is the primary log file name
	MainLogName = "ManagedSoftwareUpdate.log"
	// WarningsLogName collects warning messages from the current run
	WarningsLogName = "Warnings.log"
	// ErrorsLogName collects error messages from the current run
	ErrorsLogName = "Errors.log"

	// mainLogMaxSize is the size at which the main log is rotated
	mainLogMaxSize = 1000000
)

// Logger wraps a logrus logger with steward's file-logging conventions.
type Logger struct {
	*logrus.Logger

	mu       sync.Mutex
	logDir   string
	mainFile *os.File
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the default logger instance
func Default() *Logger {
	once.Do(func() {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.InfoLevel)
		l.SetFormatter(&terminalFormatter{})
		defaultLogger = &Logger{Logger: l}
	})
	return defaultLogger
}

// terminalFormatter prints bare messages to the terminal; timestamps and
// level tags only go to the log files.
type terminalFormatter struct{}

func (f *terminalFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(entry.Message + "\n"), nil
}

// SetVerbose enables debug output
func (l *Logger) SetVerbose(verbose bool) {
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
}

// SetQuiet disables all output except errors
func (l *Logger) SetQuiet(quiet bool) {
	if quiet {
		l.SetLevel(logrus.ErrorLevel)
	}
}

// EnableFileLogging mirrors log output into logDir, rotating the main log
// if it has grown past its size limit.
func (l *Logger) EnableFileLogging(logDir string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	mainPath := filepath.Join(logDir, MainLogName)
	rotateIfNeeded(mainPath)

	f, err := os.OpenFile(mainPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	l.logDir = logDir
	l.mainFile = f
	l.AddHook(&fileHook{dir: logDir, main: f})
	return nil
}

// ResetWarnings truncates the warnings log for a new run
func (l *Logger) ResetWarnings() {
	l.resetFile(WarningsLogName)
}

// ResetErrors truncates the errors log for a new run
func (l *Logger) ResetErrors() {
	l.resetFile(ErrorsLogName)
}

func (l *Logger) resetFile(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logDir == "" {
		return
	}
	_ = os.Truncate(filepath.Join(l.logDir, name), 0)
}

// Close closes the main log file if open
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mainFile != nil {
		l.mainFile.Close()
		l.mainFile = nil
	}
}

// rotateIfNeeded moves an oversized main log aside, keeping one backup
func rotateIfNeeded(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() < mainLogMaxSize {
		return
	}
	_ = os.Remove(path + ".1")
	_ = os.Rename(path, path+".1")
}

// fileHook appends formatted entries to the main log, and warnings and
// errors to their dedicated files as well.
type fileHook struct {
	dir  string
	main io.Writer
	mu   sync.Mutex
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	line := fmt.Sprintf("%s %s: %s\n",
		entry.Time.Format("2006-01-02 15:04:05 -0700"),
		entry.Level.String(),
		entry.Message)
	if _, err := io.WriteString(h.main, line); err != nil {
		return err
	}
	switch entry.Level {
	case logrus.WarnLevel:
		h.appendTo(WarningsLogName, line)
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		h.appendTo(ErrorsLogName, line)
	}
	return nil
}

func (h *fileHook) appendTo(name, line string) {
	f, err := os.OpenFile(filepath.Join(h.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = io.WriteString(f, line)
}

// Package-level convenience functions
func Debugf(format string, args ...interface{}) { Default().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Default().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Default().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Default().Errorf(format, args...) }
func SetVerbose(v bool)                         { Default().SetVerbose(v) }
func SetQuiet(q bool)                           { Default().SetQuiet(q) }
