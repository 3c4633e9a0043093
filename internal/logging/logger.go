// Package logging builds the zap loggers used by a run: a console logger for
// the terminal and, once the case folder exists, a tee that also writes JSON
// lines to the run log.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Redacted replaces secrets in rendered strings.
const Redacted = "[REDACTED]"

func consoleLevel(verbose bool) zapcore.Level {
	if verbose {
		return zapcore.InfoLevel
	}
	return zapcore.WarnLevel
}

func consoleCore(w io.Writer, verbose bool) zapcore.Core {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = ""
	cfg.CallerKey = ""
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(w), consoleLevel(verbose))
}

// NewConsole returns a logger that writes human-readable lines to w
// (stderr when nil). WARN and above are shown, INFO too when verbose.
func NewConsole(w io.Writer, verbose bool) *zap.SugaredLogger {
	if w == nil {
		w = os.Stderr
	}
	return zap.New(consoleCore(w, verbose)).Sugar()
}

// RunLogger tees console output with a JSON log file.
type RunLogger struct {
	*zap.SugaredLogger
	Path string
	file *closableFile
}

// NewRunLogger opens path for appending and returns a logger that writes
// DEBUG and above to it as JSON lines, and to console at the console level.
func NewRunLogger(console io.Writer, verbose bool, path string) (*RunLogger, error) {
	if console == nil {
		console = os.Stderr
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	file := &closableFile{f: f}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), file, zapcore.DebugLevel)

	core := zapcore.NewTee(consoleCore(console, verbose), fileCore)
	return &RunLogger{
		SugaredLogger: zap.New(core).Sugar(),
		Path:          path,
		file:          file,
	}, nil
}

// Close flushes and closes the log file. Later writes to the file core are
// discarded. It is safe to call more than once.
func (l *RunLogger) Close() error {
	_ = l.SugaredLogger.Sync()
	return l.file.Close()
}

// closableFile is a WriteSyncer that drops writes after Close.
type closableFile struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

func (c *closableFile) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return len(p), nil
	}
	return c.f.Write(p)
}

func (c *closableFile) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.f.Sync()
}

func (c *closableFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.f.Sync(); err != nil {
		_ = c.f.Close()
		return err
	}
	return c.f.Close()
}

// Redact replaces every non-empty secret in s.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, Redacted)
	}
	return s
}
