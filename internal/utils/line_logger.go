package utils

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
)

// maxLineSize caps a pending partial line. Longer lines are logged in pieces.
const maxLineSize = 64 * 1024

// LineLogger is an io.Writer that logs each complete line written to it as one slog record.
// It is used to surface the diagnostic output of child processes.
type LineLogger struct {
	mu     sync.Mutex
	logger *slog.Logger
	level  slog.Level
	msg    string
	buf    bytes.Buffer
	lines  uint64
}

func NewLineLogger(logger *slog.Logger, level slog.Level, msg string) *LineLogger {
	return &LineLogger{logger: logger, level: level, msg: msg}
}

func (l *LineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(p)
	for {
		idx := bytes.IndexByte(l.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := string(l.buf.Next(idx + 1))
		l.emit(line)
	}
	if l.buf.Len() > maxLineSize {
		l.emit(string(l.buf.Next(l.buf.Len())))
	}
	return len(p), nil
}

// Close logs whatever partial line is still buffered.
func (l *LineLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() > 0 {
		l.emit(string(l.buf.Next(l.buf.Len())))
	}
	return nil
}

// Lines returns how many lines have been logged so far.
func (l *LineLogger) Lines() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines
}

func (l *LineLogger) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	l.lines++
	l.logger.Log(context.Background(), l.level, l.msg, "line", l.lines, "output", line)
}
