package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// EarlyLog reports startup failures before the zap logger exists. Lines use the same
// level/timestamp/message keys as the service logger so collectors parse both alike.
type EarlyLog struct {
	service string
	out     io.Writer
}

func NewEarlyLog(service string) *EarlyLog {
	return &EarlyLog{service: service, out: os.Stderr}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.write("error", msg, args...)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write("warn", msg, args...)
}

func (l *EarlyLog) write(level, msg string, args ...interface{}) {
	line, err := json.Marshal(map[string]string{
		"level":        level,
		"timestamp":    time.Now().UTC().Format("2006-01-02T15:04:05.000Z0700"),
		"message":      fmt.Sprintf(msg, args...),
		"service_name": l.service,
	})
	if err != nil {
		fmt.Fprintf(l.out, "%s: %s\n", level, fmt.Sprintf(msg, args...))
		return
	}
	fmt.Fprintln(l.out, string(line))
}
