// Package publishers fans harvested batch events out to downstream queues
// and HTTP endpoints declared in a registry file.
package publishers

import (
	"context"
	"time"
)

// Event is the payload announced after a window's batch is persisted.
type Event struct {
	RunID        string    `json:"run_id"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	ArticleCount int       `json:"article_count"`
	ArticleIDs   []string  `json:"article_ids,omitempty"`
}

// Publisher delivers events to one configured destination.
type Publisher interface {
	ID() string
	Type() string
	Publish(ctx context.Context, evt Event) error
}

// Logger is the minimal logging surface publishers need. It matches the
// harvester's logger so either can be passed straight through.
type Logger interface {
	DebugObj(msg, event string, fields map[string]any)
	InfoObj(msg, event string, fields map[string]any)
	WarnObj(msg, event string, fields map[string]any)
	ErrorObj(msg, event string, fields map[string]any)
}

type nopLogger struct{}

func (nopLogger) DebugObj(string, string, map[string]any) {}
func (nopLogger) InfoObj(string, string, map[string]any)  {}
func (nopLogger) WarnObj(string, string, map[string]any)  {}
func (nopLogger) ErrorObj(string, string, map[string]any) {}

// ensureLogger substitutes a no-op logger for nil.
func ensureLogger(log Logger) Logger {
	if log == nil {
		return nopLogger{}
	}
	return log
}
