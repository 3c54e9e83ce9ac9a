// Package notify is the user-visible notification channel. Every failure the
// editor catches ends up here instead of crashing the process or silently
// disappearing.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Level classifies a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one user-visible message.
type Notification struct {
	Level   Level
	Message string
	Time    time.Time
}

// Subscriber receives notifications as they are pushed.
type Subscriber func(Notification)

// defaultKeep bounds the retained history; older entries are dropped.
const defaultKeep = 64

// Center fans notifications out to subscribers and keeps a bounded history
// for surfaces that mount late.
type Center struct {
	mu          sync.Mutex
	history     []Notification
	keep        int
	subscribers []Subscriber
	log         *slog.Logger
}

// NewCenter creates a notification center.
func NewCenter(log *slog.Logger) *Center {
	return &Center{keep: defaultKeep, log: log}
}

// Subscribe registers a subscriber for future notifications.
func (c *Center) Subscribe(s Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, s)
}

// Push records and fans out a notification.
func (c *Center) Push(level Level, message string) {
	n := Notification{Level: level, Message: message, Time: time.Now()}

	c.mu.Lock()
	c.history = append(c.history, n)
	if len(c.history) > c.keep {
		c.history = c.history[len(c.history)-c.keep:]
	}
	subs := append([]Subscriber(nil), c.subscribers...)
	c.mu.Unlock()

	switch level {
	case LevelError:
		c.log.Error(message)
	case LevelWarning:
		c.log.Warn(message)
	default:
		c.log.Info(message)
	}

	for _, s := range subs {
		s(n)
	}
}

// Info pushes an info notification.
func (c *Center) Info(message string) { c.Push(LevelInfo, message) }

// Warning pushes a warning notification.
func (c *Center) Warning(message string) { c.Push(LevelWarning, message) }

// Error pushes an error notification.
func (c *Center) Error(message string) { c.Push(LevelError, message) }

// History returns a copy of the retained notifications, oldest first.
func (c *Center) History() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.history...)
}
