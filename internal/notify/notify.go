// Package notify carries user-facing success and error messages out of
// the panel core.
package notify

import (
	"log/slog"
	"slices"
	"sync"
)

// Sink receives user-facing notifications.
type Sink interface {
	Success(message string)
	Error(message string)
}

// Level is the kind of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one delivered message.
type Notification struct {
	Level   Level  `json:"level" yaml:"level"`
	Message string `json:"message" yaml:"message"`
}

// Recorder is a Sink that keeps every notification in order.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Success implements Sink.
func (r *Recorder) Success(message string) {
	r.add(LevelSuccess, message)
}

// Error implements Sink.
func (r *Recorder) Error(message string) {
	r.add(LevelError, message)
}

func (r *Recorder) add(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Notification{Level: level, Message: message})
}

// All returns the notifications received so far.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.items)
}

// Reset drops recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

// Log is a Sink that writes notifications to slog.
type Log struct{}

// Success implements Sink.
func (Log) Success(message string) {
	slog.Info("notification", "level", LevelSuccess, "message", message)
}

// Error implements Sink.
func (Log) Error(message string) {
	slog.Error("notification", "level", LevelError, "message", message)
}

// Multi fans notifications out to several sinks.
type Multi []Sink

// Success implements Sink.
func (m Multi) Success(message string) {
	for _, s := range m {
		s.Success(message)
	}
}

// Error implements Sink.
func (m Multi) Error(message string) {
	for _, s := range m {
		s.Error(message)
	}
}
