// Package telemetry defines the event channel the pipeline reports into.
// Sinks are pluggable; the core only depends on the Channel interface.
package telemetry

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Channel receives pipeline telemetry
type Channel interface {
	// TrackEvent records a named event with string properties
	TrackEvent(name string, properties map[string]string)

	// TrackDependency records an external call with its duration and outcome
	TrackDependency(name string, duration time.Duration, success bool, properties map[string]string)
}

// Event is one recorded telemetry entry
type Event struct {
	Name       string
	Duration   time.Duration
	Success    bool
	Dependency bool
	Properties map[string]string
	At         time.Time
}

// MemoryChannel aggregates events in memory. Safe for concurrent writers.
type MemoryChannel struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryChannel creates an in-memory telemetry aggregator
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{}
}

// TrackEvent records a named event
func (c *MemoryChannel) TrackEvent(name string, properties map[string]string) {
	c.append(Event{Name: name, Success: true, Properties: copyProps(properties), At: time.Now()})
}

// TrackDependency records an external call
func (c *MemoryChannel) TrackDependency(name string, duration time.Duration, success bool, properties map[string]string) {
	c.append(Event{Name: name, Duration: duration, Success: success, Dependency: true, Properties: copyProps(properties), At: time.Now()})
}

// Events returns a snapshot of everything recorded so far
func (c *MemoryChannel) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *MemoryChannel) append(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func copyProps(properties map[string]string) map[string]string {
	out := make(map[string]string, len(properties))
	for k, v := range properties {
		out[k] = v
	}
	return out
}

// LogChannel forwards telemetry to logrus
type LogChannel struct{}

// TrackEvent logs a named event at debug level
func (LogChannel) TrackEvent(name string, properties map[string]string) {
	logrus.WithFields(toFields(name, properties)).Debug("telemetry event")
}

// TrackDependency logs an external call at debug level
func (LogChannel) TrackDependency(name string, duration time.Duration, success bool, properties map[string]string) {
	fields := toFields(name, properties)
	fields["duration"] = duration.String()
	fields["success"] = success
	logrus.WithFields(fields).Debug("telemetry dependency")
}

func toFields(name string, properties map[string]string) logrus.Fields {
	fields := logrus.Fields{"event": name}
	for k, v := range properties {
		fields[k] = v
	}
	return fields
}

// Nop discards all telemetry
type Nop struct{}

// TrackEvent discards the event
func (Nop) TrackEvent(string, map[string]string) {}

// TrackDependency discards the dependency record
func (Nop) TrackDependency(string, time.Duration, bool, map[string]string) {}
