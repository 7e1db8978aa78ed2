// Package module defines probe modules: units of work that query an external
// service about a target and report what they find.
package module

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/AlexKimmel/ScanGate/internal/target"
)

var ErrUnsupportedTarget = errors.New("module: unsupported target")

// Module is implemented by every probe.
type Module interface {
	Name() string
	Description() string
	TargetKinds() []target.Kind
	Produces() []string
	Run(ctx context.Context, t target.Target, env Env) error
}

// Gate admits outbound requests. Modules call Wait with the key they are
// about to contact, immediately before each request.
type Gate interface {
	Wait(ctx context.Context, key string) error
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
}

// Env is what a module gets from the runner.
type Env struct {
	Gate    Gate
	Emitter Emitter
	Options Options
}

// Supports reports whether m accepts targets of kind k.
func Supports(m Module, k target.Kind) bool {
	return slices.Contains(m.TargetKinds(), k)
}

type Event struct {
	Type       string
	Module     string
	Target     target.Target
	Data       string
	Confidence float64 // 0..1
	At         time.Time
}

type Emitter interface {
	Emit(Event)
}

type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Collector is an Emitter that keeps every event. Safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

// Events returns a copy of the collected events in emission order.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events)
}
