// Package llmtest provides a scripted Generator for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/tetraminz/sales_coach/internal/llm"
)

// ErrUnscripted is returned when no responder is configured.
var ErrUnscripted = errors.New("llmtest: no response scripted")

// Fake answers requests through Respond and counts calls per unit.
type Fake struct {
	Respond func(req llm.Request) (string, error)

	mu       sync.Mutex
	requests []llm.Request
}

// Generate implements llm.Generator.
func (f *Fake) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.Respond == nil {
		return "", ErrUnscripted
	}
	return f.Respond(req)
}

// Calls returns the number of requests issued for unit; "" counts all.
func (f *Fake) Calls(unit string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, r := range f.requests {
		if unit == "" || r.Unit == unit {
			n++
		}
	}
	return n
}

// Requests returns a copy of the requests issued for unit; "" returns all.
func (f *Fake) Requests(unit string) []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []llm.Request
	for _, r := range f.requests {
		if unit == "" || r.Unit == unit {
			out = append(out, r)
		}
	}
	return out
}

// Failing returns a Fake whose every call fails.
func Failing() *Fake {
	return &Fake{Respond: func(llm.Request) (string, error) {
		return "", errors.New("llmtest: service unavailable")
	}}
}
