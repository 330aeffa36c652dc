// Package timeutil provides a small clock abstraction so time-dependent
// components can be tested with a controlled clock.
package timeutil

import "time"

// Provider abstracts wall-clock access.
type Provider interface {
	Now() time.Time
}

type realProvider struct{}

func (realProvider) Now() time.Time { return time.Now() }

// Default returns a Provider backed by the system clock.
func Default() Provider { return realProvider{} }
