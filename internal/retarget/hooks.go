package retarget

import (
	"context"
	"time"
)

// Hooks receives progress events. Events are emitted from the goroutine
// calling Run, once per (destination, target) pair.
type Hooks interface {
	OnTargetStart(ctx context.Context, destination, target string, clusters int)
	OnTargetComplete(ctx context.Context, destination, target string, duration time.Duration, err error)
}

// NoopHooks is a no-op implementation of Hooks.
type NoopHooks struct{}

func (NoopHooks) OnTargetStart(context.Context, string, string, int)                        {}
func (NoopHooks) OnTargetComplete(context.Context, string, string, time.Duration, error) {}
