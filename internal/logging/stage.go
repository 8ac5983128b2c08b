package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// NewRunID generates a random run ID.
func NewRunID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp if random generation fails
		return hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(b)
}

// Timer measures one pipeline stage.
type Timer struct {
	ctx   context.Context
	name  string
	start time.Time
}

// Stage starts timing the named stage.
func Stage(ctx context.Context, name string) *Timer {
	DebugContext(ctx, "stage_start", "stage", name)
	return &Timer{ctx: ctx, name: name, start: time.Now()}
}

// Done logs the stage duration with optional key-value pairs and returns it.
func (t *Timer) Done(args ...any) time.Duration {
	d := time.Since(t.start)
	StageDone(t.ctx, t.name, d, args...)
	return d
}
