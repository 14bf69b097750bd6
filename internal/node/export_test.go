package node

import (
	"context"
	"time"
)

// SetWait replaces the backoff sleep.
func (c *Connection) SetWait(fn func(ctx context.Context, d time.Duration) bool) {
	c.wait = fn
}
