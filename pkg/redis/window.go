package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// INCR and PEXPIRE run atomically; every window expires.
const fixedWindowLua = `
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`

var fixedWindowScript = redis.NewScript(fixedWindowLua)

// Window is the state of one fixed rate-limit window after a hit.
type Window struct {
	Allowed bool
	Count   int64
	// ResetIn is how long until the window starts over.
	ResetIn time.Duration
}

// FixedWindow counts one hit against scope and reports whether it fits in limit.
func (c *Client) FixedWindow(ctx context.Context, scope string, limit int64, window time.Duration) (Window, error) {
	if c.store == nil {
		return Window{}, errNotInitialized
	}
	if window <= 0 {
		return Window{}, fmt.Errorf("window must be positive")
	}
	vals, err := fixedWindowScript.Run(ctx, c.store, []string{c.RateLimitKey(scope)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("rate window %s: %w", scope, err)
	}
	if len(vals) != 2 {
		return Window{}, fmt.Errorf("rate window %s: unexpected reply %v", scope, vals)
	}
	resetIn := time.Duration(vals[1]) * time.Millisecond
	if resetIn < 0 {
		resetIn = window
	}
	return Window{Allowed: vals[0] <= limit, Count: vals[0], ResetIn: resetIn}, nil
}
