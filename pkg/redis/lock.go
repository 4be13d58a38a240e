package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const releaseIfOwnerLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`

var releaseIfOwnerScript = redis.NewScript(releaseIfOwnerLua)

// ReleaseIfOwner deletes key only while it still holds owner, so a worker whose
// lock expired cannot free the lock another worker took over.
func (c *Client) ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	n, err := releaseIfOwnerScript.Run(ctx, c.store, []string{key}, owner).Int64()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	return n == 1, nil
}
