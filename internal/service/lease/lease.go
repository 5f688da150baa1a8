package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var acquireScript = redis.NewScript(`
local ok = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', tonumber(ARGV[2]))
if ok then
  return 1
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[2]))
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Grant is a held lease. Extend pushes the expiry out by the lease TTL and
// reports false once another holder owns the key. Release is a no-op when
// the lease was already lost.
type Grant interface {
	Extend(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Lease is an exclusive, expiring lock held in Redis. It guarantees that at
// most one engine instance runs a scheduler tick at a time, as long as the
// holder extends it before the TTL runs out.
type Lease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// New constructs a lease stored under prefix+"tick".
func New(client *redis.Client, prefix string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Lease{client: client, key: prefix + "tick", ttl: ttl}
}

// TTL is the expiry applied on acquire and on every extend.
func (l *Lease) TTL() time.Duration { return l.ttl }

// Acquire tries to take the lease. It returns a nil Grant when another
// holder owns it.
func (l *Lease) Acquire(ctx context.Context) (Grant, error) {
	token := uuid.NewString()
	res, err := acquireScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("lease acquire: %w", err)
	}
	if res != 1 {
		return nil, nil
	}
	return &redisGrant{lease: l, token: token}, nil
}

type redisGrant struct {
	lease *Lease
	token string
}

func (g *redisGrant) Extend(ctx context.Context) (bool, error) {
	res, err := extendScript.Run(ctx, g.lease.client, []string{g.lease.key}, g.token, g.lease.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lease extend: %w", err)
	}
	return res == 1, nil
}

func (g *redisGrant) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, g.lease.client, []string{g.lease.key}, g.token).Int(); err != nil {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}

// Local is an in-process lease used when no Redis is configured and in tests.
type Local struct {
	held chan struct{}
}

// NewLocal constructs a Local lease.
func NewLocal() *Local {
	return &Local{held: make(chan struct{}, 1)}
}

// Acquire takes the lease without blocking.
func (l *Local) Acquire(context.Context) (Grant, error) {
	select {
	case l.held <- struct{}{}:
		return &localGrant{lease: l}, nil
	default:
		return nil, nil
	}
}

type localGrant struct {
	lease    *Local
	mu       sync.Mutex
	released bool
}

func (g *localGrant) Extend(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.released, nil
}

func (g *localGrant) Release(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return nil
	}
	g.released = true
	<-g.lease.held
	return nil
}
