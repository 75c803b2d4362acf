package distlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyedLocker serializes work per key. Lock blocks until the key is held or
// ctx ends; the returned func releases it.
type KeyedLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalKeyed is an in-process KeyedLocker for single-instance deployments
// and tests.
type LocalKeyed struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalKeyed returns an empty in-process keyed locker.
func NewLocalKeyed() *LocalKeyed {
	return &LocalKeyed{slots: make(map[string]*keySlot)}
}

// Lock acquires key, waiting for any current holder.
func (l *LocalKeyed) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &keySlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.drop(key, s)
		})
	}, nil
}

func (l *LocalKeyed) drop(key string, s *keySlot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

// RedisKeyed is a cross-process KeyedLocker built on RedisLock. Each Lock call
// gets a fresh ownership token and polls SET NX until acquired.
type RedisKeyed struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

// NewRedisKeyed returns a Redis-backed keyed locker. ttl bounds how long a
// crashed holder can block others.
func NewRedisKeyed(client *redis.Client, prefix string, ttl time.Duration) *RedisKeyed {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisKeyed{client: client, prefix: prefix, ttl: ttl, poll: 25 * time.Millisecond}
}

// Lock acquires key, polling until it is free or ctx ends. While held, the
// TTL is extended every ttl/3 so long discovery runs keep the key.
func (r *RedisKeyed) Lock(ctx context.Context, key string) (func(), error) {
	lock := NewRedisLock(r.client, r.prefix+key, r.ttl)
	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-time.After(r.poll):
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ectx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
				err := lock.Extend(ectx, r.ttl)
				cancel()
				if errors.Is(err, ErrNotHeld) {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release on a fresh context so a cancelled caller still frees the key.
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = lock.Release(rctx)
		})
	}, nil
}
