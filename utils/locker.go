package utils

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

var ErrLockNotObtained = errors.New("could not obtain lock")

// KeyedLocker acquires a set of named locks. Keys are always taken in
// ascending order so two callers with overlapping sets cannot deadlock.
// The returned release func is safe to call more than once.
type KeyedLocker interface {
	Acquire(ctx context.Context, keys []string) (release func(), err error)
}

func sortedUniqueKeys(keys []string) []string {
	out := UniqueSlice(keys)
	sort.Strings(out)
	return out
}

func MaterialLockKey(materialId string) string {
	return "material:" + materialId
}

func OrderLineLockKey(orderLineId string) string {
	return "orderline:" + orderLineId
}

/* in-process */

type keyMutex struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is a keyed mutex for a single process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyMutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyMutex)}
}

func (l *LocalLocker) ref(key string) *keyMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &keyMutex{ch: make(chan struct{}, 1)}
		l.locks[key] = m
	}
	m.refs++
	return m
}

func (l *LocalLocker) unref(key string, m *keyMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, keys []string) (func(), error) {
	keys = sortedUniqueKeys(keys)
	held := make([]string, 0, len(keys))
	mutexes := make([]*keyMutex, 0, len(keys))

	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-mutexes[i].ch
			l.unref(held[i], mutexes[i])
		}
		held = held[:0]
		mutexes = mutexes[:0]
	}

	for _, key := range keys {
		m := l.ref(key)
		select {
		case m.ch <- struct{}{}:
			held = append(held, key)
			mutexes = append(mutexes, m)
		case <-ctx.Done():
			l.unref(key, m)
			releaseAll()
			return func() {}, fmt.Errorf("%w: %s: %v", ErrLockNotObtained, key, ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

/* redis */

// RedisLocker takes bsm/redislock locks so several API replicas serialize on
// the same material rows. Each Obtain retries with a bounded linear backoff.
type RedisLocker struct {
	Client  *redislock.Client
	TTL     time.Duration
	Retries int
	Backoff time.Duration
}

func NewRedisLocker(client *redislock.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		Client:  client,
		TTL:     ttl,
		Retries: 40,
		Backoff: 50 * time.Millisecond,
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, keys []string) (func(), error) {
	keys = sortedUniqueKeys(keys)
	locks := make([]*redislock.Lock, 0, len(keys))

	releaseAll := func() {
		// release with a fresh context so a cancelled request still frees its keys
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(locks) - 1; i >= 0; i-- {
			_ = locks[i].Release(relCtx)
		}
		locks = locks[:0]
	}

	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.Backoff), r.Retries),
	}
	for _, key := range keys {
		lock, err := r.Client.Obtain(ctx, "lock:"+key, r.TTL, opts)
		if err != nil {
			releaseAll()
			if errors.Is(err, redislock.ErrNotObtained) {
				return func() {}, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
			}
			return func() {}, err
		}
		locks = append(locks, lock)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

/* composite */

// ChainLocker acquires every inner locker in order and releases in reverse.
type ChainLocker []KeyedLocker

func (c ChainLocker) Acquire(ctx context.Context, keys []string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, locker := range c {
		release, err := locker.Acquire(ctx, keys)
		if err != nil {
			releaseAll()
			return func() {}, err
		}
		releases = append(releases, release)
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
