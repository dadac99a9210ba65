package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocalLocker_SerializesOverlappingKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []string{MaterialLockKey("WOOD_WALNUT"), MaterialLockKey("ACRYLIC_BLUE")}
			if i%2 == 0 {
				keys[0], keys[1] = keys[1], keys[0]
			}
			release, err := locker.Acquire(ctx, keys)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}(i)
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen)
	}
	if len(locker.locks) != 0 {
		t.Fatalf("expected no leftover key mutexes, got %d", len(locker.locks))
	}
}

func TestLocalLocker_DisjointKeysDoNotBlock(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, []string{MaterialLockKey("WOOD_OAK")})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	timeout, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	other, err := locker.Acquire(timeout, []string{MaterialLockKey("WOOD_MAPLE"), OrderLineLockKey("ol-1")})
	if err != nil {
		t.Fatalf("disjoint Acquire blocked: %v", err)
	}
	other()
}

func TestLocalLocker_HonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Acquire(context.Background(), []string{"material:A", "material:B"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, []string{"material:B", "material:C"})
	if !errors.Is(err, ErrLockNotObtained) {
		t.Fatalf("expected ErrLockNotObtained, got %v", err)
	}

	// a failed attempt must not leave material:C held
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	c, err := locker.Acquire(ctx2, []string{"material:C"})
	if err != nil {
		t.Fatalf("material:C still held after failed Acquire: %v", err)
	}
	c()

	release()
	release()
	again, err := locker.Acquire(ctx2, []string{"material:A", "material:B"})
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	again()
}

func TestChainLocker_ReleasesInnerOnFailure(t *testing.T) {
	first := NewLocalLocker()
	second := NewLocalLocker()
	chain := ChainLocker{first, second}

	// hold the key in the second locker only
	held, err := second.Acquire(context.Background(), []string{"material:X"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := chain.Acquire(ctx, []string{"material:X"}); !errors.Is(err, ErrLockNotObtained) {
		t.Fatalf("expected ErrLockNotObtained, got %v", err)
	}
	if len(first.locks) != 0 {
		t.Fatalf("first locker still holds keys after chain failure")
	}

	held()
	release, err := chain.Acquire(context.Background(), []string{"material:X"})
	if err != nil {
		t.Fatalf("chain Acquire: %v", err)
	}
	release()
}

func TestSortedUniqueKeys(t *testing.T) {
	got := sortedUniqueKeys([]string{"material:B", "orderline:1", "material:A", "material:B"})
	want := []string{"material:A", "material:B", "orderline:1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
