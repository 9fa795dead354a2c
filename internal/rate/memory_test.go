package rate

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	l := NewLimiter()
	for i := 0; i < 5; i++ {
		if !l.Allow("k", 5, time.Minute) {
			t.Fatalf("hit %d denied, limit is 5", i+1)
		}
	}
	if l.Allow("k", 5, time.Minute) {
		t.Fatal("hit 6 allowed past the limit")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewLimiter()
	for i := 0; i < 3; i++ {
		l.Allow("a", 3, time.Minute)
	}
	if l.Allow("a", 3, time.Minute) {
		t.Fatal("exhausted key allowed")
	}
	if !l.Allow("b", 3, time.Minute) {
		t.Fatal("fresh key denied")
	}
}

func TestWindowExpires(t *testing.T) {
	l := NewLimiter()
	for i := 0; i < 2; i++ {
		l.Allow("k", 2, 20*time.Millisecond)
	}
	if l.Allow("k", 2, 20*time.Millisecond) {
		t.Fatal("allowed inside exhausted window")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.Allow("k", 2, 20*time.Millisecond) {
		t.Fatal("denied after the window rolled over")
	}
}

func TestReset(t *testing.T) {
	l := NewLimiter()
	l.Allow("k", 1, time.Minute)
	if l.Allow("k", 1, time.Minute) {
		t.Fatal("second hit allowed")
	}
	l.Reset("k")
	if !l.Allow("k", 1, time.Minute) {
		t.Fatal("denied after reset")
	}
}

func TestConcurrentAllow(t *testing.T) {
	l := NewLimiter()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", n%2)
			for j := 0; j < 100; j++ {
				l.Allow(key, 50, time.Minute)
			}
		}(i)
	}
	wg.Wait()
	// Both keys are now exhausted; the limiter must still answer coherently.
	if l.Allow("k0", 50, time.Minute) || l.Allow("k1", 50, time.Minute) {
		t.Fatal("exhausted key allowed after concurrent load")
	}
}
