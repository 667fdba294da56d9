package keygen

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestIncreasing(t *testing.T) {
	g := &Generator{}
	prev := g.CreateKey()
	for i := 0; i < 20000; i++ {
		k := g.CreateKey()
		if len(k) != KeyLength {
			t.Fatalf("key %q has length %d", k, len(k))
		}
		if k <= prev {
			t.Fatalf("key %q not after %q", k, prev)
		}
		prev = k
	}
}

func TestFixedClock(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	rand := bytes.NewReader(bytes.Repeat([]byte{63}, 4*randomChars))
	g := New(func() time.Time { return now }, rand)

	k0 := g.CreateKey()
	tcompare(t, k0[timeChars:], strings.Repeat("z", randomChars))

	// Random part overflows, so time moves a millisecond.
	k1 := g.CreateKey()
	if k1 <= k0 || k1[:timeChars] == k0[:timeChars] {
		t.Fatalf("second key %q, first %q", k1, k0)
	}
	k2 := g.CreateKey()
	if k2 <= k1 {
		t.Fatalf("third key %q not after %q", k2, k1)
	}

	// Clock going backwards does not produce smaller keys.
	now = now.Add(-time.Hour)
	k3 := g.CreateKey()
	if k3 <= k2 {
		t.Fatalf("key after clock change %q not after %q", k3, k2)
	}
}

func TestTimeOrder(t *testing.T) {
	zero := bytes.NewReader(make([]byte, 2*randomChars))
	now := time.UnixMilli(0)
	g := New(func() time.Time { return now }, zero)
	k0 := g.CreateKey()
	now = now.Add(65 * time.Millisecond)
	k1 := g.CreateKey()
	tcompare(t, k0, strings.Repeat("-", KeyLength))
	tcompare(t, k1, "------00"+strings.Repeat("-", randomChars))
}

func TestRandomError(t *testing.T) {
	g := New(nil, bytes.NewReader(nil))
	if _, err := g.NewKey(); err == nil {
		t.Fatalf("expected error for exhausted random source")
	}
}

func TestConcurrent(t *testing.T) {
	g := &Generator{}
	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				k := g.CreateKey()
				mu.Lock()
				if seen[k] {
					mu.Unlock()
					t.Errorf("duplicate key %q", k)
					return
				}
				seen[k] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func tcompare(t *testing.T, got, exp any) {
	t.Helper()
	if got != exp {
		t.Fatalf("got %v, expected %v", got, exp)
	}
}
