// Package keygen generates unique keys that sort by creation time.
package keygen

import (
	cryptorand "crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"
)

// Alphabet holds the characters used in keys, in ASCII order, so keys compare
// lexically in the order they were generated.
const Alphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

const (
	timeChars   = 8
	randomChars = 12

	// KeyLength is the length of each generated key.
	KeyLength = timeChars + randomChars
)

// Generator creates keys with 8 characters encoding the time in milliseconds
// and 12 random characters. Keys created in the same millisecond get the random
// part of the previous key incremented, so keys from a single Generator are
// strictly increasing.
//
// A Generator is safe for concurrent use.
type Generator struct {
	Now  func() time.Time // If nil, time.Now is used.
	Rand io.Reader        // If nil, crypto/rand is used.

	mu       sync.Mutex
	used     bool
	lastTime int64
	lastRand [randomChars]byte
}

// New returns a generator with the given clock and randomness source.
func New(now func() time.Time, rand io.Reader) *Generator {
	return &Generator{Now: now, Rand: rand}
}

// CreateKey returns a new key. It only panics if the random source fails.
func (g *Generator) CreateKey() string {
	key, err := g.NewKey()
	if err != nil {
		panic(err)
	}
	return key
}

// NewKey returns a new key, or an error if reading randomness failed.
func (g *Generator) NewKey() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	rand := cryptorand.Reader
	if g.Rand != nil {
		rand = g.Rand
	}

	ms := now().UnixMilli()
	if g.used && ms <= g.lastTime {
		// Same millisecond, or the clock went backwards. Keep the time and
		// increment the random part.
		ms = g.lastTime
		i := randomChars - 1
		for ; i >= 0 && int(g.lastRand[i]) == len(Alphabet)-1; i-- {
			g.lastRand[i] = 0
		}
		if i < 0 {
			// Exhausted all keys for this millisecond, move to the next.
			ms++
			if err := g.fillRandom(rand); err != nil {
				return "", err
			}
		} else {
			g.lastRand[i]++
		}
	} else if err := g.fillRandom(rand); err != nil {
		return "", err
	}
	g.used = true
	g.lastTime = ms

	var b [KeyLength]byte
	t := ms
	for i := timeChars - 1; i >= 0; i-- {
		b[i] = Alphabet[t%int64(len(Alphabet))]
		t /= int64(len(Alphabet))
	}
	if t != 0 {
		return "", fmt.Errorf("time %d does not fit in key", ms)
	}
	for i, v := range g.lastRand {
		b[timeChars+i] = Alphabet[v]
	}
	return string(b[:]), nil
}

func (g *Generator) fillRandom(rand io.Reader) error {
	var buf [randomChars]byte
	if _, err := io.ReadFull(rand, buf[:]); err != nil {
		return fmt.Errorf("reading random bytes: %v", err)
	}
	for i, v := range buf {
		g.lastRand[i] = v % byte(len(Alphabet))
	}
	return nil
}
