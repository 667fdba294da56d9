package jsondb

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/mjl-/jsondb/metrics"
)

// Event names passed to EventBus.Broadcast.
const (
	EventUpdated = "jsondb-updated"
	EventDeleted = "jsondb-deleted"
)

// EventBus receives change notifications. Data is the normalized logical
// path of the change: leading slash, no trailing slash.
//
// Events are broadcast after the transaction making the change committed, and
// never for transactions that were rolled back.
type EventBus interface {
	Broadcast(event, data string)
}

// Bus is an in-process EventBus that calls subscribers synchronously, in order
// of subscription id.
type Bus struct {
	mu   sync.Mutex
	subs map[string]func(event, data string)
}

// NewBus returns a Bus without subscribers.
func NewBus() *Bus {
	return &Bus{subs: map[string]func(event, data string){}}
}

// Subscribe registers fn under id, replacing an existing subscriber with the
// same id.
func (b *Bus) Subscribe(id string, fn func(event, data string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = map[string]func(event, data string){}
	}
	b.subs[id] = fn
}

// Unsubscribe removes the subscriber with id, if any.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Broadcast calls all subscribers. Subscribers may subscribe and unsubscribe
// during a broadcast, changes apply to the next broadcast. A panic in a
// subscriber is logged and does not stop delivery to other subscribers.
func (b *Bus) Broadcast(event, data string) {
	b.mu.Lock()
	ids := maps.Keys(b.subs)
	slices.Sort(ids)
	fns := make([]func(string, string), len(ids))
	for i, id := range ids {
		fns[i] = b.subs[id]
	}
	b.mu.Unlock()

	for i, fn := range fns {
		deliver(ids[i], fn, event, data)
	}
}

func deliver(id string, fn func(event, data string), event, data string) {
	defer func() {
		x := recover()
		if x != nil {
			pkglog.Error("unhandled panic in event subscriber", slog.Any("panic", x), slog.String("subscriber", id), slog.String("event", event))
			debug.PrintStack()
			metrics.PanicInc(metrics.Events)
		}
	}()
	fn(event, data)
}

type event struct {
	name string
	path string
}
