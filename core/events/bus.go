package events

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"stakeledger/core/types"
)

const streamHistoryLimit = 2048

// StreamEntry wraps an emitted event with the monotonically increasing
// sequence number used for replayable subscriptions.
type StreamEntry struct {
	Sequence uint64
	Cursor   string
	Event    *types.Event
}

// Bus fans emitted events out to live subscribers while retaining a bounded
// backlog so late subscribers can catch up from a cursor.
type Bus struct {
	mu      sync.Mutex
	seq     uint64
	history []StreamEntry
	subs    map[uint64]chan StreamEntry
	nextSub uint64
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan StreamEntry)}
}

// Emit implements the Emitter interface. Events that cannot render a generic
// payload are dropped.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}

	b.mu.Lock()
	b.seq++
	entry := StreamEntry{
		Sequence: b.seq,
		Cursor:   strconv.FormatUint(b.seq, 10),
		Event:    payload,
	}
	b.history = append(b.history, entry)
	if len(b.history) > streamHistoryLimit {
		excess := len(b.history) - streamHistoryLimit
		trimmed := make([]StreamEntry, streamHistoryLimit)
		copy(trimmed, b.history[excess:])
		b.history = trimmed
	}
	subscribers := make([]chan StreamEntry, 0, len(b.subs))
	for _, ch := range b.subs {
		subscribers = append(subscribers, ch)
	}
	b.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Subscribe registers a live subscription starting after the supplied cursor.
// The returned backlog contains retained entries newer than the cursor; the
// cancel function must be invoked to release the subscription.
func (b *Bus) Subscribe(ctx context.Context, cursor string) (<-chan StreamEntry, func(), []StreamEntry, error) {
	if b == nil {
		return nil, func() {}, nil, nil
	}
	var after uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, err
		}
		after = parsed
	}

	b.mu.Lock()
	backlog := make([]StreamEntry, 0, len(b.history))
	for _, entry := range b.history {
		if entry.Sequence > after {
			backlog = append(backlog, entry)
		}
	}
	id := b.nextSub
	b.nextSub++
	ch := make(chan StreamEntry, 64)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel, backlog, nil
}

// Backlog returns the retained entries newer than the supplied sequence.
func (b *Bus) Backlog(after uint64) []StreamEntry {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StreamEntry, 0, len(b.history))
	for _, entry := range b.history {
		if entry.Sequence > after {
			out = append(out, entry)
		}
	}
	return out
}
