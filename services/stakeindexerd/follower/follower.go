// Package follower consumes the node's websocket event stream and feeds the
// projection store, resuming from the last journaled sequence after restarts.
package follower

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"nhooyr.io/websocket"

	"stakeledger/services/stakeindexerd/storage"
)

const (
	reconnectDelay = 5 * time.Second
	readLimit      = 1 << 20
)

// Follower streams node events into the store.
type Follower struct {
	nodeWS string
	store  *storage.Store
}

func New(nodeWS string, store *storage.Store) *Follower {
	return &Follower{nodeWS: nodeWS, store: store}
}

// Run follows the stream until the context is cancelled, reconnecting with a
// fixed delay on any failure.
func (f *Follower) Run(ctx context.Context) error {
	for {
		if err := f.followOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("event stream interrupted", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *Follower) followOnce(ctx context.Context) error {
	last, err := f.store.LastSequence()
	if err != nil {
		return fmt.Errorf("follower: load resume point: %w", err)
	}
	target, err := streamURL(f.nodeWS, last)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("follower: dial %s: %w", target, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")
	conn.SetReadLimit(readLimit)
	slog.Info("following event stream", "url", target, "after", last)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("follower: read: %w", err)
		}
		var evt storage.StreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Warn("skipping undecodable event", "error", err)
			continue
		}
		if err := f.store.Ingest(evt); err != nil {
			return fmt.Errorf("follower: ingest sequence %d: %w", evt.Sequence, err)
		}
	}
}

func streamURL(base string, after uint64) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("follower: bad stream url %q: %w", base, err)
	}
	if after > 0 {
		q := parsed.Query()
		q.Set("cursor", strconv.FormatUint(after, 10))
		parsed.RawQuery = q.Encode()
	}
	return parsed.String(), nil
}
