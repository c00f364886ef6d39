package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

const wsWriteTimeout = 5 * time.Second

// handleEventsWS upgrades the connection and streams ledger events. The
// optional "cursor" query parameter resumes after a previously observed
// event; retained backlog entries are replayed before live delivery starts.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream terminated")

	ctx := r.Context()
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))

	ch, cancel, backlog, err := s.node.EventsSubscribe(ctx, cursor)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer cancel()

	for _, entry := range backlog {
		if err := writeWSEvent(ctx, conn, stakeEventResult{
			Sequence:   entry.Sequence,
			Cursor:     entry.Cursor,
			Type:       entry.Event.Type,
			Attributes: entry.Event.Attributes,
		}); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client disconnected")
			return
		case entry, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "stream closed")
				return
			}
			if err := writeWSEvent(ctx, conn, stakeEventResult{
				Sequence:   entry.Sequence,
				Cursor:     entry.Cursor,
				Type:       entry.Event.Type,
				Attributes: entry.Event.Attributes,
			}); err != nil {
				return
			}
		}
	}
}

func writeWSEvent(ctx context.Context, conn *websocket.Conn, payload stakeEventResult) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
