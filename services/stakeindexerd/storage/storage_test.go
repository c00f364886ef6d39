package storage

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("sqlite", filepath.Join(t.TempDir(), "indexer.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func createdEvent(seq uint64, id, owner, amount string) StreamEvent {
	return StreamEvent{
		Sequence: seq,
		Cursor:   "cursor",
		Type:     "stake.recordCreated",
		Attributes: map[string]string{
			"id":     id,
			"owner":  owner,
			"amount": amount,
		},
	}
}

func TestIngestJournalsAndProjects(t *testing.T) {
	store := openTestStore(t)

	if err := store.Ingest(createdEvent(1, "aa01", "stk1owner", "500")); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	last, err := store.LastSequence()
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != 1 {
		t.Fatalf("last sequence = %d, want 1", last)
	}

	records, err := store.RecordsForOwner("stk1owner")
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 1 || records[0].Amount != "500" || records[0].Destroyed {
		t.Fatalf("projection = %+v", records)
	}
}

func TestIngestIsIdempotentPerSequence(t *testing.T) {
	store := openTestStore(t)
	evt := createdEvent(1, "aa01", "stk1owner", "500")
	if err := store.Ingest(evt); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if err := store.Ingest(evt); err != nil {
		t.Fatalf("replayed ingest: %v", err)
	}
	rows, err := store.EventsAfter(0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("journal rows = %d, want 1", len(rows))
	}
}

func TestDestroyEventMarksRecord(t *testing.T) {
	store := openTestStore(t)
	if err := store.Ingest(createdEvent(1, "aa01", "stk1owner", "500")); err != nil {
		t.Fatalf("ingest created: %v", err)
	}
	destroy := StreamEvent{
		Sequence: 2,
		Type:     "stake.recordDestroyed",
		Attributes: map[string]string{
			"id":     "aa01",
			"owner":  "stk1owner",
			"amount": "500",
		},
	}
	if err := store.Ingest(destroy); err != nil {
		t.Fatalf("ingest destroyed: %v", err)
	}
	records, err := store.RecordsForOwner("stk1owner")
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 1 || !records[0].Destroyed || records[0].UpdatedSeq != 2 {
		t.Fatalf("projection = %+v", records)
	}
}

func TestBindingProjectionOverwrites(t *testing.T) {
	store := openTestStore(t)
	bind := func(seq uint64, identifier string) StreamEvent {
		return StreamEvent{
			Sequence: seq,
			Type:     "stake.identifierBound",
			Attributes: map[string]string{
				"account":    "stk1account",
				"identifier": identifier,
			},
		}
	}
	if err := store.Ingest(bind(1, "alice@example.com")); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	if err := store.Ingest(bind(2, "alice@new.example.com")); err != nil {
		t.Fatalf("second bind: %v", err)
	}
	bindings, err := store.Bindings()
	if err != nil {
		t.Fatalf("bindings: %v", err)
	}
	if len(bindings) != 1 || bindings[0].Identifier != "alice@new.example.com" {
		t.Fatalf("bindings = %+v", bindings)
	}
}

func TestEventsAfterPagination(t *testing.T) {
	store := openTestStore(t)
	for seq := uint64(1); seq <= 5; seq++ {
		if err := store.Ingest(createdEvent(seq, "id", "stk1owner", "1")); err != nil {
			t.Fatalf("ingest %d: %v", seq, err)
		}
	}
	rows, err := store.EventsAfter(2, 2)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(rows) != 2 || rows[0].Sequence != 3 || rows[1].Sequence != 4 {
		t.Fatalf("page = %+v", rows)
	}
}
