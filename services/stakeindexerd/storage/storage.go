// Package storage persists the indexer's projections of the node event
// stream into a relational store.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// StreamEvent mirrors one entry of the node's event stream.
type StreamEvent struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// EventRow is the journal of every observed event.
type EventRow struct {
	Sequence   uint64 `gorm:"primaryKey"`
	Cursor     string
	Type       string `gorm:"index"`
	Owner      string `gorm:"index"`
	Attributes string
	ObservedAt time.Time
}

// RecordRow projects the lifecycle of a single stake record.
type RecordRow struct {
	ID                 string `gorm:"primaryKey"`
	Owner              string `gorm:"index"`
	Amount             string
	UnstakeRequestedAt uint64
	Destroyed          bool
	UpdatedSeq         uint64
}

// BindingRow projects the identifier binding table.
type BindingRow struct {
	Account    string `gorm:"primaryKey"`
	Identifier string
	UpdatedSeq uint64
}

// Store wraps the gorm connection.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured backend and migrates the schema. Driver is
// "sqlite" or "postgres".
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&EventRow{}, &RecordRow{}, &BindingRow{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Ingest journals the event and updates the affected projection. Replayed
// sequences are ignored, so the follower can resume from any cursor without
// double counting.
func (s *Store) Ingest(evt StreamEvent) error {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("storage: encode attributes: %w", err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		row := EventRow{
			Sequence:   evt.Sequence,
			Cursor:     evt.Cursor,
			Type:       evt.Type,
			Owner:      evt.Attributes["owner"],
			Attributes: string(attrs),
			ObservedAt: time.Now().UTC(),
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // already journaled
		}
		return applyProjection(tx, evt)
	})
}

func applyProjection(tx *gorm.DB, evt StreamEvent) error {
	switch evt.Type {
	case "stake.recordCreated":
		var requestedAt uint64
		if raw := evt.Attributes["unstakeRequestedAt"]; raw != "" {
			parsed, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("storage: bad unstakeRequestedAt %q: %w", raw, err)
			}
			requestedAt = parsed
		}
		record := RecordRow{
			ID:                 evt.Attributes["id"],
			Owner:              evt.Attributes["owner"],
			Amount:             evt.Attributes["amount"],
			UnstakeRequestedAt: requestedAt,
			UpdatedSeq:         evt.Sequence,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&record).Error
	case "stake.recordDestroyed":
		return tx.Model(&RecordRow{}).
			Where("id = ?", evt.Attributes["id"]).
			Updates(map[string]interface{}{
				"destroyed":   true,
				"updated_seq": evt.Sequence,
			}).Error
	case "stake.identifierBound":
		binding := BindingRow{
			Account:    evt.Attributes["account"],
			Identifier: evt.Attributes["identifier"],
			UpdatedSeq: evt.Sequence,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account"}},
			UpdateAll: true,
		}).Create(&binding).Error
	default:
		// stake.withdrawn and future event types stay journal-only.
		return nil
	}
}

// LastSequence returns the highest journaled sequence, zero when empty.
func (s *Store) LastSequence() (uint64, error) {
	var row EventRow
	err := s.db.Order("sequence desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Sequence, nil
}

// EventsAfter returns up to limit journaled events newer than the sequence.
func (s *Store) EventsAfter(after uint64, limit int) ([]EventRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var rows []EventRow
	err := s.db.Where("sequence > ?", after).Order("sequence asc").Limit(limit).Find(&rows).Error
	return rows, err
}

// RecordsForOwner lists the projected records of one owner; empty owner lists
// every record.
func (s *Store) RecordsForOwner(owner string) ([]RecordRow, error) {
	var rows []RecordRow
	query := s.db.Order("updated_seq asc")
	if owner != "" {
		query = query.Where("owner = ?", owner)
	}
	err := query.Find(&rows).Error
	return rows, err
}

// Bindings lists the projected binding table.
func (s *Store) Bindings() ([]BindingRow, error) {
	var rows []BindingRow
	err := s.db.Order("account asc").Find(&rows).Error
	return rows, err
}
