package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/danmuck/lagom/internal/observability"
	"github.com/danmuck/lagom/internal/protocol"
)

const backendSQL = "sql"

type participantRow struct {
	ID        string `gorm:"primaryKey"`
	Data      string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (participantRow) TableName() string { return "participants" }

type relationshipRow struct {
	InitiatorID     string `gorm:"primaryKey"`
	TargetID        string `gorm:"primaryKey"`
	Data            string `gorm:"type:text;not null"`
	LastInteraction time.Time
	UpdatedAt       time.Time
}

func (relationshipRow) TableName() string { return "relationships" }

type bookingRow struct {
	ID            string    `gorm:"primaryKey"`
	SessionID     string    `gorm:"not null;index"`
	ParticipantID string    `gorm:"not null;index:idx_bookings_participant_committed"`
	CounterpartID string    `gorm:"not null"`
	Slot          time.Time `gorm:"not null"`
	CommittedAt   time.Time `gorm:"not null;index:idx_bookings_participant_committed"`
}

func (bookingRow) TableName() string { return "bookings" }

// SQL is a gorm-backed Store. Participant and relationship snapshots are kept
// as JSON documents; bookings are relational rows.
type SQL struct {
	db *gorm.DB
}

// OpenSQLite opens a sqlite database at dsn and migrates it.
func OpenSQLite(dsn string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", dsn, err)
	}
	return NewSQL(db, true)
}

func NewSQL(db *gorm.DB, autoMigrate bool) (*SQL, error) {
	if autoMigrate {
		if err := db.AutoMigrate(&participantRow{}, &relationshipRow{}, &bookingRow{}); err != nil {
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
	}
	return &SQL{db: db}, nil
}

func (s *SQL) Participant(ctx context.Context, id string) (p protocol.Participant, err error) {
	defer func() { observability.RecordStoreOp(backendSQL, "participant", err) }()
	var row participantRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return protocol.Participant{}, fmt.Errorf("%w: participant %q", ErrNotFound, id)
		}
		return protocol.Participant{}, err
	}
	err = json.Unmarshal([]byte(row.Data), &p)
	return p, err
}

func (s *SQL) Participants(ctx context.Context) ([]protocol.Participant, error) {
	var rows []participantRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]protocol.Participant, 0, len(rows))
	for _, row := range rows {
		var p protocol.Participant
		if err := json.Unmarshal([]byte(row.Data), &p); err != nil {
			return nil, fmt.Errorf("store: participant %s: %w", row.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SQL) PutParticipant(ctx context.Context, p protocol.Participant) (err error) {
	defer func() { observability.RecordStoreOp(backendSQL, "put_participant", err) }()
	if err := p.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	row := participantRow{ID: p.ID, Data: string(payload)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *SQL) Relationship(ctx context.Context, initiatorID, targetID string) (rel protocol.Relationship, err error) {
	defer func() { observability.RecordStoreOp(backendSQL, "relationship", err) }()
	var row relationshipRow
	err = s.db.WithContext(ctx).First(&row, "initiator_id = ? AND target_id = ?", initiatorID, targetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return protocol.Relationship{}, fmt.Errorf("%w: relationship %s->%s", ErrNotFound, initiatorID, targetID)
	}
	if err != nil {
		return protocol.Relationship{}, err
	}
	return decodeRelationship(row)
}

func (s *SQL) PutRelationship(ctx context.Context, rel protocol.Relationship) (err error) {
	defer func() { observability.RecordStoreOp(backendSQL, "put_relationship", err) }()
	if err := rel.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(rel)
	if err != nil {
		return err
	}
	row := relationshipRow{
		InitiatorID:     rel.InitiatorID,
		TargetID:        rel.TargetID,
		Data:            string(payload),
		LastInteraction: rel.LastInteraction,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *SQL) TouchRelationship(ctx context.Context, initiatorID, targetID string, at time.Time) (err error) {
	defer func() { observability.RecordStoreOp(backendSQL, "touch_relationship", err) }()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row relationshipRow
		err := tx.First(&row, "initiator_id = ? AND target_id = ?", initiatorID, targetID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: relationship %s->%s", ErrNotFound, initiatorID, targetID)
		}
		if err != nil {
			return err
		}
		rel, err := decodeRelationship(row)
		if err != nil {
			return err
		}
		rel.LastInteraction = at
		payload, err := json.Marshal(rel)
		if err != nil {
			return err
		}
		return tx.Model(&row).Updates(map[string]any{
			"data":             string(payload),
			"last_interaction": at,
		}).Error
	})
}

func (s *SQL) RecordBooking(ctx context.Context, b Booking) (err error) {
	defer func() { observability.RecordStoreOp(backendSQL, "record_booking", err) }()
	if err := b.Validate(); err != nil {
		return err
	}
	row := bookingRow{
		ID:            b.ID,
		SessionID:     b.SessionID,
		ParticipantID: b.ParticipantID,
		CounterpartID: b.CounterpartID,
		Slot:          b.Slot.UTC(),
		CommittedAt:   b.CommittedAt.UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *SQL) Bookings(ctx context.Context, participantID string, since, until time.Time) ([]Booking, error) {
	var rows []bookingRow
	err := s.db.WithContext(ctx).
		Where("participant_id = ? AND committed_at >= ? AND committed_at < ?", participantID, since.UTC(), until.UTC()).
		Order("committed_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Booking, 0, len(rows))
	for _, row := range rows {
		out = append(out, Booking{
			ID:            row.ID,
			SessionID:     row.SessionID,
			ParticipantID: row.ParticipantID,
			CounterpartID: row.CounterpartID,
			Slot:          row.Slot,
			CommittedAt:   row.CommittedAt,
		})
	}
	return out, nil
}

func (s *SQL) CountCommitted(ctx context.Context, participantID string, since, until time.Time) (n int, err error) {
	defer func() { observability.RecordStoreOp(backendSQL, "count_committed", err) }()
	var count int64
	err = s.db.WithContext(ctx).Model(&bookingRow{}).
		Where("participant_id = ? AND committed_at >= ? AND committed_at < ?", participantID, since.UTC(), until.UTC()).
		Count(&count).Error
	return int(count), err
}

func (s *SQL) Prune(ctx context.Context, cutoff time.Time) (removed int, err error) {
	defer func() { observability.RecordStoreOp(backendSQL, "prune", err) }()
	res := s.db.WithContext(ctx).Where("committed_at < ?", cutoff.UTC()).Delete(&bookingRow{})
	return int(res.RowsAffected), res.Error
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func decodeRelationship(row relationshipRow) (protocol.Relationship, error) {
	var rel protocol.Relationship
	if err := json.Unmarshal([]byte(row.Data), &rel); err != nil {
		return protocol.Relationship{}, fmt.Errorf("store: relationship %s->%s: %w", row.InitiatorID, row.TargetID, err)
	}
	return rel, nil
}
