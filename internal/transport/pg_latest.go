package transport

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/raghurammutya/signal-service-codex-review-sub000/internal/model"
)

var _ ResultSink = (*PostgresLatestStore)(nil)

// signalLatest is one row per instrument and computation type.
type signalLatest struct {
	InstrumentKey string `gorm:"primaryKey;size:128"`
	Type          string `gorm:"primaryKey;size:32"`
	TickSeq       uint64 `gorm:"not null"`
	TaskID        string `gorm:"size:36"`
	PodID         string `gorm:"size:64"`
	SignalValues  string `gorm:"type:jsonb;not null"`
	ComputedAt    time.Time
	LatencyMicros int64
}

func (signalLatest) TableName() string { return "signal_latest" }

// PostgresLatestStore upserts the most recent result per instrument and
// computation type. An upsert only lands when its tick sequence is newer,
// so redelivered ticks during rebalancing are harmless.
type PostgresLatestStore struct {
	db *gorm.DB
}

func NewPostgresLatestStore(db *gorm.DB) *PostgresLatestStore {
	return &PostgresLatestStore{db: db}
}

// Migrate creates or updates the table.
func (s *PostgresLatestStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&signalLatest{}); err != nil {
		return errors.Wrap(err, "migrate signal_latest")
	}
	return nil
}

func (s *PostgresLatestStore) Publish(ctx context.Context, result model.SignalResult) error {
	values, err := sonic.MarshalString(result.Values)
	if err != nil {
		return errors.Wrap(err, "encode values").With("instrument", result.InstrumentKey)
	}
	row := signalLatest{
		InstrumentKey: result.InstrumentKey,
		Type:          string(result.Type),
		TickSeq:       result.TickSeq,
		TaskID:        result.TaskID,
		PodID:         result.PodID,
		SignalValues:  values,
		ComputedAt:    result.ComputedAt,
		LatencyMicros: result.Latency.Microseconds(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "instrument_key"}, {Name: "type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tick_seq", "task_id", "pod_id", "signal_values", "computed_at", "latency_micros",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "signal_latest.tick_seq < excluded.tick_seq"},
		}},
	}).Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "upsert latest").With("instrument", result.InstrumentKey)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresLatestStore) Close() error { return nil }
