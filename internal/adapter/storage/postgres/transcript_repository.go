package postgres

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/ports"
)

// transcriptRecord is one archived message row. Choices are kept as JSON so
// interactive prompts replay exactly as presented.
type transcriptRecord struct {
	ID          string    `gorm:"primaryKey"`
	SessionID   string    `gorm:"index;not null"`
	Author      string    `gorm:"not null"`
	Text        string    `gorm:"type:text"`
	Interactive string    `gorm:"default:none"`
	Choices     []byte    `gorm:"type:jsonb"`
	Timestamp   time.Time `gorm:"index"`
}

func (transcriptRecord) TableName() string { return "transcript_messages" }

type TranscriptRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewTranscriptRepository(db *gorm.DB, log *zap.Logger) ports.TranscriptRepository {
	return &TranscriptRepository{db: db, log: log}
}

func (r *TranscriptRepository) SaveMessages(ctx context.Context, sessionID string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]transcriptRecord, 0, len(msgs))
	for _, m := range msgs {
		var choices []byte
		if len(m.Choices) > 0 {
			data, err := json.Marshal(m.Choices)
			if err != nil {
				r.log.Warn("Failed to marshal message choices",
					zap.String("message_id", m.ID),
					zap.Error(err))
			} else {
				choices = data
			}
		}
		records = append(records, transcriptRecord{
			ID:          m.ID,
			SessionID:   sessionID,
			Author:      string(m.Author),
			Text:        m.Text,
			Interactive: string(m.Interactive),
			Choices:     choices,
			Timestamp:   m.Timestamp,
		})
	}
	// Messages are immutable; replays of the same snapshot are no-ops.
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&records).Error
}

func (r *TranscriptRepository) FindBySession(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var records []transcriptRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	msgs := make([]domain.Message, 0, len(records))
	for _, rec := range records {
		m := domain.Message{
			ID:          rec.ID,
			Author:      domain.Author(rec.Author),
			Text:        rec.Text,
			Timestamp:   rec.Timestamp,
			Interactive: domain.Interactivity(rec.Interactive),
		}
		if len(rec.Choices) > 0 {
			if err := json.Unmarshal(rec.Choices, &m.Choices); err != nil {
				r.log.Warn("Failed to unmarshal message choices",
					zap.String("message_id", rec.ID),
					zap.Error(err))
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
