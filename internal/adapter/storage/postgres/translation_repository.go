package postgres

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seu-repo/siga-mi/internal/ports"
)

// translationRecord is one catalog string. Authoring happens outside this
// service; rows are read-only here.
type translationRecord struct {
	ID       uint   `gorm:"primaryKey"`
	Language string `gorm:"index:idx_translations_lang_key,unique;size:8;not null"`
	Key      string `gorm:"index:idx_translations_lang_key,unique;size:128;not null"`
	Text     string `gorm:"type:text;not null"`
}

func (translationRecord) TableName() string { return "translations" }

type TranslationRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewTranslationRepository(db *gorm.DB, log *zap.Logger) ports.TranslationStore {
	return &TranslationRepository{db: db, log: log}
}

// LoadLanguage fetches the whole catalog for one language. The translation
// service caches the result for the process lifetime.
func (r *TranslationRepository) LoadLanguage(ctx context.Context, language string) (map[string]string, error) {
	var records []translationRecord
	if err := r.db.WithContext(ctx).Where("language = ?", language).Find(&records).Error; err != nil {
		return nil, err
	}

	catalog := make(map[string]string, len(records))
	for _, rec := range records {
		catalog[rec.Key] = rec.Text
	}
	r.log.Info("Loaded translation catalog",
		zap.String("language", language),
		zap.Int("keys", len(catalog)))
	return catalog, nil
}
