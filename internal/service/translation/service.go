package translation

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/observability/telemetry"
	"github.com/seu-repo/siga-mi/internal/ports"
)

// Service resolves message keys into localized strings. Languages are loaded
// lazily from the backing store on first use and cached for the process
// lifetime; a missing key falls back to the key itself so the dialogue never
// stalls on an incomplete catalog.
type Service struct {
	store ports.TranslationStore
	log   *zap.Logger

	mu        sync.RWMutex
	languages map[string]map[string]string
}

func NewService(store ports.TranslationStore, log *zap.Logger) *Service {
	return &Service{
		store:     store,
		log:       log,
		languages: make(map[string]map[string]string),
	}
}

// Translate resolves key in the given language, substituting {name} style
// placeholders from params. Unknown keys come back verbatim.
func (s *Service) Translate(ctx context.Context, language, key string, params map[string]string) string {
	text, ok := s.Lookup(ctx, language, key)
	if !ok {
		telemetry.TranslationMissesTotal.WithLabelValues(language).Inc()
		s.log.Warn("Missing translation key",
			zap.String("language", language),
			zap.String("key", key))
		text = key
	}
	for name, value := range params {
		text = strings.ReplaceAll(text, "{"+name+"}", value)
	}
	return text
}

// Lookup resolves key without fallback, reporting whether it was found.
func (s *Service) Lookup(ctx context.Context, language, key string) (string, bool) {
	catalog, err := s.catalog(ctx, language)
	if err != nil {
		s.log.Error("Failed to load language catalog",
			zap.String("language", language),
			zap.Error(err))
		return "", false
	}
	text, ok := catalog[key]
	return text, ok
}

func (s *Service) catalog(ctx context.Context, language string) (map[string]string, error) {
	s.mu.RLock()
	catalog, ok := s.languages[language]
	s.mu.RUnlock()
	if ok {
		return catalog, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if catalog, ok = s.languages[language]; ok {
		return catalog, nil
	}
	catalog, err := s.store.LoadLanguage(ctx, language)
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		catalog = map[string]string{}
	}
	s.languages[language] = catalog
	return catalog, nil
}
