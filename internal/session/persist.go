package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pbaille/codebook/internal/domain"
	"github.com/pbaille/codebook/internal/taxonomy"
)

// Namespace prefixes every persisted key
const Namespace = "codebook.v1"

const (
	keyTaxonomies = "taxonomies"
	keyActive     = "active"
	keyResults    = "results"
	keyReport     = "report"
	keyChat       = "chat"
	keyTheme      = "theme"
)

var allKeys = []string{keyTaxonomies, keyActive, keyResults, keyReport, keyChat, keyTheme}

const saveTimeout = 5 * time.Second

// Persister stores opaque values by key
type Persister interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

func storageKey(key string) string {
	return Namespace + "." + key
}

// Load restores persisted state. A missing or unreadable value leaves the
// corresponding default in place; the problem is logged, not returned.
func (s *Session) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var snap taxonomy.Snapshot
	s.loadValue(ctx, keyTaxonomies, &snap.Taxonomies)
	s.loadValue(ctx, keyActive, &snap.Active)
	s.taxonomies.Restore(snap)

	var results []domain.AnnotationResult
	if s.loadValue(ctx, keyResults, &results) {
		s.results = validResults(results)
		if dropped := len(results) - len(s.results); dropped > 0 {
			s.logger.Warn("dropped persisted results without their source column", zap.Int("dropped", dropped))
		}
	}
	s.loadValue(ctx, keyReport, &s.report)
	s.loadValue(ctx, keyChat, &s.chat)
	s.loadValue(ctx, keyTheme, &s.theme)

	s.logger.Debug("session loaded",
		zap.Int("taxonomies", s.taxonomies.Len()),
		zap.Int("results", len(s.results)))
	return ctx.Err()
}

func (s *Session) loadValue(ctx context.Context, key string, dst any) bool {
	raw, ok, err := s.persister.Get(ctx, storageKey(key))
	if err != nil {
		s.logger.Warn("load setting", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn("decode setting, using default", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Flush writes every persisted value and reports any failures
func (s *Session) Flush(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, key := range allKeys {
		if err := s.saveValue(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// saveLocked persists the given keys on a best-effort basis. Callers hold mu.
func (s *Session) saveLocked(keys ...string) {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	for _, key := range keys {
		if err := s.saveValue(ctx, key); err != nil {
			s.logger.Warn("save setting", zap.String("key", key), zap.Error(err))
		}
	}
}

func (s *Session) saveValue(ctx context.Context, key string) error {
	var v any
	switch key {
	case keyTaxonomies:
		v = s.taxonomies.Snapshot().Taxonomies
	case keyActive:
		v, _ = s.taxonomies.Active()
	case keyResults:
		v = s.results
	case keyReport:
		v = s.report
	case keyChat:
		v = s.chat
	case keyTheme:
		v = s.theme
	default:
		return fmt.Errorf("save %q: unknown key", key)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.persister.Put(ctx, storageKey(key), raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// validResults keeps the results whose raw row still holds their source column
func validResults(results []domain.AnnotationResult) []domain.AnnotationResult {
	out := results[:0:0]
	for _, r := range results {
		if _, ok := r.RawRow.Get(r.SourceColumn); ok {
			out = append(out, r)
		}
	}
	return out
}
