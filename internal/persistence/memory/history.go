package memory

import (
	"context"
	"time"

	"github.com/r3e-network/qa-automation-core/internal/model"
)

// HistoryRepository adapts Store to history.Repository.
type HistoryRepository struct{ store *Store }

// NewHistoryRepository constructs a HistoryRepository backed by store.
func NewHistoryRepository(store *Store) *HistoryRepository {
	return &HistoryRepository{store: store}
}

func (r *HistoryRepository) AppendHistory(ctx context.Context, rec *model.RunHistory) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.history = append(r.store.history, *rec)
	return nil
}

func (r *HistoryRepository) ListHistory(ctx context.Context, from, to time.Time) ([]*model.RunHistory, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*model.RunHistory
	for _, rec := range r.store.history {
		rec := rec
		if !rec.ExecutedAt.Before(from) && rec.ExecutedAt.Before(to) {
			out = append(out, &rec)
		}
	}
	return out, nil
}

func patternKey(testName, signature string) string { return testName + "\x00" + signature }

func (r *HistoryRepository) UpsertPattern(ctx context.Context, testName, signature string, category model.FailureCategory, occurredAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := patternKey(testName, signature)
	pattern, ok := r.store.patterns[key]
	if !ok {
		pattern = patternRecord{
			TestName:       testName,
			ErrorSignature: signature,
			Category:       category,
			FirstSeen:      occurredAt,
		}
	}
	pattern.Occurrences++
	pattern.LastSeen = occurredAt
	pattern.ImpactScore = float64(pattern.Occurrences)
	r.store.patterns[key] = pattern
	return nil
}

func (r *HistoryRepository) ListPatterns(ctx context.Context) ([]*model.FailurePattern, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*model.FailurePattern, 0, len(r.store.patterns))
	for _, p := range r.store.patterns {
		p := p
		out = append(out, &p)
	}
	return out, nil
}

func (r *HistoryRepository) PutSnapshot(ctx context.Context, snap *model.QualitySnapshot) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.snapshots[snap.Date.Format("2006-01-02")] = *snap
	return nil
}

// GetSnapshot retrieves a previously-built QualitySnapshot for a UTC day,
// keyed the same way PutSnapshot stores it.
func (r *HistoryRepository) GetSnapshot(ctx context.Context, day time.Time) (*model.QualitySnapshot, bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	snap, ok := r.store.snapshots[day.Format("2006-01-02")]
	if !ok {
		return nil, false, nil
	}
	return &snap, true, nil
}
