package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Kamar-Folarin/kashflow-sync/internal/errors"
	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// MemoryStore keeps everything in process memory. It backs STORE=memory and
// the engine tests.
type MemoryStore struct {
	mu           sync.RWMutex
	records      map[string]map[string]models.Document
	state        map[string][]byte
	changes      []*models.ChangeRecord
	summaries    []*models.RunSummary
	nextChangeID int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]models.Document),
		state:   make(map[string][]byte),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) FindOne(ctx context.Context, entity, key string) (models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.records[entity][key]
	if !ok {
		return nil, nil
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, entity, key string, set, insertOnly models.Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.records[entity]
	if !ok {
		coll = make(map[string]models.Document)
		s.records[entity] = coll
	}

	existing, ok := coll[key]
	if !ok {
		doc := insertOnly.Clone()
		if doc == nil {
			doc = models.Document{}
		}
		for k, v := range set {
			doc[k] = v
		}
		coll[key] = doc
		return true, nil
	}

	for k, v := range set {
		if k == models.FieldCreatedAt || k == models.FieldDeletedAt {
			continue
		}
		existing[k] = v
	}
	return false, nil
}

func (s *MemoryStore) UpdateMany(ctx context.Context, entity string, filter Filter, set models.Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, doc := range s.records[entity] {
		if !matches(doc, filter) {
			continue
		}
		for k, v := range set {
			doc[k] = v
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) CountDocuments(ctx context.Context, entity string, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, doc := range s.records[entity] {
		if matches(doc, filter) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MaxNumber(ctx context.Context, entity string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var highest int64
	for key := range s.records[entity] {
		if n := numericKey(key); n != nil && *n > highest {
			highest = *n
		}
	}
	return highest, nil
}

func matches(doc models.Document, f Filter) bool {
	if f.Active && doc.IsDeleted() {
		return false
	}
	if f.NotSeenIn != "" && doc.LastSeenRun() == f.NotSeenIn {
		return false
	}
	return true
}

func (s *MemoryStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	s.mu.RLock()
	data, ok := s.state[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to decode state %s: %w", key, err)
	}
	return true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode state %s: %w", key, err)
	}
	s.mu.Lock()
	s.state[key] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListState(ctx context.Context) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(s.state))
	for k, v := range s.state {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out, nil
}

func (s *MemoryStore) RecordChange(ctx context.Context, rec *models.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextChangeID++
	cp := *rec
	cp.ID = s.nextChangeID
	s.changes = append(s.changes, &cp)
	rec.ID = cp.ID
	return nil
}

func (s *MemoryStore) ListChanges(ctx context.Context, q models.ChangeQuery) ([]*models.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := clampLimit(q.Limit, 100, 500)
	var out []*models.ChangeRecord
	for i := len(s.changes) - 1; i >= 0 && len(out) < limit; i-- {
		c := s.changes[i]
		if q.Entity != "" && c.Entity != q.Entity {
			continue
		}
		if q.Key != "" && c.Key != q.Key {
			continue
		}
		if q.Since != nil && c.CreatedAt.Before(*q.Since) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) SaveSummary(ctx context.Context, summary *models.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *summary
	s.summaries = append(s.summaries, &cp)
	return nil
}

func (s *MemoryStore) ListSummaries(ctx context.Context, limit int) ([]*models.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.RunSummary, 0, len(s.summaries))
	for _, sum := range s.summaries {
		cp := *sum
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	if limit = clampLimit(limit, 25, 100); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetSummary(ctx context.Context, id string) (*models.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sum := range s.summaries {
		if sum.ID == id {
			cp := *sum
			return &cp, nil
		}
	}
	return nil, errors.NewNotFoundError(fmt.Sprintf("summary %s not found", id), nil)
}
