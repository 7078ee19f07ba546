package catalog

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemStore keeps the catalog in process memory. Used by tests and as the
// default driver when no connection string is configured.
type MemStore struct {
	mu    sync.RWMutex
	m     map[string]Product
	order []string
}

func NewMemStore() *MemStore {
	return &MemStore{m: map[string]Product{}}
}

func (s *MemStore) Ping(ctx context.Context) error { return nil }

func (s *MemStore) Create(ctx context.Context, draft Product) (Product, error) {
	if err := validateDraft(draft); err != nil {
		return Product{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.m {
		if p.SKU == draft.SKU {
			return Product{}, ErrDuplicateSKU
		}
	}

	draft.ID = "p_" + uuid.NewString()
	draft.Images = append([]string{}, draft.Images...)

	s.m[draft.ID] = draft
	s.order = append(s.order, draft.ID)
	return draft, nil
}

func (s *MemStore) Get(ctx context.Context, id string) (Product, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.m[id]
	return p, ok, nil
}

func (s *MemStore) List(ctx context.Context) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Product, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.m[id])
	}
	return out, nil
}

func (s *MemStore) Search(ctx context.Context, term string) ([]Product, error) {
	needle := strings.ToLower(term)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Product, 0)
	for _, id := range s.order {
		p := s.m[id]
		if strings.Contains(strings.ToLower(p.Name), needle) ||
			strings.Contains(strings.ToLower(p.Description), needle) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemStore) Update(ctx context.Context, id string, u ProductUpdate) (Product, bool, error) {
	if err := validateUpdate(u); err != nil {
		return Product{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.m[id]
	if !ok {
		return Product{}, false, nil
	}

	if u.SKU != nil && *u.SKU != p.SKU {
		for _, other := range s.m {
			if other.ID != id && other.SKU == *u.SKU {
				return Product{}, false, ErrDuplicateSKU
			}
		}
	}

	p = u.applyTo(p)
	s.m[id] = p
	return p, true, nil
}

func (s *MemStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.m[id]; !ok {
		return false, nil
	}
	delete(s.m, id)

	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}
