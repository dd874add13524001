package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo keeps results in process memory. Used in tests and when no database is configured.
type MemoryRepo struct {
	mu      sync.Mutex
	calls   map[string]Call
	results map[string]CallResult
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: map[string]Call{}, results: map[string]CallResult{}}
}

func (r *MemoryRepo) SaveResult(ctx context.Context, call Call, res CallResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.results[res.CallID]; exists {
		return nil
	}
	r.calls[res.CallID] = call
	r.results[res.CallID] = res
	return nil
}

func (r *MemoryRepo) GetResult(ctx context.Context, callID string) (CallResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[callID]
	if !ok {
		return CallResult{}, ErrNotFound
	}
	return res, nil
}

func (r *MemoryRepo) ListResults(ctx context.Context, from, to time.Time) ([]CallResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallResult, 0, len(r.results))
	for _, res := range r.results {
		if res.StartedAt.Before(from) || !res.StartedAt.Before(to) {
			continue
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
