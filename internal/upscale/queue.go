// Package upscale stages slices for enhancement and drains them through the
// enhancement backend.
package upscale

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/daijiaran/cinegrid/internal/domain"
)

// Queue is the set-like processing queue, keyed by source id.
type Queue struct {
	mu    sync.Mutex
	items []domain.QueueItem
}

func NewQueue() *Queue {
	return &Queue{}
}

// Add appends item unless its source id is already queued.
func (q *Queue) Add(item domain.QueueItem) error {
	if strings.TrimSpace(item.SourceID) == "" || len(item.Data) == 0 {
		return fmt.Errorf("%w: queue item needs a source id and image data", domain.ErrInvalidInput)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexLocked(item.SourceID) >= 0 {
		return fmt.Errorf("%w: %s is already queued", domain.ErrDuplicate, item.SourceID)
	}
	q.items = append(q.items, item)
	return nil
}

// AddMany adds every item not already present and returns how many were added.
func (q *Queue) AddMany(items []domain.QueueItem) int {
	added := 0
	for _, item := range items {
		if q.Add(item) == nil {
			added++
		}
	}
	return added
}

// Remove drops the item for sourceID.
func (q *Queue) Remove(sourceID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexLocked(sourceID)
	if idx < 0 {
		return fmt.Errorf("queue item %s: %w", sourceID, domain.ErrNotFound)
	}
	q.items = slices.Delete(q.items, idx, idx+1)
	return nil
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Items returns a snapshot in insertion order.
func (q *Queue) Items() []domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) indexLocked(sourceID string) int {
	return slices.IndexFunc(q.items, func(it domain.QueueItem) bool { return it.SourceID == sourceID })
}

// Results is the append-only list of enhancement outputs.
type Results struct {
	mu    sync.Mutex
	items []domain.UpscaledResult
}

func NewResults() *Results {
	return &Results{}
}

func (r *Results) Append(res domain.UpscaledResult) {
	r.mu.Lock()
	r.items = append(r.items, res)
	r.mu.Unlock()
}

// List returns a snapshot in creation order.
func (r *Results) List() []domain.UpscaledResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.items)
}

func (r *Results) Get(id string) (domain.UpscaledResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range r.items {
		if res.ID == id {
			return res, nil
		}
	}
	return domain.UpscaledResult{}, fmt.Errorf("result %s: %w", id, domain.ErrNotFound)
}

func (r *Results) Clear() {
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}
