package memory

import (
	"context"
	"sync"
	"time"
)

// vaultItem is one stored data item in a user/category bucket.
type vaultItem struct {
	StoredAt   time.Time
	Anonymized bool
}

// DataVault is an in-memory user data store that supports the retention
// actions. It also serves as the timestamp source time-based policies compare
// against and the fact source event conditions evaluate over.
type DataVault struct {
	mu       sync.RWMutex
	items    map[string]map[string][]vaultItem // userID -> category -> items
	archived map[string]map[string]int
	reviews  map[string][]string
	facts    map[string]map[string]interface{}
}

func NewDataVault() *DataVault {
	return &DataVault{
		items:    make(map[string]map[string][]vaultItem),
		archived: make(map[string]map[string]int),
		reviews:  make(map[string][]string),
		facts:    make(map[string]map[string]interface{}),
	}
}

// Store records one data item for the user in the category at the given time.
func (v *DataVault) Store(userID, category string, storedAt time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.items[userID] == nil {
		v.items[userID] = make(map[string][]vaultItem)
	}
	v.items[userID][category] = append(v.items[userID][category], vaultItem{StoredAt: storedAt})
}

// SetFact sets one user fact visible to event-based conditions.
func (v *DataVault) SetFact(userID, key string, value interface{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.facts[userID] == nil {
		v.facts[userID] = make(map[string]interface{})
	}
	v.facts[userID][key] = value
}

// Count reports how many items the user holds in the category.
func (v *DataVault) Count(userID, category string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.items[userID][category])
}

// ArchivedCount reports how many of the user's items were archived from the
// category.
func (v *DataVault) ArchivedCount(userID, category string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.archived[userID][category]
}

// PendingReviews lists the categories scheduled for manual review.
func (v *DataVault) PendingReviews(userID string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string{}, v.reviews[userID]...)
}

// Delete implements consent.DataStore.
func (v *DataVault) Delete(_ context.Context, userID, category string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if bucket := v.items[userID]; bucket != nil {
		delete(bucket, category)
	}
	return nil
}

// Anonymize implements consent.DataStore.
func (v *DataVault) Anonymize(_ context.Context, userID, category string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	items := v.items[userID][category]
	for i := range items {
		items[i].Anonymized = true
	}
	return nil
}

// Archive implements consent.DataStore. Archived items leave the live bucket.
func (v *DataVault) Archive(_ context.Context, userID, category string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := len(v.items[userID][category])
	if n == 0 {
		return nil
	}
	if v.archived[userID] == nil {
		v.archived[userID] = make(map[string]int)
	}
	v.archived[userID][category] += n
	delete(v.items[userID], category)
	return nil
}

// ScheduleReview implements consent.DataStore.
func (v *DataVault) ScheduleReview(_ context.Context, userID, category string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.reviews[userID] = append(v.reviews[userID], category)
	return nil
}

// OldestRecordTime implements consent.DataTimestampSource.
func (v *DataVault) OldestRecordTime(_ context.Context, userID, category string) (*time.Time, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	items := v.items[userID][category]
	if len(items) == 0 {
		return nil, nil
	}
	oldest := items[0].StoredAt
	for _, item := range items[1:] {
		if item.StoredAt.Before(oldest) {
			oldest = item.StoredAt
		}
	}
	return &oldest, nil
}

// Facts implements consent.FactProvider.
func (v *DataVault) Facts(_ context.Context, userID string) (map[string]interface{}, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]interface{}, len(v.facts[userID]))
	for k, val := range v.facts[userID] {
		out[k] = val
	}
	return out, nil
}
