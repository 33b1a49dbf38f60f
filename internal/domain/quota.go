package domain

import "sync"

// LookupQuota caps metered external lookups within a single sync run
type LookupQuota struct {
	mu        sync.Mutex
	remaining int
}

func NewLookupQuota(limit int) *LookupQuota {
	return &LookupQuota{remaining: limit}
}

// TryAcquire consumes one unit if any remain
func (q *LookupQuota) TryAcquire() bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.remaining <= 0 {
		return false
	}
	q.remaining--
	return true
}

func (q *LookupQuota) Remaining() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remaining
}
