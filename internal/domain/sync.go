package domain

import "time"

type SyncStatus string

const (
	SyncIdle     SyncStatus = "idle"
	SyncRunning  SyncStatus = "running"
	SyncComplete SyncStatus = "complete"
	SyncError    SyncStatus = "error"
)

type UpsertStatus string

const (
	UpsertCreated UpsertStatus = "created"
	UpsertUpdated UpsertStatus = "updated"
	UpsertSkipped UpsertStatus = "skipped"
)

type UpsertResult struct {
	Key    string       `json:"key"`
	Status UpsertStatus `json:"status"`
}

// EntityCounter tracks one entity type during a run
type EntityCounter struct {
	Checked int `json:"checked"`
	New     int `json:"new"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Pruned  int `json:"pruned"`
}

func (c *EntityCounter) Record(status UpsertStatus) {
	c.Checked++
	switch status {
	case UpsertCreated:
		c.New++
	case UpsertUpdated:
		c.Updated++
	case UpsertSkipped:
		c.Skipped++
	}
}

type SyncCounters struct {
	Advertisers EntityCounter `json:"advertisers"`
	Offers      EntityCounter `json:"offers"`
	Products    EntityCounter `json:"products"`
}

// For returns the counter of a record collection
func (c *SyncCounters) For(collection Collection) *EntityCounter {
	switch collection {
	case CollectionAdvertisers:
		return &c.Advertisers
	case CollectionOffers:
		return &c.Offers
	case CollectionProducts:
		return &c.Products
	}
	return nil
}

// SyncRunState is the live, in-process status of one network
type SyncRunState struct {
	Network     Network      `json:"network"`
	Status      SyncStatus   `json:"status"`
	Counters    SyncCounters `json:"counters"`
	Error       string       `json:"error,omitempty"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

// SyncLog is the durable record of a completed run
type SyncLog struct {
	ID         string        `json:"id" db:"id"`
	Network    Network       `json:"network" db:"network"`
	Status     SyncStatus    `json:"status" db:"status"`
	Counters   SyncCounters  `json:"counters" db:"-"`
	StartedAt  time.Time     `json:"startedAt" db:"started_at"`
	FinishedAt time.Time     `json:"finishedAt" db:"finished_at"`
	Duration   time.Duration `json:"durationMs" db:"-"`
}

// ReconcileSummary reports a full reconciliation pass
type ReconcileSummary struct {
	Advertisers int `json:"advertisers"`
	Updated     int `json:"updated"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}
