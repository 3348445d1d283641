package domain

import "time"

// Turn is a single persisted conversation turn. Turns are immutable once
// written; within a principal's conversation they are totally ordered by
// CreatedAt, with insertion order breaking ties.
type Turn struct {
	PK        string
	SK        string
	Principal Principal
	Role      string
	Content   string
	CreatedAt time.Time
}

// Observation is a self-reported pain entry. Observations are written by the
// capture form outside this service; this service only reads them.
type Observation struct {
	Principal Principal
	Level     int
	Location  string
	CreatedAt time.Time
}
