package domain

import "time"

// SubtaskEntry records a learner's progress on a single subtask of the
// active mission. Entries are created lazily on first interaction and the
// full map is the unit of synchronization.
type SubtaskEntry struct {
	SubtaskNumber int      `json:"subtask_number"`
	Completed     bool     `json:"completed"`
	Evidence      []string `json:"evidence,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

// Snapshot is a timestamped, whole-map serialization of subtask progress.
// Writes are whole-value replacements; a snapshot is never partially
// overwritten.
type Snapshot struct {
	Progress  map[int]SubtaskEntry `json:"progress"`
	MissionID string               `json:"missionId"`
	Timestamp time.Time            `json:"timestamp"`
}

// Supersedes reports whether s should replace other under the monotonic
// merge rule: only a strictly newer timestamp wins.
func (s Snapshot) Supersedes(other Snapshot) bool {
	return s.Timestamp.After(other.Timestamp)
}

// Sync state tags distinguishing locally-asserted progress from
// server-confirmed progress.
const (
	SyncStatePending   = "pending"
	SyncStateConfirmed = "confirmed"
)
