package entities

import "time"

// ProgressKind tags the source of a progress signal.
type ProgressKind string

const (
	ProgressVideo   ProgressKind = "video"
	ProgressQuiz    ProgressKind = "quiz"
	ProgressChapter ProgressKind = "chapter"
)

// Valid reports whether the kind is one of the known values.
func (k ProgressKind) Valid() bool {
	switch k {
	case ProgressVideo, ProgressQuiz, ProgressChapter:
		return true
	}
	return false
}

// ProgressUpdate is a transient progress event. Updates are buffered and
// coalesced before persistence; they are never stored one-to-one.
type ProgressUpdate struct {
	UserID     string
	CourseID   string
	ChapterID  string
	Kind       ProgressKind
	Progress   float64 // 0-100
	Completed  bool
	Final      bool // forced delivery regardless of progress value
	Meta       map[string]string
	OccurredAt time.Time
}

// PartitionKey groups updates that are persisted in one bulk write.
type PartitionKey struct {
	UserID   string
	CourseID string
}

// CoalesceKey identifies the logical row an update targets within a
// partition. Later timestamps win per key.
type CoalesceKey struct {
	ChapterID string
	Kind      ProgressKind
}

// Partition returns the bulk-write partition the update belongs to.
func (u ProgressUpdate) Partition() PartitionKey {
	return PartitionKey{UserID: u.UserID, CourseID: u.CourseID}
}

// Key returns the within-partition coalescing key.
func (u ProgressUpdate) Key() CoalesceKey {
	return CoalesceKey{ChapterID: u.ChapterID, Kind: u.Kind}
}

// WorthPersisting reports whether the update should survive coalescing.
// A zero-progress report from a half-loaded player is noise, but completion
// markers are kept even at zero progress.
func (u ProgressUpdate) WorthPersisting() bool {
	return u.Progress > 0 || u.Completed || u.Final
}
