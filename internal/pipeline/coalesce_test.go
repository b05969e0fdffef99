package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studymesh/recall/internal/domain/entities"
)

func upd(course, chapter string, kind entities.ProgressKind, progress float64, at time.Time) entities.ProgressUpdate {
	return entities.ProgressUpdate{
		UserID:     "user-1",
		CourseID:   course,
		ChapterID:  chapter,
		Kind:       kind,
		Progress:   progress,
		OccurredAt: at,
	}
}

func TestCoalesce_LastWriteWinsPerKey(t *testing.T) {
	base := time.Now()

	var updates []entities.ProgressUpdate
	for i := 0; i < 10; i++ {
		updates = append(updates, upd("course-1", "ch-1", entities.ProgressVideo, float64(i+1)*10, base.Add(time.Duration(i)*time.Second)))
	}

	out := Coalesce(updates)
	require.Len(t, out, 1)

	part := out[entities.PartitionKey{UserID: "user-1", CourseID: "course-1"}]
	require.Len(t, part, 1)
	assert.Equal(t, 100.0, part[0].Progress, "only the latest timestamp survives")
}

func TestCoalesce_ZeroProgressSuppression(t *testing.T) {
	now := time.Now()

	noise := upd("course-1", "ch-1", entities.ProgressVideo, 0, now)
	kept := upd("course-1", "ch-2", entities.ProgressVideo, 0, now)
	kept.Completed = true
	final := upd("course-1", "ch-3", entities.ProgressQuiz, 0, now)
	final.Final = true

	out := Coalesce([]entities.ProgressUpdate{noise, kept, final})

	part := out[entities.PartitionKey{UserID: "user-1", CourseID: "course-1"}]
	require.Len(t, part, 2)
	assert.Equal(t, "ch-2", part[0].ChapterID)
	assert.Equal(t, "ch-3", part[1].ChapterID)
}

func TestCoalesce_AllNoisePartitionOmitted(t *testing.T) {
	now := time.Now()
	out := Coalesce([]entities.ProgressUpdate{
		upd("course-1", "ch-1", entities.ProgressVideo, 0, now),
		upd("course-1", "ch-2", entities.ProgressVideo, 0, now),
	})
	assert.Empty(t, out)
}

func TestCoalesce_KindsAreSeparateKeys(t *testing.T) {
	now := time.Now()
	out := Coalesce([]entities.ProgressUpdate{
		upd("course-1", "ch-1", entities.ProgressVideo, 50, now),
		upd("course-1", "ch-1", entities.ProgressQuiz, 80, now.Add(time.Second)),
	})

	part := out[entities.PartitionKey{UserID: "user-1", CourseID: "course-1"}]
	assert.Len(t, part, 2, "video and quiz progress for one chapter are distinct rows")
}

func TestCoalesce_ManyEventsAcrossThreeCourses(t *testing.T) {
	base := time.Now()

	var updates []entities.ProgressUpdate
	for i := 0; i < 50; i++ {
		course := fmt.Sprintf("course-%d", i%3)
		chapter := fmt.Sprintf("ch-%d", i%5)
		updates = append(updates, upd(course, chapter, entities.ProgressVideo, float64(i+1), base.Add(time.Duration(i)*time.Millisecond)))
	}

	out := Coalesce(updates)
	require.Len(t, out, 3, "one partition per distinct (user, course)")

	for key, part := range out {
		assert.LessOrEqual(t, len(part), 5, "partition %v holds at most one event per chapter", key)
		seen := make(map[entities.CoalesceKey]bool)
		for _, u := range part {
			assert.False(t, seen[u.Key()], "duplicate key after coalescing")
			seen[u.Key()] = true
		}
	}
}
