package pipeline

import (
	"sort"

	"github.com/studymesh/recall/internal/domain/entities"
)

// Coalesce reduces a window snapshot to the per-partition survivors that
// are worth writing. Within a partition the latest timestamp wins per
// (chapter, kind) key; zero-progress noise is dropped unless the update is
// a completion or final marker. Partitions left with no survivors are
// omitted entirely, so each returned partition maps to exactly one bulk
// write.
func Coalesce(updates []entities.ProgressUpdate) map[entities.PartitionKey][]entities.ProgressUpdate {
	latest := make(map[entities.PartitionKey]map[entities.CoalesceKey]entities.ProgressUpdate)
	for _, u := range updates {
		part := latest[u.Partition()]
		if part == nil {
			part = make(map[entities.CoalesceKey]entities.ProgressUpdate)
			latest[u.Partition()] = part
		}

		cur, ok := part[u.Key()]
		if !ok || u.OccurredAt.After(cur.OccurredAt) {
			part[u.Key()] = u
		}
	}

	out := make(map[entities.PartitionKey][]entities.ProgressUpdate, len(latest))
	for pk, part := range latest {
		kept := make([]entities.ProgressUpdate, 0, len(part))
		for _, u := range part {
			if u.WorthPersisting() {
				kept = append(kept, u)
			}
		}
		if len(kept) == 0 {
			continue
		}

		// Deterministic order within a partition.
		sort.Slice(kept, func(i, j int) bool {
			if kept[i].ChapterID != kept[j].ChapterID {
				return kept[i].ChapterID < kept[j].ChapterID
			}
			return kept[i].Kind < kept[j].Kind
		})
		out[pk] = kept
	}

	return out
}
