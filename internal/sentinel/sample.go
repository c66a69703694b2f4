package sentinel

import (
	"fmt"
	"time"

	"github.com/croplens/croplens/internal/models"
)

// SampleSceneVersion identifies the fixed sample set served when live
// catalog access is unavailable. Bump when the set changes.
const SampleSceneVersion = "v2"

// SampleScenes returns the fixed two-scene sample set, stamped with the
// requested bbox and capture times placed inside the requested window so
// both current and baseline searches resolve to a scene.
func SampleScenes(now time.Time, bbox models.BBox, from, to time.Time) []models.SceneMetadata {
	if to.IsZero() || to.After(now) {
		to = now
	}
	if from.IsZero() || !from.Before(to) {
		from = to.Add(-35 * 24 * time.Hour)
	}

	newest := to.Add(-72 * time.Hour)
	if newest.Before(from) {
		newest = from.Add(to.Sub(from) / 2)
	}
	older := newest.Add(-7 * 24 * time.Hour)
	if older.Before(from) {
		older = from
	}

	return []models.SceneMetadata{
		{
			SceneID:           fmt.Sprintf("sample-%s-a", SampleSceneVersion),
			CapturedAt:        newest.UTC().Truncate(time.Minute),
			CloudCoverPercent: 0.0,
			TileID:            "45QXF",
			BBox:              bbox,
		},
		{
			SceneID:           fmt.Sprintf("sample-%s-b", SampleSceneVersion),
			CapturedAt:        older.UTC().Truncate(time.Minute),
			CloudCoverPercent: 0.01,
			TileID:            "45QXF",
			BBox:              bbox,
		},
	}
}
