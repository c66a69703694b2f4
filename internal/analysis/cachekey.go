package analysis

import (
	"strconv"
	"strings"

	"github.com/croplens/croplens/internal/models"
)

const (
	cacheKeyPrefix    = "croplens:health"
	cacheKeySeparator = ":"
	anonymousUser     = "anonymous"
)

// CacheKey derives the deterministic cache key for one analysis shape.
// Coordinates are rounded to 6 decimal places so floating-point jitter
// from repeated AOI resolution cannot fragment the cache.
func CacheKey(userID string, bbox models.BBox, mode models.PrecisionMode, maxCloudCover float64, maxResults int) string {
	user := userID
	if user == "" {
		user = anonymousUser
	}

	b := bbox.Round6()
	parts := []string{
		cacheKeyPrefix,
		user,
		formatCoord(b.MinLon),
		formatCoord(b.MinLat),
		formatCoord(b.MaxLon),
		formatCoord(b.MaxLat),
		string(mode),
		strconv.FormatFloat(maxCloudCover, 'f', -1, 64),
		strconv.Itoa(maxResults),
	}
	return strings.Join(parts, cacheKeySeparator)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
