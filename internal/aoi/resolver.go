package aoi

import (
	"context"
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/croplens/croplens/internal/models"
)

// DemoAOI is served when neither an explicit bbox nor a saved farm
// boundary is available.
var DemoAOI = models.AreaOfInterest{
	ID:   "demo-plot",
	Name: "Demo farm plot",
	BBox: models.BBox{MinLon: 85.2, MinLat: 20.1, MaxLon: 85.45, MaxLat: 20.35},
}

// ProfileStore reads a user's saved farm boundary. A nil boundary with a
// nil error means the user has none.
type ProfileStore interface {
	FarmBoundary(ctx context.Context, userID string) (*models.FarmBoundary, error)
}

// Resolver picks the area to analyze from three precedence tiers:
// explicit query bbox, saved profile geometry, fixed demo plot.
// Resolution never fails; it always terminates in the demo tier.
type Resolver struct {
	profiles ProfileStore
}

func NewResolver(profiles ProfileStore) *Resolver {
	return &Resolver{profiles: profiles}
}

// Request carries the optional inputs to one resolution.
type Request struct {
	BBoxParam string
	AOIID     string
	AOIName   string
	UserID    string
}

// Resolution is the chosen area plus its provenance and boundary ring.
type Resolution struct {
	AOI      models.AreaOfInterest
	Source   models.AOISource
	Boundary []models.Point
}

func (r *Resolver) Resolve(ctx context.Context, req Request) Resolution {
	// Tier 1: explicit bbox. Invalid input falls through, it is not an
	// error.
	if bbox, ok := ParseBBox(req.BBoxParam); ok {
		name := req.AOIName
		if name == "" {
			name = "Custom area"
		}
		id := req.AOIID
		if id == "" {
			id = "query-bbox"
		}
		return Resolution{
			AOI:      models.AreaOfInterest{ID: id, Name: name, BBox: bbox},
			Source:   models.AOISourceQueryBBox,
			Boundary: bbox.Ring(),
		}
	}

	// Tier 2: the user's saved farm boundary.
	if req.UserID != "" && r.profiles != nil {
		boundary, err := r.profiles.FarmBoundary(ctx, req.UserID)
		if err != nil {
			log.Printf("aoi: profile lookup for %s failed, using demo plot: %v", req.UserID, err)
		} else if boundary != nil && boundary.BBox.Valid() {
			ring := boundary.Ring
			if len(ring) == 0 {
				ring = boundary.BBox.Ring()
			}
			return Resolution{
				AOI: models.AreaOfInterest{
					ID:   boundary.AOIID,
					Name: boundary.Name,
					BBox: boundary.BBox,
				},
				Source:   models.AOISourceProfileLand,
				Boundary: ring,
			}
		}
	}

	// Tier 3: demo plot.
	return Resolution{
		AOI:      DemoAOI,
		Source:   models.AOISourceDemo,
		Boundary: DemoAOI.BBox.Ring(),
	}
}

// ParseBBox parses "minLon,minLat,maxLon,maxLat". Coordinates must be
// finite, in range, with min strictly below max on both axes. Output is
// rounded to the same 6-decimal precision used for cache keys.
func ParseBBox(s string) (models.BBox, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return models.BBox{}, false
	}

	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return models.BBox{}, false
		}
		vals[i] = v
	}

	bbox := models.BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	if !bbox.Valid() {
		return models.BBox{}, false
	}
	return bbox.Round6(), true
}
