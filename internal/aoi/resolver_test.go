package aoi

import (
	"context"
	"errors"
	"testing"

	"github.com/croplens/croplens/internal/models"
)

func TestParseBBox(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  models.BBox
		ok    bool
	}{
		{"valid", "85.2,20.1,85.45,20.35", models.BBox{MinLon: 85.2, MinLat: 20.1, MaxLon: 85.45, MaxLat: 20.35}, true},
		{"valid with spaces", " 85.2, 20.1, 85.45, 20.35 ", models.BBox{MinLon: 85.2, MinLat: 20.1, MaxLon: 85.45, MaxLat: 20.35}, true},
		{"rounds to six decimals", "85.2000004,20.1,85.45,20.35", models.BBox{MinLon: 85.2, MinLat: 20.1, MaxLon: 85.45, MaxLat: 20.35}, true},
		{"too few parts", "85.2,20.1,85.45", models.BBox{}, false},
		{"too many parts", "85.2,20.1,85.45,20.35,1", models.BBox{}, false},
		{"non numeric", "85.2,twenty,85.45,20.35", models.BBox{}, false},
		{"lon out of range", "185.2,20.1,185.45,20.35", models.BBox{}, false},
		{"lat out of range", "85.2,-95,85.45,20.35", models.BBox{}, false},
		{"min equals max", "85.2,20.1,85.2,20.35", models.BBox{}, false},
		{"min above max", "85.45,20.1,85.2,20.35", models.BBox{}, false},
		{"empty", "", models.BBox{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseBBox(tt.input)
			if ok != tt.ok {
				t.Fatalf("ParseBBox(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseBBox(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseBBoxRoundTrip(t *testing.T) {
	// Tier-1 output must match the precision used in cache keys: parsing
	// the same box with sub-1e-6 jitter yields identical coordinates.
	a, ok := ParseBBox("85.200000,20.100000,85.450000,20.350000")
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	b, ok := ParseBBox("85.2000001,20.0999999,85.4500003,20.3499998")
	if !ok {
		t.Fatal("expected jittered parse to succeed")
	}
	if a != b {
		t.Errorf("jittered bbox %+v != %+v", b, a)
	}
}

type fakeProfiles struct {
	boundary *models.FarmBoundary
	err      error
}

func (f *fakeProfiles) FarmBoundary(ctx context.Context, userID string) (*models.FarmBoundary, error) {
	return f.boundary, f.err
}

func TestResolvePrecedence(t *testing.T) {
	saved := &models.FarmBoundary{
		AOIID: "farm-42",
		Name:  "Back paddock",
		BBox:  models.BBox{MinLon: 10, MinLat: 10, MaxLon: 11, MaxLat: 11},
	}

	tests := []struct {
		name       string
		req        Request
		profiles   ProfileStore
		wantSource models.AOISource
		wantID     string
	}{
		{
			name:       "explicit bbox wins over profile",
			req:        Request{BBoxParam: "85.2,20.1,85.45,20.35", UserID: "u1"},
			profiles:   &fakeProfiles{boundary: saved},
			wantSource: models.AOISourceQueryBBox,
			wantID:     "query-bbox",
		},
		{
			name:       "invalid bbox falls through to profile",
			req:        Request{BBoxParam: "not-a-bbox", UserID: "u1"},
			profiles:   &fakeProfiles{boundary: saved},
			wantSource: models.AOISourceProfileLand,
			wantID:     "farm-42",
		},
		{
			name:       "no bbox no profile gives demo",
			req:        Request{UserID: "u1"},
			profiles:   &fakeProfiles{},
			wantSource: models.AOISourceDemo,
			wantID:     DemoAOI.ID,
		},
		{
			name:       "anonymous gives demo",
			req:        Request{},
			profiles:   &fakeProfiles{boundary: saved},
			wantSource: models.AOISourceDemo,
			wantID:     DemoAOI.ID,
		},
		{
			name:       "profile error degrades to demo",
			req:        Request{UserID: "u1"},
			profiles:   &fakeProfiles{err: errors.New("boom")},
			wantSource: models.AOISourceDemo,
			wantID:     DemoAOI.ID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.profiles)
			res := r.Resolve(context.Background(), tt.req)
			if res.Source != tt.wantSource {
				t.Errorf("source = %s, want %s", res.Source, tt.wantSource)
			}
			if res.AOI.ID != tt.wantID {
				t.Errorf("aoi id = %s, want %s", res.AOI.ID, tt.wantID)
			}
			if len(res.Boundary) == 0 {
				t.Error("boundary ring should never be empty")
			}
		})
	}
}

func TestResolveSynthesizesRingFromBBox(t *testing.T) {
	profiles := &fakeProfiles{boundary: &models.FarmBoundary{
		AOIID: "farm-7",
		Name:  "River plot",
		BBox:  models.BBox{MinLon: 10, MinLat: 10, MaxLon: 11, MaxLat: 11},
	}}

	res := NewResolver(profiles).Resolve(context.Background(), Request{UserID: "u7"})
	if res.Source != models.AOISourceProfileLand {
		t.Fatalf("source = %s, want %s", res.Source, models.AOISourceProfileLand)
	}
	if len(res.Boundary) != 5 {
		t.Errorf("synthesized rectangle ring has %d points, want 5", len(res.Boundary))
	}
	if res.Boundary[0] != res.Boundary[len(res.Boundary)-1] {
		t.Error("ring is not closed")
	}
}

func TestResolveKeepsSavedRing(t *testing.T) {
	ring := []models.Point{{Lon: 10, Lat: 10}, {Lon: 10.8, Lat: 10.1}, {Lon: 10.4, Lat: 11}, {Lon: 10, Lat: 10}}
	profiles := &fakeProfiles{boundary: &models.FarmBoundary{
		AOIID: "farm-8",
		BBox:  models.BBox{MinLon: 10, MinLat: 10, MaxLon: 11, MaxLat: 11},
		Ring:  ring,
	}}

	res := NewResolver(profiles).Resolve(context.Background(), Request{UserID: "u8"})
	if len(res.Boundary) != len(ring) {
		t.Fatalf("boundary has %d points, want saved ring of %d", len(res.Boundary), len(ring))
	}
}
