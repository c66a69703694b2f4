package models

import (
	"math"
	"time"
)

// AOISource records which precedence tier produced the analyzed area.
type AOISource string

const (
	AOISourceQueryBBox   AOISource = "query_bbox"
	AOISourceProfileLand AOISource = "profile_land_geometry"
	AOISourceDemo        AOISource = "demo_fallback"
)

// PrecisionMode selects between a pixel-level NDVI raster and a coarser
// zone summary.
type PrecisionMode string

const (
	PrecisionEstimated    PrecisionMode = "estimated"
	PrecisionHighAccuracy PrecisionMode = "high_accuracy"
)

func (m PrecisionMode) Valid() bool {
	return m == PrecisionEstimated || m == PrecisionHighAccuracy
}

// DataSource tags where scene data came from.
type DataSource string

const (
	DataSourceLive           DataSource = "live"
	DataSourceFallbackSample DataSource = "fallback_sample"
)

// ZoneStatus classifies a health zone.
type ZoneStatus string

const (
	ZoneHealthy  ZoneStatus = "healthy"
	ZoneWatch    ZoneStatus = "watch"
	ZoneCritical ZoneStatus = "critical"
)

// Severity returns a numeric severity for sorting (higher = worse).
func (s ZoneStatus) Severity() int {
	switch s {
	case ZoneCritical:
		return 2
	case ZoneWatch:
		return 1
	default:
		return 0
	}
}

type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// OverlayStrategy is how the overlay should be rendered.
type OverlayStrategy string

const (
	OverlayNDVIRaster     OverlayStrategy = "ndvi_raster"
	OverlayEstimatedZones OverlayStrategy = "estimated_zones"
)

// BBox is a WGS84 bounding box. Invariant: MinLon < MaxLon, MinLat < MaxLat.
type BBox struct {
	MinLon float64 `bson:"minLon" json:"minLon"`
	MinLat float64 `bson:"minLat" json:"minLat"`
	MaxLon float64 `bson:"maxLon" json:"maxLon"`
	MaxLat float64 `bson:"maxLat" json:"maxLat"`
}

func (b BBox) Valid() bool {
	for _, v := range []float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if b.MinLon < -180 || b.MaxLon > 180 || b.MinLat < -90 || b.MaxLat > 90 {
		return false
	}
	return b.MinLon < b.MaxLon && b.MinLat < b.MaxLat
}

// Round6 rounds all coordinates to 6 decimal places (~0.1m), the same
// precision used in cache key derivation.
func (b BBox) Round6() BBox {
	return BBox{
		MinLon: round6(b.MinLon),
		MinLat: round6(b.MinLat),
		MaxLon: round6(b.MaxLon),
		MaxLat: round6(b.MaxLat),
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Point is a lon/lat vertex of a polygon ring.
type Point struct {
	Lon float64 `bson:"lon" json:"lon"`
	Lat float64 `bson:"lat" json:"lat"`
}

// Ring returns the closed rectangle ring of the box.
func (b BBox) Ring() []Point {
	return []Point{
		{Lon: b.MinLon, Lat: b.MinLat},
		{Lon: b.MaxLon, Lat: b.MinLat},
		{Lon: b.MaxLon, Lat: b.MaxLat},
		{Lon: b.MinLon, Lat: b.MaxLat},
		{Lon: b.MinLon, Lat: b.MinLat},
	}
}

// AreaOfInterest is the plot being analyzed. Immutable once resolved for
// a request.
type AreaOfInterest struct {
	ID   string `bson:"id"   json:"id"`
	Name string `bson:"name" json:"name"`
	BBox BBox   `bson:"bbox" json:"bbox"`
}

// FarmBoundary is a user's saved plot geometry from the profile store.
type FarmBoundary struct {
	AOIID string  `bson:"aoiId"          json:"aoiId"`
	Name  string  `bson:"name"           json:"name"`
	BBox  BBox    `bson:"bbox"           json:"bbox"`
	Ring  []Point `bson:"ring,omitempty" json:"ring,omitempty"`
}

// SceneMetadata describes one satellite acquisition. Produced only by the
// scene catalog client, never mutated.
type SceneMetadata struct {
	SceneID           string    `bson:"sceneId"                json:"sceneId"`
	CapturedAt        time.Time `bson:"capturedAt"             json:"capturedAt"`
	CloudCoverPercent float64   `bson:"cloudCoverPercent"      json:"cloudCoverPercent"`
	TileID            string    `bson:"tileId,omitempty"       json:"tileId,omitempty"`
	BBox              BBox      `bson:"bbox"                   json:"bbox"`
	QuicklookURL      string    `bson:"quicklookUrl,omitempty" json:"quicklookUrl,omitempty"`
}

// HealthZone is one classified sub-area of an insight.
type HealthZone struct {
	ZoneID          string     `bson:"zoneId"          json:"zoneId"`
	Label           string     `bson:"label"           json:"label"`
	Status          ZoneStatus `bson:"status"          json:"status"`
	NormalizedScore float64    `bson:"normalizedScore" json:"normalizedScore"` // 0-100
	Trend           Trend      `bson:"trend"           json:"trend"`
	Ring            []Point    `bson:"ring"            json:"ring"`
}

type LegendEntry struct {
	Label string `bson:"label" json:"label"`
	Color string `bson:"color" json:"color"`
}

// MapOverlay describes how to present the insight. The two strategies are
// mutually exclusive: ndvi_raster carries a raster image and its bbox,
// estimated_zones carries neither. Construct with RasterOverlay or
// EstimatedOverlay so a half-set raster cannot exist.
type MapOverlay struct {
	Strategy    OverlayStrategy `bson:"strategy"              json:"strategy"`
	RasterImage string          `bson:"rasterImage,omitempty" json:"rasterImage,omitempty"`
	RasterBBox  *BBox           `bson:"rasterBBox,omitempty"  json:"rasterBBox,omitempty"`
	Legend      []LegendEntry   `bson:"legend"                json:"legend"`
	Disclaimer  string          `bson:"disclaimer"            json:"disclaimer"`
}

// RasterOverlay builds an ndvi_raster overlay from a rendered image.
func RasterOverlay(image string, bbox BBox, legend []LegendEntry, disclaimer string) MapOverlay {
	return MapOverlay{
		Strategy:    OverlayNDVIRaster,
		RasterImage: image,
		RasterBBox:  &bbox,
		Legend:      legend,
		Disclaimer:  disclaimer,
	}
}

// EstimatedOverlay builds an estimated_zones overlay with raster fields
// cleared.
func EstimatedOverlay(legend []LegendEntry, disclaimer string) MapOverlay {
	return MapOverlay{
		Strategy:   OverlayEstimatedZones,
		Legend:     legend,
		Disclaimer: disclaimer,
	}
}

// Downgrade forces the overlay to estimated_zones and clears raster fields.
func (o *MapOverlay) Downgrade() {
	o.Strategy = OverlayEstimatedZones
	o.RasterImage = ""
	o.RasterBBox = nil
}

// HealthInsight is one completed analysis. Cached by value so a cache read
// yields an immutable snapshot.
type HealthInsight struct {
	AnalysisID    string         `bson:"analysisId"              json:"analysisId"`
	GeneratedAt   time.Time      `bson:"generatedAt"             json:"generatedAt"`
	AOI           AreaOfInterest `bson:"aoi"                     json:"aoi"`
	AOISource     AOISource      `bson:"aoiSource"               json:"aoiSource"`
	Boundary      []Point        `bson:"boundary"                json:"boundary"`
	CurrentScene  *SceneMetadata `bson:"currentScene,omitempty"  json:"currentScene,omitempty"`
	BaselineScene *SceneMetadata `bson:"baselineScene,omitempty" json:"baselineScene,omitempty"`
	Zones         []HealthZone   `bson:"zones"                   json:"zones"`
	Overlay       MapOverlay     `bson:"overlay"                 json:"overlay"`

	UncertaintyNote               string  `bson:"uncertaintyNote"                         json:"uncertaintyNote"`
	HighAccuracyUnavailableReason *string `bson:"highAccuracyUnavailableReason,omitempty" json:"highAccuracyUnavailableReason,omitempty"`
}

// CacheStatus is reported on every response under metadata.cache.
type CacheStatus struct {
	Hit               bool       `bson:"hit"                 json:"hit"`
	Key               string     `bson:"key"                 json:"key"`
	ExpiresAt         *time.Time `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	Forced            bool       `bson:"forced"              json:"forced"`
	StaleFallbackUsed bool       `bson:"staleFallbackUsed"   json:"staleFallbackUsed"`
}

// ResponseMetadata describes how a response was produced.
type ResponseMetadata struct {
	PrecisionMode   PrecisionMode `bson:"precisionMode"             json:"precisionMode"`
	SceneID         string        `bson:"sceneId,omitempty"         json:"sceneId,omitempty"`
	SceneCapturedAt *time.Time    `bson:"sceneCapturedAt,omitempty" json:"sceneCapturedAt,omitempty"`
	Cache           CacheStatus   `bson:"cache"                     json:"cache"`
}

// CacheEntry is one persisted analysis. Entries are superseded by the next
// write for the same key, never mutated in place.
type CacheEntry struct {
	CacheKey        string           `bson:"cacheKey"                  json:"cacheKey"`
	UserID          string           `bson:"userId,omitempty"          json:"userId,omitempty"`
	AOI             AreaOfInterest   `bson:"aoi"                       json:"aoi"`
	AOISource       AOISource        `bson:"aoiSource"                 json:"aoiSource"`
	PrecisionMode   PrecisionMode    `bson:"precisionMode"             json:"precisionMode"`
	DataSource      DataSource       `bson:"dataSource"                json:"dataSource"`
	SceneID         string           `bson:"sceneId,omitempty"         json:"sceneId,omitempty"`
	SceneCapturedAt *time.Time       `bson:"sceneCapturedAt,omitempty" json:"sceneCapturedAt,omitempty"`
	CachedAt        time.Time        `bson:"cachedAt"                  json:"cachedAt"`
	ExpiresAt       time.Time        `bson:"expiresAt"                 json:"expiresAt"`
	Insight         HealthInsight    `bson:"insight"                   json:"insight"`
	Metadata        ResponseMetadata `bson:"metadata"                  json:"metadata"`
	Deleted         bool             `bson:"deleted,omitempty"         json:"deleted,omitempty"`
}

// Fresh reports whether the entry may be served without recomputation.
func (e *CacheEntry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// AccessToken is a cached provider credential. Replaced wholesale on
// refresh, never partially mutated.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// ValidFor reports whether the token remains usable past the skew window.
func (t *AccessToken) ValidFor(now time.Time, skew time.Duration) bool {
	return t != nil && t.Value != "" && now.Add(skew).Before(t.ExpiresAt)
}
