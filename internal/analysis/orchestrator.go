package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/croplens/croplens/internal/aoi"
	"github.com/croplens/croplens/internal/insight"
	"github.com/croplens/croplens/internal/metrics"
	"github.com/croplens/croplens/internal/models"
	"github.com/croplens/croplens/internal/sentinel"
	"github.com/croplens/croplens/internal/store"
)

const (
	MinTTLHours = 1
	MaxTTLHours = 168

	DefaultCloudCover         = 35
	DefaultMaxResults         = 3
	DefaultCurrentWindowDays  = 35
	DefaultBaselineOffsetDays = 90
	DefaultBaselineWindowDays = 35
	DefaultTTLHours           = 24

	defaultRasterSize = 512
)

// Request is one normalized analysis request.
type Request struct {
	UserID    string
	BBoxParam string
	AOIID     string
	AOIName   string

	AllowFallback bool
	MaxCloudCover float64
	MaxResults    int

	CurrentWindowDays  int
	BaselineOffsetDays int
	BaselineWindowDays int

	PrecisionMode models.PrecisionMode
	UseCache      bool
	ForceRefresh  bool
	CacheTTLHours int

	// Test hook: synthesize a raster failure without calling the
	// processor.
	SimulateNDVIFailure bool
}

func (r *Request) normalize() {
	if !r.PrecisionMode.Valid() {
		r.PrecisionMode = models.PrecisionHighAccuracy
	}
	if r.MaxCloudCover < 0 {
		r.MaxCloudCover = 0
	}
	if r.MaxCloudCover > 100 {
		r.MaxCloudCover = 100
	}
	if r.MaxResults < 1 {
		r.MaxResults = DefaultMaxResults
	}
	if r.CurrentWindowDays < 1 {
		r.CurrentWindowDays = DefaultCurrentWindowDays
	}
	if r.BaselineOffsetDays < 1 {
		r.BaselineOffsetDays = DefaultBaselineOffsetDays
	}
	if r.BaselineWindowDays < 1 {
		r.BaselineWindowDays = DefaultBaselineWindowDays
	}
	if r.CacheTTLHours < MinTTLHours {
		r.CacheTTLHours = DefaultTTLHours
	}
	if r.CacheTTLHours > MaxTTLHours {
		r.CacheTTLHours = MaxTTLHours
	}
}

// Result is a completed analysis plus its response metadata.
type Result struct {
	Insight    models.HealthInsight
	Metadata   models.ResponseMetadata
	DataSource models.DataSource
}

// Composer runs the health comparison for a resolved area.
type Composer interface {
	Compose(ctx context.Context, p insight.Params) (*models.HealthInsight, models.DataSource, error)
}

// RasterClient renders the NDVI raster for a chosen scene.
type RasterClient interface {
	Process(ctx context.Context, r sentinel.RasterRequest) sentinel.RasterResult
}

// CacheStore persists completed analyses.
type CacheStore interface {
	LatestEntry(ctx context.Context, userID, key string) (*models.CacheEntry, error)
	PutEntry(ctx context.Context, e models.CacheEntry) error
}

// Orchestrator sequences resolver, cache, live analysis, raster decoration
// and cache write, applying the fallback rules at each failure point.
type Orchestrator struct {
	resolver *aoi.Resolver
	composer Composer
	raster   RasterClient
	cache    CacheStore
	now      func() time.Time
}

func NewOrchestrator(resolver *aoi.Resolver, composer Composer, raster RasterClient, cache CacheStore) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		composer: composer,
		raster:   raster,
		cache:    cache,
		now:      time.Now,
	}
}

// Analyze runs one request through the pipeline. A non-nil error means
// every fallback was exhausted.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*Result, error) {
	req.normalize()
	now := o.now().UTC()

	res := o.resolver.Resolve(ctx, aoi.Request{
		BBoxParam: req.BBoxParam,
		AOIID:     req.AOIID,
		AOIName:   req.AOIName,
		UserID:    req.UserID,
	})
	key := CacheKey(req.UserID, res.AOI.BBox, req.PrecisionMode, req.MaxCloudCover, req.MaxResults)

	// CACHE_CHECK. The entry is kept around even when stale or refresh is
	// forced: it is the last line of the fallback chain.
	var cached *models.CacheEntry
	if req.UseCache && o.cache != nil {
		var err error
		cached, err = o.cache.LatestEntry(ctx, req.UserID, key)
		if err != nil {
			log.Printf("analysis: cache read failed, proceeding live: %v", err)
		}
		if cached != nil && !req.ForceRefresh && cached.Fresh(now) {
			metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
			md := cached.Metadata
			md.Cache = models.CacheStatus{
				Hit:       true,
				Key:       key,
				ExpiresAt: &cached.ExpiresAt,
			}
			return &Result{Insight: cached.Insight, Metadata: md, DataSource: cached.DataSource}, nil
		}
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	// LIVE_ANALYSIS.
	ins, source, err := o.composer.Compose(ctx, insight.Params{
		AOI:                res.AOI,
		Source:             res.Source,
		Boundary:           res.Boundary,
		CurrentWindowDays:  req.CurrentWindowDays,
		BaselineOffsetDays: req.BaselineOffsetDays,
		BaselineWindowDays: req.BaselineWindowDays,
		MaxCloudCover:      req.MaxCloudCover,
		MaxResults:         req.MaxResults,
		AllowFallback:      req.AllowFallback,
	})
	if err != nil {
		if req.AllowFallback && cached != nil {
			return o.staleResponse(req, key, cached, err), nil
		}
		// All fallbacks exhausted. Metadata still travels with the error
		// so the response envelope can report the cache status.
		md := models.ResponseMetadata{
			PrecisionMode: req.PrecisionMode,
			Cache:         models.CacheStatus{Key: key, Forced: req.ForceRefresh},
		}
		return &Result{Metadata: md}, fmt.Errorf("live analysis: %w", err)
	}

	// RASTER_DECORATION.
	o.decorate(ctx, req, res.AOI.BBox, ins)

	md := models.ResponseMetadata{
		PrecisionMode: req.PrecisionMode,
		Cache: models.CacheStatus{
			Key:    key,
			Forced: req.ForceRefresh,
		},
	}
	if ins.CurrentScene != nil {
		md.SceneID = ins.CurrentScene.SceneID
		t := ins.CurrentScene.CapturedAt
		md.SceneCapturedAt = &t
	}

	// CACHE_WRITE.
	if req.UseCache && o.cache != nil {
		expiresAt := now.Add(time.Duration(req.CacheTTLHours) * time.Hour)
		md.Cache.ExpiresAt = &expiresAt

		entry := models.CacheEntry{
			CacheKey:        key,
			UserID:          req.UserID,
			AOI:             res.AOI,
			AOISource:       res.Source,
			PrecisionMode:   req.PrecisionMode,
			DataSource:      source,
			SceneID:         md.SceneID,
			SceneCapturedAt: md.SceneCapturedAt,
			CachedAt:        now,
			ExpiresAt:       expiresAt,
			Insight:         *ins,
			Metadata:        md,
		}
		if err := o.cache.PutEntry(ctx, entry); err != nil {
			var degraded *store.DegradedWriteError
			if !errors.As(err, &degraded) {
				// Degraded writes were already logged by the store.
				log.Printf("analysis: cache write failed: %v", err)
			}
		}
	}

	metrics.AnalysesTotal.WithLabelValues(string(source), string(req.PrecisionMode)).Inc()
	return &Result{Insight: *ins, Metadata: md, DataSource: source}, nil
}

// decorate applies the precision-mode rules to the overlay.
func (o *Orchestrator) decorate(ctx context.Context, req Request, bbox models.BBox, ins *models.HealthInsight) {
	if req.PrecisionMode != models.PrecisionHighAccuracy {
		ins.Overlay.Downgrade()
		return
	}
	if ins.CurrentScene == nil {
		reason := "no scene available to render a raster"
		ins.Overlay.Downgrade()
		ins.HighAccuracyUnavailableReason = &reason
		return
	}

	if req.SimulateNDVIFailure {
		reason := "NDVI raster generation unavailable (simulated)"
		ins.Overlay.Downgrade()
		ins.HighAccuracyUnavailableReason = &reason
		return
	}

	result := o.raster.Process(ctx, sentinel.RasterRequest{
		BBox:          bbox,
		Scene:         *ins.CurrentScene,
		MaxCloudCover: req.MaxCloudCover,
		Width:         defaultRasterSize,
		Height:        defaultRasterSize,
	})
	if result.Success {
		ins.Overlay = models.RasterOverlay(result.ImageDataURL, result.BBox, ins.Overlay.Legend, ins.Overlay.Disclaimer)
		return
	}

	reason := result.Reason
	if reason == "" {
		reason = "NDVI raster generation failed"
	}
	ins.Overlay.Downgrade()
	ins.HighAccuracyUnavailableReason = &reason
}

// staleResponse serves an expired cache entry after a live failure.
func (o *Orchestrator) staleResponse(req Request, key string, cached *models.CacheEntry, cause error) *Result {
	log.Printf("analysis: serving stale cache entry for %s after live failure", key)
	metrics.CacheLookupsTotal.WithLabelValues("stale_fallback").Inc()

	ins := cached.Insight
	reason := fmt.Sprintf("live analysis failed (%v); serving cached result from %s", cause, cached.CachedAt.UTC().Format(time.RFC3339))
	ins.HighAccuracyUnavailableReason = &reason

	md := models.ResponseMetadata{
		PrecisionMode:   cached.PrecisionMode,
		SceneID:         cached.SceneID,
		SceneCapturedAt: cached.SceneCapturedAt,
		Cache: models.CacheStatus{
			Key:               key,
			ExpiresAt:         &cached.ExpiresAt,
			Forced:            req.ForceRefresh,
			StaleFallbackUsed: true,
		},
	}
	return &Result{Insight: ins, Metadata: md, DataSource: cached.DataSource}
}
