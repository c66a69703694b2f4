package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/croplens/croplens/internal/httputil"
	"github.com/croplens/croplens/internal/metrics"
	"github.com/croplens/croplens/internal/models"
)

const (
	DefaultBaseURL    = "https://services.sentinel-hub.com"
	DefaultCollection = "sentinel-2-l2a"

	// Over-request so post-filtering by cloud cover still yields enough
	// scenes.
	searchOverRequestFactor = 3
)

// CatalogClient searches the provider's scene catalog.
type CatalogClient struct {
	broker     *TokenBroker
	client     *http.Client
	baseURL    string
	collection string
	now        func() time.Time
}

func NewCatalogClient(broker *TokenBroker, baseURL string) *CatalogClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &CatalogClient{
		broker:     broker,
		client:     httputil.NewClient(),
		baseURL:    baseURL,
		collection: DefaultCollection,
		now:        time.Now,
	}
}

// SearchParams bound one catalog query.
type SearchParams struct {
	BBox          models.BBox
	From, To      time.Time
	MaxCloudCover float64
	MaxResults    int
}

type searchRequest struct {
	BBox        [4]float64 `json:"bbox"`
	Datetime    string     `json:"datetime"`
	Collections []string   `json:"collections"`
	Limit       int        `json:"limit"`
}

type searchResponse struct {
	Features []searchFeature `json:"features"`
}

type searchFeature struct {
	ID         string            `json:"id"`
	BBox       []float64         `json:"bbox"`
	Properties featureProperties `json:"properties"`
	Assets     struct {
		Thumbnail struct {
			Href string `json:"href"`
		} `json:"thumbnail"`
	} `json:"assets"`
}

type featureProperties struct {
	Datetime   string  `json:"datetime"`
	CloudCover float64 `json:"eo:cloud_cover"`
	GridCode   string  `json:"grid:code"`
}

// Search returns up to MaxResults scenes sorted by capture time descending,
// each with cloud cover at or below the ceiling.
func (c *CatalogClient) Search(ctx context.Context, p SearchParams) ([]models.SceneMetadata, error) {
	token, err := c.broker.Token(ctx)
	if err != nil {
		return nil, err
	}

	if p.MaxResults <= 0 {
		p.MaxResults = 3
	}

	reqBody := searchRequest{
		BBox:        [4]float64{p.BBox.MinLon, p.BBox.MinLat, p.BBox.MaxLon, p.BBox.MaxLat},
		Datetime:    p.From.UTC().Format(time.RFC3339) + "/" + p.To.UTC().Format(time.RFC3339),
		Collections: []string{c.collection},
		Limit:       p.MaxResults * searchOverRequestFactor,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/catalog/1.0.0/search", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build search request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		start := c.now()
		resp, err := c.client.Do(req)
		metrics.ProviderCallLatency.WithLabelValues("catalog_search").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ProviderCallsTotal.WithLabelValues("catalog_search", "error").Inc()
			return backoff.Permanent(&TransportError{Op: "catalog search", Err: err})
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			metrics.ProviderCallsTotal.WithLabelValues("catalog_search", resp.Status).Inc()
			return &TransportError{Op: "catalog search", Status: resp.StatusCode}
		}
		if resp.StatusCode != http.StatusOK {
			metrics.ProviderCallsTotal.WithLabelValues("catalog_search", resp.Status).Inc()
			return backoff.Permanent(&TransportError{Op: "catalog search", Status: resp.StatusCode})
		}
		metrics.ProviderCallsTotal.WithLabelValues("catalog_search", "ok").Inc()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(&TransportError{Op: "catalog search", Err: err})
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 20 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	var data searchResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal search response: %w", err)
	}

	scenes := make([]models.SceneMetadata, 0, len(data.Features))
	for _, f := range data.Features {
		scene, ok := featureToScene(f, p.BBox)
		if !ok {
			continue
		}
		scenes = append(scenes, scene)
	}

	sort.Slice(scenes, func(i, j int) bool {
		return scenes[i].CapturedAt.After(scenes[j].CapturedAt)
	})

	filtered := scenes[:0]
	for _, s := range scenes {
		if s.CloudCoverPercent <= p.MaxCloudCover {
			filtered = append(filtered, s)
		}
	}
	if len(filtered) > p.MaxResults {
		filtered = filtered[:p.MaxResults]
	}
	if len(filtered) == 0 {
		return nil, &EmptyResultError{Detail: fmt.Sprintf("%d features, none under %.0f%% cloud", len(data.Features), p.MaxCloudCover)}
	}
	return filtered, nil
}

// SearchWithFallback runs Search and, when allowed, absorbs credential,
// transport and empty-result failures by returning the fixed sample scene
// set tagged fallback_sample.
func (c *CatalogClient) SearchWithFallback(ctx context.Context, p SearchParams, allowFallback bool) ([]models.SceneMetadata, models.DataSource, error) {
	scenes, err := c.Search(ctx, p)
	if err == nil {
		return scenes, models.DataSourceLive, nil
	}

	var confErr *ConfigurationError
	var transErr *TransportError
	var emptyErr *EmptyResultError
	fallbackEligible := errors.As(err, &confErr) || errors.As(err, &transErr) || errors.As(err, &emptyErr)
	if !allowFallback || !fallbackEligible {
		return nil, "", err
	}

	log.Printf("catalog: falling back to sample scenes: %v", err)
	return SampleScenes(c.now(), p.BBox, p.From, p.To), models.DataSourceFallbackSample, nil
}

func featureToScene(f searchFeature, requested models.BBox) (models.SceneMetadata, bool) {
	if f.ID == "" || f.Properties.Datetime == "" {
		return models.SceneMetadata{}, false
	}
	capturedAt, err := time.Parse(time.RFC3339, f.Properties.Datetime)
	if err != nil {
		return models.SceneMetadata{}, false
	}

	bbox := requested
	if len(f.BBox) == 4 {
		candidate := models.BBox{MinLon: f.BBox[0], MinLat: f.BBox[1], MaxLon: f.BBox[2], MaxLat: f.BBox[3]}
		if candidate.Valid() {
			bbox = candidate
		}
	}

	return models.SceneMetadata{
		SceneID:           f.ID,
		CapturedAt:        capturedAt.UTC(),
		CloudCoverPercent: f.Properties.CloudCover,
		TileID:            f.Properties.GridCode,
		BBox:              bbox,
		QuicklookURL:      f.Assets.Thumbnail.Href,
	}, true
}
