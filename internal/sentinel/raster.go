package sentinel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/croplens/croplens/internal/httputil"
	"github.com/croplens/croplens/internal/metrics"
	"github.com/croplens/croplens/internal/models"
)

const (
	minRasterDimension = 128
	maxRasterDimension = 1024
)

// ndviEvalscript classifies NDVI from red (B04) and near-infrared (B08)
// into four fixed colors: stressed, moderate, developing, healthy.
const ndviEvalscript = `//VERSION=3
function setup() {
  return {
    input: ["B04", "B08", "dataMask"],
    output: { bands: 4 }
  };
}
function evaluatePixel(sample) {
  var ndvi = (sample.B08 - sample.B04) / (sample.B08 + sample.B04);
  if (ndvi < 0.3) return [0.84, 0.24, 0.18, sample.dataMask];
  if (ndvi < 0.45) return [0.96, 0.60, 0.16, sample.dataMask];
  if (ndvi < 0.6) return [0.80, 0.86, 0.22, sample.dataMask];
  return [0.22, 0.66, 0.29, sample.dataMask];
}`

// RasterProcessor requests rendered vegetation-index images from the
// provider's processing endpoint.
type RasterProcessor struct {
	broker     *TokenBroker
	client     *http.Client
	baseURL    string
	collection string
	now        func() time.Time
}

func NewRasterProcessor(broker *TokenBroker, baseURL string) *RasterProcessor {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &RasterProcessor{
		broker:     broker,
		client:     httputil.NewClientWithTimeout(httputil.ProcessTimeout),
		baseURL:    baseURL,
		collection: DefaultCollection,
		now:        time.Now,
	}
}

// RasterRequest targets one scene over one AOI.
type RasterRequest struct {
	BBox          models.BBox
	Scene         models.SceneMetadata
	MaxCloudCover float64
	Width, Height int
}

// RasterResult is always populated. On failure Success is false, Reason is
// human-readable and BBox echoes the requested box; callers must treat that
// as "no raster", never as a partial one.
type RasterResult struct {
	Success      bool
	ImageDataURL string
	BBox         models.BBox
	Reason       string
}

type processRequest struct {
	Input struct {
		Bounds struct {
			BBox [4]float64 `json:"bbox"`
		} `json:"bounds"`
		Data []processData `json:"data"`
	} `json:"input"`
	Output struct {
		Width     int               `json:"width"`
		Height    int               `json:"height"`
		Responses []processResponse `json:"responses"`
	} `json:"output"`
	Evalscript string `json:"evalscript"`
}

type processData struct {
	Type       string `json:"type"`
	DataFilter struct {
		TimeRange struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"timeRange"`
		MaxCloudCoverage float64 `json:"maxCloudCoverage"`
		MosaickingOrder  string  `json:"mosaickingOrder"`
	} `json:"dataFilter"`
}

type processResponse struct {
	Identifier string `json:"identifier"`
	Format     struct {
		Type string `json:"type"`
	} `json:"format"`
}

// Process renders the NDVI classification for the scene's acquisition day.
func (p *RasterProcessor) Process(ctx context.Context, r RasterRequest) RasterResult {
	fail := func(reason string) RasterResult {
		return RasterResult{Success: false, BBox: r.BBox, Reason: reason}
	}

	token, err := p.broker.Token(ctx)
	if err != nil {
		return fail(fmt.Sprintf("processing credentials unavailable: %v", err))
	}

	width := clampDimension(r.Width)
	height := clampDimension(r.Height)

	// Target exactly the chosen acquisition: a same-UTC-day window around
	// the scene capture instant, most-recent mosaic.
	day := r.Scene.CapturedAt.UTC().Truncate(24 * time.Hour)
	from := day
	to := day.Add(24*time.Hour - time.Second)

	var body processRequest
	body.Input.Bounds.BBox = [4]float64{r.BBox.MinLon, r.BBox.MinLat, r.BBox.MaxLon, r.BBox.MaxLat}
	data := processData{Type: p.collection}
	data.DataFilter.TimeRange.From = from.Format(time.RFC3339)
	data.DataFilter.TimeRange.To = to.Format(time.RFC3339)
	data.DataFilter.MaxCloudCoverage = r.MaxCloudCover
	data.DataFilter.MosaickingOrder = "mostRecent"
	body.Input.Data = []processData{data}
	body.Output.Width = width
	body.Output.Height = height
	png := processResponse{Identifier: "default"}
	png.Format.Type = "image/png"
	body.Output.Responses = []processResponse{png}
	body.Evalscript = ndviEvalscript

	payload, err := json.Marshal(body)
	if err != nil {
		return fail(fmt.Sprintf("encode processing request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/process", bytes.NewReader(payload))
	if err != nil {
		return fail(fmt.Sprintf("build processing request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")
	req.Header.Set("Authorization", "Bearer "+token)

	start := p.now()
	resp, err := p.client.Do(req)
	metrics.ProviderCallLatency.WithLabelValues("process").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("process", "error").Inc()
		return fail(fmt.Sprintf("processing request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ProviderCallsTotal.WithLabelValues("process", resp.Status).Inc()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(fmt.Sprintf("processing returned status %d: %s", resp.StatusCode, bytes.TrimSpace(detail)))
	}
	metrics.ProviderCallsTotal.WithLabelValues("process", "ok").Inc()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Sprintf("read processing response: %v", err))
	}
	if len(raw) == 0 {
		return fail("processing returned an empty image")
	}

	return RasterResult{
		Success:      true,
		ImageDataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw),
		BBox:         r.BBox,
	}
}

func clampDimension(v int) int {
	if v < minRasterDimension {
		return minRasterDimension
	}
	if v > maxRasterDimension {
		return maxRasterDimension
	}
	return v
}
