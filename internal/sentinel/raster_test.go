package sentinel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/croplens/croplens/internal/models"
)

func newRasterEnv(t *testing.T, process http.HandlerFunc) (*RasterProcessor, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/api/v1/process", process)
	srv := httptest.NewServer(mux)

	broker := NewTokenBroker(Credentials{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL + "/auth/token"})
	return NewRasterProcessor(broker, srv.URL), srv
}

func testScene() models.SceneMetadata {
	return models.SceneMetadata{
		SceneID:           "scene-1",
		CapturedAt:        time.Date(2026, 3, 10, 5, 10, 0, 0, time.UTC),
		CloudCoverPercent: 5,
		BBox:              testBBox,
	}
}

func TestProcessSuccess(t *testing.T) {
	pngBytes := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	var gotReq processRequest
	proc, srv := newRasterEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "image/png" {
			t.Errorf("accept = %q, want image/png", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode process request: %v", err)
		}
		w.Write(pngBytes)
	})
	defer srv.Close()

	result := proc.Process(context.Background(), RasterRequest{
		BBox:          testBBox,
		Scene:         testScene(),
		MaxCloudCover: 35,
		Width:         512,
		Height:        512,
	})

	if !result.Success {
		t.Fatalf("process failed: %s", result.Reason)
	}
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	if result.ImageDataURL != want {
		t.Errorf("data url = %q, want %q", result.ImageDataURL, want)
	}
	if result.BBox != testBBox {
		t.Errorf("bbox = %+v, want requested bbox", result.BBox)
	}

	// The time range targets exactly the acquisition's UTC day.
	df := gotReq.Input.Data[0].DataFilter
	if !strings.HasPrefix(df.TimeRange.From, "2026-03-10T00:00:00") {
		t.Errorf("window from = %s, want start of capture day", df.TimeRange.From)
	}
	if !strings.HasPrefix(df.TimeRange.To, "2026-03-10T23:59:59") {
		t.Errorf("window to = %s, want end of capture day", df.TimeRange.To)
	}
	if df.MosaickingOrder != "mostRecent" {
		t.Errorf("mosaicking order = %s", df.MosaickingOrder)
	}
	if gotReq.Output.Width != 512 || gotReq.Output.Height != 512 {
		t.Errorf("output = %dx%d, want 512x512", gotReq.Output.Width, gotReq.Output.Height)
	}
	if !strings.Contains(gotReq.Evalscript, "B08") || !strings.Contains(gotReq.Evalscript, "B04") {
		t.Error("evalscript missing NDVI bands")
	}
}

func TestProcessClampsDimensions(t *testing.T) {
	var gotReq processRequest
	proc, srv := newRasterEnv(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte{0x89})
	})
	defer srv.Close()

	result := proc.Process(context.Background(), RasterRequest{
		BBox:   testBBox,
		Scene:  testScene(),
		Width:  16,
		Height: 4096,
	})
	if !result.Success {
		t.Fatalf("process failed: %s", result.Reason)
	}
	if gotReq.Output.Width != 128 {
		t.Errorf("width = %d, want clamp to 128", gotReq.Output.Width)
	}
	if gotReq.Output.Height != 1024 {
		t.Errorf("height = %d, want clamp to 1024", gotReq.Output.Height)
	}
}

func TestProcessNon2xxReturnsFailure(t *testing.T) {
	proc, srv := newRasterEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "processing backlog", http.StatusServiceUnavailable)
	})
	defer srv.Close()

	result := proc.Process(context.Background(), RasterRequest{BBox: testBBox, Scene: testScene()})
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Reason == "" {
		t.Error("failure must carry a human-readable reason")
	}
	if !strings.Contains(result.Reason, "503") {
		t.Errorf("reason = %q, want status mentioned", result.Reason)
	}
	if result.BBox != testBBox {
		t.Error("failure must echo the requested bbox")
	}
	if result.ImageDataURL != "" {
		t.Error("failed result must not carry an image")
	}
}

func TestProcessMissingCredentials(t *testing.T) {
	proc := NewRasterProcessor(NewTokenBroker(Credentials{}), "http://unused.invalid")

	result := proc.Process(context.Background(), RasterRequest{BBox: testBBox, Scene: testScene()})
	if result.Success {
		t.Fatal("expected failure without credentials")
	}
	if result.BBox != testBBox {
		t.Error("failure must echo the requested bbox")
	}
}

func TestClampDimension(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 128}, {127, 128}, {128, 128}, {512, 512}, {1024, 1024}, {2048, 1024},
	}
	for _, tt := range tests {
		if got := clampDimension(tt.in); got != tt.want {
			t.Errorf("clampDimension(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
