package sentinel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/croplens/croplens/internal/models"
)

var testBBox = models.BBox{MinLon: 85.2, MinLat: 20.1, MaxLon: 85.45, MaxLat: 20.35}

func catalogFixture() map[string]any {
	feature := func(id, datetime string, cloud float64) map[string]any {
		return map[string]any{
			"id":   id,
			"bbox": []float64{85.1, 20.0, 85.5, 20.4},
			"properties": map[string]any{
				"datetime":       datetime,
				"eo:cloud_cover": cloud,
				"grid:code":      "MGRS-45QXF",
			},
			"assets": map[string]any{
				"thumbnail": map[string]any{"href": "https://example.test/" + id + ".jpg"},
			},
		}
	}
	return map[string]any{
		"type": "FeatureCollection",
		"features": []map[string]any{
			feature("scene-old", "2026-02-01T05:10:00Z", 10),
			feature("scene-cloudy", "2026-03-01T05:10:00Z", 80),
			feature("scene-new", "2026-03-10T05:10:00Z", 5),
			{"id": "", "properties": map[string]any{"datetime": "2026-03-11T05:10:00Z"}},
			{"id": "scene-no-time", "properties": map[string]any{}},
			feature("scene-mid", "2026-02-20T05:10:00Z", 20),
		},
	}
}

// newCatalogEnv serves both the token endpoint and the catalog search from
// one test server.
func newCatalogEnv(t *testing.T, search http.HandlerFunc) (*CatalogClient, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/api/v1/catalog/1.0.0/search", search)
	srv := httptest.NewServer(mux)

	broker := NewTokenBroker(Credentials{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL + "/auth/token"})
	return NewCatalogClient(broker, srv.URL), srv
}

func TestSearchFiltersSortsAndTruncates(t *testing.T) {
	var gotReq searchRequest
	client, srv := newCatalogEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q, want bearer token", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode search request: %v", err)
		}
		json.NewEncoder(w).Encode(catalogFixture())
	})
	defer srv.Close()

	scenes, err := client.Search(context.Background(), SearchParams{
		BBox:          testBBox,
		From:          time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		To:            time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		MaxCloudCover: 35,
		MaxResults:    2,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if gotReq.Limit != 6 {
		t.Errorf("request limit = %d, want 3x max results", gotReq.Limit)
	}
	if len(gotReq.Collections) != 1 || gotReq.Collections[0] != DefaultCollection {
		t.Errorf("collections = %v", gotReq.Collections)
	}

	if len(scenes) != 2 {
		t.Fatalf("got %d scenes, want 2", len(scenes))
	}
	if scenes[0].SceneID != "scene-new" || scenes[1].SceneID != "scene-mid" {
		t.Errorf("order = %s, %s; want scene-new, scene-mid", scenes[0].SceneID, scenes[1].SceneID)
	}
	for _, s := range scenes {
		if s.CloudCoverPercent > 35 {
			t.Errorf("scene %s cloud %f exceeds ceiling", s.SceneID, s.CloudCoverPercent)
		}
	}
	if scenes[0].TileID != "MGRS-45QXF" {
		t.Errorf("tile = %q", scenes[0].TileID)
	}
	if scenes[0].QuicklookURL == "" {
		t.Error("quicklook url not mapped")
	}
}

func TestSearchEmptyAfterFiltering(t *testing.T) {
	client, srv := newCatalogEnv(t, func(w http.ResponseWriter, r *http.Request) {
		fixture := catalogFixture()
		json.NewEncoder(w).Encode(fixture)
	})
	defer srv.Close()

	_, err := client.Search(context.Background(), SearchParams{
		BBox:          testBBox,
		From:          time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		To:            time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		MaxCloudCover: 1,
		MaxResults:    3,
	})
	var emptyErr *EmptyResultError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("err = %v, want EmptyResultError", err)
	}
}

func TestSearchWithFallbackAbsorbsEmptyResult(t *testing.T) {
	client, srv := newCatalogEnv(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"features": []any{}})
	})
	defer srv.Close()

	scenes, source, err := client.SearchWithFallback(context.Background(), SearchParams{
		BBox:          testBBox,
		From:          time.Now().Add(-35 * 24 * time.Hour),
		To:            time.Now(),
		MaxCloudCover: 35,
		MaxResults:    3,
	}, true)
	if err != nil {
		t.Fatalf("fallback search: %v", err)
	}
	if source != models.DataSourceFallbackSample {
		t.Errorf("source = %s, want %s", source, models.DataSourceFallbackSample)
	}
	if len(scenes) != 2 {
		t.Errorf("sample set has %d scenes, want 2", len(scenes))
	}
}

func TestSearchWithFallbackMissingCredentials(t *testing.T) {
	broker := NewTokenBroker(Credentials{})
	client := NewCatalogClient(broker, "http://unused.invalid")

	from := time.Now().Add(-35 * 24 * time.Hour)
	to := time.Now()
	scenes, source, err := client.SearchWithFallback(context.Background(), SearchParams{
		BBox:          testBBox,
		From:          from,
		To:            to,
		MaxCloudCover: 35,
		MaxResults:    3,
	}, true)
	if err != nil {
		t.Fatalf("fallback search: %v", err)
	}
	if source != models.DataSourceFallbackSample {
		t.Errorf("source = %s, want %s", source, models.DataSourceFallbackSample)
	}
	if len(scenes) != 2 {
		t.Fatalf("sample set has %d scenes, want 2", len(scenes))
	}
	for _, s := range scenes {
		if s.CloudCoverPercent > 0.01 {
			t.Errorf("sample scene %s cloud %f, want 0-0.01", s.SceneID, s.CloudCoverPercent)
		}
		if s.BBox != testBBox {
			t.Errorf("sample scene bbox %+v, want requested bbox", s.BBox)
		}
		if s.CapturedAt.Before(from) || s.CapturedAt.After(to) {
			t.Errorf("sample scene %s captured %v outside window [%v, %v]", s.SceneID, s.CapturedAt, from, to)
		}
	}
	if !scenes[0].CapturedAt.After(scenes[1].CapturedAt) {
		t.Error("sample scenes not sorted newest first")
	}
}

func TestSearchWithFallbackDisallowedPropagates(t *testing.T) {
	broker := NewTokenBroker(Credentials{})
	client := NewCatalogClient(broker, "http://unused.invalid")

	_, _, err := client.SearchWithFallback(context.Background(), SearchParams{
		BBox:       testBBox,
		From:       time.Now().Add(-35 * 24 * time.Hour),
		To:         time.Now(),
		MaxResults: 3,
	}, false)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestSearchNon2xxIsTransportError(t *testing.T) {
	client, srv := newCatalogEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad bbox", http.StatusBadRequest)
	})
	defer srv.Close()

	_, err := client.Search(context.Background(), SearchParams{
		BBox:       testBBox,
		From:       time.Now().Add(-time.Hour),
		To:         time.Now(),
		MaxResults: 3,
	})
	var transErr *TransportError
	if !errors.As(err, &transErr) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if transErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", transErr.Status)
	}
}
