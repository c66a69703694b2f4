package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/croplens/croplens/internal/analysis"
	"github.com/croplens/croplens/internal/models"
	"github.com/croplens/croplens/internal/sentinel"
)

// ValidationError rejects a malformed request parameter with a
// 4xx-equivalent response.
type ValidationError struct {
	Param  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Detail)
}

type responsePayload struct {
	Health     *models.HealthInsight   `json:"health,omitempty"`
	Metadata   models.ResponseMetadata `json:"metadata"`
	DataSource models.DataSource       `json:"dataSource,omitempty"`
}

type envelope struct {
	Success bool             `json:"success"`
	Data    *responsePayload `json:"data,omitempty"`
	Error   *string          `json:"error,omitempty"`
}

func (s *Server) handleHealthAnalysis(w http.ResponseWriter, r *http.Request) {
	req, err := parseAnalysisRequest(r)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, models.ResponseMetadata{}, "", err)
		return
	}

	result, err := s.orchestrator.Analyze(r.Context(), req)
	if err != nil {
		md := models.ResponseMetadata{PrecisionMode: req.PrecisionMode}
		var source models.DataSource
		if result != nil {
			md = result.Metadata
			source = result.DataSource
		}
		log.Printf("api: analysis failed: %v", err)
		writeFailure(w, failureStatus(err), md, source, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: &responsePayload{
			Health:     &result.Insight,
			Metadata:   result.Metadata,
			DataSource: result.DataSource,
		},
	})
}

// parseAnalysisRequest maps query/form parameters onto an analysis
// request. Malformed numerics degrade to defaults; only an explicit,
// unrecognized precisionMode is rejected.
func parseAnalysisRequest(r *http.Request) (analysis.Request, error) {
	get := func(name string) string { return r.FormValue(name) }

	req := analysis.Request{
		UserID:        get("userId"),
		BBoxParam:     get("bbox"),
		AOIID:         get("aoiId"),
		AOIName:       get("aoiName"),
		AllowFallback: boolParam(get("allowFallback"), true),
		MaxCloudCover: floatParam(get("maxCloudCover"), analysis.DefaultCloudCover),
		MaxResults:    intParam(get("maxResults"), analysis.DefaultMaxResults),

		CurrentWindowDays:  intParam(get("currentWindowDays"), analysis.DefaultCurrentWindowDays),
		BaselineOffsetDays: intParam(get("baselineOffsetDays"), analysis.DefaultBaselineOffsetDays),
		BaselineWindowDays: intParam(get("baselineWindowDays"), analysis.DefaultBaselineWindowDays),

		UseCache:      boolParam(get("useCache"), true),
		ForceRefresh:  boolParam(get("forceRefresh"), false),
		CacheTTLHours: intParam(get("cacheTtlHours"), analysis.DefaultTTLHours),

		SimulateNDVIFailure: boolParam(get("simulateNdviFailure"), false),
	}

	if req.UserID == "" {
		req.UserID = tokenUserID(r)
	}

	mode := get("precisionMode")
	switch {
	case mode == "":
		req.PrecisionMode = models.PrecisionHighAccuracy
	case models.PrecisionMode(mode).Valid():
		req.PrecisionMode = models.PrecisionMode(mode)
	default:
		return analysis.Request{}, &ValidationError{Param: "precisionMode", Detail: "must be estimated or high_accuracy"}
	}

	return req, nil
}

func boolParam(s string, def bool) bool {
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func floatParam(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func failureStatus(err error) int {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest
	}
	var conf *sentinel.ConfigurationError
	if errors.As(err, &conf) {
		return http.StatusServiceUnavailable
	}
	var transport *sentinel.TransportError
	var empty *sentinel.EmptyResultError
	if errors.As(err, &transport) || errors.As(err, &empty) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeFailure(w http.ResponseWriter, status int, md models.ResponseMetadata, source models.DataSource, err error) {
	msg := err.Error()
	writeJSON(w, status, envelope{
		Success: false,
		Data:    &responsePayload{Metadata: md, DataSource: source},
		Error:   &msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
