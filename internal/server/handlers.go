package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarcusNeufeldt/fundingscope/internal/calc/liquidation"
	"github.com/MarcusNeufeldt/fundingscope/internal/calc/projection"
	"github.com/MarcusNeufeldt/fundingscope/internal/calc/scenario"
	"github.com/MarcusNeufeldt/fundingscope/internal/core"
	"github.com/MarcusNeufeldt/fundingscope/pkg/apperrors"
	"github.com/MarcusNeufeldt/fundingscope/pkg/telemetry"
)

// positionRequest is the JSON body shared by the calculation endpoints.
// FundingRate is optional: when omitted and a symbol is given the live rate
// is fetched, otherwise the 0.01%/interval default applies.
type positionRequest struct {
	Symbol            string   `json:"symbol,omitempty"`
	InitialInvestment float64  `json:"initial_investment"`
	Leverage          float64  `json:"leverage"`
	CurrentPrice      float64  `json:"current_price"`
	TargetPrice       float64  `json:"target_price"`
	TimeHorizonDays   int      `json:"time_horizon_days"`
	FundingRate       *float64 `json:"funding_rate,omitempty"`
	Direction         string   `json:"direction"`
	Scenario          string   `json:"scenario"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && s.logger != nil {
		s.logger.Error("Response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrFeedUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrInvalidLeverage),
		errors.Is(err, apperrors.ErrInvalidPrice),
		errors.Is(err, apperrors.ErrInvalidInvestment),
		errors.Is(err, apperrors.ErrInvalidHorizon),
		errors.Is(err, apperrors.ErrInvalidDirection),
		errors.Is(err, apperrors.ErrInvalidFunding),
		errors.Is(err, apperrors.ErrInvalidPeriods),
		errors.Is(err, apperrors.ErrUnknownScenario),
		errors.Is(err, apperrors.ErrInvalidSymbol):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError && s.logger != nil {
		s.logger.Error("Request failed", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decodePosition parses and bounds-checks the request body, resolving the
// funding rate from the feed when left unset.
func (s *Server) decodePosition(w http.ResponseWriter, r *http.Request) (core.PositionParameters, bool) {
	var req positionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body: " + err.Error()})
		return core.PositionParameters{}, false
	}

	if req.Leverage > s.calc.MaxLeverage {
		s.writeError(w, r, fmt.Errorf("%w: %.0fx exceeds the %.0fx limit",
			apperrors.ErrInvalidLeverage, req.Leverage, s.calc.MaxLeverage))
		return core.PositionParameters{}, false
	}
	if req.TimeHorizonDays > s.calc.MaxHorizonDays {
		s.writeError(w, r, fmt.Errorf("%w: %d days exceeds the %d day limit",
			apperrors.ErrInvalidHorizon, req.TimeHorizonDays, s.calc.MaxHorizonDays))
		return core.PositionParameters{}, false
	}

	params := core.PositionParameters{
		InitialInvestment: req.InitialInvestment,
		Leverage:          req.Leverage,
		CurrentPrice:      req.CurrentPrice,
		TargetPrice:       req.TargetPrice,
		TimeHorizonDays:   req.TimeHorizonDays,
		Direction:         core.Direction(strings.ToLower(req.Direction)),
		Scenario:          req.Scenario,
	}

	switch {
	case req.FundingRate != nil:
		params.FundingRate = *req.FundingRate
	case req.Symbol != "" && s.feed != nil:
		snap, err := s.feed.Snapshot(r.Context(), req.Symbol)
		if err != nil {
			s.writeError(w, r, err)
			return core.PositionParameters{}, false
		}
		params.FundingRate = snap.FundingRate
		if params.CurrentPrice == 0 {
			params.CurrentPrice = snap.Price
		}
	default:
		params.FundingRate = 0.01
	}

	return params, true
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	params, ok := s.decodePosition(w, r)
	if !ok {
		return
	}

	start := time.Now()
	points, err := s.pipeline.Project(params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	telemetry.GetGlobalMetrics().RecordProjection(r.Context(), params.Scenario,
		float64(time.Since(start).Microseconds())/1000)
	s.publishCacheStats()

	liq, err := liquidation.Compute(params.CurrentPrice, params.Leverage,
		params.PositionSize(), params.Direction.IsLong())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"points":       points,
		"chart_points": projection.Downsample(points, s.calc.MaxChartPoints),
		"liquidation":  liq,
	})
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	params, ok := s.decodePosition(w, r)
	if !ok {
		return
	}

	result, err := s.comparator.Compare(params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	telemetry.GetGlobalMetrics().RecordComparison(r.Context(), params.Scenario)
	s.publishCacheStats()

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	params, ok := s.decodePosition(w, r)
	if !ok {
		return
	}

	points, err := s.pipeline.Project(params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cmp, err := s.comparator.Compare(params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recs, err := s.adv.Recommend(params, points, cmp)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	telemetry.GetGlobalMetrics().RecordRecommendations(r.Context(), len(recs))
	s.publishCacheStats()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"recommendations": recs,
		"comparison":      cmp,
	})
}

// scenarioMatrixEntry is one scenario's outcome in the matrix response.
type scenarioMatrixEntry struct {
	Scenario        string                    `json:"scenario"`
	Characteristics scenario.Characteristics  `json:"characteristics"`
	FinalPoint      core.ProjectionPoint      `json:"final_point"`
	Comparison      core.SpotComparisonResult `json:"comparison"`
	Error           string                    `json:"error,omitempty"`
}

// handleScenarioMatrix projects the same position under every catalog
// scenario, fanning the work out over the worker pool.
func (s *Server) handleScenarioMatrix(w http.ResponseWriter, r *http.Request) {
	params, ok := s.decodePosition(w, r)
	if !ok {
		return
	}
	if err := validateMatrixInput(params); err != nil {
		s.writeError(w, r, err)
		return
	}

	scenarios := scenario.All()
	entries := make([]scenarioMatrixEntry, len(scenarios))

	var wg sync.WaitGroup
	for i, scen := range scenarios {
		i, scen := i, scen
		wg.Add(1)
		task := func() {
			defer wg.Done()
			p := params
			p.Scenario = scen.Name()
			entries[i] = s.runMatrixEntry(p, scen)
		}
		if s.pool != nil {
			if err := s.pool.Submit(task); err != nil {
				task()
			}
		} else {
			task()
		}
	}
	wg.Wait()

	s.publishCacheStats()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}

func validateMatrixInput(params core.PositionParameters) error {
	p := params
	p.Scenario = scenario.Linear.Name()
	_, err := projection.ValidateParameters(p)
	return err
}

func (s *Server) runMatrixEntry(params core.PositionParameters, scen scenario.Scenario) scenarioMatrixEntry {
	entry := scenarioMatrixEntry{
		Scenario:        scen.Name(),
		Characteristics: scen.Characteristics(),
	}

	points, err := s.pipeline.Project(params)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	if len(points) > 0 {
		entry.FinalPoint = points[len(points)-1]
	}

	cmp, err := s.comparator.Compare(params)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	entry.Comparison = cmp
	return entry
}

// scenarioInfo describes one catalog entry for the frontend picker.
type scenarioInfo struct {
	Name            string                   `json:"name"`
	Characteristics scenario.Characteristics `json:"characteristics"`
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios := scenario.All()
	out := make([]scenarioInfo, 0, len(scenarios))
	for _, scen := range scenarios {
		out = append(out, scenarioInfo{
			Name:            scen.Name(),
			Characteristics: scen.Characteristics(),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"scenarios": out})
}

func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		s.writeError(w, r, fmt.Errorf("%w: no market data source configured", apperrors.ErrFeedUnavailable))
		return
	}
	instruments, err := s.feed.Instruments(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"instruments": instruments})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		s.writeError(w, r, fmt.Errorf("%w: no market data source configured", apperrors.ErrFeedUnavailable))
		return
	}
	snap, err := s.feed.Snapshot(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"time":    time.Now().Unix(),
	})
}

// publishCacheStats pushes the funding engine's memo counters to telemetry.
func (s *Server) publishCacheStats() {
	hits, misses := s.engine.CacheStats()
	telemetry.GetGlobalMetrics().SetCacheStats(hits, misses)
}
