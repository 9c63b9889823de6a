package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/Agrid-Dev/tanksim/internal/logger"
	"github.com/Agrid-Dev/tanksim/internal/params"
	"github.com/Agrid-Dev/tanksim/internal/performance"
	"github.com/Agrid-Dev/tanksim/internal/ports"
	"github.com/Agrid-Dev/tanksim/internal/simulator"
	"github.com/Agrid-Dev/tanksim/internal/thermal"
)

type Server struct {
	svc ports.SimulationService
	srv *http.Server
}

// New returns a runnable server. metrics may be nil, in which case /metrics
// is not routed.
func New(svc ports.SimulationService, addr string, metrics http.Handler) *Server {
	mux := http.NewServeMux()
	s := &Server{svc: svc}

	// Read
	mux.HandleFunc("GET /v1/parameters", s.handleGetParameters)
	mux.HandleFunc("GET /v1/results", s.handleListResults)
	mux.HandleFunc("GET /v1/results/latest", s.handleGetLatest)
	mux.HandleFunc("GET /v1/results/{id}", s.handleGetResult)

	// Run
	mux.HandleFunc("POST /v1/simulations", s.handlePostSimulation)
	mux.HandleFunc("POST /v1/sweeps", s.handlePostSweep)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- DTOs ----

type modelDTO struct {
	A                     float64  `json:"a"`
	B                     float64  `json:"b"`
	StdErr                *float64 `json:"std_err"`
	CondenserTemperatureC float64  `json:"condenser_temperature_C"`
	Observations          int      `json:"observations"`
}

// toModelDTO drops a non-finite standard error, which JSON cannot carry.
func toModelDTO(m performance.Model) modelDTO {
	dto := modelDTO{
		A:                     m.A,
		B:                     m.B,
		CondenserTemperatureC: m.CondenserTemperatureC,
		Observations:          m.Observations,
	}
	if !math.IsInf(m.StdErr, 0) && !math.IsNaN(m.StdErr) {
		se := m.StdErr
		dto.StdErr = &se
	}
	return dto
}

type parametersDTO struct {
	Parameters params.ParameterSet `json:"parameters"`
	Model      modelDTO            `json:"model"`
	Keys       []string            `json:"keys"`
}

type sweepDTO struct {
	Key    string                 `json:"key"`
	Points []simulator.SweepPoint `json:"points"`
}

// ---- Handlers ----

func (s *Server) handleGetParameters(w http.ResponseWriter, _ *http.Request) {
	keys := params.Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	writeJSON(w, http.StatusOK, parametersDTO{
		Parameters: s.svc.Parameters(),
		Model:      toModelDTO(s.svc.Model()),
		Keys:       names,
	})
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	out, err := s.svc.Results(r.Context(), limit)
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetLatest(w http.ResponseWriter, _ *http.Request) {
	res := s.svc.Latest()
	if res == nil {
		writeErr(w, http.StatusNotFound, "no simulation has run yet")
		return
	}
	writeJSON(w, http.StatusOK, res.Record())
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Record(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePostSimulation(w http.ResponseWriter, r *http.Request) {
	// body: {"overrides":[{"category":"heat_pump","name":"off_temperature_threshold_K","value":60,"celsius":true}],"dhw":true}
	postBody(s, w, r, func(req ports.RunRequest) (any, error) {
		res, err := s.svc.Run(r.Context(), req)
		if err != nil {
			return nil, err
		}
		return res.Summary(), nil
	})
}

func (s *Server) handlePostSweep(w http.ResponseWriter, r *http.Request) {
	postBody(s, w, r, func(req ports.SweepRequest) (any, error) {
		points, err := s.svc.Sweep(r.Context(), req)
		if err != nil {
			return nil, err
		}
		return sweepDTO{Key: req.Key.String(), Points: points}, nil
	})
}

// ---- generic helpers ----

func postBody[T any](s *Server, w http.ResponseWriter, r *http.Request, apply func(T) (any, error)) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req T
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	out, err := apply(req)
	if err != nil {
		s.writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) writeServiceErr(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.L().Errorw("request failed", "error", err)
	}
	writeErr(w, code, err.Error())
}

func statusFor(err error) int {
	var (
		cfgErr  *params.ConfigurationError
		stepErr *simulator.StepError
	)
	switch {
	case errors.Is(err, ports.ErrResultNotFound):
		return http.StatusNotFound
	case errors.As(err, &cfgErr),
		errors.Is(err, params.ErrNotFound),
		errors.Is(err, params.ErrInvalidValue),
		errors.Is(err, simulator.ErrInvalidSweep),
		errors.Is(err, simulator.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.As(err, &stepErr),
		errors.Is(err, thermal.ErrDivisionByZero):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
