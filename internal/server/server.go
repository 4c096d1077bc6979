// Package server exposes a worker's operations over HTTP so a task
// dispatcher can reach them.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/born-ml/classhead/internal/worker"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// maxBodySize bounds request bodies.
const maxBodySize = 32 << 20

// Service is the set of operations the server dispatches to.
type Service interface {
	Train(ctx context.Context, req worker.TrainRequest) (worker.TrainResult, error)
	AverageModelStates(ctx context.Context) (worker.AverageResult, error)
	Infer(ctx context.Context, itemIDs []string) ([]worker.Prediction, error)
}

// InferRequest is the body of POST /v1/infer.
type InferRequest struct {
	Items []string `json:"items"`
}

// InferResponse is the reply to POST /v1/infer.
type InferResponse struct {
	Predictions []worker.Prediction `json:"predictions"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type server struct {
	svc    Service
	logger *zap.Logger
}

// NewRouter returns the HTTP routes for svc.
func NewRouter(svc Service, logger *zap.Logger) *mux.Router {
	s := &server{svc: svc, logger: logger}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/train", s.handleTrain).Methods("POST")
	v1.HandleFunc("/average", s.handleAverage).Methods("POST")
	v1.HandleFunc("/infer", s.handleInfer).Methods("POST")
	v1.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Use(s.logRequests)
	return r
}

// New returns an http.Server serving svc on addr.
func New(addr string, svc Service, logger *zap.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req worker.TrainRequest
	if err := decode(r.Body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.svc.Train(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *server) handleAverage(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.AverageModelStates(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *server) handleInfer(w http.ResponseWriter, r *http.Request) {
	var req InferRequest
	if err := decode(r.Body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	preds, err := s.svc.Infer(r.Context(), req.Items)
	if err != nil {
		s.fail(w, err)
		return
	}
	if preds == nil {
		preds = []worker.Prediction{}
	}
	s.writeJSON(w, http.StatusOK, InferResponse{Predictions: preds})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) fail(w http.ResponseWriter, err error) {
	if worker.IsClientError(err) {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.logger.Error("request failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, err)
}

func (s *server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	buf, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "error marshaling JSON: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf)
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func decode(body io.Reader, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errors.Wrap(err, "error decoding request body")
	}
	return nil
}
