// Package api serves the reconciled counts, the operator override and the
// annotated video of a running session over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"linecount/internal/models"
	"linecount/processing/reconcile"
	"linecount/processing/session"
	"linecount/processing/store"

	"github.com/gorilla/mux"
	"github.com/hybridgroup/mjpeg"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	defaultCrossingLimit = 50
	maxCrossingLimit     = 1000
	maxOverrideBody      = 1 << 10
)

// Counts is the consuming stage of a session.
type Counts interface {
	State() reconcile.State
	Override(text string) (reconcile.State, bool)
}

// Producer reports the producing stage's progress.
type Producer interface {
	Stats() session.Stats
	Err() error
}

// CrossingLog is the read side of the event log.
type CrossingLog interface {
	RecentCrossings(limit int) ([]store.CrossingRecord, error)
	SessionTotals(sessionID string, entryClasses []string) (models.Counts, int, error)
}

type Server struct {
	counts       Counts
	producer     Producer
	log          CrossingLog
	entryClasses []string
	stream       *mjpeg.Stream
}

// TotalsResponse is a session's counts recomputed from the event log, with
// manual overrides folded into the entry count.
type TotalsResponse struct {
	SessionID string `json:"session_id"`
	In        int    `json:"in"`
	Out       int    `json:"out"`
	Inside    int    `json:"inside"`
	ClassIn   int    `json:"class_in"`
	Overrides int    `json:"overrides"`
}

// CountsResponse is the body of GET /api/counts.
type CountsResponse struct {
	reconcile.State
	FPS       uint   `json:"fps"`
	LatencyMs int64  `json:"latency_ms"`
	Frames    uint64 `json:"frames"`
	Ended     bool   `json:"ended"`
	Reason    string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewServer builds the API. log may be nil when no event log is configured.
// entryClasses select the labels summed into class_in by the totals route.
func NewServer(counts Counts, producer Producer, log CrossingLog, entryClasses []string) *Server {
	return &Server{
		counts:       counts,
		producer:     producer,
		log:          log,
		entryClasses: entryClasses,
		stream:       mjpeg.NewStream(),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/counts", s.handleCounts).Methods("GET")
	r.HandleFunc("/api/override", s.handleOverride).Methods("POST")
	r.HandleFunc("/api/crossings", s.handleCrossings).Methods("GET")
	r.HandleFunc("/api/sessions/{id}/totals", s.handleTotals).Methods("GET")
	r.Handle("/stream", s.stream).Methods("GET")

	return r
}

// PublishFrame pushes a displayed frame to the MJPEG clients.
func (s *Server) PublishFrame(img image.Image) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return err
	}

	s.stream.UpdateJPEG(buf.Bytes())
	return nil
}

func (s *Server) handleCounts(w http.ResponseWriter, _ *http.Request) {
	stats := s.producer.Stats()

	resp := CountsResponse{
		State:     s.counts.State(),
		FPS:       stats.FPS,
		LatencyMs: stats.Latency.Milliseconds(),
		Frames:    stats.Frames,
	}
	if err := s.producer.Err(); err != nil {
		resp.Ended = true
		resp.Reason = err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleOverride accepts either {"delta": N} or a bare integer body. Anything
// else is rejected and the counts are left untouched.
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOverrideBody))
	if err != nil {
		sendError(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	text := string(body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		delta := gjson.GetBytes(body, "delta")
		if !delta.Exists() {
			sendError(w, "invalid_request", "missing delta", http.StatusBadRequest)
			return
		}
		text = delta.Raw
	}

	st, ok := s.counts.Override(text)
	if !ok {
		sendError(w, "invalid_delta", "delta must be an integer", http.StatusBadRequest)
		return
	}

	logrus.WithField("delta", strings.TrimSpace(text)).Info("override via api")
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCrossings(w http.ResponseWriter, r *http.Request) {
	if s.log == nil {
		sendError(w, "no_event_log", "event log is disabled", http.StatusNotFound)
		return
	}

	limit := defaultCrossingLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendError(w, "invalid_limit", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxCrossingLimit)
	}

	records, err := s.log.RecentCrossings(limit)
	if err != nil {
		logrus.WithError(err).Error("read crossings")
		sendError(w, "store_error", "cannot read event log", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []store.CrossingRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	if s.log == nil {
		sendError(w, "no_event_log", "event log is disabled", http.StatusNotFound)
		return
	}

	id := mux.Vars(r)["id"]

	counts, overrides, err := s.log.SessionTotals(id, s.entryClasses)
	if err != nil {
		logrus.WithError(err).WithField("session", id).Error("read session totals")
		sendError(w, "store_error", "cannot read event log", http.StatusInternalServerError)
		return
	}

	in := counts.In + overrides
	writeJSON(w, http.StatusOK, TotalsResponse{
		SessionID: id,
		In:        in,
		Out:       counts.Out,
		Inside:    in - counts.Out,
		ClassIn:   counts.ClassIn,
		Overrides: overrides,
	})
}

// NewHTTPServer wraps the router with the daemon's timeouts. The write
// timeout is left open because /stream never finishes.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Handler:           s.Router(),
		Addr:              addr,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("write response")
	}
}

func sendError(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
