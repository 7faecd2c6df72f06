// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api serves the bridge state and accepts commands over HTTP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/paclink/pkg/climate"
	"github.com/Thermoquad/paclink/pkg/link"
	"github.com/Thermoquad/paclink/pkg/metrics"
	"github.com/Thermoquad/paclink/pkg/pac"
)

// Controller is the bridge surface used by the API
type Controller interface {
	Snapshot() climate.State
	Status() link.Status
	Stats() pac.Statistics
	Traits() climate.Traits
	Submit(ctx context.Context, in climate.Intent) error
}

// VersionInfo is reported on /version
type VersionInfo struct {
	Version   string `json:"version"`
	Protocol  string `json:"protocol"`
	Variant   string `json:"variant"`
	BuildDate string `json:"build_date,omitempty"`
}

// maxBodySize bounds control request bodies
const maxBodySize = 4096

// Server routes API requests to a controller
type Server struct {
	ctl     Controller
	version VersionInfo
	log     logrus.FieldLogger
	router  *mux.Router
}

// NewServer creates the API handler
func NewServer(ctl Controller, version VersionInfo, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if version.Protocol == "" {
		version.Protocol = pac.Version
	}
	s := &Server{ctl: ctl, version: version, log: log}

	router := mux.NewRouter()
	router.Use(s.instrument)
	router.HandleFunc("/api/status", s.getStatus).Methods("GET")
	router.HandleFunc("/api/control", s.postControl).Methods("POST")
	router.HandleFunc("/api/link", s.getLink).Methods("GET")
	router.HandleFunc("/api/traits", s.getTraits).Methods("GET")
	router.HandleFunc("/version", s.versionInfo).Methods("GET")
	router.HandleFunc("/healthz", s.health).Methods("GET")
	router.HandleFunc("/readyz", s.ready).Methods("GET")
	router.Handle("/metrics", metrics.Handler(metrics.NewRegistry(ctl))).Methods("GET")
	s.router = router
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	h := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- h.ListenAndServe() }()
	s.log.WithField("addr", addr).Info("HTTP API listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return h.Shutdown(shutdownCtx)
	}
}

// ============================================================
// Handlers
// ============================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) getTraits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Traits())
}

type linkInfo struct {
	link.Status
	Stats linkStats `json:"stats"`
}

type linkStats struct {
	TotalFrames      uint64  `json:"total_frames"`
	ValidPackets     uint64  `json:"valid_packets"`
	DecodeErrors     uint64  `json:"decode_errors"`
	AnomalousPackets uint64  `json:"anomalous_packets"`
	Overflows        uint64  `json:"overflows"`
	PacketsSent      uint64  `json:"packets_sent"`
	Resends          uint64  `json:"resends"`
	ResponseTimeouts uint64  `json:"response_timeouts"`
	ErrorRate        float64 `json:"error_rate"`
}

func (s *Server) getLink(w http.ResponseWriter, r *http.Request) {
	stats := s.ctl.Stats()
	stats.CalculateRates()
	writeJSON(w, http.StatusOK, linkInfo{
		Status: s.ctl.Status(),
		Stats: linkStats{
			TotalFrames:      stats.TotalFrames,
			ValidPackets:     stats.ValidPackets,
			DecodeErrors:     stats.DecodeErrors(),
			AnomalousPackets: stats.AnomalousPackets,
			Overflows:        stats.Overflows,
			PacketsSent:      stats.PacketsSent,
			Resends:          stats.Resends,
			ResponseTimeouts: stats.ResponseTimeouts,
			ErrorRate:        stats.ErrorRate,
		},
	})
}

func (s *Server) postControl(w http.ResponseWriter, r *http.Request) {
	var in climate.Intent
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid command: " + err.Error()})
		return
	}
	if in.Empty() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "command has no fields"})
		return
	}

	if err := s.ctl.Submit(r.Context(), in); err != nil {
		s.log.WithError(err).Warn("control request rejected")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}

	s.log.WithField("intent", in.String()).Info("Control request accepted")
	writeJSON(w, http.StatusAccepted, in)
}

func (s *Server) versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.version)
}

type healthBody struct {
	Status   string     `json:"status"`
	Phase    link.Phase `json:"phase"`
	Degraded bool       `json:"degraded"`
	Error    string     `json:"error,omitempty"`
}

// healthOf classifies the link: ok when ready, degraded while coming up or
// missing responses, down when failed
func healthOf(st link.Status) healthBody {
	h := healthBody{Phase: st.Phase, Degraded: st.Degraded, Error: st.LastError}
	switch {
	case st.Phase == link.PhaseFailed:
		h.Status = "down"
	case st.Degraded || st.Phase != link.PhaseReady:
		h.Status = "degraded"
	default:
		h.Status = "ok"
	}
	return h
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	st := s.ctl.Status()
	code := http.StatusOK
	if !st.Healthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthOf(st))
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	h := healthOf(s.ctl.Status())
	code := http.StatusOK
	if h.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

// ============================================================
// Middleware
// ============================================================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		metrics.RecordHTTPRequest(r.Method, path, rec.status, time.Since(start))
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("HTTP request")
	})
}
