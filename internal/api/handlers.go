package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/okulov/sensorfleet/internal/analytics"
	"github.com/okulov/sensorfleet/internal/models/reading"
)

const defaultBucket = time.Minute

type Server struct {
	svc *analytics.Service
	log *slog.Logger
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) sensors(w http.ResponseWriter, _ *http.Request) {
	sensors, err := s.svc.Sensors()
	s.respond(w, sensors, err)
}

func (s *Server) overview(w http.ResponseWriter, _ *http.Request) {
	o, err := s.svc.Overview()
	s.respond(w, o, err)
}

func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	kind, err := reading.ParseKind(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "type must be temperature, humidity or noise")
		return
	}
	comparison, err := s.svc.Compare(kind)
	s.respond(w, comparison, err)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Statistics(mux.Vars(r)["id"])
	s.respond(w, st, err)
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Latest(mux.Vars(r)["id"])
	s.respond(w, rec, err)
}

func (s *Server) outliers(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Query().Get("method")
	switch method {
	case "", "iqr", "zscore":
	default:
		writeError(w, http.StatusBadRequest, "method must be iqr or zscore")
		return
	}
	report, err := s.svc.Outliers(mux.Vars(r)["id"], method)
	s.respond(w, report, err)
}

func (s *Server) trend(w http.ResponseWriter, r *http.Request) {
	var window int
	if raw := r.URL.Query().Get("window"); raw != "" {
		var err error
		window, err = strconv.Atoi(raw)
		if err != nil || window < 1 {
			writeError(w, http.StatusBadRequest, "window must be a positive integer")
			return
		}
	}
	report, err := s.svc.Trend(mux.Vars(r)["id"], window)
	s.respond(w, report, err)
}

func (s *Server) timeseries(w http.ResponseWriter, r *http.Request) {
	bucket := defaultBucket
	if raw := r.URL.Query().Get("bucket"); raw != "" {
		var err error
		bucket, err = time.ParseDuration(raw)
		if err != nil || bucket <= 0 {
			writeError(w, http.StatusBadRequest, "bucket must be a positive duration")
			return
		}
	}
	buckets, err := s.svc.TimeSeries(mux.Vars(r)["id"], bucket)
	s.respond(w, buckets, err)
}

func (s *Server) respond(w http.ResponseWriter, v any, err error) {
	if err != nil {
		if errors.Is(err, analytics.ErrNoData) {
			writeError(w, http.StatusNotFound, "no data")
			return
		}
		s.log.Error("query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
