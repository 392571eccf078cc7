package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okulov/sensorfleet/internal/analytics"
)

// NewRouter wires the query endpoints over the analytics service.
func NewRouter(svc *analytics.Service, log *slog.Logger) *mux.Router {
	s := &Server{svc: svc, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/overview", s.overview).Methods(http.MethodGet)
	r.HandleFunc("/compare", s.compare).Methods(http.MethodGet)
	r.HandleFunc("/sensors", s.sensors).Methods(http.MethodGet)
	r.HandleFunc("/sensors/{id}/stats", s.stats).Methods(http.MethodGet)
	r.HandleFunc("/sensors/{id}/latest", s.latest).Methods(http.MethodGet)
	r.HandleFunc("/sensors/{id}/outliers", s.outliers).Methods(http.MethodGet)
	r.HandleFunc("/sensors/{id}/trend", s.trend).Methods(http.MethodGet)
	r.HandleFunc("/sensors/{id}/timeseries", s.timeseries).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}
