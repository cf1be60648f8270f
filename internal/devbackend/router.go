package devbackend

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cbbshop1/solace-sentience/internal/realtime"
)

// NewRouter wires the backend endpoints.
func NewRouter(s *Server) *mux.Router {
	router := mux.NewRouter()

	// Global middlewares
	router.Use(recoverMiddleware(s.cfg.Logger))
	router.Use(accessLog(s.cfg.Logger))

	rt := realtime.NewHandler(s.cfg.Store.Feed(), s.cfg.Logger)
	rt.InsecureSkipVerify = s.cfg.InsecureOrigins

	router.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	router.HandleFunc("/extract", s.handleExtract).Methods(http.MethodPost)
	router.Handle("/realtime", rt).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}
