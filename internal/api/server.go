// Package api exposes the report service over HTTP: on-demand PDF
// reports of a wallet's trading history, plus health and indexing
// status endpoints.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"yam-indexer/internal/catalog"
	"yam-indexer/internal/config"
	"yam-indexer/internal/store"
)

type Server struct {
	store     *store.Store
	contracts *config.Contracts
	catalog   *catalog.Catalog
	router    *mux.Router
	log       *logrus.Entry
}

func NewServer(st *store.Store, contracts *config.Contracts, cat *catalog.Catalog) *Server {
	s := &Server{
		store:     st,
		contracts: contracts,
		catalog:   cat,
		router:    mux.NewRouter(),
		log:       logrus.WithField("component", "api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/generate-report", s.handleGenerateReport).Methods("POST", "OPTIONS")
	s.router.Use(corsMiddleware)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP on the given port.
func (s *Server) Start(port int) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	s.log.Infof("report API listening on port %d", port)
	return server.ListenAndServe()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
