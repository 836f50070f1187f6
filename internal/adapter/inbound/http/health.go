package http

import (
	"encoding/json"
	"net/http"

	"github.com/mcpgateway/gateway/internal/domain/registry"
)

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the JSON body of /readyz.
type ReadyResponse struct {
	Status       string `json:"status"`
	DomainsReady int    `json:"domains_ready"`
}

// HealthzHandler always reports 200: the process is up and accepting
// connections, independent of whether any upstream has been discovered yet.
func HealthzHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
	})
}

// ReadyzHandler reports 200 once at least one domain has been populated in
// reg, and 503 otherwise — distinguishing "process started" from "ready to
// serve a meaningful tool catalog".
func ReadyzHandler(reg *registry.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		domains := reg.ListDomains()

		w.Header().Set("Content-Type", "application/json")
		if len(domains) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(ReadyResponse{
			Status:       readyStatus(len(domains)),
			DomainsReady: len(domains),
		})
	})
}

func readyStatus(domains int) string {
	if domains == 0 {
		return "not_ready"
	}
	return "ready"
}
