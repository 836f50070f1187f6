package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mcpgateway/gateway/internal/domain/registry"
	"github.com/mcpgateway/gateway/internal/domain/upstream"
	"github.com/mcpgateway/gateway/internal/service/upstreammanager"
)

// registrationRequest is the POST /registry/servers body.
type registrationRequest struct {
	Domain      string            `json:"domain"`
	URL         string            `json:"url"`
	Description string            `json:"description,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

type registrationError struct {
	Error string `json:"error"`
}

// domainWithStatus is the registration API's per-domain response shape: the
// static DomainInfo plus an optional live reachability diagnostic.
type domainWithStatus struct {
	registry.DomainInfo
	Status upstreammanager.ValidationStatus `json:"status"`
}

// newRegistrationHandler implements the registration REST API: list/add
// upstreams and remove a domain. GET must observe a consistent snapshot of
// the registry even under concurrent PopulateDomain/RemoveDomain calls,
// which registry.ListDomains already guarantees via its own lock.
//
// notifyToolsChanged is called after any mutation (add or remove) that may
// have changed the set of tools discoverable through the gateway, so the
// running MCP server can emit notifications/tools/list_changed to every
// connected session.
func newRegistrationHandler(reg *registry.Registry, manager *upstreammanager.Manager, logger *slog.Logger, notifyToolsChanged func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/registry/servers":
			listUpstreams(w, r, reg, manager)
		case r.Method == http.MethodPost && r.URL.Path == "/registry/servers":
			addUpstream(w, r, manager, logger, notifyToolsChanged)
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/registry/servers/"):
			removeUpstream(w, r, manager, logger, notifyToolsChanged)
		default:
			http.Error(w, "Not Found", http.StatusNotFound)
		}
	})
}

func listUpstreams(w http.ResponseWriter, r *http.Request, reg *registry.Registry, manager *upstreammanager.Manager) {
	infos := reg.ListDomains()
	out := make([]domainWithStatus, 0, len(infos))
	for _, info := range infos {
		out = append(out, domainWithStatus{
			DomainInfo: info,
			Status:     manager.ValidateUpstream(r.Context(), info.Name),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func addUpstream(w http.ResponseWriter, r *http.Request, manager *upstreammanager.Manager, logger *slog.Logger, notifyToolsChanged func()) {
	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRegistrationError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	d := &upstream.Domain{Name: req.Domain, URL: req.URL, Description: req.Description, Headers: req.Headers}
	if err := d.Validate(); err != nil {
		writeRegistrationError(w, http.StatusBadRequest, err.Error())
		return
	}

	diff, err := manager.AddUpstream(r.Context(), d.Name, d.URL, d.Description, d.Headers)
	if err != nil {
		logger.Warn("add_upstream failed", "domain", d.Name, "error", err)
		writeRegistrationError(w, http.StatusBadGateway, err.Error())
		return
	}
	if !diff.Empty() && notifyToolsChanged != nil {
		notifyToolsChanged()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(diff)
}

func removeUpstream(w http.ResponseWriter, r *http.Request, manager *upstreammanager.Manager, logger *slog.Logger, notifyToolsChanged func()) {
	domain := strings.TrimPrefix(r.URL.Path, "/registry/servers/")
	domain, err := url.PathUnescape(domain)
	if err != nil || domain == "" {
		writeRegistrationError(w, http.StatusBadRequest, "domain is required")
		return
	}

	if err := manager.RemoveUpstream(r.Context(), domain); err != nil {
		logger.Warn("remove_upstream failed", "domain", domain, "error", err)
		writeRegistrationError(w, http.StatusNotFound, err.Error())
		return
	}
	if notifyToolsChanged != nil {
		notifyToolsChanged()
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeRegistrationError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(registrationError{Error: message})
}
