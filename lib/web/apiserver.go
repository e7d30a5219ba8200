/*
Copyright 2024 NSL Labs

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package web implements the REST API of the control plane.
package web

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nsl-labs/router"
	"github.com/nsl-labs/router/lib/auth"
	"github.com/nsl-labs/router/lib/cleanup"
	"github.com/nsl-labs/router/lib/defaults"
	"github.com/nsl-labs/router/lib/events"
	"github.com/nsl-labs/router/lib/httplib"
	"github.com/nsl-labs/router/lib/services"
	"github.com/nsl-labs/router/lib/tlsca"
	logutils "github.com/nsl-labs/router/lib/utils/log"
)

var authDenialsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "router_auth_denials_total",
	Help: "Number of rejected authentication attempts.",
})

func init() {
	prometheus.MustRegister(authDenialsTotal)
}

// Handler is the REST API handler. It holds every collaborator the
// endpoints need; nothing here is a package singleton.
type Handler struct {
	httprouter.Router
	cfg Config
	log *slog.Logger
}

// Config configures the API handler.
type Config struct {
	// Identities is the identity registry.
	Identities services.Identities
	// Routes is the route lease store.
	Routes services.Routes
	// Authenticator verifies path-embedded signatures.
	Authenticator *auth.Authenticator
	// Tokens authenticates the administrative endpoints.
	Tokens *auth.TokenAuthenticator
	// Authority signs CSRs; nil means the CA is not initialized and
	// certificate endpoints reply 503.
	Authority *tlsca.CertAuthority
	// Cleanup runs on-demand cleanup passes, may be nil.
	Cleanup *cleanup.Controller
	// DomainLog receives ASSIGNED audit lines, may be nil.
	DomainLog *events.DomainLog
	// ServerDomain is reported back to agents on domain reads.
	ServerDomain string
	// Clock overrides the time source, used in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets default values.
func (c *Config) CheckAndSetDefaults() error {
	if c.Identities == nil {
		return trace.BadParameter("missing parameter Identities")
	}
	if c.Routes == nil {
		return trace.BadParameter("missing parameter Routes")
	}
	if c.Authenticator == nil {
		return trace.BadParameter("missing parameter Authenticator")
	}
	if c.Tokens == nil {
		return trace.BadParameter("missing parameter Tokens")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewHandler returns the API handler with all routes bound.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{
		cfg: cfg,
		log: logutils.NewPackageLogger(router.ComponentKey, router.ComponentWeb),
	}

	// Public.
	h.GET("/available/:label", httplib.MakeHandler(h.checkAvailability))
	h.GET("/domain/:userId", httplib.MakeHandler(h.getDomain))
	h.GET("/verify/:userId/:sig", httplib.MakeHandler(h.verifySignature))
	h.GET("/status/:userId", httplib.MakeHandler(h.getStatus))
	h.GET("/resolve/v2/:label", httplib.MakeHandler(h.resolveDomain))
	h.GET("/routes/:userId", httplib.MakeHandler(h.getRoutes))
	h.GET("/ca-cert", httplib.MakeHandler(h.getCACert))
	h.Handler("GET", "/metrics", promhttp.Handler())

	// Signature-authenticated.
	h.POST("/routes/:userId/:sig", h.withSignAuth("routes.register", h.registerRoutes))
	h.DELETE("/routes/:userId/:sig", h.withSignAuth("routes.delete", h.deleteRoutes))
	h.POST("/heartbeat/:userId/:sig", h.withSignAuth("heartbeat", h.heartbeat))
	h.POST("/cert/:userId/:sig", h.withSignAuth("cert.sign", h.signCertificate))

	// Token-authenticated.
	h.POST("/domain", h.withTokenAuth("domain.register", h.registerDomain))
	h.DELETE("/domain", h.withTokenAuth("domain.delete", h.deleteDomain))
	h.POST("/admin/cleanup", h.withTokenAuth("admin.cleanup", h.runCleanup))

	return h, nil
}

// signedHandler is an endpoint behind signature authentication. The
// record is the caller's identity, already verified.
type signedHandler func(w http.ResponseWriter, r *http.Request, p httprouter.Params, record *services.IdentityRecord) (any, error)

// withSignAuth verifies the path-embedded signature over the user id
// before invoking the handler. Denials are logged with the caller's
// network identity and surface as a generic 401.
func (h *Handler) withSignAuth(endpoint string, fn signedHandler) httprouter.Handle {
	return httplib.MakeHandler(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		userID := p.ByName("userId")
		result, record, err := h.cfg.Authenticator.Authenticate(r.Context(), userID, p.ByName("sig"))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		switch result {
		case auth.Authenticated:
			return fn(w, r, p, record)
		case auth.UnknownUser:
			return nil, trace.NotFound("user %q not found", userID)
		default:
			h.logDenial(r, endpoint, userID, result.String())
			return nil, trace.AccessDenied("invalid signature")
		}
	})
}

// tokenHandler is an endpoint behind bearer token authentication.
type tokenHandler func(w http.ResponseWriter, r *http.Request, p httprouter.Params, userID string) (any, error)

func (h *Handler) withTokenAuth(endpoint string, fn tokenHandler) httprouter.Handle {
	return httplib.MakeHandler(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		userID, err := h.cfg.Tokens.UserFromRequest(r)
		if err != nil {
			h.logDenial(r, endpoint, "", "bad-token")
			return nil, trace.AccessDenied("invalid token")
		}
		return fn(w, r, p, userID)
	})
}

func (h *Handler) logDenial(r *http.Request, endpoint, userID, reason string) {
	authDenialsTotal.Inc()
	h.log.WarnContext(r.Context(), "Authentication denied.",
		"client_addr", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"endpoint", endpoint,
		"user", userID,
		"reason", reason)
}

// checkAvailability replies 200 when the label can be allocated and
// the legacy 209 sentinel when it cannot.
func (h *Handler) checkAvailability(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	availability, err := h.cfg.Identities.CheckAvailability(r.Context(), strings.ToLower(p.ByName("label")))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !availability.Available {
		httplib.ReplyJSON(w, httplib.StatusDomainUnavailable, availability)
		return nil, nil
	}
	return availability, nil
}

type domainResponse struct {
	DomainName   string `json:"domainName"`
	ServerDomain string `json:"serverDomain"`
	PublicKey    string `json:"publicKey"`
}

// getDomain replies 200 with the user's domain binding and the legacy
// 280 sentinel when the user is unknown.
func (h *Handler) getDomain(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	record, err := h.cfg.Identities.GetByID(r.Context(), p.ByName("userId"))
	if err != nil {
		if trace.IsNotFound(err) {
			httplib.ReplyJSON(w, httplib.StatusUserNotFound, httplib.ErrorResponse{Error: "User not found."})
			return nil, nil
		}
		return nil, trace.Wrap(err)
	}
	return domainResponse{
		DomainName:   record.DomainName,
		ServerDomain: h.cfg.ServerDomain,
		PublicKey:    record.PublicKey,
	}, nil
}

// verifySignature always replies 200; the body shape conveys the
// verdict.
func (h *Handler) verifySignature(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	userID := p.ByName("userId")
	result, record, err := h.cfg.Authenticator.Authenticate(r.Context(), userID, p.ByName("sig"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	switch result {
	case auth.Authenticated:
		return map[string]string{
			"serverDomain": h.cfg.ServerDomain,
			"domainName":   record.DomainName,
		}, nil
	case auth.UnknownUser:
		return map[string]string{"error": "unknown user"}, nil
	default:
		return map[string]bool{"valid": false}, nil
	}
}

type statusResponse struct {
	Online         bool       `json:"online"`
	LastSeenOnline *time.Time `json:"lastSeenOnline,omitempty"`
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	record, err := h.cfg.Identities.GetByID(r.Context(), p.ByName("userId"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return statusResponse{
		Online:         record.Online(h.cfg.Clock.Now(), defaults.OnlineThreshold),
		LastSeenOnline: record.LastSeenOnline,
	}, nil
}

type resolveResponse struct {
	UserID         string           `json:"userId"`
	DomainName     string           `json:"domainName"`
	ServerDomain   string           `json:"serverDomain"`
	Routes         []services.Route `json:"routes"`
	RoutesTTL      int64            `json:"routesTtl"`
	LastSeenOnline *time.Time       `json:"lastSeenOnline,omitempty"`
}

// resolveDomain is the lookup agents use to reach a peer: label to
// owner plus every live route.
func (h *Handler) resolveDomain(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	label := strings.ToLower(p.ByName("label"))
	userID, record, err := h.cfg.Identities.GetByDomain(r.Context(), label)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	routes, err := h.cfg.Routes.GetRoutes(r.Context(), userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ttl, err := h.cfg.Routes.GetRoutesTTL(r.Context(), userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if routes == nil {
		routes = []services.Route{}
	}
	return resolveResponse{
		UserID:         userID,
		DomainName:     record.DomainName,
		ServerDomain:   h.cfg.ServerDomain,
		Routes:         routes,
		RoutesTTL:      ttl,
		LastSeenOnline: record.LastSeenOnline,
	}, nil
}

type routesResponse struct {
	Routes []services.Route `json:"routes"`
}

func (h *Handler) getRoutes(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	userID := p.ByName("userId")
	routes, err := h.cfg.Routes.GetRoutes(r.Context(), userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if routes == nil {
		return nil, trace.NotFound("no routes for user %q", userID)
	}
	return routesResponse{Routes: routes}, nil
}

func (h *Handler) getCACert(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if h.cfg.Authority == nil {
		return nil, trace.ConnectionProblem(nil, "certificate authority is not initialized")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(h.cfg.Authority.CertPEM())
	return nil, nil
}

type registerRoutesRequest struct {
	Routes []services.Route `json:"routes"`
}

type registerRoutesResponse struct {
	Message string           `json:"message"`
	Routes  []services.Route `json:"routes"`
	Domain  string           `json:"domain"`
}

func (h *Handler) registerRoutes(w http.ResponseWriter, r *http.Request, p httprouter.Params, record *services.IdentityRecord) (any, error) {
	var req registerRoutesRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if len(req.Routes) == 0 {
		return nil, trace.BadParameter("routes must not be empty")
	}
	userID := p.ByName("userId")
	if err := h.cfg.Routes.Register(r.Context(), userID, req.Routes); err != nil {
		if trace.IsBadParameter(err) {
			// Route validation failures have always surfaced as 500 on
			// this endpoint and deployed agents key off that.
			return nil, trace.Errorf("route validation failed: %v", trace.UserMessage(err))
		}
		return nil, trace.Wrap(err)
	}
	if _, err := h.cfg.Identities.TouchRouteRegistration(r.Context(), userID); err != nil {
		h.log.WarnContext(r.Context(), "Failed to stamp route registration.",
			"user", userID, "error", err)
	}
	routes, err := h.cfg.Routes.GetRoutes(r.Context(), userID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return registerRoutesResponse{
		Message: "Routes registered.",
		Routes:  routes,
		Domain:  record.DomainName,
	}, nil
}

func (h *Handler) deleteRoutes(w http.ResponseWriter, r *http.Request, p httprouter.Params, record *services.IdentityRecord) (any, error) {
	if err := h.cfg.Routes.DeleteRoutes(r.Context(), p.ByName("userId")); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"message": "Routes deleted."}, nil
}

type heartbeatResponse struct {
	Message        string    `json:"message"`
	LastSeenOnline time.Time `json:"lastSeenOnline"`
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request, p httprouter.Params, record *services.IdentityRecord) (any, error) {
	seen, err := h.cfg.Identities.TouchHeartbeat(r.Context(), p.ByName("userId"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return heartbeatResponse{Message: "Heartbeat received.", LastSeenOnline: seen}, nil
}

type signCertificateRequest struct {
	CSR      string `json:"csr"`
	PublicIP string `json:"publicIp"`
}

type signCertificateResponse struct {
	Certificate   string    `json:"certificate"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CACertificate string    `json:"caCertificate"`
}

func (h *Handler) signCertificate(w http.ResponseWriter, r *http.Request, p httprouter.Params, record *services.IdentityRecord) (any, error) {
	if h.cfg.Authority == nil {
		return nil, trace.ConnectionProblem(nil, "certificate authority is not initialized")
	}
	var req signCertificateRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.CSR == "" {
		return nil, trace.BadParameter("csr is required")
	}
	signed, err := h.cfg.Authority.SignCSR([]byte(req.CSR), p.ByName("userId"), req.PublicIP)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return signCertificateResponse{
		Certificate:   string(signed.CertPEM),
		ExpiresAt:     signed.NotAfter,
		CACertificate: string(h.cfg.Authority.CertPEM()),
	}, nil
}

type registerDomainRequest struct {
	DomainName   string `json:"domainName"`
	ServerDomain string `json:"serverDomain"`
	PublicKey    string `json:"publicKey"`
}

// registerDomain assigns a label to the token-authenticated user. The
// ownership rules live in the registry; this handler validates syntax
// and the reserved set up front so callers get a 400 rather than the
// registry's conflict.
func (h *Handler) registerDomain(w http.ResponseWriter, r *http.Request, p httprouter.Params, userID string) (any, error) {
	var req registerDomainRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	label := strings.ToLower(req.DomainName)
	if err := services.ValidateLabel(label); err != nil {
		return nil, trace.Wrap(err)
	}
	if services.IsReservedLabel(label) {
		return nil, trace.BadParameter("domain name %q is reserved", label)
	}
	if req.PublicKey != "" {
		if _, err := auth.ParsePublicKeyText(req.PublicKey); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	update := &services.IdentityUpdate{DomainName: &label}
	if req.ServerDomain != "" {
		update.ServerDomain = &req.ServerDomain
	}
	if req.PublicKey != "" {
		update.PublicKey = &req.PublicKey
	}
	if err := h.cfg.Identities.Upsert(r.Context(), userID, update); err != nil {
		return nil, trace.Wrap(err)
	}

	if h.cfg.DomainLog != nil {
		if err := h.cfg.DomainLog.RecordAssigned(label, userID); err != nil {
			h.log.WarnContext(r.Context(), "Failed to write domain audit line.", "error", err)
		}
	}
	return domainResponse{
		DomainName:   label,
		ServerDomain: h.cfg.ServerDomain,
		PublicKey:    req.PublicKey,
	}, nil
}

// deleteDomain removes the user's identity record and route leases.
// The activity entry is left for the cleanup controller to collect.
func (h *Handler) deleteDomain(w http.ResponseWriter, r *http.Request, p httprouter.Params, userID string) (any, error) {
	if err := h.cfg.Identities.Delete(r.Context(), userID); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Routes.DeleteRoutes(r.Context(), userID); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]string{"message": "Domain deleted."}, nil
}

func (h *Handler) runCleanup(w http.ResponseWriter, r *http.Request, p httprouter.Params, userID string) (any, error) {
	if h.cfg.Cleanup == nil {
		return nil, trace.ConnectionProblem(nil, "cleanup is not configured")
	}
	result, err := h.cfg.Cleanup.Run(r.Context())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return result, nil
}
