// Package httpgw is Kestrel's REST + SSE gateway: a gorilla/mux router
// translating the kernel's transport-agnostic operations into JSON
// over HTTP, modeled on the teacher's single-struct server idiom
// (pkg/api.Server) but routed with gorilla/mux instead of a
// hand-registered gRPC ServiceDesc.
package httpgw

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/kestrel/pkg/events"
	"github.com/cuemby/kestrel/pkg/kernel"
	"github.com/cuemby/kestrel/pkg/log"
	"github.com/cuemby/kestrel/pkg/metrics"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Gateway serves Kestrel's HTTP API over k.
type Gateway struct {
	k      *kernel.Kernel
	router *mux.Router
	srv    *http.Server
	logger zerolog.Logger
}

// New builds a Gateway wired to k, with every route registered.
func New(k *kernel.Kernel) *Gateway {
	g := &Gateway{k: k, logger: log.WithComponent("httpgw")}
	g.router = mux.NewRouter()
	g.routes()
	return g
}

func (g *Gateway) routes() {
	r := g.router
	r.HandleFunc("/v1/services", g.handleDeploy).Methods(http.MethodPost)
	r.HandleFunc("/v1/services", g.handleList).Methods(http.MethodGet)
	r.HandleFunc("/v1/services/{service}", g.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/services/{service}", g.handleKill).Methods(http.MethodDelete)
	r.HandleFunc("/v1/services/{service}/swap", g.handleSwap).Methods(http.MethodPost)
	r.HandleFunc("/v1/services/{service}/replace", g.handleReplace).Methods(http.MethodPost)
	r.HandleFunc("/v1/discover/{name}", g.handleDiscover).Methods(http.MethodGet)

	r.HandleFunc("/v1/secrets", g.handleListSecrets).Methods(http.MethodGet)
	r.HandleFunc("/v1/secrets/{name}", g.handleSetSecret).Methods(http.MethodPut)
	r.HandleFunc("/v1/secrets/{name}", g.handleGetSecret).Methods(http.MethodGet)
	r.HandleFunc("/v1/secrets/{name}", g.handleDeleteSecret).Methods(http.MethodDelete)

	r.HandleFunc("/v1/events", g.handleWatchEvents).Methods(http.MethodGet)
	r.HandleFunc("/v1/health", g.handleHealth).Methods(http.MethodGet)
	r.Handle("/v1/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Use(g.requestMetrics)
}

// Start serves the gateway on addr, blocking until Shutdown is called
// or the listener fails.
func (g *Gateway) Start(addr string) error {
	g.srv = &http.Server{Addr: addr, Handler: g.router}
	g.logger.Info().Str("addr", addr).Msg("http gateway listening")
	err := g.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP listener immediately, closing open
// connections (including SSE streams) without waiting for them to drain.
func (g *Gateway) Shutdown() error {
	if g.srv == nil {
		return nil
	}
	return g.srv.Close()
}

func (g *Gateway) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.URL.Path)
		metrics.APIRequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// tenantFrom extracts the caller's tenant from the X-Tenant-Id header.
// A missing header is Unauthorized per spec.md §6.
func tenantFrom(r *http.Request) (types.TenantID, error) {
	id := r.Header.Get("X-Tenant-Id")
	if id == "" {
		return "", types.NewError(types.ErrUnauthorized, "missing X-Tenant-Id header")
	}
	return types.TenantID(id), nil
}

// errorStatus implements the gateway translation table from spec.md §7.
func errorStatus(err error) int {
	switch {
	case types.IsKind(err, types.ErrNotFound):
		return http.StatusNotFound
	case types.IsKind(err, types.ErrAlreadyExists):
		return http.StatusConflict
	case types.IsKind(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	case types.IsKind(err, types.ErrUnauthorized):
		return http.StatusBadRequest
	case types.IsKind(err, types.ErrPermissionDenied):
		return http.StatusForbidden
	case types.IsKind(err, types.ErrOverloaded):
		return http.StatusServiceUnavailable
	case types.IsKind(err, types.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case types.IsKind(err, types.ErrTransientInternal):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the user-visible error shape spec.md §7 requires:
// error_code (kind), message, timestamp.
type errorBody struct {
	ErrorCode string    `json:"error_code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := types.ErrFatal
	msg := err.Error()
	ts := time.Now().UTC()
	var kerr *types.Error
	if errors.As(err, &kerr) {
		kind = kerr.Kind
		msg = kerr.Message
		ts = kerr.Timestamp
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errorStatus(err))
	_ = json.NewEncoder(w).Encode(errorBody{ErrorCode: string(kind), Message: msg, Timestamp: ts})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type deployRequest struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Format string `json:"format"`
}

func (g *Gateway) handleDeploy(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrInvalidInput, "malformed request body"))
		return
	}

	spec := types.ServiceSpec{
		Tenant: tenant,
		Name:   types.ServiceID(req.Name),
		Code:   req.Code,
		Format: types.CodeFormat(req.Format),
	}
	timer := metrics.NewTimer()
	err = g.k.Deploy(r.Context(), spec)
	timer.ObserveDuration(metrics.DeployDuration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"tenant": string(tenant), "service": req.Name})
}

type swapRequest struct {
	Code       string `json:"code"`
	Format     string `json:"format"`
	WindowMs   int64  `json:"window_ms"`
}

func (g *Gateway) handleSwap(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	service := mux.Vars(r)["service"]
	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrInvalidInput, "malformed request body"))
		return
	}

	ref := types.ServiceRef{Tenant: tenant, Service: types.ServiceID(service)}
	spec := types.ServiceSpec{Tenant: tenant, Name: ref.Service, Code: req.Code, Format: types.CodeFormat(req.Format)}

	timer := metrics.NewTimer()
	err = g.k.Swap(r.Context(), ref, spec, time.Duration(req.WindowMs)*time.Millisecond)
	timer.ObserveDuration(metrics.HotSwapDuration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "swap_started"})
}

func (g *Gateway) handleReplace(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	service := mux.Vars(r)["service"]
	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrInvalidInput, "malformed request body"))
		return
	}

	ref := types.ServiceRef{Tenant: tenant, Service: types.ServiceID(service)}
	spec := types.ServiceSpec{Tenant: tenant, Name: ref.Service, Code: req.Code, Format: types.CodeFormat(req.Format)}
	if err := g.k.Replace(r.Context(), ref, spec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "replaced"})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	service := mux.Vars(r)["service"]
	ref := types.ServiceRef{Tenant: tenant, Service: types.ServiceID(service)}
	status, err := g.k.Status(ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (g *Gateway) handleKill(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	service := mux.Vars(r)["service"]
	ref := types.ServiceRef{Tenant: tenant, Service: types.ServiceID(service)}
	if err := g.k.Kill(ref); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleList(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	name := r.URL.Query().Get("name")
	refs := g.k.GetServices(tenant, name)
	writeJSON(w, http.StatusOK, refs)
}

func (g *Gateway) handleDiscover(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	filters := map[string]string{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			filters[k] = v[0]
		}
	}
	handles := g.k.DiscoverService(name, filters)
	refs := make([]types.ServiceRef, 0, len(handles))
	for _, h := range handles {
		refs = append(refs, h.Ref())
	}
	writeJSON(w, http.StatusOK, refs)
}

type secretRequest struct {
	Value     string `json:"value"`      // raw secret bytes, base64 not required: treated as UTF-8
	MasterKey string `json:"master_key"` // hex-encoded
}

func (g *Gateway) handleSetSecret(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	name := mux.Vars(r)["name"]
	var req secretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.ErrInvalidInput, "malformed request body"))
		return
	}
	key, err := hex.DecodeString(req.MasterKey)
	if err != nil {
		writeError(w, types.NewError(types.ErrInvalidInput, "master_key must be hex-encoded"))
		return
	}
	if err := g.k.SetSecret(r.Context(), tenant, name, []byte(req.Value), key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	name := mux.Vars(r)["name"]
	key, err := hex.DecodeString(r.URL.Query().Get("master_key"))
	if err != nil {
		writeError(w, types.NewError(types.ErrInvalidInput, "master_key must be hex-encoded"))
		return
	}
	value, err := g.k.GetSecret(r.Context(), tenant, name, key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"value": string(value)})
}

func (g *Gateway) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	name := mux.Vars(r)["name"]
	if err := g.k.DeleteSecret(r.Context(), tenant, name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	names, err := g.k.ListSecrets(tenant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.k.Health())
}

// handleWatchEvents streams events matching the caller's tenant (and
// optional subject/event_type query filters) as SSE, one JSON-encoded
// event per "data:" line, until the client disconnects.
func (g *Gateway) handleWatchEvents(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, types.NewError(types.ErrTransientInternal, "streaming unsupported by this connection"))
		return
	}

	filter := events.Filter{Tenant: tenant, Subject: r.URL.Query().Get("subject")}
	if et := r.URL.Query().Get("event_type"); et != "" {
		filter.Types = []types.EventType{types.EventType(et)}
	}
	sub := g.k.Events().Subscribe(filter)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
