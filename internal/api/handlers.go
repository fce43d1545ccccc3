package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/martinsuchenak/beacond/internal/cache"
	"github.com/martinsuchenak/beacond/internal/log"
	"github.com/martinsuchenak/beacond/internal/model"
	"github.com/martinsuchenak/beacond/internal/registry"
	"github.com/martinsuchenak/beacond/internal/resolver"
	"github.com/martinsuchenak/beacond/internal/storage"
)

const (
	// MaxBatchBodyBytes caps the body of batch and form requests
	MaxBatchBodyBytes = 1 << 20

	// LandingPage is where /add-device redirects after registering
	LandingPage = "/index.html"

	defaultLocationLimit = 100
	maxLocationLimit     = 1000
)

// Handler handles HTTP requests
type Handler struct {
	registry  *registry.Registry
	cache     *cache.MetadataCache
	scan      *resolver.Resolver
	located   *resolver.Resolver
	locations storage.LocationStore
}

// NewHandler creates a new API handler. scan serves /resolve-scan and located
// serves /resolve-location; located should be built with a location store.
func NewHandler(reg *registry.Registry, mc *cache.MetadataCache, scan, located *resolver.Resolver, locations storage.LocationStore) *Handler {
	return &Handler{
		registry:  reg,
		cache:     mc,
		scan:      scan,
		located:   located,
		locations: locations,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Beacon surface
	mux.HandleFunc("POST /resolve-scan", h.resolveScan)
	mux.HandleFunc("POST /resolve-location", h.resolveLocation)
	mux.HandleFunc("POST /add-device", h.addDevice)
	mux.HandleFunc("GET /{$}", h.liveness)

	// JSON API
	mux.HandleFunc("GET /api/devices", h.listDevices)
	mux.HandleFunc("POST /api/devices", h.registerDevice)
	mux.HandleFunc("GET /api/devices/{id}", h.getDevice)
	mux.HandleFunc("GET /api/devices/{id}/locations", h.listDeviceLocations)
	mux.HandleFunc("GET /api/metadata", h.getMetadata)
}

// liveness handles GET /
func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// resolveScan handles POST /resolve-scan
func (h *Handler) resolveScan(w http.ResponseWriter, r *http.Request) {
	h.resolveBatch(w, r, h.scan)
}

// resolveLocation handles POST /resolve-location
func (h *Handler) resolveLocation(w http.ResponseWriter, r *http.Request) {
	h.resolveBatch(w, r, h.located)
}

func (h *Handler) resolveBatch(w http.ResponseWriter, r *http.Request, res *resolver.Resolver) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBatchBodyBytes)

	var req model.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := res.Resolve(r.Context(), &req)
	if err != nil {
		var verr *resolver.ValidationError
		if errors.As(err, &verr) {
			h.writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		if r.Context().Err() != nil {
			log.Debug("Batch abandoned by client", "path", r.URL.Path, "error", err)
			h.writeError(w, http.StatusServiceUnavailable, "request cancelled")
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// addDevice handles POST /add-device (form: name, url)
func (h *Handler) addDevice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBatchBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	name := r.PostFormValue("name")
	url := r.PostFormValue("url")

	if _, ok := h.register(w, r, name, url); !ok {
		return
	}

	http.Redirect(w, r, LandingPage, http.StatusSeeOther)
}

// registerDevice handles POST /api/devices
func (h *Handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBatchBodyBytes)

	var req struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, ok := h.register(w, r, req.Name, req.URL)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, device)
}

// register sets the device URL and then fetches its metadata so the first
// sighting is served from the cache. It writes the error response itself.
func (h *Handler) register(w http.ResponseWriter, r *http.Request, name, url string) (*model.Device, bool) {
	device, err := h.registry.RegisterURL(r.Context(), name, url)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrInvalidKey):
			h.writeError(w, http.StatusBadRequest, "name is required")
		case errors.Is(err, registry.ErrInvalidURL):
			h.writeError(w, http.StatusBadRequest, "url is required")
		default:
			h.internalError(w, err)
		}
		return nil, false
	}

	if meta := h.cache.Resolve(r.Context(), url, false); meta == nil {
		log.Info("Registered device has no metadata yet", "device", name, "url", url)
	}

	return device, true
}

// listDevices handles GET /api/devices
func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.registry.List(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}

	if devices == nil {
		devices = []model.Device{}
	}
	h.writeJSON(w, http.StatusOK, devices)
}

// getDevice handles GET /api/devices/{id}
func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "device ID required")
		return
	}

	device, err := h.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, device)
}

// listDeviceLocations handles GET /api/devices/{id}/locations?limit=
func (h *Handler) listDeviceLocations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "device ID required")
		return
	}

	limit := defaultLocationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLocationLimit)
	}

	if h.locations == nil {
		h.writeError(w, http.StatusNotImplemented, "location logging is not enabled")
		return
	}

	if _, err := h.registry.Get(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			h.writeError(w, http.StatusNotFound, "device not found")
			return
		}
		h.internalError(w, err)
		return
	}

	samples, err := h.locations.ListLocationSamples(id, limit)
	if err != nil {
		h.internalError(w, err)
		return
	}

	if samples == nil {
		samples = []model.LocationSample{}
	}
	h.writeJSON(w, http.StatusOK, samples)
}

// getMetadata handles GET /api/metadata?url=
func (h *Handler) getMetadata(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		h.writeError(w, http.StatusBadRequest, "url query parameter required")
		return
	}

	meta, err := h.cache.Lookup(url)
	if err != nil {
		if errors.Is(err, storage.ErrMetadataNotFound) {
			h.writeError(w, http.StatusNotFound, "metadata not found")
			return
		}
		h.internalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, meta)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// internalError logs the error and writes a generic 500 response
func (h *Handler) internalError(w http.ResponseWriter, err error) {
	log.Error("Internal Server Error", "error", err)
	h.writeError(w, http.StatusInternalServerError, "Internal Server Error")
}
