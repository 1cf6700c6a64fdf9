package agent

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/mscrnt/gpuctl/pkg/db"
	"github.com/mscrnt/gpuctl/pkg/display"
	"github.com/mscrnt/gpuctl/pkg/edid"
	"github.com/mscrnt/gpuctl/pkg/edid/parser"
	"github.com/mscrnt/gpuctl/pkg/gpu"
	"github.com/mscrnt/gpuctl/pkg/profile"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

var errBadRequest = errors.New("bad request")

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps the error taxonomy to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, resolution.ErrValidation),
		errors.Is(err, gpu.ErrInvalidSetting):
		return http.StatusBadRequest
	case errors.Is(err, display.ErrNotFound),
		errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, display.ErrDuplicateResolution),
		errors.Is(err, profile.ErrExists):
		return http.StatusConflict
	case errors.Is(err, display.ErrUnsupportedMode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, display.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, parser.ErrParse):
		// the monitor handed back something that is not an EDID
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error(), RequestID: requestID(r.Context())})
}

func displayIndex(r *http.Request) (int, error) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		return 0, fmt.Errorf("%w: display index %q is not a number", errBadRequest, r.PathValue("n"))
	}
	return n, nil
}

func decodeResolution(r *http.Request) (resolution.CustomResolution, error) {
	var req resolution.CustomResolution
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return resolution.CustomResolution{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return resolution.New(req)
}

// HealthResponse reports agent liveness and the bound components
type HealthResponse struct {
	Status          string    `json:"status"`
	Version         string    `json:"version,omitempty"`
	Backend         string    `json:"backend"`
	Telemetry       string    `json:"telemetry"`
	Hostname        string    `json:"hostname,omitempty"`
	OS              string    `json:"os,omitempty"`
	Platform        string    `json:"platform,omitempty"`
	PlatformVersion string    `json:"platform_version,omitempty"`
	KernelVersion   string    `json:"kernel_version,omitempty"`
	Architecture    string    `json:"architecture"`
	Uptime          uint64    `json:"uptime"`
	MemoryTotal     uint64    `json:"memory_total,omitempty"`
	MemoryUsedPct   float64   `json:"memory_used_percent,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// healthHandler returns server health and host information
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "ok",
		Version:      s.services.Version,
		Telemetry:    s.services.Settings.Source(),
		Architecture: runtime.GOARCH,
		Timestamp:    time.Now(),
	}
	if err := s.services.Displays.Bind(r.Context()); err != nil {
		s.logger.Warn("no display backend", zap.Error(err))
		resp.Status = "degraded"
	} else {
		resp.Backend = s.services.Displays.Backend()
	}

	if hostInfo, err := host.InfoWithContext(r.Context()); err == nil {
		resp.Hostname = hostInfo.Hostname
		resp.OS = hostInfo.OS
		resp.Platform = hostInfo.Platform
		resp.PlatformVersion = hostInfo.PlatformVersion
		resp.KernelVersion = hostInfo.KernelVersion
		resp.Uptime = hostInfo.Uptime
	}
	if vmStat, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.MemoryTotal = vmStat.Total
		resp.MemoryUsedPct = vmStat.UsedPercent
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getSettingsHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := s.services.Settings.GetSettings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) patchSettingsHandler(w http.ResponseWriter, r *http.Request) {
	patch, err := gpu.DecodePatch(r.Body)
	if err != nil {
		if !errors.Is(err, gpu.ErrInvalidSetting) {
			err = fmt.Errorf("%w: %v", errBadRequest, err)
		}
		writeError(w, r, err)
		return
	}

	settings, err := s.services.Settings.SetSettings(r.Context(), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// ResolutionsResponse lists the modes of one display
type ResolutionsResponse struct {
	Display     int            `json:"display"`
	Backend     string         `json:"backend"`
	Resolutions []display.Mode `json:"resolutions"`
}

func (s *Server) listResolutionsHandler(w http.ResponseWriter, r *http.Request) {
	n, err := displayIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	modes := s.services.Displays.ListResolutions(r.Context(), n)
	if modes == nil {
		modes = []display.Mode{}
	}
	writeJSON(w, http.StatusOK, ResolutionsResponse{
		Display:     n,
		Backend:     s.services.Displays.Backend(),
		Resolutions: modes,
	})
}

func (s *Server) addResolutionHandler(w http.ResponseWriter, r *http.Request) {
	n, err := displayIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := decodeResolution(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.services.Displays.AddResolution(r.Context(), res, n); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) applyResolutionHandler(w http.ResponseWriter, r *http.Request) {
	n, err := displayIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := decodeResolution(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.services.Displays.ApplyResolution(r.Context(), res, n); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) removeResolutionHandler(w http.ResponseWriter, r *http.Request) {
	n, err := displayIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.services.Displays.RemoveResolution(r.Context(), r.PathValue("name"), n); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EDIDResponse is a parsed EDID plus its raw bytes in hex
type EDIDResponse struct {
	Display int          `json:"display"`
	Summary edid.Summary `json:"summary"`
	Info    *parser.Info `json:"info"`
	Raw     string       `json:"raw"`
}

// edidHandler returns the display EDID, as JSON or with ?format=raw as the
// original bytes
func (s *Server) edidHandler(w http.ResponseWriter, r *http.Request) {
	n, err := displayIndex(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	raw, err := s.services.Displays.ReadEDID(r.Context(), n)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "raw" {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
		return
	}

	info, err := parser.Parse(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EDIDResponse{
		Display: n,
		Summary: edid.Summarize(info),
		Info:    info,
		Raw:     hex.EncodeToString(raw),
	})
}

func (s *Server) listProfilesHandler(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.services.Profiles.List(r.Context(), r.URL.Query().Get("tag"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if profiles == nil {
		profiles = []*profile.Profile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) applyProfileHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := s.services.Profiles.Apply(r.Context(), r.PathValue("name"), s.services.Settings,
		profile.ApplyOptions{Source: db.SourceAgent})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
