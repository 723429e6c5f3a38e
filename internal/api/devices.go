package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gridflow-core/internal/cloud/rest"
	"github.com/nerrad567/gridflow-core/internal/device"
)

// deviceResponse is one device in list/get responses, the registry row
// plus live coordinator telemetry when one is running.
type deviceResponse struct {
	device.Device
	Mode string `json:"mode,omitempty"`
}

// handleListDevices returns all registered devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.List(r.Context())
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		resp := deviceResponse{Device: d}
		if c, err := s.fleet.Get(d.SN); err == nil {
			resp.Mode = c.Mode().String()
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetDevice returns one registered device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	sn := chi.URLParam(r, "sn")

	d, err := s.registry.Get(r.Context(), sn)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("getting device", "sn", sn, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	resp := deviceResponse{Device: *d}
	if c, err := s.fleet.Get(sn); err == nil {
		resp.Mode = c.Mode().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetSnapshot returns the live snapshot for one device.
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	sn := chi.URLParam(r, "sn")

	c, err := s.fleet.Get(sn)
	if err != nil {
		writeNotFound(w, "no coordinator for device")
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

// commandRequest is the body of POST /api/devices/{sn}/command.
type commandRequest struct {
	// Template is the opaque command envelope (cmdSet/cmdId or cmdFunc)
	// from the device's command catalog.
	Template map[string]any `json:"template"`
	Params   map[string]any `json:"params"`
}

// handleCommand dispatches a command through the device's coordinator.
// Vendor rejections come back with their code untouched.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	sn := chi.URLParam(r, "sn")

	c, err := s.fleet.Get(sn)
	if err != nil {
		writeNotFound(w, "no coordinator for device")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if len(req.Template) == 0 {
		writeBadRequest(w, "command template is required")
		return
	}

	if err := c.IssueCommand(r.Context(), req.Template, req.Params); err != nil {
		var apiErr *rest.APIError
		switch {
		case errors.As(err, &apiErr):
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"status":     http.StatusBadGateway,
				"code":       ErrCodeVendor,
				"vendorCode": apiErr.Code,
				"message":    apiErr.Message,
			})
		case errors.Is(err, rest.ErrAuthentication):
			writeError(w, http.StatusBadGateway, ErrCodeUpstream, "cloud authentication failed")
		default:
			writeError(w, http.StatusBadGateway, ErrCodeUpstream, "cloud request failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "accepted"})
}
