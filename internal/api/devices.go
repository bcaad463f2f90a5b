package api

import (
	"errors"
	"net/http"
	"slices"

	"github.com/nerrad567/cdicache/internal/cdi"
)

// handleListDevices returns the resolvable device names of the current
// generation, sorted.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := slices.Clone(s.cache.ListDevices())
	slices.Sort(devices)
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":    devices,
		"count":      len(devices),
		"generation": s.cache.Generation(),
	})
}

// handleGetDevice returns one device record.
//
// Query parameters:
//   - name: fully-qualified device name, e.g. vendor.com/gpu=0
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeBadRequest(w, "name query parameter is required")
		return
	}

	rec, err := s.cache.GetDevice(name)
	if errors.Is(err, cdi.ErrDeviceNotFound) {
		writeNotFound(w, "device not found: "+name)
		return
	}
	if err != nil {
		writeInternalError(w, "failed to look up device")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListClasses(w http.ResponseWriter, _ *http.Request) {
	classes := s.cache.ListClasses()
	writeJSON(w, http.StatusOK, map[string]any{"classes": classes, "count": len(classes)})
}
