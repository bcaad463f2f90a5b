package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/cdicache/internal/cdi"
	"github.com/nerrad567/cdicache/internal/specstore"
)

func (s *Server) handleListSpecs(w http.ResponseWriter, r *http.Request) {
	specs, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("listing stored specs", "error", err)
		writeInternalError(w, "failed to list specs")
		return
	}
	if specs == nil {
		specs = []specstore.SpecInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"specs": specs, "count": len(specs)})
}

// handlePutSpec stores the request body as a spec document.
//
// Query parameters:
//   - refresh: when true, refresh the cache after storing so the devices
//     are resolvable as soon as the response arrives
func (s *Server) handlePutSpec(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeDecodeError(w, err)
		return
	}

	spec, err := s.store.WriteSpec(r.Context(), name, data)
	switch {
	case errors.Is(err, specstore.ErrInvalidName):
		writeBadRequest(w, err.Error())
		return
	case errors.Is(err, cdi.ErrInvalidSpec), errors.Is(err, cdi.ErrInvalidDevice):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
		return
	case err != nil:
		s.logger.Error("storing spec", "name", name, "error", err)
		writeInternalError(w, "failed to store spec")
		return
	}

	resp := map[string]any{
		"name":    name,
		"kind":    spec.Kind,
		"devices": len(spec.Devices),
	}
	if s.refreshRequested(r) {
		gen, msg := s.refreshAfterWrite()
		if msg != "" {
			resp["refresh_error"] = msg
		}
		resp["generation"] = gen
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteSpec(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	err := s.store.RemoveSpec(r.Context(), name)
	switch {
	case errors.Is(err, specstore.ErrInvalidName):
		writeBadRequest(w, err.Error())
		return
	case errors.Is(err, specstore.ErrSpecNotFound):
		writeNotFound(w, "spec not found: "+name)
		return
	case err != nil:
		s.logger.Error("removing spec", "name", name, "error", err)
		writeInternalError(w, "failed to remove spec")
		return
	}

	if s.refreshRequested(r) {
		if _, msg := s.refreshAfterWrite(); msg != "" {
			s.logger.Warn("refresh after spec removal failed", "name", name, "error", msg)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) refreshRequested(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return err == nil && v
}

// refreshAfterWrite returns the generation installed after the refresh and
// the refresh error message, empty on success.
func (s *Server) refreshAfterWrite() (uint64, string) {
	report, err := s.cache.RefreshWithReport()
	if err != nil {
		return report.Generation, err.Error()
	}
	return report.Generation, ""
}
