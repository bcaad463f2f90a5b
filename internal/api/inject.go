package api

import (
	"encoding/json"
	"errors"
	"net/http"

	rspec "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/nerrad567/cdicache/internal/cdi"
)

// InjectRequest is the body of POST /api/v1/inject.
type InjectRequest struct {
	Spec    *rspec.Spec `json:"spec"`
	Devices []string    `json:"devices"`
}

// InjectResponse carries the edited spec and the outcome per device.
// Devices missing from Injected are listed in Unresolved or Failed, with
// their messages in Errors.
type InjectResponse struct {
	Spec       *rspec.Spec `json:"spec"`
	Injected   []string    `json:"injected"`
	Unresolved []string    `json:"unresolved,omitempty"`
	Failed     []string    `json:"failed,omitempty"`
	Errors     []string    `json:"errors,omitempty"`
}

// handleInject injects the requested devices into the spec of the request.
// Partial injections still return 200; callers inspect Unresolved and
// Failed to decide whether to proceed.
func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req InjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.Spec == nil {
		writeBadRequest(w, "spec is required")
		return
	}
	if len(req.Devices) == 0 {
		writeBadRequest(w, "devices must not be empty")
		return
	}

	injected, err := s.cache.InjectDevices(req.Spec, req.Devices...)
	resp := InjectResponse{Spec: req.Spec, Injected: injected}

	var ierr *cdi.InjectionError
	switch {
	case err == nil:
	case errors.As(err, &ierr):
		resp.Unresolved = ierr.Unresolved
		resp.Failed = ierr.Failed
		resp.Errors = errorStrings(ierr.Errs)
	default:
		writeInternalError(w, "injection failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
