package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/cdicache/internal/cdi"
)

// handleGetErrors returns the error ledger as class key -> messages.
func (s *Server) handleGetErrors(w http.ResponseWriter, _ *http.Request) {
	ledger := s.cache.GetErrors()

	out := make(map[string][]string, len(ledger))
	total := 0
	for key, errs := range ledger {
		out[key] = errorStrings(errs)
		total += len(errs)
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": out, "count": total})
}

func (s *Server) handleClearErrors(w http.ResponseWriter, _ *http.Request) {
	s.cache.ClearErrors()
	w.WriteHeader(http.StatusNoContent)
}

// handleRefresh rescans all sources. A structural failure (no sources, or
// none readable) is reported as 503 with the previous generation still in
// place. The response comes from the single report of this pass.
func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	report, err := s.cache.RefreshWithReport()
	if errors.Is(err, cdi.ErrNoSources) || errors.Is(err, cdi.ErrAllSourcesUnreadable) {
		s.logger.Warn("refresh requested over HTTP failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}
	if err != nil {
		writeInternalError(w, "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"generation":         report.Generation,
		"built_at":           report.BuiltAt.UTC().Format(time.RFC3339Nano),
		"devices":            report.Devices,
		"sources":            report.Sources,
		"unreadable_sources": report.UnreadableSources,
		"load_errors":        report.LoadErrors,
	})
}
