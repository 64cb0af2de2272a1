package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/idhub/pkg/catalog"
	"github.com/platinummonkey/idhub/pkg/directory"
	"github.com/platinummonkey/idhub/pkg/httputil"
)

// handleGetDirectoryConfig returns the stored directory settings. The admin
// password is write-only and never echoed back.
func (s *Server) handleGetDirectoryConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetDirectoryConfig(r.Context())
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httputil.WriteNotFound(w, "directory is not configured")
			return
		}
		s.requestLogger(r).WithError(err).Error("failed to get directory config")
		httputil.WriteInternalError(w)
		return
	}

	cfg.AdminPassword = ""
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

// handleSaveDirectoryConfig upserts the directory settings. An empty admin
// password keeps the stored one.
func (s *Server) handleSaveDirectoryConfig(w http.ResponseWriter, r *http.Request) {
	var cfg catalog.DirectoryConfig
	if err := httputil.DecodeJSON(r, &cfg); err != nil {
		httputil.WriteValidationError(w, "invalid request body")
		return
	}
	if cfg.Host == "" {
		httputil.WriteValidationError(w, "host is required")
		return
	}
	if cfg.Port == 0 {
		cfg.Port = 389
	}

	if err := s.store.SaveDirectoryConfig(r.Context(), &cfg); err != nil {
		s.requestLogger(r).WithError(err).Error("failed to save directory config")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteNoContent(w)
}

// handleDirectorySync imports directory users into the catalog
func (s *Server) handleDirectorySync(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		httputil.WriteErrorMessage(w, http.StatusConflict, "directory sync is not available")
		return
	}

	result, err := s.directory.Sync(r.Context())
	if err != nil {
		if errors.Is(err, directory.ErrNotConfigured) {
			httputil.WriteErrorMessage(w, http.StatusConflict, "directory is not configured")
			return
		}
		s.requestLogger(r).WithError(err).Error("directory sync failed")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}
