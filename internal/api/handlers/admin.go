package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/axonops/axonops-auth-service/internal/api/types"
	"github.com/axonops/axonops-auth-service/internal/storage"
)

// ---------- Admin Operations ----------

// AdminStatus handles GET /admin/status.
func (h *Handler) AdminStatus(w http.ResponseWriter, r *http.Request) {
	resp := types.AdminStatusResponse{
		Version:   h.config.Version,
		Commit:    h.config.Commit,
		BuildTime: h.config.BuildTime,
		Storage:   h.config.Storage,
		Keyspace:  h.config.Keyspace,
		Cluster:   h.config.Cluster,
		Ready:     h.ready.Load(),
		Store:     "up",
	}
	if err := h.store.Ping(r.Context()); err != nil {
		resp.Store = "down"
	}
	if h.config.Migrations != nil {
		if reqs, err := h.config.Migrations.Requests(r.Context()); err == nil {
			n := len(reqs)
			resp.PendingMigrationRequests = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrgSetting handles GET /admin/orgs/{org}/settings/{setting}.
func (h *Handler) GetOrgSetting(w http.ResponseWriter, r *http.Request) {
	org := chi.URLParam(r, "org")
	setting := chi.URLParam(r, "setting")

	value, err := h.store.GetOrgSetting(r.Context(), org, setting)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, fmt.Sprintf("No setting %q for org %q", setting, org))
			return
		}
		h.serverError(w, r, "get_org_setting", err)
		return
	}

	writeJSON(w, http.StatusOK, types.SettingResponse{Org: org, Setting: setting, Value: value})
}

// SetOrgSetting handles PUT /admin/orgs/{org}/settings/{setting}.
func (h *Handler) SetOrgSetting(w http.ResponseWriter, r *http.Request) {
	org := chi.URLParam(r, "org")
	setting := chi.URLParam(r, "setting")

	var req types.SettingRequest
	if err := decodeValid(r, settingSchema, &req); err != nil {
		h.logger.Debug("rejected setting body", slog.String("error", err.Error()))
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// The org must exist. A setting written for an unknown org would sit
	// unread forever.
	if _, err := h.store.GetOrg(r.Context(), org); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, fmt.Sprintf("No org matched %q", org))
			return
		}
		h.serverError(w, r, "set_org_setting", err)
		return
	}

	if err := h.store.SetOrgSetting(r.Context(), org, setting, req.Value); err != nil {
		h.serverError(w, r, "set_org_setting", err)
		return
	}

	h.logger.Info("org setting updated",
		slog.String("org", org), slog.String("setting", setting))
	writeJSON(w, http.StatusOK, types.SettingResponse{Org: org, Setting: setting, Value: req.Value})
}

// GetGlobalSetting handles GET /admin/settings/{setting}.
func (h *Handler) GetGlobalSetting(w http.ResponseWriter, r *http.Request) {
	setting := chi.URLParam(r, "setting")

	value, err := h.store.GetGlobalSetting(r.Context(), setting)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, fmt.Sprintf("No global setting %q", setting))
			return
		}
		h.serverError(w, r, "get_global_setting", err)
		return
	}

	writeJSON(w, http.StatusOK, types.SettingResponse{Setting: setting, Value: value})
}

// SetGlobalSetting handles PUT /admin/settings/{setting}.
func (h *Handler) SetGlobalSetting(w http.ResponseWriter, r *http.Request) {
	setting := chi.URLParam(r, "setting")

	var req types.SettingRequest
	if err := decodeValid(r, settingSchema, &req); err != nil {
		h.logger.Debug("rejected setting body", slog.String("error", err.Error()))
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.SetGlobalSetting(r.Context(), setting, req.Value); err != nil {
		h.serverError(w, r, "set_global_setting", err)
		return
	}

	h.logger.Info("global setting updated", slog.String("setting", setting))
	writeJSON(w, http.StatusOK, types.SettingResponse{Setting: setting, Value: req.Value})
}
