package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"gamelink.org/internal/link"
)

type startLinkRequest struct {
	RequesterID  string `json:"requester_id"`
	RequesterTag string `json:"requester_tag"`
	PlayerName   string `json:"player_name"`
}

type completeLinkRequest struct {
	RequesterID string `json:"requester_id"`
	Code        string `json:"code"`
}

func (a *API) handleLinksCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.startLink(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleLinkComplete(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.completeLink(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleLinkResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/links/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "invalid_input", "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.linkStatus(w, r, id)
	case http.MethodDelete:
		a.unlink(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) startLink(w http.ResponseWriter, r *http.Request) {
	var req startLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	requesterID := strings.TrimSpace(req.RequesterID)
	if requesterID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "requester_id is required")
		return
	}
	if len(requesterID) > 64 {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "requester_id too long")
		return
	}

	started, err := a.svc.Initiate(r.Context(), requesterID, strings.TrimSpace(req.RequesterTag), strings.TrimSpace(req.PlayerName))
	if err != nil {
		handleLinkError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, started)
}

func (a *API) completeLink(w http.ResponseWriter, r *http.Request) {
	var req completeLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	requesterID := strings.TrimSpace(req.RequesterID)
	if requesterID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "requester_id is required")
		return
	}

	linked, err := a.svc.Complete(r.Context(), requesterID, req.Code)
	if err != nil {
		handleLinkError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, linked)
}

func (a *API) linkStatus(w http.ResponseWriter, r *http.Request, id string) {
	st, err := a.svc.Status(r.Context(), id)
	if err != nil {
		handleLinkError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) unlink(w http.ResponseWriter, r *http.Request, id string) {
	out, err := a.svc.Unlink(r.Context(), id)
	if err != nil {
		handleLinkError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}

	stats, err := a.svc.AdminStats(r.Context())
	if err != nil {
		handleLinkError(w, r, err)
		return
	}

	resp := map[string]any{
		"identities": stats,
		"as_of":      time.Now().UTC(),
	}
	if a.game != nil {
		if st, err := a.game.Status(r.Context()); err == nil {
			resp["server"] = st
		} else {
			resp["server_error"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAdminSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}

	if err := a.svc.Sweep(r.Context()); err != nil {
		handleLinkError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleLinkError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, link.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, link.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		writeError(w, r, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.Is(err, link.ErrAlreadyLinked):
		writeError(w, r, http.StatusConflict, "already_linked", err.Error())
	case errors.Is(err, link.ErrTargetNotFound):
		writeError(w, r, http.StatusNotFound, "target_not_found", err.Error())
	case errors.Is(err, link.ErrTargetAlreadyLinked):
		writeError(w, r, http.StatusConflict, "target_already_linked", err.Error())
	case errors.Is(err, link.ErrTargetOffline):
		writeError(w, r, http.StatusConflict, "target_offline", err.Error())
	case errors.Is(err, link.ErrDeliveryFailed):
		writeError(w, r, http.StatusBadGateway, "delivery_failed", err.Error())
	case errors.Is(err, link.ErrInvalidOrExpired):
		writeError(w, r, http.StatusGone, "invalid_or_expired", err.Error())
	case errors.Is(err, link.ErrOwnerMismatch):
		writeError(w, r, http.StatusForbidden, "owner_mismatch", err.Error())
	case errors.Is(err, link.ErrPlayerMismatch):
		writeError(w, r, http.StatusForbidden, "player_mismatch", err.Error())
	case errors.Is(err, link.ErrNothingToUnlink):
		writeError(w, r, http.StatusNotFound, "nothing_to_unlink", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, reason, msg string) {
	payload := map[string]any{
		"error":  msg,
		"reason": reason,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "invalid_input", "method not allowed")
}
