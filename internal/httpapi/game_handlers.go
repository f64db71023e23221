package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gamelink.org/internal/audit"
	"gamelink.org/internal/gameserver"
	"gamelink.org/internal/link"
)

// Actions accepted on the game-events endpoint. The companion plugin
// posts these from the game server.
const (
	actionPlayerJoin   = "player_join"
	actionPlayerLeave  = "player_leave"
	actionVerifyPlayer = "verify_player"
	actionPlayerStatus = "get_player_status"
)

type gameEventRequest struct {
	Action     string `json:"action"`
	PlayerUUID string `json:"player_uuid"`
	PlayerName string `json:"player_name"`
	Data       struct {
		Code  string `json:"code,omitempty"`
		Token string `json:"token,omitempty"`
	} `json:"data"`
}

func (a *API) handleGameEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	key, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil || a.gameKey == nil || a.gameKey.Verify(key) != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid_input", "invalid api key")
		return
	}

	var req gameEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	playerID := gameserver.FormatPlayerID(strings.TrimSpace(req.PlayerUUID))
	playerName := strings.TrimSpace(req.PlayerName)
	if playerID == "" || playerName == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "player_uuid and player_name are required")
		return
	}

	switch req.Action {
	case actionPlayerJoin, actionPlayerLeave:
		audit.LogEvent(r.Context(), "game."+req.Action, map[string]any{
			"game_id":   playerID,
			"game_name": playerName,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})

	case actionVerifyPlayer:
		linked, err := a.svc.CompleteFromGame(r.Context(), playerID, playerName, req.Data.Code)
		if err != nil {
			handleLinkError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "linked",
			"chat_id":  linked.ChatID,
			"chat_tag": linked.ChatTag,
		})

	case actionPlayerStatus:
		rec, err := a.svc.PlayerStatus(r.Context(), playerID)
		if err != nil {
			if handlePlayerStatusMiss(w, r, err) {
				return
			}
			handleLinkError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"linked":   rec.Linked,
			"chat_id":  rec.ChatID,
			"chat_tag": rec.ChatTag,
		})

	default:
		writeError(w, r, http.StatusBadRequest, "invalid_input", "unknown action")
	}
}

// handlePlayerStatusMiss turns an unknown game account into the benign
// {"linked": false} answer the plugin expects, instead of a 404.
func handlePlayerStatusMiss(w http.ResponseWriter, r *http.Request, err error) bool {
	if !errors.Is(err, link.ErrTargetNotFound) {
		return false
	}
	writeJSON(w, http.StatusOK, map[string]any{"linked": false})
	return true
}
