package api

import (
	"encoding/json"
	"net/http"
	"time"
)

type broadcastRequest struct {
	Message any `json:"message"`
}

func handleListConnections(deps Dependencies, w http.ResponseWriter, _ *http.Request) {
	ids := deps.Registry.IDs()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":          len(ids),
		"connection_ids": ids,
	})
}

func handleBroadcast(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request broadcastRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid broadcast request body", false, map[string]any{"details": err.Error()})
		return
	}
	if request.Message == nil {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return
	}

	delivered := deps.Registry.Broadcast(r.Context(), map[string]any{
		"type":      "broadcast",
		"message":   request.Message,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"delivered": delivered,
		"active":    deps.Registry.Len(),
	})
}
