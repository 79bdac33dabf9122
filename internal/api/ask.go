package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/askmesh/askmesh/internal/chart"
	"github.com/askmesh/askmesh/internal/observability"
	"github.com/askmesh/askmesh/internal/stream"
)

type askRequest struct {
	Question             string `json:"question"`
	ChartType            string `json:"chart_type"`
	IncludeVisualization *bool  `json:"include_visualization"`
}

func (a askRequest) validate() (stream.Request, error) {
	question := strings.TrimSpace(a.Question)
	if question == "" {
		return stream.Request{}, errors.New("question is required")
	}
	chartType := strings.ToLower(strings.TrimSpace(a.ChartType))
	if !chart.ValidType(chartType) {
		return stream.Request{}, fmt.Errorf("unsupported chart_type %q", a.ChartType)
	}
	return stream.Request{
		Question:          question,
		ChartType:         chartType,
		SkipVisualization: a.IncludeVisualization != nil && !*a.IncludeVisualization,
	}, nil
}

func decodeAskRequest(w http.ResponseWriter, r *http.Request) (stream.Request, bool) {
	var request askRequest
	if r.Method == http.MethodGet {
		values := r.URL.Query()
		request.Question = values.Get("question")
		request.ChartType = values.Get("chart_type")
	} else {
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&request); err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
			return stream.Request{}, false
		}
	}
	req, err := request.validate()
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return stream.Request{}, false
	}
	return req, true
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Asker == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}
	req, ok := decodeAskRequest(w, r)
	if !ok {
		return
	}

	start := time.Now()
	result, err := deps.Asker.Resolve(r.Context(), req)
	if err != nil {
		observability.ObserveQuestion("sync", "error", time.Since(start))
		writeCollaboratorError(w, r, err)
		return
	}
	observability.ObserveQuestion("sync", "ok", time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

// handleAskStream writes one server-sent event per envelope and ends the
// response after the terminal envelope.
func handleAskStream(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Asker == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}
	req, ok := decodeAskRequest(w, r)
	if !ok {
		return
	}

	controller := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	start := time.Now()
	outcome := "cancelled"
	for envelope := range deps.Asker.Stream(r.Context(), req) {
		payload, err := json.Marshal(envelope)
		if err != nil {
			deps.Logger.ErrorContext(r.Context(), "encode envelope failed", slog.String("error", err.Error()))
			failed := stream.ErrorEnvelope(envelope.SessionID, fmt.Errorf("encode %s envelope: %w", envelope.Kind, err))
			failed.Timestamp = envelope.Timestamp
			envelope = failed
			if payload, err = json.Marshal(envelope); err != nil {
				break
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			break
		}
		if err := controller.Flush(); err != nil {
			break
		}
		if envelope.Kind == stream.KindDone {
			outcome = "ok"
		}
		if envelope.Kind == stream.KindError {
			outcome = "error"
			break
		}
	}
	observability.ObserveQuestion("sse", outcome, time.Since(start))
}

func handleVisualize(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Asker == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}
	req, err := askRequest{
		Question:  r.URL.Query().Get("question"),
		ChartType: r.PathValue("chart_type"),
	}.validate()
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}

	start := time.Now()
	result, err := deps.Asker.Resolve(r.Context(), req)
	if err != nil {
		observability.ObserveQuestion("visualize", "error", time.Since(start))
		writeCollaboratorError(w, r, err)
		return
	}
	rows, ok := result.Answer.Rows()
	if !ok || len(rows) == 0 {
		observability.ObserveQuestion("visualize", "no_data", time.Since(start))
		details := map[string]any{"sql_query": result.SQLQuery}
		if text, isText := result.Answer.Text(); isText {
			details["answer"] = text
		}
		writeError(r.Context(), w, http.StatusBadRequest, "NO_DATA", "no data to visualize", false, details)
		return
	}
	observability.ObserveQuestion("visualize", "ok", time.Since(start))
	writeJSON(w, http.StatusOK, map[string]any{
		"question":      result.Question,
		"sql_query":     result.SQLQuery,
		"data":          rows,
		"visualization": result.Visualization,
	})
}

func writeCollaboratorError(w http.ResponseWriter, r *http.Request, err error) {
	var collabErr *stream.CollaboratorError
	if errors.As(err, &collabErr) {
		writeError(r.Context(), w, http.StatusBadGateway, "COLLABORATOR_FAILED", "An error occurred while processing your request", true, map[string]any{
			"stage":   string(collabErr.Stage),
			"details": collabErr.Err.Error(),
		})
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "failed to answer question", true, map[string]any{"details": err.Error()})
}
