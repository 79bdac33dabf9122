package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/askmesh/askmesh/internal/config"
	"github.com/askmesh/askmesh/internal/observability"
	"github.com/askmesh/askmesh/internal/stream"
)

type inboundMessage struct {
	Type      string `json:"type"`
	Question  string `json:"question"`
	ChartType string `json:"chart_type"`
}

type webSocketHandler struct {
	upgrader     websocket.Upgrader
	asker        Asker
	registry     *stream.Registry
	logger       *slog.Logger
	writeTimeout time.Duration
	maxMessage   int64
}

func newWebSocketHandler(cfg config.StreamConfig, deps Dependencies) *webSocketHandler {
	writeTimeout := cfg.WSWriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &webSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.Origins()),
		},
		asker:        deps.Asker,
		registry:     deps.Registry,
		logger:       deps.Logger,
		writeTimeout: writeTimeout,
		maxMessage:   cfg.WSMaxMessageLen,
	}
}

// ServeHTTP owns one connection: it reads client messages and starts one
// flow goroutine per question. Flows on the connection end when it closes
// or any send to it fails.
func (h *webSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.asker == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	logger := observability.LoggerWithTrace(ctx, h.logger).With(slog.String("connection_id", id))
	sender := &wsSender{conn: conn, writeTimeout: h.writeTimeout}
	var flows sync.WaitGroup

	defer sender.close()
	defer h.registry.Unregister(id)
	defer flows.Wait()
	defer cancel()

	if h.maxMessage > 0 {
		conn.SetReadLimit(h.maxMessage)
	}
	h.registry.Register(id, sender)
	logger.InfoContext(ctx, "websocket connected")
	if err := h.registry.Send(ctx, id, map[string]any{"type": "connected", "connection_id": id}); err != nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			logger.InfoContext(ctx, "websocket disconnected", slog.String("reason", err.Error()))
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			if h.reject(ctx, id, "invalid JSON message") != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case "ping":
			err = h.registry.Send(ctx, id, map[string]any{
				"type":      "pong",
				"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			})
		case "question":
			req, validateErr := askRequest{Question: msg.Question, ChartType: msg.ChartType}.validate()
			if validateErr != nil {
				err = h.reject(ctx, id, validateErr.Error())
				break
			}
			flows.Add(1)
			go func() {
				defer flows.Done()
				h.runFlow(ctx, cancel, sender, id, req)
			}()
		default:
			err = h.reject(ctx, id, fmt.Sprintf("unknown message type %q", msg.Type))
		}
		if err != nil {
			return
		}
	}
}

func (h *webSocketHandler) runFlow(ctx context.Context, cancel context.CancelFunc, sender *wsSender, id string, req stream.Request) {
	start := time.Now()
	outcome := "cancelled"
	defer func() {
		observability.ObserveQuestion("websocket", outcome, time.Since(start))
	}()

	for envelope := range h.asker.Stream(ctx, req) {
		payload, err := json.Marshal(envelope)
		if err != nil {
			h.logger.ErrorContext(ctx, "encode envelope failed", slog.String("connection_id", id), slog.String("error", err.Error()))
			failed := stream.ErrorEnvelope(envelope.SessionID, fmt.Errorf("encode %s envelope: %w", envelope.Kind, err))
			failed.Timestamp = envelope.Timestamp
			envelope = failed
			if payload, err = json.Marshal(envelope); err != nil {
				return
			}
		}
		if err := h.registry.Send(ctx, id, json.RawMessage(payload)); err != nil {
			// A dead connection ends every flow on it and unblocks the reader.
			cancel()
			sender.close()
			return
		}
		if envelope.Kind == stream.KindDone {
			outcome = "ok"
		}
		if envelope.Kind == stream.KindError {
			outcome = "error"
			return
		}
	}
}

func (h *webSocketHandler) reject(ctx context.Context, id, message string) error {
	return h.registry.Send(ctx, id, map[string]any{"type": "error", "message": message})
}

// wsSender serializes writes because a websocket connection supports one
// concurrent writer.
type wsSender struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func (s *wsSender) Send(ctx context.Context, msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(s.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

func (s *wsSender) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// originChecker accepts requests without an Origin header, listed origins,
// and same-host origins. "*" accepts everything.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, candidate := range allowed {
			if candidate == "*" || strings.EqualFold(candidate, origin) {
				return true
			}
		}
		parsed, err := url.Parse(origin)
		return err == nil && strings.EqualFold(parsed.Host, r.Host)
	}
}
