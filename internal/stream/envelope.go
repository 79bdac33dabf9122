// Package stream turns one question into an ordered sequence of timestamped
// envelopes: simulated progress, the completed result and "typed" chunks.
// The same sequence backs the server-sent event and websocket transports,
// and the synchronous path shares its resolution step.
package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindQuestionReceived        Kind = "question_received"
	KindAnalyzingQuestion       Kind = "analyzing_question"
	KindGeneratingSQL           Kind = "generating_sql"
	KindExecutingQuery          Kind = "executing_query"
	KindGeneratingVisualization Kind = "generating_visualization"
	KindResponseComplete        Kind = "response_complete"
	KindSQLChunk                Kind = "sql_chunk"
	KindAnswerChunk             Kind = "answer_chunk"
	KindDone                    Kind = "done"
	KindError                   Kind = "error"
)

var kinds = map[Kind]bool{
	KindQuestionReceived:        true,
	KindAnalyzingQuestion:       true,
	KindGeneratingSQL:           true,
	KindExecutingQuery:          true,
	KindGeneratingVisualization: true,
	KindResponseComplete:        true,
	KindSQLChunk:                true,
	KindAnswerChunk:             true,
	KindDone:                    true,
	KindError:                   true,
}

func (k Kind) Valid() bool {
	return kinds[k]
}

// Terminal reports whether no envelope follows k within a session.
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindError
}

// Envelope is one unit pushed to a client. Envelopes sharing a SessionID
// belong to the same question and carry non-decreasing timestamps.
type Envelope struct {
	Kind      Kind
	SessionID string
	Timestamp time.Time
	Data      map[string]any
}

type wireEnvelope struct {
	Event     Kind           `json:"event"`
	SessionID string         `json:"session_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(wireEnvelope{
		Event:     e.Kind,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
}

func (e *Envelope) UnmarshalJSON(raw []byte) error {
	var wire wireEnvelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	if !wire.Event.Valid() {
		return fmt.Errorf("unknown envelope event %q", wire.Event)
	}
	ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
	if err != nil {
		return fmt.Errorf("parse envelope timestamp: %w", err)
	}
	*e = Envelope{Kind: wire.Event, SessionID: wire.SessionID, Timestamp: ts, Data: wire.Data}
	return nil
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// monotonic clamps a clock so successive readings never go backwards.
type monotonic struct {
	clock Clock
	last  time.Time
}

func (m *monotonic) now() time.Time {
	return m.clamp(m.clock())
}

func (m *monotonic) clamp(ts time.Time) time.Time {
	ts = ts.UTC()
	if ts.Before(m.last) {
		ts = m.last
	}
	m.last = ts
	return ts
}
