package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/askmesh/askmesh/internal/chart"
)

// Answer is either the ordered rows a query returned or a text message,
// typically a SQL execution error.
type Answer struct {
	rows   []map[string]any
	text   string
	isText bool
}

func RowsAnswer(rows []map[string]any) Answer {
	if rows == nil {
		rows = []map[string]any{}
	}
	return Answer{rows: rows}
}

func TextAnswer(text string) Answer {
	return Answer{text: text, isText: true}
}

func (a Answer) Rows() ([]map[string]any, bool) {
	if a.isText {
		return nil, false
	}
	return a.rows, true
}

func (a Answer) Text() (string, bool) {
	return a.text, a.isText
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.isText {
		return json.Marshal(a.text)
	}
	if a.rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.rows)
}

func (a *Answer) UnmarshalJSON(raw []byte) error {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		*a = TextAnswer(text)
		return nil
	}
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("answer must be a string or an array of rows: %w", err)
	}
	*a = RowsAnswer(rows)
	return nil
}

// Result is the completed answer to one question. It is built once, sent,
// and discarded.
type Result struct {
	Question      string               `json:"question"`
	SQLQuery      string               `json:"sql_query"`
	Answer        Answer               `json:"answer"`
	Visualization *chart.Visualization `json:"visualization"`
}

func (r Result) data() map[string]any {
	return map[string]any{
		"question":      r.Question,
		"sql_query":     r.SQLQuery,
		"answer":        r.Answer,
		"visualization": r.Visualization,
	}
}

// CollaboratorError reports a translator or engine failure. Stage is the
// progress stage whose work failed.
type CollaboratorError struct {
	Stage Kind
	Err   error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

const errorMessage = "An error occurred while processing your request"

// ErrorEnvelope is the terminal envelope for a failed flow. Collaborator
// failures report their stage.
func ErrorEnvelope(sessionID string, err error) Envelope {
	stage := Kind("")
	detail := err.Error()
	var collabErr *CollaboratorError
	if errors.As(err, &collabErr) {
		stage = collabErr.Stage
		detail = collabErr.Err.Error()
	}
	return Envelope{
		Kind:      KindError,
		SessionID: sessionID,
		Data: map[string]any{
			"error":   detail,
			"stage":   string(stage),
			"message": errorMessage,
		},
	}
}
