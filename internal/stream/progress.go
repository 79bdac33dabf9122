package stream

import (
	"context"
	"iter"
	"time"
)

type stage struct {
	kind     Kind
	message  string
	progress int
	pause    time.Duration
}

var stages = []stage{
	{kind: KindAnalyzingQuestion, message: "Analyzing your question...", progress: 25, pause: 800 * time.Millisecond},
	{kind: KindGeneratingSQL, message: "Converting to SQL query...", progress: 50, pause: 600 * time.Millisecond},
	{kind: KindExecutingQuery, message: "Executing database query...", progress: 75, pause: 400 * time.Millisecond},
	{kind: KindGeneratingVisualization, message: "Creating visualization...", progress: 90, pause: 300 * time.Millisecond},
}

const receivedPause = 500 * time.Millisecond

// Sequencer emits the fixed progress stages that precede every answer.
// The stages are illustrative and do not track the real work.
type Sequencer struct {
	Pacer Pacer
	Clock Clock
}

// Sequence yields question_received followed by the four progress stages,
// pausing after each. It stops as soon as the consumer stops or ctx ends.
func (s Sequencer) Sequence(ctx context.Context, question, sessionID string) iter.Seq[Envelope] {
	return func(yield func(Envelope) bool) {
		clock := s.Clock
		if clock == nil {
			clock = systemClock
		}
		pacer := s.Pacer
		if pacer == nil {
			pacer = Pacing{Scale: 1}
		}

		if !yield(Envelope{
			Kind:      KindQuestionReceived,
			SessionID: sessionID,
			Timestamp: clock(),
			Data:      map[string]any{"question": question, "status": "processing"},
		}) {
			return
		}
		if pacer.Pause(ctx, receivedPause) != nil {
			return
		}
		for _, st := range stages {
			if !yield(Envelope{
				Kind:      st.kind,
				SessionID: sessionID,
				Timestamp: clock(),
				Data:      map[string]any{"message": st.message, "progress": st.progress},
			}) {
				return
			}
			if pacer.Pause(ctx, st.pause) != nil {
				return
			}
		}
	}
}
