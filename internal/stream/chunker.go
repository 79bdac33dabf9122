package stream

import (
	"context"
	"iter"
	"time"
)

const (
	SQLChunkSize    = 10
	AnswerChunkSize = 20

	sqlChunkPause    = 100 * time.Millisecond
	answerChunkPause = 50 * time.Millisecond
)

// SplitRunes splits text into consecutive fragments of at most size runes.
// Concatenating the fragments yields text. Empty text yields no fragments.
func SplitRunes(text string, size int) []string {
	if text == "" || size <= 0 {
		return nil
	}
	runes := []rune(text)
	fragments := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		fragments = append(fragments, string(runes[start:end]))
	}
	return fragments
}

// Chunker re-emits a completed result as small fragments to simulate
// typing.
type Chunker struct {
	Pacer Pacer
	Clock Clock
}

// Chunks yields sql_chunk envelopes for the SQL text, then answer_chunk
// envelopes when the answer is text. Row answers produce no answer chunks.
func (c Chunker) Chunks(ctx context.Context, result Result, sessionID string) iter.Seq[Envelope] {
	return func(yield func(Envelope) bool) {
		clock := c.Clock
		if clock == nil {
			clock = systemClock
		}
		pacer := c.Pacer
		if pacer == nil {
			pacer = Pacing{Scale: 1}
		}

		emit := func(kind Kind, text string, size int, pause time.Duration) bool {
			fragments := SplitRunes(text, size)
			for i, fragment := range fragments {
				if !yield(Envelope{
					Kind:      kind,
					SessionID: sessionID,
					Timestamp: clock(),
					Data:      map[string]any{"chunk": fragment, "complete": i == len(fragments)-1},
				}) {
					return false
				}
				if pacer.Pause(ctx, pause) != nil {
					return false
				}
			}
			return true
		}

		if !emit(KindSQLChunk, result.SQLQuery, SQLChunkSize, sqlChunkPause) {
			return
		}
		if text, ok := result.Answer.Text(); ok {
			emit(KindAnswerChunk, text, AnswerChunkSize, answerChunkPause)
		}
	}
}
