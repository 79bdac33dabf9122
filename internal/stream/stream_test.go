package stream

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestSplitRunesProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("fragments concatenate back to the input", prop.ForAll(
		func(text string, size int) bool {
			return strings.Join(SplitRunes(text, size), "") == text
		},
		gen.AnyString(),
		gen.IntRange(1, 40),
	))

	properties.Property("fragment count is the ceiling of runes over size", prop.ForAll(
		func(text string, size int) bool {
			runes := utf8.RuneCountInString(text)
			return len(SplitRunes(text, size)) == (runes+size-1)/size
		},
		gen.AnyString(),
		gen.IntRange(1, 40),
	))

	properties.Property("only the last fragment may be short", prop.ForAll(
		func(text string, size int) bool {
			fragments := SplitRunes(text, size)
			for i, fragment := range fragments {
				n := utf8.RuneCountInString(fragment)
				if n == 0 || n > size {
					return false
				}
				if i < len(fragments)-1 && n != size {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}

func TestSplitRunesKeepsMultibyteCharacters(t *testing.T) {
	require.Equal(t, []string{"héll", "ö wö", "rld"}, SplitRunes("héllö wörld", 4))
	require.Nil(t, SplitRunes("", 10))
	require.Nil(t, SplitRunes("abc", 0))
}

func TestSequenceEmitsStagesInOrder(t *testing.T) {
	seq := Sequencer{Pacer: Pacing{Scale: 0}, Clock: func() time.Time { return fixedTime }}
	envelopes := collect(seq.Sequence(context.Background(), "q", "s"))

	require.Equal(t, progressKinds(), kindsOf(envelopes))
	progress := []int{25, 50, 75, 90}
	for i, env := range envelopes[1:] {
		require.Equal(t, progress[i], env.Data["progress"])
		require.NotEmpty(t, env.Data["message"])
	}
}

type recordingPacer struct {
	pauses []time.Duration
}

func (p *recordingPacer) Pause(_ context.Context, d time.Duration) error {
	p.pauses = append(p.pauses, d)
	return nil
}

func TestSequencePausesBetweenStages(t *testing.T) {
	pacer := &recordingPacer{}
	collect(Sequencer{Pacer: pacer}.Sequence(context.Background(), "q", "s"))
	require.Equal(t, []time.Duration{
		500 * time.Millisecond,
		800 * time.Millisecond,
		600 * time.Millisecond,
		400 * time.Millisecond,
		300 * time.Millisecond,
	}, pacer.pauses)
}

func TestChunksSkipAnswerForRows(t *testing.T) {
	chunker := Chunker{Pacer: Pacing{Scale: 0}}
	result := Result{SQLQuery: "SELECT 1", Answer: RowsAnswer([]map[string]any{{"n": 1}})}
	envelopes := collect(chunker.Chunks(context.Background(), result, "s"))
	require.Equal(t, []Kind{KindSQLChunk}, kindsOf(envelopes))
	require.Equal(t, true, envelopes[0].Data["complete"])
}

func TestPacingHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Pacing{Scale: 1}.Pause(ctx, time.Hour), context.Canceled)
	require.ErrorIs(t, Pacing{Scale: 0}.Pause(ctx, time.Second), context.Canceled)
	require.NoError(t, Pacing{Scale: 0.001}.Pause(context.Background(), time.Millisecond))
}

func TestMonotonicClampsBackwardsClock(t *testing.T) {
	readings := []time.Time{fixedTime, fixedTime.Add(-time.Second), fixedTime.Add(time.Second)}
	i := 0
	clock := &monotonic{clock: func() time.Time {
		ts := readings[i]
		i++
		return ts
	}}
	require.Equal(t, fixedTime, clock.now())
	require.Equal(t, fixedTime, clock.now())
	require.Equal(t, fixedTime.Add(time.Second), clock.now())
}

func TestEnvelopeJSON(t *testing.T) {
	env := Envelope{Kind: KindSQLChunk, SessionID: "s", Timestamp: fixedTime, Data: map[string]any{"chunk": "SELECT * F", "complete": false}}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"sql_chunk","session_id":"s","timestamp":"2026-03-01T12:00:00Z","data":{"chunk":"SELECT * F","complete":false}}`, string(raw))

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, KindSQLChunk, decoded.Kind)
	require.True(t, decoded.Timestamp.Equal(fixedTime))

	raw, err = json.Marshal(Envelope{Kind: KindDone, Timestamp: fixedTime})
	require.NoError(t, err)
	require.Contains(t, string(raw), `"data":{}`)

	require.Error(t, json.Unmarshal([]byte(`{"event":"bogus","timestamp":"2026-03-01T12:00:00Z"}`), &decoded))
	require.True(t, KindDone.Terminal())
	require.False(t, KindSQLChunk.Terminal())
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	msgs []any
}

func (s *fakeSender) Send(_ context.Context, msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func TestBroadcastEvictsFailedConnections(t *testing.T) {
	registry := NewRegistry()
	good1, good2 := &fakeSender{}, &fakeSender{}
	registry.Register("a", good1)
	registry.Register("b", &fakeSender{err: errors.New("broken pipe")})
	registry.Register("c", good2)

	delivered := registry.Broadcast(context.Background(), map[string]any{"type": "notice"})
	require.Equal(t, 2, delivered)
	require.Equal(t, 2, registry.Len())
	require.Equal(t, []string{"a", "c"}, registry.IDs())
	require.Len(t, good1.msgs, 1)
	require.Len(t, good2.msgs, 1)
}

func TestRegistrySend(t *testing.T) {
	registry := NewRegistry()
	require.ErrorIs(t, registry.Send(context.Background(), "missing", "x"), ErrUnknownConnection)

	sender := &fakeSender{}
	registry.Register("a", sender)
	require.NoError(t, registry.Send(context.Background(), "a", "x"))
	require.Equal(t, []any{"x"}, sender.msgs)

	sender.err = errors.New("closed")
	require.Error(t, registry.Send(context.Background(), "a", "y"))
	require.Zero(t, registry.Len())
}

func TestEvictionKeepsReplacementRegistration(t *testing.T) {
	registry := NewRegistry()
	broken := &fakeSender{err: errors.New("closed")}
	registry.Register("a", broken)

	registry.mu.RLock()
	stale := registry.conns["a"]
	registry.mu.RUnlock()

	replacement := &fakeSender{}
	registry.Register("a", replacement)
	registry.evict(map[string]*registration{"a": stale})

	require.Equal(t, 1, registry.Len())
	require.NoError(t, registry.Send(context.Background(), "a", "hello"))
	require.Equal(t, []any{"hello"}, replacement.msgs)
}

func TestRegistryConcurrentUse(t *testing.T) {
	registry := NewRegistry()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i))
			registry.Register(id, &fakeSender{})
			registry.Broadcast(context.Background(), i)
			if i%2 == 0 {
				registry.Unregister(id)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 10, registry.Len())
}
