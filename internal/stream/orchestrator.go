package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askmesh/askmesh/internal/chart"
	"github.com/askmesh/askmesh/internal/nl2sql"
	"github.com/askmesh/askmesh/internal/observability"
	"github.com/askmesh/askmesh/internal/query"
)

type Visualizer interface {
	Render(rows []map[string]any, question, chartType string) (*chart.Visualization, error)
}

type Request struct {
	Question          string
	ChartType         string
	SkipVisualization bool
}

type Options struct {
	Translator nl2sql.Translator
	Engine     query.Engine
	Visualizer Visualizer
	Logger     *slog.Logger
	Pacer      Pacer
	Clock      Clock
	NewID      func() string
	RowLimit   int
	// Schema, when set, is described once and sent to the translator as
	// live table context with SchemaSamples sample rows per table.
	Schema        query.Describer
	SchemaSamples int
}

// Orchestrator resolves questions. Resolve is the synchronous path and
// Stream wraps the same resolution in progress and chunk envelopes.
type Orchestrator struct {
	translator nl2sql.Translator
	engine     query.Engine
	visualizer Visualizer
	logger     *slog.Logger
	pacer      Pacer
	clock      Clock
	newID      func() string
	rowLimit   int

	schema        query.Describer
	schemaSamples int
	schemaMu      sync.Mutex
	tables        []nl2sql.TableContext
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Translator == nil {
		return nil, errors.New("translator is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("query engine is required")
	}
	o := &Orchestrator{
		translator:    opts.Translator,
		engine:        query.ReadOnly(opts.Engine),
		visualizer:    opts.Visualizer,
		logger:        opts.Logger,
		pacer:         opts.Pacer,
		clock:         opts.Clock,
		newID:         opts.NewID,
		rowLimit:      opts.RowLimit,
		schema:        opts.Schema,
		schemaSamples: opts.SchemaSamples,
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.pacer == nil {
		o.pacer = Pacing{Scale: 1}
	}
	if o.clock == nil {
		o.clock = systemClock
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o, nil
}

// Resolve translates, executes and visualizes one question. Translator and
// engine failures are returned as *CollaboratorError. A statement the
// database rejects becomes a text answer, and visualization failures only
// drop the visualization.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) (Result, error) {
	logger := observability.LoggerWithTrace(ctx, o.logger)
	result := Result{Question: req.Question}

	translated, err := o.translate(ctx, req.Question)
	if err != nil {
		o.recordFailure(ctx, logger, KindGeneratingSQL, err)
		return Result{}, &CollaboratorError{Stage: KindGeneratingSQL, Err: err}
	}
	result.SQLQuery = nl2sql.CleanSQL(translated.SQL)
	if result.SQLQuery == "" {
		observability.IncrementCollaboratorFailure(string(KindGeneratingSQL))
		return Result{}, &CollaboratorError{Stage: KindGeneratingSQL, Err: errors.New("translator returned empty SQL")}
	}

	executed, err := o.execute(ctx, result.SQLQuery)
	switch {
	case err == nil:
		result.Answer = RowsAnswer(executed.Records())
		logger.InfoContext(ctx, "query executed",
			slog.Int("rows", len(executed.Rows)),
			slog.String("duration", executed.Duration.String()),
		)
	case query.IsExecutionError(err):
		result.Answer = TextAnswer("SQL Execution Error: " + err.Error())
		logger.WarnContext(ctx, "sql execution error", slog.String("sql", result.SQLQuery), slog.String("error", err.Error()))
	default:
		o.recordFailure(ctx, logger, KindExecutingQuery, err)
		return Result{}, &CollaboratorError{Stage: KindExecutingQuery, Err: err}
	}

	if rows, ok := result.Answer.Rows(); ok && len(rows) > 0 && !req.SkipVisualization && o.visualizer != nil {
		viz, err := o.visualize(rows, req)
		if err != nil {
			observability.IncrementCollaboratorFailure(string(KindGeneratingVisualization))
			logger.WarnContext(ctx, "visualization failed", slog.String("error", err.Error()))
		} else {
			result.Visualization = viz
		}
	}
	return result, nil
}

// Stream yields the progress stages, then either one error envelope or
// response_complete, the chunks and done. Production stops as soon as the
// consumer stops or ctx is cancelled.
func (o *Orchestrator) Stream(ctx context.Context, req Request) iter.Seq[Envelope] {
	return func(yield func(Envelope) bool) {
		sessionID := o.newID()
		ctx := observability.ContextWithTraceID(ctx, traceOrSession(ctx, sessionID))
		clock := &monotonic{clock: o.clock}
		emit := func(env Envelope) bool {
			if env.Timestamp.IsZero() {
				env.Timestamp = clock.now()
			} else {
				env.Timestamp = clock.clamp(env.Timestamp)
			}
			observability.ObserveEnvelope(string(env.Kind))
			return yield(env)
		}

		sequencer := Sequencer{Pacer: o.pacer, Clock: o.clock}
		for env := range sequencer.Sequence(ctx, req.Question, sessionID) {
			if !emit(env) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		result, err := o.Resolve(ctx, req)
		if err != nil {
			emit(ErrorEnvelope(sessionID, err))
			return
		}
		if !emit(Envelope{Kind: KindResponseComplete, SessionID: sessionID, Data: result.data()}) {
			return
		}

		chunker := Chunker{Pacer: o.pacer, Clock: o.clock}
		for env := range chunker.Chunks(ctx, result, sessionID) {
			if !emit(env) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		emit(Envelope{
			Kind:      KindDone,
			SessionID: sessionID,
			Data:      map[string]any{"status": "complete", "progress": 100},
		})
	}
}

// recordFailure counts and logs a collaborator failure. A caller that went
// away is not a collaborator failure.
func (o *Orchestrator) recordFailure(ctx context.Context, logger *slog.Logger, stage Kind, err error) {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		logger.DebugContext(ctx, "question abandoned", slog.String("stage", string(stage)), slog.String("error", err.Error()))
		return
	}
	observability.IncrementCollaboratorFailure(string(stage))
	logger.ErrorContext(ctx, string(stage)+" failed", slog.String("error", err.Error()))
}

func (o *Orchestrator) translate(ctx context.Context, question string) (result nl2sql.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("translator panic: %v", r)
		}
	}()
	start := time.Now()
	result, err = o.translator.Translate(ctx, nl2sql.Request{Question: question, Tables: o.liveTables(ctx)})
	if err == nil {
		observability.ObserveTranslation(result.Provider, time.Since(start))
	}
	return result, err
}

func (o *Orchestrator) execute(ctx context.Context, sqlText string) (result query.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("query engine panic: %v", r)
		}
	}()
	return o.engine.Execute(ctx, query.Request{SQL: sqlText, RowLimit: o.rowLimit})
}

func (o *Orchestrator) visualize(rows []map[string]any, req Request) (viz *chart.Visualization, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("visualizer panic: %v", r)
		}
	}()
	return o.visualizer.Render(rows, req.Question, req.ChartType)
}

// liveTables describes the dataset once. A failed describe is retried on
// the next question.
func (o *Orchestrator) liveTables(ctx context.Context) []nl2sql.TableContext {
	if o.schema == nil {
		return nil
	}
	o.schemaMu.Lock()
	defer o.schemaMu.Unlock()
	if o.tables != nil {
		return o.tables
	}
	tables, err := o.schema.Describe(ctx, o.schemaSamples)
	if err != nil {
		observability.LoggerWithTrace(ctx, o.logger).WarnContext(ctx, "describe dataset failed", slog.String("error", err.Error()))
		return nil
	}
	contexts := make([]nl2sql.TableContext, 0, len(tables))
	for _, table := range tables {
		columns := make([]string, 0, len(table.Columns))
		for _, column := range table.Columns {
			columns = append(columns, column.Name)
		}
		contexts = append(contexts, nl2sql.TableContext{TableName: table.Name, Columns: columns, SampleRows: table.SampleRows})
	}
	o.tables = contexts
	return o.tables
}

func traceOrSession(ctx context.Context, sessionID string) string {
	if traceID := observability.TraceIDFromContext(ctx); traceID != "" {
		return traceID
	}
	return sessionID
}
