// Package agent drives the ReAct loop: the model reasons, requests tool
// calls, observes their results, and repeats until it finishes or runs out
// of iterations. Every step is persisted and streamed as it happens.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nvara/adscout/internal/llm"
	"github.com/nvara/adscout/internal/store"
	"github.com/nvara/adscout/internal/stream"
	"github.com/nvara/adscout/internal/tools"
)

// Recorder is the persistence surface the loop writes through. Failures on
// any of these writes are reported and swallowed; the run's correctness only
// depends on final state eventually landing.
type Recorder interface {
	UpsertSession(ctx context.Context, sess *store.Session) error
	UpdateSessionProgress(ctx context.Context, id, currentStep string, progress int) error
	SetSessionMetadata(ctx context.Context, id string, meta map[string]interface{}) error
	FinalizeSession(ctx context.Context, id, status string, progress int, errMsg string) error
	InsertLogEntry(ctx context.Context, e *store.LogEntry) error
	CreateMessage(ctx context.Context, m *store.ChatMessage) (string, error)
	UpdateMessageContent(ctx context.Context, id, content string) error
	FinalizeMessage(ctx context.Context, id, content string) error
}

// Publisher pushes log entries onto the realtime feed. May be nil.
type Publisher interface {
	PublishEntry(ctx context.Context, e *store.LogEntry) error
}

// Options bound and tune one run.
type Options struct {
	Model                 string
	MaxIterations         int
	ImplicitCompletionLen int
	WriteThrottle         int
	Temperature           float64
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 10
	}
	if o.ImplicitCompletionLen <= 0 {
		o.ImplicitCompletionLen = 300
	}
	if o.WriteThrottle <= 0 {
		o.WriteThrottle = 200
	}
	return o
}

// RunRequest is one inbound research task.
type RunRequest struct {
	SessionID    string   `json:"session_id,omitempty"`
	UserID       string   `json:"user_id"`
	Prompt       string   `json:"prompt"`
	BrandName    string   `json:"brand_name,omitempty"`
	AttachedURLs []string `json:"attached_urls,omitempty"`
}

// Orchestrator owns one session's loop. Construct per run.
type Orchestrator struct {
	client   llm.Client
	registry *tools.Registry
	rec      Recorder
	pub      Publisher
	opts     Options
	logger   *zap.Logger
}

// New creates an orchestrator.
func New(client llm.Client, registry *tools.Registry, rec Recorder, pub Publisher, opts Options, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		client:   client,
		registry: registry,
		rec:      rec,
		pub:      pub,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

const systemPrompt = `You are an ad-creative research agent. You audit a brand's competitor ad creatives and synthesize findings into UGC ad recommendations.
Always call the plan tool first. Use the other tools to gather evidence, then synthesize_report, then complete_task when the results are delivered.`

// runState is the per-run mutable state threaded through the loop.
type runState struct {
	sessionID   string
	assistantID string
	startedAt   time.Time
	messages    []llm.Message
	transcript  strings.Builder
	lastWritten int
	lastTurnLen int
	iteration   int
	complete    bool
	finalized   bool
	emitter     *stream.Emitter
}

// Run executes the loop to completion. It always finalizes session, message
// and stream state exactly once, on every path including panics.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest, emitter *stream.Emitter) (err error) {
	st := &runState{
		sessionID: req.SessionID,
		startedAt: time.Now(),
		emitter:   emitter,
	}
	if st.sessionID == "" {
		st.sessionID = uuid.New().String()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("orchestrator panic: %v", rec)
		}
		// Finalization writes must survive the run context dying, notably
		// the run-timeout path; give them their own bounded context.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		o.finalize(fctx, st, err)
	}()

	o.initSession(ctx, st, req)

	for st.iteration = 1; st.iteration <= o.opts.MaxIterations && !st.complete; st.iteration++ {
		calls, turnErr := o.reasoningTurn(ctx, st)
		if turnErr != nil {
			return turnErr
		}

		if len(calls) == 0 {
			// Implicit completion: the model "just answered" with a long
			// enough turn, or we are one iteration from the ceiling. Only
			// this turn's text counts; short answers must not accumulate
			// into a completion signal across iterations.
			if st.lastTurnLen >= o.opts.ImplicitCompletionLen || st.iteration >= o.opts.MaxIterations-1 {
				st.complete = true
			}
			continue
		}

		for _, call := range calls {
			o.executeTool(ctx, st, call)
		}
	}

	return nil
}

// SessionID returns the id assigned to a request before running it.
func (o *Orchestrator) SessionID(req *RunRequest) string {
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	return req.SessionID
}

func (o *Orchestrator) initSession(ctx context.Context, st *runState, req RunRequest) {
	title := req.Prompt
	if r := []rune(title); len(r) > 80 {
		title = string(r[:77]) + "..."
	}

	sess := &store.Session{
		ID:          st.sessionID,
		UserID:      req.UserID,
		Status:      store.SessionRunning,
		CurrentStep: "initializing",
		Progress:    0,
		Title:       title,
		Metadata: map[string]interface{}{
			"model":      o.opts.Model,
			"brand_name": req.BrandName,
			"started_at": time.Now().Format(time.RFC3339),
		},
	}
	if err := o.rec.UpsertSession(ctx, sess); err != nil {
		o.logger.Warn("session upsert failed", zap.String("session", st.sessionID), zap.Error(err))
	}

	if _, err := o.rec.CreateMessage(ctx, &store.ChatMessage{
		SessionID: st.sessionID,
		Role:      "user",
		Content:   req.Prompt,
	}); err != nil {
		o.logger.Warn("user message insert failed", zap.Error(err))
	}

	assistant := &store.ChatMessage{
		SessionID:   st.sessionID,
		Role:        "assistant",
		Content:     "",
		IsStreaming: true,
	}
	id, err := o.rec.CreateMessage(ctx, assistant)
	if err != nil {
		o.logger.Warn("assistant message insert failed", zap.Error(err))
	}
	st.assistantID = id

	userContent := req.Prompt
	if req.BrandName != "" {
		userContent += "\n\nBrand to audit: " + req.BrandName
	}
	if len(req.AttachedURLs) > 0 {
		userContent += "\nAttached URLs: " + strings.Join(req.AttachedURLs, ", ")
	}
	st.messages = []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userContent},
	}

	st.emitter.Update("session_started", "initializing", map[string]interface{}{
		"session_id": st.sessionID,
		"progress":   0,
	})
}

// progressFor maps the iteration count onto a coarse percentage, capped
// below 100 until finalization.
func (o *Orchestrator) progressFor(iteration int) int {
	p := 10 + iteration*80/o.opts.MaxIterations
	if p > 90 {
		p = 90
	}
	return p
}

// reasoningTurn runs one Think step: stream the model's response, mirror
// tokens to the transcript, and assemble any tool calls.
func (o *Orchestrator) reasoningTurn(ctx context.Context, st *runState) ([]llm.ToolCall, error) {
	stepName := fmt.Sprintf("reasoning_%d", st.iteration)
	progress := o.progressFor(st.iteration)
	started := time.Now()

	if err := o.rec.UpdateSessionProgress(ctx, st.sessionID, stepName, progress); err != nil {
		o.logger.Warn("progress update failed", zap.Error(err))
	}
	o.logStep(ctx, st, &store.LogEntry{
		SessionID: st.sessionID,
		StepName:  stepName,
		Status:    store.StepStarted,
		InputData: map[string]interface{}{
			"iteration": st.iteration,
			"icon":      "brain",
			"progress":  progress,
		},
	})
	st.emitter.Update("step_started", stepName, map[string]interface{}{
		"iteration": st.iteration,
		"icon":      "brain",
		"progress":  progress,
	})

	events, err := o.client.ChatStream(ctx, &llm.ChatRequest{
		Model:       o.opts.Model,
		Messages:    st.messages,
		Temperature: o.opts.Temperature,
		Tools:       o.registry.Definitions(),
		ToolChoice:  "auto",
	})
	if err != nil {
		o.logStep(ctx, st, &store.LogEntry{
			SessionID:    st.sessionID,
			StepName:     stepName,
			Status:       store.StepFailed,
			ErrorMessage: err.Error(),
			DurationMs:   time.Since(started).Milliseconds(),
		})
		st.emitter.Update("step_failed", stepName, map[string]interface{}{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("reasoning turn %d: %w", st.iteration, err)
	}

	acc := llm.NewAccumulator()
	var turnText strings.Builder
	for ev := range events {
		if ev.Token != "" {
			turnText.WriteString(ev.Token)
			st.transcript.WriteString(ev.Token)
			st.emitter.Token(ev.Token, st.transcript.String())
			o.mirrorTranscript(ctx, st, false)
		}
		for _, d := range ev.ToolDeltas {
			acc.Apply(d)
		}
	}

	o.mirrorTranscript(ctx, st, true)
	st.lastTurnLen = turnText.Len()

	calls, dropped := acc.Finalize()
	if dropped > 0 {
		o.logger.Warn("dropped malformed tool calls",
			zap.String("session", st.sessionID), zap.Int("dropped", dropped))
	}

	st.messages = append(st.messages, llm.Message{
		Role:      "assistant",
		Content:   turnText.String(),
		ToolCalls: calls,
	})

	o.logStep(ctx, st, &store.LogEntry{
		SessionID: st.sessionID,
		StepName:  stepName,
		Status:    store.StepCompleted,
		OutputData: map[string]interface{}{
			"content_length": turnText.Len(),
			"tool_calls":     len(calls),
		},
		DurationMs: time.Since(started).Milliseconds(),
	})
	st.emitter.Update("step_completed", stepName, map[string]interface{}{
		"iteration":  st.iteration,
		"tool_calls": len(calls),
		"progress":   progress,
	})

	return calls, nil
}

// executeTool runs one Act step and feeds the observation back into the
// conversation. Tool failures are observations, never loop aborts.
func (o *Orchestrator) executeTool(ctx context.Context, st *runState, call llm.ToolCall) {
	name := call.Function.Name
	started := time.Now()
	progress := o.progressFor(st.iteration)

	var argsPreview map[string]interface{}
	json.Unmarshal([]byte(call.Function.Arguments), &argsPreview)

	o.logStep(ctx, st, &store.LogEntry{
		SessionID: st.sessionID,
		StepName:  name,
		Status:    store.StepStarted,
		ToolName:  name,
		InputData: map[string]interface{}{
			"arguments": argsPreview,
			"icon":      tools.Icon(name),
			"progress":  progress,
		},
	})
	st.emitter.Update("step_started", name, map[string]interface{}{
		"tool":     name,
		"icon":     tools.Icon(name),
		"progress": progress,
	})

	result := o.registry.Execute(ctx, name, json.RawMessage(call.Function.Arguments))
	duration := time.Since(started).Milliseconds()

	if result.Success {
		o.logStep(ctx, st, &store.LogEntry{
			SessionID:  st.sessionID,
			StepName:   name,
			Status:     store.StepCompleted,
			ToolName:   name,
			OutputData: result.Data,
			DurationMs: duration,
		})
		st.emitter.Update("step_completed", name, map[string]interface{}{
			"tool":     name,
			"icon":     tools.Icon(name),
			"progress": progress,
		})
		st.emitter.Custom("tool_result", map[string]interface{}{
			"tool":   name,
			"input":  argsPreview,
			"output": result.Data,
		})
	} else {
		o.logStep(ctx, st, &store.LogEntry{
			SessionID:    st.sessionID,
			StepName:     name,
			Status:       store.StepFailed,
			ToolName:     name,
			ErrorMessage: result.Error,
			DurationMs:   duration,
		})
		st.emitter.Update("step_failed", name, map[string]interface{}{
			"tool":  name,
			"icon":  tools.Icon(name),
			"error": result.Error,
		})
	}

	switch {
	case name == tools.PlanTool && result.Success:
		if err := o.rec.SetSessionMetadata(ctx, st.sessionID, map[string]interface{}{"plan": result.Data}); err != nil {
			o.logger.Warn("plan metadata update failed", zap.Error(err))
		}
		st.emitter.Custom("plan_created", result.Data)
	case name == tools.TerminalTool && result.Success:
		st.complete = true
	}

	st.messages = append(st.messages, llm.Message{
		Role:       "tool",
		Content:    result.JSON(),
		ToolCallID: call.ID,
	})
}

// mirrorTranscript writes the assistant row's content snapshot. Throttled
// by content length so streaming doesn't turn into one DB write per token.
func (o *Orchestrator) mirrorTranscript(ctx context.Context, st *runState, force bool) {
	if st.assistantID == "" {
		return
	}
	content := st.transcript.String()
	if !force && len(content)-st.lastWritten < o.opts.WriteThrottle {
		return
	}
	st.lastWritten = len(content)
	if err := o.rec.UpdateMessageContent(ctx, st.assistantID, content); err != nil {
		o.logger.Warn("transcript mirror failed", zap.Error(err))
	}
}

// finalize transitions everything to a terminal state exactly once.
func (o *Orchestrator) finalize(ctx context.Context, st *runState, runErr error) {
	if st.finalized {
		return
	}
	st.finalized = true

	content := st.transcript.String()
	if content == "" {
		if runErr != nil {
			content = "The research run failed before producing a response."
		} else {
			content = "Research run finished."
		}
	}
	if st.assistantID != "" {
		if err := o.rec.FinalizeMessage(ctx, st.assistantID, content); err != nil {
			o.logger.Warn("assistant finalize failed", zap.Error(err))
		}
	}

	iterations := st.iteration
	if iterations > o.opts.MaxIterations {
		iterations = o.opts.MaxIterations
	}
	if err := o.rec.SetSessionMetadata(ctx, st.sessionID, map[string]interface{}{
		"iterations":  iterations,
		"duration_ms": time.Since(st.startedAt).Milliseconds(),
	}); err != nil {
		o.logger.Warn("session metadata update failed", zap.Error(err))
	}

	if runErr != nil {
		if err := o.rec.FinalizeSession(ctx, st.sessionID, store.SessionFailed, 0, runErr.Error()); err != nil {
			o.logger.Error("session finalize failed", zap.String("session", st.sessionID), zap.Error(err))
		}
		st.emitter.Emit(stream.Event{
			Mode: stream.ModeUpdates,
			Type: "error",
			Data: map[string]interface{}{"error": runErr.Error()},
		})
		st.emitter.Update("session_failed", "finalizing", map[string]interface{}{
			"session_id": st.sessionID,
			"error":      runErr.Error(),
		})
		o.logger.Error("run failed",
			zap.String("session", st.sessionID), zap.Error(runErr))
	} else {
		if err := o.rec.FinalizeSession(ctx, st.sessionID, store.SessionCompleted, 100, ""); err != nil {
			o.logger.Error("session finalize failed", zap.String("session", st.sessionID), zap.Error(err))
		}
		st.emitter.Update("session_completed", "finalizing", map[string]interface{}{
			"session_id": st.sessionID,
			"progress":   100,
		})
		o.logger.Info("run completed",
			zap.String("session", st.sessionID), zap.Int("iterations", iterations))
	}

	st.emitter.Close()
}

// logStep persists and publishes one log entry, best effort on both.
func (o *Orchestrator) logStep(ctx context.Context, st *runState, e *store.LogEntry) {
	if err := o.rec.InsertLogEntry(ctx, e); err != nil {
		o.logger.Warn("log entry insert failed",
			zap.String("session", st.sessionID), zap.String("step", e.StepName), zap.Error(err))
	}
	if o.pub != nil {
		if err := o.pub.PublishEntry(ctx, e); err != nil {
			o.logger.Warn("log entry publish failed",
				zap.String("session", st.sessionID), zap.Error(err))
		}
	}
}
