package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nvara/adscout/internal/llm"
	"github.com/nvara/adscout/internal/stream"
	"github.com/nvara/adscout/internal/tools"
)

// Runner launches orchestrator runs detached from the request context, so a
// client dropping its SSE connection does not kill the research in flight.
// Each run still gets its own deadline.
type Runner struct {
	client     llm.Client
	rec        Recorder
	pub        Publisher
	opts       Options
	runTimeout time.Duration
	logger     *zap.Logger
}

// NewRunner creates a runner. runTimeout bounds each detached run; zero
// means ten minutes.
func NewRunner(client llm.Client, rec Recorder, pub Publisher, opts Options, runTimeout time.Duration, logger *zap.Logger) *Runner {
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	return &Runner{
		client:     client,
		rec:        rec,
		pub:        pub,
		opts:       opts,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// Start kicks off a run in the background and returns its session id
// immediately. Progress flows through the emitter and the persistence layer.
func (r *Runner) Start(ctx context.Context, req RunRequest, registry *tools.Registry, emitter *stream.Emitter) string {
	orch := New(r.client, registry, r.rec, r.pub, r.opts, r.logger)
	sessionID := orch.SessionID(&req)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.runTimeout)
	go func() {
		defer cancel()
		if err := orch.Run(runCtx, req, emitter); err != nil {
			r.logger.Warn("background run ended with error",
				zap.String("session", sessionID), zap.Error(err))
		}
	}()
	return sessionID
}
