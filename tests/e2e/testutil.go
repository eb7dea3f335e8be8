package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

// Suppress unused import warning for testcontainers base package.
var _ = testcontainers.GenericContainerRequest{}

// Package-level shared state, set by TestMain.
var (
	testLogger   *zap.Logger
	testRedisURL string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
// testcontainers panics (instead of returning an error) when no Docker host
// can be found; recover it so TestMain's "skip when unavailable" path works.
func startPostgres(ctx context.Context) (_ string, _ func(), err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("start postgres: %v", r)
		}
	}()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("adscout_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// scriptedTurn is one chat-completion response of the stub LLM gateway.
type scriptedTurn struct {
	content  string
	toolName string
	toolArgs string
}

// startLLMStub serves OpenAI-compatible streaming completions, one scripted
// turn per request. Requests beyond the script replay the last turn.
func startLLMStub(turns []scriptedTurn) *httptest.Server {
	var calls atomic.Int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		turn := turns[len(turns)-1]
		if n <= len(turns) {
			turn = turns[n-1]
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		writeFrame := func(v interface{}) {
			b, _ := json.Marshal(v)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}

		if turn.content != "" {
			writeFrame(map[string]interface{}{
				"choices": []map[string]interface{}{
					{"delta": map[string]interface{}{"content": turn.content}},
				},
			})
		}
		if turn.toolName != "" {
			writeFrame(map[string]interface{}{
				"choices": []map[string]interface{}{
					{"delta": map[string]interface{}{
						"tool_calls": []map[string]interface{}{
							{
								"index": 0,
								"id":    fmt.Sprintf("call_%d", n),
								"function": map[string]interface{}{
									"name":      turn.toolName,
									"arguments": turn.toolArgs,
								},
							},
						},
					}},
				},
			})
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

// startResearchStub serves the ad library, vision, web search and blob
// storage endpoints the builtin tools call.
func startResearchStub() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ads", func(w http.ResponseWriter, r *http.Request) {
		writeStubJSON(w, map[string]interface{}{
			"ads": []map[string]interface{}{
				{
					"id":         "ad-1",
					"brand_name": r.URL.Query().Get("search_terms"),
					"headline":   "Glow up in 7 days",
					"video_url":  "https://cdn.example.com/ad-1.mp4",
				},
			},
		})
	})
	mux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
		writeStubJSON(w, map[string]interface{}{
			"analysis": map[string]interface{}{
				"hook_assessment": "strong problem-first hook",
				"visual_quality":  8,
				"key_messages":    []string{"fast results"},
				"cta_assessment":  "clear",
			},
		})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		writeStubJSON(w, map[string]interface{}{
			"results": []map[string]interface{}{
				{"title": "UGC trends", "url": "https://example.com/ugc", "snippet": "short hooks win"},
			},
		})
	})
	mux.HandleFunc("/object/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	return httptest.NewServer(mux)
}

func writeStubJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
