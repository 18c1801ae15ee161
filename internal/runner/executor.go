package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/agentfleet/job-runner/internal/domain/model"
)

// Executor runs a claimed job and produces a result summary. Implementations
// never write to the record store; all terminal writes go through the
// committer so outcome recording stays uniform.
type Executor interface {
	Execute(ctx context.Context, rec *model.JobRecord) (string, error)
}

// HandlerFunc executes one deterministic job type and returns its summary.
type HandlerFunc func(ctx context.Context, rec *model.JobRecord) (string, error)

// Registry maps job type tags to handler capabilities. Registration happens
// at process startup; lookups afterwards are read-only and safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates a Registry with the built-in handlers registered.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]HandlerFunc)}
	r.Register("ping", handleGenericJob)
	r.Register("echo", handleEchoJob)
	return r
}

// Register binds a handler to a job type tag, replacing any existing binding.
func (r *Registry) Register(jobType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Resolve returns the handler for a job type tag.
func (r *Registry) Resolve(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the registered job type tags, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func handleGenericJob(_ context.Context, rec *model.JobRecord) (string, error) {
	return fmt.Sprintf("deterministic job executed: type=%s", rec.Type), nil
}

func handleEchoJob(_ context.Context, rec *model.JobRecord) (string, error) {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return "", fmt.Errorf("decode echo payload: %w", err)
	}
	return "echo: " + payload.Message, nil
}

// DeterministicExecutor dispatches on the claimed record's type field via the
// handler registry.
type DeterministicExecutor struct {
	registry *Registry
}

// NewDeterministicExecutor creates an executor over the given registry.
// A nil registry gets the built-in defaults.
func NewDeterministicExecutor(registry *Registry) *DeterministicExecutor {
	if registry == nil {
		registry = NewRegistry()
	}
	return &DeterministicExecutor{registry: registry}
}

// Execute resolves and runs the handler for the record's type.
func (e *DeterministicExecutor) Execute(ctx context.Context, rec *model.JobRecord) (string, error) {
	h, ok := e.registry.Resolve(rec.Type)
	if !ok {
		return "", fmt.Errorf("no handler registered for job type %q", rec.Type)
	}
	return h(ctx, rec)
}

const maxAckBodyBytes = 4 * 1024 // bound stored acknowledgement payloads

// ErrWebhookNotConfigured is returned per job when delegated mode runs
// without an endpoint. Configuration is read at startup but surfaced here so
// a misconfigured runner records failures instead of crashing.
var ErrWebhookNotConfigured = errors.New("webhook endpoint required")

// DelegatedExecutor forwards the claimed record's identifying fields to a
// configured agent webhook and treats the synchronous acknowledgement as the
// result summary.
type DelegatedExecutor struct {
	endpoint string
	ackExpr  string
	client   *http.Client
}

// DelegatedExecutorOptions configures a DelegatedExecutor.
type DelegatedExecutorOptions struct {
	// Endpoint is the agent webhook URL. May be empty; execution then fails
	// per job with ErrWebhookNotConfigured.
	Endpoint string
	// AckExpression is an optional JMESPath expression applied to a JSON
	// response body to extract the acknowledgement summary.
	AckExpression string
	HTTPClient    *http.Client
	Timeout       time.Duration
}

// NewDelegatedExecutor creates a webhook-backed executor. An invalid
// AckExpression is a construction error since it is fixed for the process.
func NewDelegatedExecutor(opts DelegatedExecutorOptions) (*DelegatedExecutor, error) {
	if opts.AckExpression != "" {
		if _, err := jmespath.Compile(opts.AckExpression); err != nil {
			return nil, fmt.Errorf("compile ack expression: %w", err)
		}
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &DelegatedExecutor{
		endpoint: strings.TrimSpace(opts.Endpoint),
		ackExpr:  opts.AckExpression,
		client:   hc,
	}, nil
}

type webhookRequest struct {
	JobID     string `json:"job_id"`
	Namespace string `json:"namespace"`
	Type      string `json:"type,omitempty"`
}

// Execute posts the job's identifying fields to the webhook and returns the
// acknowledgement. Transport failures and non-2xx statuses surface as errors
// for the committer to record.
func (e *DelegatedExecutor) Execute(ctx context.Context, rec *model.JobRecord) (string, error) {
	if e.endpoint == "" {
		return "", ErrWebhookNotConfigured
	}

	body, err := json.Marshal(webhookRequest{
		JobID:     rec.JobID,
		Namespace: rec.Namespace,
		Type:      rec.Type,
	})
	if err != nil {
		return "", fmt.Errorf("encode webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	ack, err := io.ReadAll(io.LimitReader(resp.Body, maxAckBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read webhook response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return e.summarizeAck(rec, ack), nil
}

// summarizeAck derives the result summary from the webhook response,
// preferring the configured JMESPath extraction when the body is JSON.
func (e *DelegatedExecutor) summarizeAck(rec *model.JobRecord, ack []byte) string {
	trimmed := strings.TrimSpace(string(ack))
	if trimmed == "" {
		return fmt.Sprintf("agent job accepted by webhook (job_id=%s)", rec.JobID)
	}

	if e.ackExpr != "" {
		var doc any
		if err := json.Unmarshal(ack, &doc); err == nil {
			if extracted, searchErr := jmespath.Search(e.ackExpr, doc); searchErr == nil && extracted != nil {
				if s, ok := extracted.(string); ok && s != "" {
					return s
				}
			}
		}
	}

	return trimmed
}
