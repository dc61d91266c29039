package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BeadExecutor runs a bead's phase and returns its output payload. A Worker
// runs every bead through the one executor it was constructed with.
type BeadExecutor interface {
	Execute(ctx context.Context, spec BeadSpec) (map[string]any, error)
}

// BeadSpec is the subset of a bead's definition an executor needs: the
// target, method, and templated body/headers resolved against prior phase
// outputs.
type BeadSpec struct {
	BeadID  string
	URL     string
	Method  string
	Body    map[string]any
	Headers map[string]string
}

// headerCarrier adapts http.Header for OpenTelemetry trace propagation.
type headerCarrier struct{ header http.Header }

func (hc *headerCarrier) Get(key string) string { return hc.header.Get(key) }
func (hc *headerCarrier) Set(key, value string) { hc.header.Set(key, value) }
func (hc *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(hc.header))
	for k := range hc.header {
		keys = append(keys, k)
	}
	return keys
}

// HTTPExecutor executes a bead as a pooled HTTP request, the only executor
// kind implemented in this package; other kinds (script, policy) are not
// implemented here and would be separate BeadExecutor implementations passed
// to NewWorker.
type HTTPExecutor struct {
	client *http.Client
	tracer trace.Tracer
}

// NewHTTPExecutor constructs an executor with a pooled client, or a default
// one with conservative idle-connection limits if client is nil.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPExecutor{client: client, tracer: otel.Tracer("oya-worker-http")}
}

func (e *HTTPExecutor) Execute(ctx context.Context, spec BeadSpec) (map[string]any, error) {
	ctx, span := e.tracer.Start(ctx, "bead.execute",
		trace.WithAttributes(
			attribute.String("url", spec.URL),
			attribute.String("bead_id", spec.BeadID),
		),
	)
	defer span.End()

	var body io.Reader
	if spec.Body != nil {
		bodyJSON, err := json.Marshal(spec.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(bodyJSON)
	}

	method := spec.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, spec.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bead-ID", spec.BeadID)
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, &headerCarrier{req.Header})

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http error %d: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			result = map[string]any{"body": string(respBody), "status_code": resp.StatusCode}
		}
	} else {
		result = map[string]any{"status_code": resp.StatusCode}
	}
	return result, nil
}
