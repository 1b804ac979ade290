package opensearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"auditlog/metrics"
)

// Response is an engine reply with its body already read.
type Response struct {
	StatusCode int
	Body       []byte
}

// Acknowledged reports a 2xx reply.
func (r *Response) Acknowledged() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the reply body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Future is a reply that is available now or later.
type Future interface {
	Wait(ctx context.Context) (*Response, error)
	// Deferred is true when the request was dispatched without waiting for it.
	Deferred() bool
}

// Executor sends engine requests. A blocking executor hands back resolved
// futures; an async one hands back deferred futures.
type Executor interface {
	Execute(ctx context.Context, req opensearchapi.Request) Future
	IsAsync() bool
}

// Await returns the immediate reply held by f, or ErrAsyncNotSupported if f is deferred.
func Await(ctx context.Context, f Future) (*Response, error) {
	if f.Deferred() {
		return nil, ErrAsyncNotSupported
	}
	return f.Wait(ctx)
}

// Resolved wraps an already known reply.
func Resolved(res *Response, err error) Future {
	return resolved{res: res, err: err}
}

type resolved struct {
	res *Response
	err error
}

func (r resolved) Wait(context.Context) (*Response, error) { return r.res, r.err }
func (r resolved) Deferred() bool                           { return false }

type pending struct {
	done chan struct{}
	res  *Response
	err  error
}

func (p *pending) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-p.done:
		return p.res, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pending) Deferred() bool { return true }

// Blocking adapts e so every future it returns is already resolved.
func Blocking(e Executor) Executor {
	if !e.IsAsync() {
		return e
	}
	return blocking{inner: e}
}

type blocking struct {
	inner Executor
}

func (b blocking) Execute(ctx context.Context, req opensearchapi.Request) Future {
	return Resolved(b.inner.Execute(ctx, req).Wait(ctx))
}

func (b blocking) IsAsync() bool { return false }

// Client wraps the OpenSearch client.
type Client struct {
	os      *opensearch.Client
	async   bool
	metrics *metrics.Metrics
}

// IsAsync reports whether Execute dispatches requests in the background.
func (c *Client) IsAsync() bool { return c.async }

// Execute sends req. In async mode the request runs on its own goroutine
// and outlives the cancellation of ctx.
func (c *Client) Execute(ctx context.Context, req opensearchapi.Request) Future {
	if !c.async {
		return Resolved(c.perform(ctx, req))
	}
	bg := context.WithoutCancel(ctx)
	f := &pending{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.res, f.err = c.perform(bg, req)
	}()
	return f
}

// Ping checks the connection to the engine.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.perform(ctx, opensearchapi.PingRequest{}); err != nil {
		return fmt.Errorf("failed to ping search engine: %w", err)
	}
	slog.Info("successfully connected to search engine")
	return nil
}

func (c *Client) perform(ctx context.Context, req opensearchapi.Request) (*Response, error) {
	op := operation(req)
	start := time.Now()

	res, err := req.Do(ctx, c.os)
	if err != nil {
		c.observe(op, "error", start)
		return nil, fmt.Errorf("failed to perform %s request: %w", op, err)
	}
	defer res.Body.Close()

	c.observe(op, strconv.Itoa(res.StatusCode), start)

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}
	if res.IsError() {
		return nil, &ResponseError{Op: op, StatusCode: res.StatusCode, Body: string(body)}
	}
	return &Response{StatusCode: res.StatusCode, Body: body}, nil
}

func (c *Client) observe(op, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.EngineRequests.WithLabelValues(op, status).Inc()
	c.metrics.EngineDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func operation(req opensearchapi.Request) string {
	switch req.(type) {
	case opensearchapi.IndexRequest:
		return "index"
	case opensearchapi.SearchRequest:
		return "search"
	case opensearchapi.CountRequest:
		return "count"
	case opensearchapi.DeleteRequest:
		return "delete"
	case opensearchapi.BulkRequest:
		return "bulk"
	case opensearchapi.IndicesExistsRequest:
		return "indices.exists"
	case opensearchapi.IndicesCreateRequest:
		return "indices.create"
	case opensearchapi.IndicesDeleteRequest:
		return "indices.delete"
	case opensearchapi.IndicesUpdateAliasesRequest:
		return "indices.update_aliases"
	case opensearchapi.PingRequest:
		return "ping"
	default:
		return "other"
	}
}
