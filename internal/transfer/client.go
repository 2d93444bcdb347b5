package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/domain"
	"github.com/bankbridge/bankbridge/internal/models"
)

const (
	// callTimeout bounds one attempt end to end, headers and body.
	callTimeout = 10 * time.Second

	// maxAttempts counts the first try. Only transport failures earn the
	// second attempt; the procedures are idempotent by key, so a replay
	// after a lost response is safe.
	maxAttempts = 2

	// retryBackoff is slept before retrying a connection or truncation
	// failure. Timeouts retry immediately.
	retryBackoff = 500 * time.Millisecond
)

// Failure classification for retry decisions.
type errKind int

const (
	kindTimeout errKind = iota
	kindNetwork
	kindTruncated
	kindHTTPStatus
	kindProtocol
)

// CallError is a failed procedure call with its retry classification.
type CallError struct {
	Kind   errKind
	Status int
	Err    error
}

func (e *CallError) Error() string { return e.Err.Error() }
func (e *CallError) Unwrap() error { return e.Err }

// retryable reports whether err is a transport failure worth one retry.
// HTTP error statuses and malformed payloads are never retried.
func retryable(err error) bool {
	var ce *CallError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Kind {
	case kindTimeout, kindNetwork, kindTruncated:
		return true
	}
	return false
}

// Client calls the procedure endpoints of the orchestrating server.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient builds a procedure client. The connection pool is capped at
// concurrency, mirroring the generator's in-flight limit.
func NewClient(baseURL string, concurrency int, log *zap.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        concurrency,
		MaxIdleConnsPerHost: concurrency,
		MaxConnsPerHost:     concurrency,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: callTimeout, Transport: transport},
		log:     log,
	}
}

// CallSQL invokes a stored procedure on one of the SQL engines through
// POST /db/proc/exec. Postgres procedures are stored functions; Oracle
// gets its OUT positions padded with placeholders and typed by hints.
func (c *Client) CallSQL(ctx context.Context, eng domain.Engine, proc Procedure, args []any) (map[string]any, error) {
	mode := "proc"
	if eng == domain.EnginePostgres {
		mode = "func"
	}
	req := models.ProcExecRequest{
		Dbms:     string(eng),
		Name:     proc.Name,
		Args:     args,
		OutCount: len(proc.OutNames),
		OutNames: proc.OutNames,
		Mode:     mode,
	}
	if eng == domain.EngineOracle {
		req.OutTypes = proc.OutTypes
		padded := make([]any, 0, len(args)+len(proc.OutNames))
		padded = append(padded, args...)
		for range proc.OutNames {
			padded = append(padded, nil)
		}
		req.Args = padded
	}
	return c.post(ctx, "/db/proc/exec", req, string(eng)+"/"+proc.Name)
}

// CallMongo invokes a document-store procedure through its operation path
// under /mongo_proc.
func (c *Client) CallMongo(ctx context.Context, op string, payload any) (map[string]any, error) {
	return c.post(ctx, "/mongo_proc/"+op, payload, "mongo/"+op)
}

func (c *Client) post(ctx context.Context, path string, payload any, label string) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", label, err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		data, err := c.once(ctx, path, body)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable(err) || attempt == maxAttempts {
			break
		}

		var ce *CallError
		errors.As(err, &ce)
		if ce.Kind == kindTimeout {
			c.log.Warn("call timed out, retrying",
				zap.String("call", label), zap.Int("attempt", attempt))
			continue
		}
		c.log.Warn("transport error, retrying",
			zap.String("call", label), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, &CallError{Kind: kindTimeout, Err: ctx.Err()}
		case <-time.After(retryBackoff):
		}
	}

	if retryable(lastErr) {
		// A lost response does not mean the procedure did not run.
		c.log.Error("call failed, procedure may have executed",
			zap.String("call", label), zap.Error(lastErr))
	} else {
		c.log.Error("call failed", zap.String("call", label), zap.Error(lastErr))
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, path string, body []byte) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Kind: kindProtocol, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &CallError{Kind: kindProtocol, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &CallError{
			Kind:   kindHTTPStatus,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("http %d: %s", resp.StatusCode, msg),
		}
	}
	if !env.OK {
		return nil, &CallError{Kind: kindProtocol, Err: fmt.Errorf("server reported failure: %s", env.Error)}
	}

	var data map[string]any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, &CallError{Kind: kindProtocol, Err: fmt.Errorf("decode data: %w", err)}
		}
	}
	return data, nil
}

// classifyTransport sorts a transport failure into its retry class.
func classifyTransport(err error) *CallError {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &CallError{Kind: kindTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Kind: kindTimeout, Err: err}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &CallError{Kind: kindTruncated, Err: err}
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) {
		return &CallError{Kind: kindNetwork, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &CallError{Kind: kindNetwork, Err: err}
	}
	return &CallError{Kind: kindProtocol, Err: err}
}
