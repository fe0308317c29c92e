package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/requestid"
)

const userAgent = "telegram-bot-scheduler/1.0"

// Dispatcher performs the single outbound HTTP call a fired schedule makes:
// one GET against a fixed upstream base URL, identifying itself with a
// fixed User-Agent. The *http.Client construction (TLS floor, idle-conn
// tuning, redirect cap) is grounded on the teacher's Executor; the retry
// policy is grounded on the original Python app's _request_with_retries.
type Dispatcher struct {
	client  *http.Client
	baseURL string
	retries int
	logger  *slog.Logger
}

// DispatchResult is the outcome of one fire, ready for the Worker's
// writeback: exactly one of (StatusCode set) or (Err set) on return.
type DispatchResult struct {
	StatusCode int
	Body       string // first 1000 chars, only meaningful when StatusCode >= 400
	Err        error
	Duration   time.Duration
}

func NewDispatcher(baseURL string, timeout time.Duration, retries int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		baseURL: baseURL,
		retries: retries,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Close releases the dispatcher's idle connections. Called once at worker
// shutdown.
func (d *Dispatcher) Close() {
	d.client.CloseIdleConnections()
}

// Run fires one schedule: GET {baseURL}/?token=...&method=scenarioRun&scenario_id=...&user_id=...
//
// Total attempts = retries + 1. Between attempts it sleeps 0.5*2^i seconds
// (i = 0-based index of the failed attempt). A transport failure (connect
// error, read error, timeout) retries; any HTTP response — including
// >=400 — is returned without retry.
func (d *Dispatcher) Run(ctx context.Context, s repository.ClaimedSchedule) DispatchResult {
	start := time.Now()

	reqURL := d.baseURL
	if parsed, err := url.Parse(d.baseURL); err == nil {
		q := parsed.Query()
		q.Set("token", s.Token)
		q.Set("method", "scenarioRun")
		q.Set("scenario_id", strconv.FormatInt(s.ScenarioID, 10))
		q.Set("user_id", strconv.FormatInt(s.UserID, 10))
		parsed.RawQuery = q.Encode()
		reqURL = parsed.String()
	}

	reqID := requestid.New()
	ctx = requestid.WithRequestID(ctx, reqID)

	attempts := d.retries + 1
	var lastErr error

	for i := 0; i < attempts; i++ {
		status, body, err := d.attempt(ctx, reqURL)
		if err == nil {
			d.logger.InfoContext(ctx, "dispatch succeeded",
				"schedule_id", s.ID, "status", status, "attempt", i+1)
			return DispatchResult{StatusCode: status, Body: body, Duration: time.Since(start)}
		}

		lastErr = err
		d.logger.WarnContext(ctx, "dispatch attempt failed",
			"schedule_id", s.ID, "attempt", i+1, "of", attempts, "error", err)

		if i == attempts-1 {
			break
		}
		sleep := time.Duration(0.5 * math.Pow(2, float64(i)) * float64(time.Second))
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			return DispatchResult{Err: lastErr, Duration: time.Since(start)}
		case <-time.After(sleep):
		}
	}

	return DispatchResult{Err: lastErr, Duration: time.Since(start)}
}

// attempt issues one HTTP GET. A non-nil error means a transport failure;
// the status code of any received response — even >=400 — is returned
// with a nil error, since that is not retried.
func (d *Dispatcher) attempt(ctx context.Context, reqURL string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestid.FromContext(ctx))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1000))
	_, _ = io.Copy(io.Discard, resp.Body) // drain so the connection can be reused

	text := []rune(string(body))
	if len(text) > 1000 {
		text = text[:1000]
	}
	return resp.StatusCode, string(text), nil
}
