package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"hookflow/internal/domain"
)

// FailureStatus is reported when every attempt failed at the transport level.
const FailureStatus = 500

type Config struct {
	DefaultTimeout   time.Duration // used when a task has no timeout
	MaxResponseBytes int64         // response bodies are truncated past this
	UserAgent        string
	RatePerSec       float64 // 0 disables outbound rate limiting
	Burst            int
}

// Result is the outcome of a whole dispatch, retries included.
type Result struct {
	Body       string
	StatusCode int
	Attempts   int
	Err        error // last transport error when retries were exhausted
}

func (r Result) Failed() bool { return r.Err != nil }

// Dispatcher delivers a task's HTTP call over a shared client.
type Dispatcher struct {
	client  *http.Client
	cfg     Config
	limiter *rate.Limiter

	afterFunc func(d time.Duration, f func())
}

func New(client *http.Client, cfg Config) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 1 << 20
	}
	d := &Dispatcher{
		client: client,
		cfg:    cfg,
		afterFunc: func(wait time.Duration, f func()) {
			time.AfterFunc(wait, f)
		},
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return d
}

// Execute runs the task's call with its retry policy and blocks until a
// result is known. Failures are folded into the result, never returned.
func (d *Dispatcher) Execute(ctx context.Context, t *domain.Task) Result {
	ch := make(chan Result, 1)
	d.Start(ctx, t, func(fn func()) { fn() }, func(r Result) { ch <- r })
	return <-ch
}

// Start begins a dispatch without blocking through backoff. Each attempt is
// handed to submit; after a failed attempt the next one is re-submitted by a
// timer once the task's retry interval has elapsed. done is called exactly
// once with the final result. Attempts of one task never overlap.
//
// Cancellation of ctx does not abort attempts already started or pending
// retries; callers stop dispatches by not starting them.
func (d *Dispatcher) Start(ctx context.Context, t *domain.Task, submit func(func()), done func(Result)) {
	ctx = context.WithoutCancel(ctx)
	maxRetries := max(t.MaxRetries, 0)
	interval := time.Duration(max(t.RetryInterval, 0)) * time.Second
	failures := 0

	var step func()
	step = func() {
		res, err := d.attempt(ctx, t)
		if err == nil {
			res.Attempts = failures + 1
			done(res)
			return
		}
		failures++
		if failures > maxRetries {
			log.Error().Err(err).
				Str("task_id", t.ID).
				Int("attempts", failures).
				Msg("webhook delivery failed, retries exhausted")
			done(Result{
				Body:       "Error: " + err.Error(),
				StatusCode: FailureStatus,
				Attempts:   failures,
				Err:        err,
			})
			return
		}
		t.RetryCount = failures
		log.Warn().Err(err).
			Str("task_id", t.ID).
			Int("attempt", failures).
			Dur("retry_in", interval).
			Msg("webhook attempt failed")
		d.afterFunc(interval, func() { submit(step) })
	}
	submit(step)
}

func (d *Dispatcher) attempt(ctx context.Context, t *domain.Task) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during request: %v", r)
		}
	}()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("rate limit: %w", err)
		}
	}

	timeout := time.Duration(t.Timeout) * time.Second
	if timeout <= 0 {
		timeout = d.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(strings.TrimSpace(t.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if t.CarriesBody() {
		payload := ""
		if t.Payload != nil {
			payload = *t.Payload
		}
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.URL, body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	for k, v := range t.Headers {
		if strings.EqualFold(k, "Host") {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if d.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read response body: %w", err)
	}
	return Result{Body: string(b), StatusCode: resp.StatusCode}, nil
}
