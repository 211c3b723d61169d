package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	apperrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single pull or push request
	DefaultTimeout = 30 * time.Second

	// maxResponseSize caps how much of a response body is read
	maxResponseSize = 32 << 20

	pushContentType = "text/plain;charset=utf-8"
)

// Config configures an HTTPAdapter
type Config struct {
	// URL is the single endpoint used for both pull (GET) and push (POST)
	URL string

	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration

	// RateLimit is the sustained requests per second; 0 disables limiting
	RateLimit float64

	// Burst is the limiter bucket size (default: 1)
	Burst int

	// Client overrides the HTTP client, mainly for tests. A client without
	// its own timeout gets Timeout.
	Client *http.Client
}

// HTTPAdapter talks to a remote that exposes the whole dataset behind one URL
type HTTPAdapter struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewHTTPAdapter creates an adapter for cfg.URL
func NewHTTPAdapter(cfg Config) (*HTTPAdapter, error) {
	if cfg.URL == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "remote url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var client *http.Client
	switch {
	case cfg.Client == nil:
		// The default client follows redirects, which hosted script
		// endpoints rely on.
		client = &http.Client{Timeout: timeout}
	case cfg.Client.Timeout == 0:
		c := *cfg.Client
		c.Timeout = timeout
		client = &c
	default:
		client = cfg.Client
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPAdapter{
		url:     cfg.URL,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  log.WithComponent("remote"),
	}, nil
}

// Pull fetches the full remote snapshot
func (a *HTTPAdapter) Pull(ctx context.Context) (*types.Snapshot, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PullDuration)

	status, body, err := a.do(ctx, http.MethodGet, nil)
	a.setReachable(err)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, statusError(status)
	}

	var snap types.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteRejection, "malformed snapshot", err)
	}
	snap.FetchedAt = time.Now()

	a.logger.Debug().
		Int("users", len(snap.Users)).
		Int("classes", len(snap.Classes)).
		Int("students", len(snap.Students)).
		Int("journals", len(snap.Journals)).
		Int("attendance", len(snap.Attendance)).
		Dur("duration", timer.Duration()).
		Msg("Pulled snapshot")
	return &snap, nil
}

// Push submits one mutation, applying the repair rule on "ID not found"
func (a *HTTPAdapter) Push(ctx context.Context, entry *types.MutationEntry) bool {
	logger := a.logger.With().
		Str("action", string(entry.Action)).
		Str("collection", string(entry.Collection)).
		Str("record_id", entry.RecordID()).
		Logger()

	err := a.send(ctx, entry)
	if err == nil {
		metrics.PushesTotal.WithLabelValues(string(entry.Action), "success").Inc()
		return true
	}

	if isMissingRecord(err) {
		switch entry.Action {
		case types.ActionDelete:
			metrics.RepairsTotal.WithLabelValues("delete_missing").Inc()
			metrics.PushesTotal.WithLabelValues(string(entry.Action), "success").Inc()
			logger.Debug().Msg("Record already absent on remote")
			return true

		case types.ActionUpdate:
			logger.Info().Msg("Record missing on remote, retrying update as create")
			if err := a.send(ctx, entry.WithAction(types.ActionCreate)); err != nil {
				metrics.PushesTotal.WithLabelValues(string(entry.Action), "failure").Inc()
				logger.Warn().Err(err).Msg("Repair create failed")
				return false
			}
			metrics.RepairsTotal.WithLabelValues("update_as_create").Inc()
			metrics.PushesTotal.WithLabelValues(string(entry.Action), "success").Inc()
			return true
		}
	}

	metrics.PushesTotal.WithLabelValues(string(entry.Action), "failure").Inc()
	logger.Warn().Err(err).Str("code", string(apperrors.CodeOf(err))).Msg("Push failed")
	return false
}

// send performs one push request and returns nil only on a success status
func (a *HTTPAdapter) send(ctx context.Context, entry *types.MutationEntry) error {
	req, err := NewPushRequest(entry)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "failed to encode push", err)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "failed to encode push", err)
	}

	status, body, err := a.do(ctx, http.MethodPost, payload)
	a.setReachable(err)
	if err != nil {
		return err
	}

	// The body decides the outcome whenever it parses, whatever the status
	// code. Script endpoints report "ID not found" with 4xx codes too.
	var resp PushResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Status == "" {
		if !isSuccess(status) {
			return statusError(status)
		}
		if err == nil {
			err = errors.New("missing status")
		}
		return apperrors.Wrap(apperrors.ErrRemoteRejection, "malformed push response", err)
	}
	if resp.Status != StatusSuccess {
		if resp.Message == "" {
			return apperrors.Newf(apperrors.ErrRemoteRejection, "status %q", resp.Status)
		}
		return apperrors.New(apperrors.ErrRemoteRejection, resp.Message)
	}
	return nil
}

// do issues one rate limited request and returns the status code and body.
// Only transport failures are errors; the caller interprets the status.
func (a *HTTPAdapter) do(ctx context.Context, method string, payload []byte) (int, []byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, nil, apperrors.Wrap(apperrors.ErrNetwork, "rate limiter", err)
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.url, reqBody)
	if err != nil {
		return 0, nil, apperrors.Wrap(apperrors.ErrNetwork, "failed to create request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", pushContentType)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, apperrors.Wrap(apperrors.ErrNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, apperrors.Wrap(apperrors.ErrNetwork, "failed to read response", err)
	}
	return resp.StatusCode, body, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

func statusError(status int) error {
	return apperrors.Newf(apperrors.ErrRemoteRejection, "HTTP %d %s", status, http.StatusText(status))
}

func (a *HTTPAdapter) setReachable(err error) {
	if err != nil && apperrors.Is(err, apperrors.ErrNetwork) {
		metrics.UpdateComponent(metrics.ComponentRemote, false, err.Error())
		return
	}
	metrics.UpdateComponent(metrics.ComponentRemote, true, "")
}

// isMissingRecord reports whether err is the remote saying the target
// record does not exist
func isMissingRecord(err error) bool {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == apperrors.ErrRemoteRejection && IsNotFound(appErr.Message)
}
