package equation

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultRemoteURL is the public math.js evaluation endpoint.
const DefaultRemoteURL = "https://api.mathjs.org/v4/"

// Evaluator computes the numeric value of an arithmetic expression.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string) (float64, error)
}

// LocalEvaluator evaluates expressions in-process.
type LocalEvaluator struct{}

func (LocalEvaluator) Evaluate(_ context.Context, expr string) (float64, error) {
	return Evaluate(expr)
}

// RemoteEvaluator asks a math.js-compatible HTTP service for the answer and
// falls back to local evaluation whenever the call fails, times out, or
// returns something that is not a number. Only local failure is fatal.
type RemoteEvaluator struct {
	baseURL string
	client  *http.Client
}

func NewRemoteEvaluator(baseURL string, timeout time.Duration) *RemoteEvaluator {
	if baseURL == "" {
		baseURL = DefaultRemoteURL
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RemoteEvaluator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *RemoteEvaluator) Evaluate(ctx context.Context, expr string) (float64, error) {
	if v, ok := e.evaluateRemote(ctx, expr); ok {
		return v, nil
	}
	return Evaluate(expr)
}

func (e *RemoteEvaluator) evaluateRemote(ctx context.Context, expr string) (float64, bool) {
	reqURL := e.baseURL + "?expr=" + url.QueryEscape(expr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(body)), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
