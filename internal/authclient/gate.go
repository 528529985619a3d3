// AngelaMos | 2026
// gate.go

package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	DefaultRefreshTimeout = 10 * time.Second

	headerNewToken        = "X-New-Token"
	headerNewRefreshToken = "X-New-Refresh-Token"
)

var (
	ErrRefreshFailed   = errors.New("session refresh failed")
	ErrRequestCanceled = errors.New("request canceled while waiting for refresh")
	ErrSignedOut       = errors.New("signed out after a failed refresh")
)

type Options struct {
	// RefreshURL is the absolute URL of the refresh endpoint. Requests to it
	// pass through the gate untouched.
	RefreshURL     string
	RefreshTimeout time.Duration
	Transport      http.RoundTripper
	Store          TokenStore
	Jar            http.CookieJar
	// OnAuthFailure receives the destination of the request that triggered a
	// failed refresh, once per failed refresh. Requests made after that
	// failure, before new tokens are stored, fail with ErrSignedOut and do
	// not call it again.
	OnAuthFailure func(dest *url.URL)
	Logger        *slog.Logger
}

type gateState int

const (
	stateIdle gateState = iota
	stateRefreshing
)

type refreshResult struct {
	token string
	err   error
}

type waiter struct {
	done chan refreshResult
}

// Gate is an http.RoundTripper that attaches the access token, adopts
// renewed tokens from response headers and, on a 401, runs a single refresh
// shared by every request that failed meanwhile.
type Gate struct {
	base       http.RoundTripper
	store      TokenStore
	refreshURL *url.URL
	opts       Options
	logger     *slog.Logger

	mu        sync.Mutex
	state     gateState
	waiters   []*waiter
	signedOut bool
}

func New(opts Options) (*Gate, error) {
	refreshURL, err := url.Parse(opts.RefreshURL)
	if err != nil || refreshURL.Host == "" {
		return nil, fmt.Errorf("invalid refresh url %q", opts.RefreshURL)
	}

	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Store == nil {
		opts.Store = &MemoryStore{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		base:       opts.Transport,
		store:      opts.Store,
		refreshURL: refreshURL,
		opts:       opts,
		logger:     logger,
	}, nil
}

// Client returns an http.Client that sends every request through the gate.
func (g *Gate) Client() *http.Client {
	return &http.Client{Transport: g, Jar: g.opts.Jar}
}

func (g *Gate) RoundTrip(req *http.Request) (*http.Response, error) {
	if g.isRefreshCall(req) {
		return g.base.RoundTrip(req)
	}

	sentToken := g.store.AccessToken()

	resp, err := g.send(req, sentToken, false)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || !replayable(req) {
		return resp, nil
	}

	//nolint:errcheck // body is discarded before replay
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close() //nolint:errcheck // best-effort close

	token, err := g.awaitToken(req.Context(), sentToken, req.URL)
	if err != nil {
		return nil, err
	}

	return g.send(req, token, true)
}

func (g *Gate) send(
	req *http.Request,
	token string,
	replay bool,
) (*http.Response, error) {
	out := req.Clone(req.Context())

	if replay && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		out.Body = body
	}

	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	g.adoptHeaders(resp)
	return resp, nil
}

// adoptHeaders picks up tokens the server renewed or rotated in-band.
func (g *Gate) adoptHeaders(resp *http.Response) {
	access := resp.Header.Get(headerNewToken)
	refresh := resp.Header.Get(headerNewRefreshToken)

	if access == "" && refresh == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if access == "" {
		access = g.store.AccessToken()
	}
	if refresh == "" {
		refresh = g.store.RefreshToken()
	}
	g.store.SetTokens(access, refresh)
}

// awaitToken returns a token newer than stale. If none exists yet the caller
// joins the queue, starting the refresh when the gate is idle.
func (g *Gate) awaitToken(
	ctx context.Context,
	stale string,
	dest *url.URL,
) (string, error) {
	g.mu.Lock()

	current := g.store.AccessToken()
	if current != "" && current != stale {
		g.mu.Unlock()
		return current, nil
	}

	if g.signedOut && current == "" {
		g.mu.Unlock()
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, ErrSignedOut)
	}

	w := &waiter{done: make(chan refreshResult, 1)}
	g.waiters = append(g.waiters, w)

	if g.state == stateIdle {
		g.state = stateRefreshing
		go g.refresh(dest)
	}

	g.mu.Unlock()

	select {
	case res := <-w.done:
		return res.token, res.err
	case <-ctx.Done():
		g.dequeue(w)
		return "", ErrRequestCanceled
	}
}

func (g *Gate) dequeue(target *waiter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, w := range g.waiters {
		if w == target {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return
		}
	}
}

func (g *Gate) refresh(dest *url.URL) {
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.RefreshTimeout)
	defer cancel()

	access, refresh, err := g.callRefresh(ctx)

	g.mu.Lock()
	waiters := g.waiters
	g.waiters = nil
	g.state = stateIdle
	g.signedOut = err != nil
	if err == nil {
		g.store.SetTokens(access, refresh)
	} else {
		g.store.Clear()
	}
	g.mu.Unlock()

	result := refreshResult{token: access}
	if err != nil {
		result = refreshResult{err: fmt.Errorf("%w: %w", ErrRefreshFailed, err)}
		g.logger.Warn("session refresh failed",
			"error", err,
			"queued", len(waiters),
		)
	}

	for _, w := range waiters {
		w.done <- result
	}

	if err != nil && g.opts.OnAuthFailure != nil {
		g.opts.OnAuthFailure(dest)
	}
}

type refreshResponse struct {
	Tokens struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"tokens"`
}

func (g *Gate) callRefresh(ctx context.Context) (string, string, error) {
	var body io.Reader = http.NoBody
	if rt := g.store.RefreshToken(); rt != "" {
		payload, err := json.Marshal(map[string]string{"refreshToken": rt})
		if err != nil {
			return "", "", fmt.Errorf("encode refresh request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		g.refreshURL.String(),
		body,
	)
	if err != nil {
		return "", "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Transport: g.base, Jar: g.opts.Jar}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", "", fmt.Errorf("decode refresh response: %w", err)
	}

	access := parsed.Tokens.AccessToken
	refresh := parsed.Tokens.RefreshToken
	if refresh == "" {
		refresh = resp.Header.Get(headerNewRefreshToken)
	}

	if access == "" {
		return "", "", errors.New("refresh response carried no access token")
	}

	return access, refresh, nil
}

func (g *Gate) isRefreshCall(req *http.Request) bool {
	return req.URL.Host == g.refreshURL.Host && req.URL.Path == g.refreshURL.Path
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}
