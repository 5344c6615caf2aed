package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshPath = "/auth/refresh"
	DefaultLoginPath   = "/"

	// sharedRenewTimeout bounds a coalesced renewal, which outlives the
	// caller that started it.
	sharedRenewTimeout = 30 * time.Second
)

// Redirector sends the user back to the login entry point once their
// session can no longer be renewed.
type Redirector interface {
	Redirect(loginURL string)
}

type RedirectFunc func(loginURL string)

func (f RedirectFunc) Redirect(loginURL string) { f(loginURL) }

type Option func(*Gate)

func WithLogger(l *log.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

func WithRedirector(r Redirector) Option {
	return func(g *Gate) { g.redirect = r }
}

func WithRefreshPath(path string) Option {
	return func(g *Gate) { g.refreshPath = path }
}

func WithLoginPath(path string) Option {
	return func(g *Gate) { g.loginPath = path }
}

// WithRenewalCoalescing makes concurrent callers that hit a 401 share one
// renewal request instead of each sending their own.
func WithRenewalCoalescing() Option {
	return func(g *Gate) { g.coalesce = true }
}

// Gate issues authenticated requests. A 401 triggers one renewal through the
// refresh endpoint and then one retry of the original request; there is
// never a second renewal for the same call.
type Gate struct {
	client      *http.Client
	baseURL     string
	refreshPath string
	loginPath   string
	redirect    Redirector
	logger      *log.Logger

	coalesce bool
	renewals singleflight.Group
}

// NewGate wraps client, whose cookie jar carries the session and refresh
// cookies.
func NewGate(client *http.Client, baseURL string, opts ...Option) *Gate {
	g := &Gate{
		client:      client,
		baseURL:     strings.TrimRight(baseURL, "/"),
		refreshPath: DefaultRefreshPath,
		loginPath:   DefaultLoginPath,
		redirect:    RedirectFunc(func(string) {}),
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Client() *http.Client { return g.client }

func (g *Gate) BaseURL() string { return g.baseURL }

// URL resolves path against the base URL.
func (g *Gate) URL(path string) string {
	return g.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (g *Gate) LoginURL() string { return g.URL(g.loginPath) }

// Do sends req. Any response other than 401 is returned untouched. On 401 it
// renews the session and returns whatever the single retry produces, even
// another 401. If renewal is refused the user is redirected to login and
// ErrSessionExpired is returned without retrying.
func (g *Gate) Do(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return nil, fmt.Errorf("%s %s: request body cannot be replayed", req.Method, req.URL.Path)
	}

	// Taken before sending: the client writes the jar's cookies into req's
	// headers, and the retry must pick up the renewed ones instead.
	retry := req.Clone(req.Context())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	if err := g.renew(req.Context()); err != nil {
		return nil, err
	}

	if err := rewind(req, retry); err != nil {
		return nil, err
	}
	resp, err = g.client.Do(retry)
	if err != nil {
		return nil, &TransportError{Op: "retry " + req.Method + " " + req.URL.Path, Err: err}
	}
	return resp, nil
}

// DoJSON sends in as JSON (when non-nil) and decodes a 2xx body into out
// (when non-nil). Failures come back as ErrUnauthorized, ErrSessionExpired,
// *ServerError or *TransportError.
func (g *Gate) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %T: %w", in, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.URL(path), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (g *Gate) renew(ctx context.Context) error {
	if !g.coalesce {
		return g.doRenew(ctx)
	}
	// The shared renewal runs detached from the caller that started it; each
	// waiter still gives up on its own ctx.
	ch := g.renewals.DoChan("renew", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedRenewTimeout)
		defer cancel()
		return nil, g.doRenew(rctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return &TransportError{Op: "renew session", Err: ctx.Err()}
	}
}

func (g *Gate) doRenew(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL(g.refreshPath), nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return &TransportError{Op: "renew session", Err: err}
	}
	defer drain(resp)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		g.logger.Printf("session renewed")
		return nil
	}
	loginURL := g.LoginURL()
	g.logger.Printf("session renewal refused (%s), redirecting to %s", resp.Status, loginURL)
	g.redirect.Redirect(loginURL)
	return ErrSessionExpired
}

// rewind gives retry a fresh copy of req's body.
func rewind(req, retry *http.Request) error {
	if req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return errors.Join(errors.New("replay request body"), err)
	}
	retry.Body = body
	return nil
}
