package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// scripted answers each path with the next status in its script; the last
// entry repeats.
type scripted struct {
	mu      sync.Mutex
	scripts map[string][]int
	bodies  map[string]string
	hits    map[string]int
	seen    map[string][]string
}

func newScripted(scripts map[string][]int) *scripted {
	return &scripted{
		scripts: scripts,
		bodies:  map[string]string{},
		hits:    map[string]int{},
		seen:    map[string][]string{},
	}
}

func (s *scripted) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	script := s.scripts[r.URL.Path]
	n := s.hits[r.URL.Path]
	s.hits[r.URL.Path]++
	s.seen[r.URL.Path] = append(s.seen[r.URL.Path], string(body))
	respBody := s.bodies[r.URL.Path]
	s.mu.Unlock()

	if len(script) == 0 {
		http.NotFound(w, r)
		return
	}
	status := script[len(script)-1]
	if n < len(script) {
		status = script[n]
	}
	if status == http.StatusOK && respBody != "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, respBody)
		return
	}
	http.Error(w, http.StatusText(status), status)
}

func (s *scripted) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

type redirects struct {
	mu   sync.Mutex
	urls []string
}

func (r *redirects) Redirect(loginURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, loginURL)
}

func (r *redirects) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}

func newTestGate(t *testing.T, h http.Handler, opts ...Option) (*Gate, *httptest.Server, *redirects) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	rd := &redirects{}
	opts = append([]Option{
		WithLogger(log.New(io.Discard, "", 0)),
		WithRedirector(rd),
	}, opts...)
	return NewGate(&http.Client{Jar: jar, Timeout: 5 * time.Second}, srv.URL, opts...), srv, rd
}

func TestGate_RenewsAndRetriesOnce(t *testing.T) {
	s := newScripted(map[string][]int{
		"/auth/user-info": {401, 200},
		"/auth/refresh":   {200},
	})
	s.bodies["/auth/user-info"] = `{"id":"42","username":"sam"}`
	g, _, rd := newTestGate(t, s)

	var got identity
	err := g.DoJSON(context.Background(), http.MethodGet, "/auth/user-info", nil, &got)

	require.NoError(t, err)
	assert.Equal(t, identity{ID: "42", Username: "sam"}, got)
	assert.Equal(t, 2, s.count("/auth/user-info"))
	assert.Equal(t, 1, s.count("/auth/refresh"))
	assert.Empty(t, rd.all())
}

func TestGate_RenewalRefusedRedirects(t *testing.T) {
	s := newScripted(map[string][]int{
		"/auth/user-info": {401, 200},
		"/auth/refresh":   {403},
	})
	g, srv, rd := newTestGate(t, s)

	err := g.DoJSON(context.Background(), http.MethodGet, "/auth/user-info", nil, &identity{})

	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 1, s.count("/auth/user-info"), "original request was retried")
	assert.Equal(t, 1, s.count("/auth/refresh"))
	assert.Equal(t, []string{srv.URL + "/"}, rd.all())
}

func TestGate_NeverRenewsTwice(t *testing.T) {
	s := newScripted(map[string][]int{
		"/auth/user-info": {401},
		"/auth/refresh":   {200},
	})
	g, _, rd := newTestGate(t, s)

	err := g.DoJSON(context.Background(), http.MethodGet, "/auth/user-info", nil, &identity{})

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 2, s.count("/auth/user-info"))
	assert.Equal(t, 1, s.count("/auth/refresh"))
	assert.Empty(t, rd.all())
}

func TestGate_DoReturnsRetryResponse(t *testing.T) {
	tests := []struct {
		name   string
		script []int
		want   int
	}{
		{name: "retry succeeds", script: []int{401, 200}, want: 200},
		{name: "retry unauthorized", script: []int{401, 401}, want: 401},
		{name: "retry server error", script: []int{401, 500}, want: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScripted(map[string][]int{
				"/auth/user-info": tt.script,
				"/auth/refresh":   {200},
			})
			g, srv, _ := newTestGate(t, s)

			req, err := http.NewRequest(http.MethodGet, srv.URL+"/auth/user-info", nil)
			require.NoError(t, err)
			resp, err := g.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, 1, s.count("/auth/refresh"))
		})
	}
}

func TestGate_PassesThroughWithoutRenewal(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: 200},
		{name: "forbidden", status: 403, wantErr: true},
		{name: "not found", status: 404, wantErr: true},
		{name: "server error", status: 500, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScripted(map[string][]int{
				"/auth/user-info": {tt.status},
				"/auth/refresh":   {200},
			})
			s.bodies["/auth/user-info"] = `{"id":"1","username":"alice"}`
			g, _, _ := newTestGate(t, s)

			err := g.DoJSON(context.Background(), http.MethodGet, "/auth/user-info", nil, &identity{})

			assert.Zero(t, s.count("/auth/refresh"))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var serr *ServerError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, tt.status, serr.StatusCode)
			assert.Equal(t, http.StatusText(tt.status), serr.Body)
		})
	}
}

func TestGate_RetryReplaysBody(t *testing.T) {
	s := newScripted(map[string][]int{
		"/auth/update-username": {401, 200},
		"/auth/refresh":         {200},
	})
	g, _, _ := newTestGate(t, s)

	err := g.DoJSON(context.Background(), http.MethodPost, "/auth/update-username",
		map[string]string{"username": "sammy"}, nil)

	require.NoError(t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.seen["/auth/update-username"], 2)
	for _, body := range s.seen["/auth/update-username"] {
		assert.JSONEq(t, `{"username":"sammy"}`, body)
	}
}

func TestGate_RejectsUnreplayableBody(t *testing.T) {
	s := newScripted(map[string][]int{"/auth/update-username": {200}})
	g, srv, _ := newTestGate(t, s)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/auth/update-username", io.NopCloser(strings.NewReader("x")))
	require.NoError(t, err)
	_, err = g.Do(req)

	assert.Error(t, err)
	assert.Zero(t, s.count("/auth/update-username"))
}

func TestGate_TransportErrors(t *testing.T) {
	t.Run("server unreachable", func(t *testing.T) {
		g, srv, _ := newTestGate(t, http.NotFoundHandler())
		srv.Close()

		err := g.DoJSON(context.Background(), http.MethodGet, "/auth/user-info", nil, nil)
		var terr *TransportError
		assert.ErrorAs(t, err, &terr)
	})

	t.Run("renewal connection dropped", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/user-info", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
		mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
		})
		g, _, rd := newTestGate(t, mux)

		err := g.DoJSON(context.Background(), http.MethodGet, "/auth/user-info", nil, nil)
		var terr *TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, "renew session", terr.Op)
		assert.NotErrorIs(t, err, ErrSessionExpired)
		assert.Empty(t, rd.all())
	})
}

// staleSession answers user-info with 401 until the refresh endpoint has
// issued a fresh cookie. The first callers are held until all of them are
// waiting, so each one is guaranteed to see a 401.
type staleSession struct {
	callers int

	mu       sync.Mutex
	arrived  int
	all      chan struct{}
	refreshs int
	delay    time.Duration
}

func (s *staleSession) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/refresh":
		time.Sleep(s.delay)
		s.mu.Lock()
		s.refreshs++
		s.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: AccessCookieName, Value: "fresh", Path: "/"})
		w.WriteHeader(http.StatusOK)
	case "/auth/user-info":
		if c, err := r.Cookie(AccessCookieName); err == nil && c.Value == "fresh" {
			json.NewEncoder(w).Encode(identity{ID: "42", Username: "sam"})
			return
		}
		s.mu.Lock()
		s.arrived++
		if s.arrived == s.callers {
			close(s.all)
		}
		s.mu.Unlock()
		<-s.all
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	default:
		http.NotFound(w, r)
	}
}

func (s *staleSession) refreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshs
}

func TestGate_RetrySendsRenewedCookie(t *testing.T) {
	var (
		mu   sync.Mutex
		seen [][]string
	)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh" {
			http.SetCookie(w, &http.Cookie{Name: AccessCookieName, Value: "fresh", Path: "/"})
			return
		}
		var values []string
		for _, c := range r.Cookies() {
			if c.Name == AccessCookieName {
				values = append(values, c.Value)
			}
		}
		mu.Lock()
		seen = append(seen, values)
		mu.Unlock()
		if len(values) != 1 || values[0] != "fresh" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(identity{ID: "42", Username: "sam"})
	})
	g, srv, _ := newTestGate(t, h)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	g.Client().Jar.SetCookies(u, []*http.Cookie{{Name: AccessCookieName, Value: "stale", Path: "/"}})

	var got identity
	require.NoError(t, g.DoJSON(context.Background(), http.MethodGet, "/auth/user-info", nil, &got))

	assert.Equal(t, identity{ID: "42", Username: "sam"}, got)
	assert.Equal(t, [][]string{{"stale"}, {"fresh"}}, seen)
}

func runConcurrent(t *testing.T, g *Gate, n int) {
	t.Helper()
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got identity
			errs <- g.DoJSON(context.Background(), http.MethodGet, "/auth/user-info", nil, &got)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestGate_ConcurrentCallsRenewIndependently(t *testing.T) {
	const n = 5
	s := &staleSession{callers: n, all: make(chan struct{})}
	g, _, _ := newTestGate(t, s)

	runConcurrent(t, g, n)

	assert.Equal(t, n, s.refreshCount())
}

func TestGate_RenewalCoalescing(t *testing.T) {
	const n = 5
	s := &staleSession{callers: n, all: make(chan struct{}), delay: 200 * time.Millisecond}
	g, _, _ := newTestGate(t, s, WithRenewalCoalescing())

	runConcurrent(t, g, n)

	assert.Equal(t, 1, s.refreshCount())
}

func TestGate_CoalescedFailureRedirectsOnce(t *testing.T) {
	const n = 4
	var arrived sync.WaitGroup
	arrived.Add(n)
	all := make(chan struct{})
	go func() { arrived.Wait(); close(all) }()

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/user-info", func(w http.ResponseWriter, r *http.Request) {
		arrived.Done()
		<-all
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		http.Error(w, "Refresh token has expired", http.StatusUnauthorized)
	})
	g, _, rd := newTestGate(t, mux, WithRenewalCoalescing())

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.DoJSON(context.Background(), http.MethodGet, "/auth/user-info", nil, nil)
			assert.True(t, errors.Is(err, ErrSessionExpired), "got %v", err)
		}()
	}
	wg.Wait()

	assert.Len(t, rd.all(), 1)
}

func TestGate_CoalescedRenewalSurvivesCancelledStarter(t *testing.T) {
	release := make(chan struct{})

	var mu sync.Mutex
	renewed := false
	rejected, refreshes := 0, 0
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/user-info", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := renewed
		if !ok {
			rejected++
		}
		mu.Unlock()
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"42","username":"sam"}`)
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		refreshes++
		mu.Unlock()
		<-release
		mu.Lock()
		renewed = true
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	g, _, rd := newTestGate(t, mux, WithRenewalCoalescing())
	count := func(n *int) func() int {
		return func() int {
			mu.Lock()
			defer mu.Unlock()
			return *n
		}
	}

	starterCtx, cancelStarter := context.WithCancel(context.Background())
	starter := make(chan error, 1)
	go func() { starter <- g.DoJSON(starterCtx, http.MethodGet, "/auth/user-info", nil, nil) }()
	require.Eventually(t, func() bool { return count(&refreshes)() == 1 }, 2*time.Second, 5*time.Millisecond)

	waiter := make(chan error, 1)
	var got identity
	go func() { waiter <- g.DoJSON(context.Background(), http.MethodGet, "/auth/user-info", nil, &got) }()
	require.Eventually(t, func() bool { return count(&rejected)() == 2 }, 2*time.Second, 5*time.Millisecond)
	// Let the waiter join the renewal in flight.
	time.Sleep(50 * time.Millisecond)

	cancelStarter()
	var terr *TransportError
	assert.ErrorAs(t, <-starter, &terr)

	close(release)
	require.NoError(t, <-waiter)
	assert.Equal(t, identity{ID: "42", Username: "sam"}, got)
	assert.Equal(t, 1, count(&refreshes)())
	assert.Empty(t, rd.all())
}

func TestGate_URL(t *testing.T) {
	g := NewGate(http.DefaultClient, "http://chat.local/", WithLoginPath("/login"))
	assert.Equal(t, "http://chat.local/auth/user-info", g.URL("/auth/user-info"))
	assert.Equal(t, "http://chat.local/auth/user-info", g.URL("auth/user-info"))
	assert.Equal(t, "http://chat.local/login", g.LoginURL())
}

func TestCheckResponse(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusConflict,
		Status:     "409 Conflict",
		Body:       io.NopCloser(bytes.NewBufferString("Username already taken\n")),
	}
	err := CheckResponse(resp)

	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "Username already taken", serr.Body)
	assert.Equal(t, "server returned 409 Conflict: Username already taken", serr.Error())
}
