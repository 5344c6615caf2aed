// Package devserver is a small chat hub backend: account endpoints with
// cookie sessions and a room websocket. It exists to run the lobby client
// against locally and in tests.
package devserver

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	myMiddleware "go-chat-lobby/internal/middleware"
)

type Server struct {
	store         Store
	tokens        *Tokens
	hub           *Hub
	baseURL       string
	logger        *log.Logger
	requestLog    bool
	resetNotifier func(email, link string)
	upgrader      websocket.Upgrader
}

type Option func(*Server)

func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithBaseURL sets the origin used in password reset links.
func WithBaseURL(u string) Option {
	return func(s *Server) { s.baseURL = u }
}

func WithRequestLogging() Option {
	return func(s *Server) { s.requestLog = true }
}

// WithResetNotifier replaces the default of logging reset links.
func WithResetNotifier(fn func(email, link string)) Option {
	return func(s *Server) { s.resetNotifier = fn }
}

func New(store Store, tokens *Tokens, hub *Hub, opts ...Option) *Server {
	s := &Server{
		store:   store,
		tokens:  tokens,
		hub:     hub,
		baseURL: "http://localhost:8080",
		logger:  log.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resetNotifier == nil {
		s.resetNotifier = func(email, link string) {
			s.logger.Printf("📧 Password reset for %s: %s", email, link)
		}
	}
	return s
}

func (s *Server) Routes() http.Handler {
	authMiddleware := myMiddleware.NewAuthMiddleware(s.tokens)

	r := chi.NewRouter()
	if s.requestLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Use(myMiddleware.NoCache)

		// Public Routes
		r.Post("/login", s.Login)
		r.Post("/sign-up", s.SignUp)
		r.Post("/forgot-password", s.ForgotPassword)
		r.Post("/reset-password", s.ResetPassword)
		r.Post("/refresh", s.Refresh)

		// Protected Routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handle)
			r.Get("/user-info", s.UserInfo)
			r.Post("/update-username", s.UpdateUsername)
			r.Post("/logout", s.Logout)
		})
	})

	r.With(authMiddleware.Handle).Get("/ws", s.ServeWs)
	return r
}
