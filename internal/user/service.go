package user

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go-chat-lobby/internal/auth"
)

const (
	pathUserInfo       = "/auth/user-info"
	pathUpdateUsername = "/auth/update-username"
	pathLogout         = "/auth/logout"
	pathLogin          = "/auth/login"
	pathSignUp         = "/auth/sign-up"
	pathForgotPassword = "/auth/forgot-password"
	pathResetPassword  = "/auth/reset-password"
)

// Service calls the account endpoints. Protected calls go through the gate;
// login, sign-up and password reset are plain form posts.
type Service struct {
	gate *auth.Gate
}

func NewService(gate *auth.Gate) *Service {
	return &Service{gate: gate}
}

// Info fetches the current user's id and username.
func (s *Service) Info(ctx context.Context) (*Info, error) {
	var info Info
	if err := s.gate.DoJSON(ctx, http.MethodGet, pathUserInfo, nil, &info); err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	return &info, nil
}

func (s *Service) UpdateUsername(ctx context.Context, username string) error {
	req := UpdateUsernameRequest{Username: username}
	if err := s.gate.DoJSON(ctx, http.MethodPost, pathUpdateUsername, req, nil); err != nil {
		return fmt.Errorf("update username: %w", err)
	}
	return nil
}

// Logout invalidates the session server-side; the server also expires the
// cookies in the jar.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.gate.DoJSON(ctx, http.MethodPost, pathLogout, nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Login stores fresh session and refresh cookies in the client's jar.
func (s *Service) Login(ctx context.Context, email, password string) error {
	return s.postForm(ctx, "login", pathLogin, url.Values{
		"email":    {email},
		"password": {password},
	})
}

func (s *Service) SignUp(ctx context.Context, email, password string) error {
	return s.postForm(ctx, "create account", pathSignUp, url.Values{
		"email":    {email},
		"password": {password},
	})
}

// ForgotPassword asks the server to send a reset link to email.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	return s.postForm(ctx, "send reset link", pathForgotPassword, url.Values{
		"email": {email},
	})
}

func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	return s.postForm(ctx, "reset password", pathResetPassword, url.Values{
		"token":    {token},
		"password": {password},
	})
}

func (s *Service) postForm(ctx context.Context, op, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gate.URL(path), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.gate.Client().Do(req)
	if err != nil {
		return &auth.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := auth.CheckResponse(resp); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
