package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"go-chat-lobby/internal/auth"
	myMiddleware "go-chat-lobby/internal/middleware"
	"go-chat-lobby/internal/user"
)

const resetTokenTTL = 30 * time.Minute

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	email := r.FormValue("email")
	password := r.FormValue("password")
	if err := validateCredentials(email, password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	acct, err := s.store.UserByEmail(r.Context(), email)
	if err != nil {
		http.Error(w, "Account not created with this email yet.", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		http.Error(w, "Incorrect password", http.StatusUnauthorized)
		return
	}
	if err := s.startSession(r.Context(), w, acct.ID); err != nil {
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SignUp creates an active account with a generated username.
func (s *Server) SignUp(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	email := r.FormValue("email")
	password := r.FormValue("password")
	if err := validateCredentials(email, password); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		http.Error(w, "Failed to hash password.", http.StatusInternalServerError)
		return
	}
	username, err := s.uniqueUsername(r.Context())
	if err != nil {
		http.Error(w, "Failed to create unique username.", http.StatusInternalServerError)
		return
	}

	acct := &Account{ID: uuid.NewString(), Email: email, Username: username, PasswordHash: string(hash)}
	if err := s.store.CreateUser(r.Context(), acct); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			http.Error(w, "Email is already registered. Please sign in or reset password.", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to create user.", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte("Signup successful."))
}

// ForgotPassword answers the same way whether or not the account exists.
func (s *Server) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	email := r.FormValue("email")
	if _, err := mail.ParseAddress(email); err != nil {
		http.Error(w, "Invalid email format.", http.StatusBadRequest)
		return
	}

	if acct, err := s.store.UserByEmail(r.Context(), email); err == nil {
		t := Token{Value: uuid.NewString(), UserID: acct.ID, ExpiresAt: s.tokens.Now().Add(resetTokenTTL)}
		if err := s.store.SaveResetToken(r.Context(), t); err != nil {
			http.Error(w, "Failed to send password reset email.", http.StatusInternalServerError)
			return
		}
		s.resetNotifier(email, s.baseURL+"/reset-password?token="+url.QueryEscape(t.Value))
	}
	w.Write([]byte("Password reset link has been sent."))
}

func (s *Server) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	password := r.FormValue("password")
	if password == "" {
		http.Error(w, "Password is required.", http.StatusBadRequest)
		return
	}

	t, err := s.store.TakeResetToken(r.Context(), r.FormValue("token"))
	if err != nil || s.tokens.Now().After(t.ExpiresAt) {
		http.Error(w, "Invalid or expired reset link.", http.StatusBadRequest)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		http.Error(w, "Failed to hash password.", http.StatusInternalServerError)
		return
	}
	if err := s.store.UpdatePassword(r.Context(), t.UserID, string(hash)); err != nil {
		http.Error(w, "Failed to update password.", http.StatusInternalServerError)
		return
	}
	if err := s.store.DeleteRefreshTokens(r.Context(), t.UserID); err != nil {
		s.logger.Printf("❌ Failed to revoke sessions for %s: %v", t.UserID, err)
	}
	w.Write([]byte("Password successfully updated."))
}

// Refresh swaps a valid refresh token for a new access and refresh token.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(auth.RefreshCookieName)
	if err != nil || c.Value == "" {
		http.Error(w, "Missing refresh token", http.StatusBadRequest)
		return
	}
	t, err := s.store.RefreshToken(r.Context(), c.Value)
	if err != nil {
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}
	s.store.DeleteRefreshToken(r.Context(), t.Value)
	if s.tokens.Now().After(t.ExpiresAt) {
		http.Error(w, "Refresh token has expired", http.StatusUnauthorized)
		return
	}
	if err := s.startSession(r.Context(), w, t.UserID); err != nil {
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	id, _ := myMiddleware.UserID(r.Context())
	if err := s.store.DeleteRefreshTokens(r.Context(), id); err != nil {
		http.Error(w, "Failed to delete refresh token on logout", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, clearCookie(auth.AccessCookieName))
	http.SetCookie(w, clearCookie(auth.RefreshCookieName))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) UserInfo(w http.ResponseWriter, r *http.Request) {
	id, _ := myMiddleware.UserID(r.Context())
	acct, err := s.store.UserByID(r.Context(), id)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user.Info{ID: acct.ID, Username: acct.Username})
}

func (s *Server) UpdateUsername(w http.ResponseWriter, r *http.Request) {
	id, _ := myMiddleware.UserID(r.Context())

	var req user.UpdateUsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload.", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(req.Username)
	if len(username) < 3 || len(username) > 20 {
		http.Error(w, "Username must be between 3 and 20 characters.", http.StatusBadRequest)
		return
	}

	if err := s.store.UpdateUsername(r.Context(), id, username); err != nil {
		switch {
		case errors.Is(err, ErrUsernameTaken):
			http.Error(w, "Username already taken", http.StatusConflict)
		case errors.Is(err, ErrNotFound):
			http.Error(w, "User not found", http.StatusNotFound)
		default:
			http.Error(w, "Failed to update username", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status": "ok"}`))
}

// ServeWs upgrades an authenticated request and joins the room in the
// room_id query parameter.
func (s *Server) ServeWs(w http.ResponseWriter, r *http.Request) {
	id, _ := myMiddleware.UserID(r.Context())
	roomID := strings.TrimSpace(r.URL.Query().Get("room_id"))
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}
	acct, err := s.store.UserByID(r.Context(), id)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Println(err)
		return
	}

	client := newClient(s.hub, conn, acct.ID, acct.Username, roomID, s.logger)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (s *Server) startSession(ctx context.Context, w http.ResponseWriter, userID string) error {
	access, exp, err := s.tokens.IssueAccess(userID)
	if err != nil {
		return err
	}
	refresh := s.tokens.NewRefresh(userID)
	if err := s.store.SaveRefreshToken(ctx, refresh); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	http.SetCookie(w, sessionCookie(auth.AccessCookieName, access, exp))
	http.SetCookie(w, sessionCookie(auth.RefreshCookieName, refresh.Value, refresh.ExpiresAt))
	return nil
}

func (s *Server) uniqueUsername(ctx context.Context) (string, error) {
	for range 10 {
		username := randomUsername()
		exists, err := s.store.UsernameExists(ctx, username)
		if err != nil {
			return "", err
		}
		if !exists {
			return username, nil
		}
	}
	return "", errors.New("failed to generate unique username")
}

func randomUsername() string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 8)
	for i := range b {
		b[i] = charset[rand.IntN(len(charset))]
	}
	return "user_" + string(b)
}

func validateCredentials(email, password string) error {
	if email == "" || password == "" {
		return errors.New("Email and password are required.")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("Invalid email format.")
	}
	return nil
}
