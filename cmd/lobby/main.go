package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/publicsuffix"

	"go-chat-lobby/internal/auth"
	"go-chat-lobby/internal/chat"
	"go-chat-lobby/internal/config"
	"go-chat-lobby/internal/lobby"
	"go-chat-lobby/internal/reconnect"
	"go-chat-lobby/internal/session"
	"go-chat-lobby/internal/user"
)

const helpText = `commands:
  /join <room>   switch rooms
  /nick <name>   change username
  /who           list users in the room
  /whoami        show the signed-in user and session expiry
  /logout        end the session and quit
  /quit          quit
anything else is sent as a chat message`

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	email := flag.String("email", os.Getenv("CHAT_EMAIL"), "account email")
	password := flag.String("password", os.Getenv("CHAT_PASSWORD"), "account password")
	signUp := flag.Bool("signup", false, "create the account before signing in")
	room := flag.String("room", cfg.DefaultRoom, "room to join")
	verbose := flag.Bool("v", false, "log connection details")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)
	if !*verbose {
		logger.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. The cookie jar is the session: every client below shares it.
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		log.Fatalf("❌ cookie jar: %v", err)
	}
	httpClient := &http.Client{Jar: jar, Timeout: cfg.RequestTimeout}

	var expireOnce sync.Once
	gateOpts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithRefreshPath(cfg.RefreshPath),
		auth.WithLoginPath(cfg.LoginPath),
		auth.WithRedirector(auth.RedirectFunc(func(loginURL string) {
			expireOnce.Do(func() {
				fmt.Fprintf(os.Stderr, "⚠️ Session expired. Sign in again at %s\n", loginURL)
				stop()
			})
		})),
	}
	if cfg.CoalesceRenewals {
		gateOpts = append(gateOpts, auth.WithRenewalCoalescing())
	}
	gate := auth.NewGate(httpClient, cfg.BaseURL, gateOpts...)
	accounts := user.NewService(gate)

	// 2. Sign in
	if *email != "" {
		if *signUp {
			if err := accounts.SignUp(ctx, *email, *password); err != nil {
				log.Fatalf("❌ %v", err)
			}
			fmt.Println("✅ Account created")
		}
		if err := accounts.Login(ctx, *email, *password); err != nil {
			log.Fatalf("❌ %v", err)
		}
	}

	// 3. Realtime channel
	view := newTerminalView(os.Stdout)
	var onLost func(chat.StateChange)
	manager := chat.NewManager(
		&chat.WSTransport{HubURL: cfg.HubURL, Jar: jar, HandshakeTimeout: cfg.DialTimeout},
		chat.WithLogger(logger),
		chat.WithHooks(chat.Hooks{
			OnRoomChange: view.RenderRoom,
			OnStateChange: func(sc chat.StateChange) {
				view.RenderState(sc)
				if onLost != nil {
					onLost(sc)
				}
			},
		}),
	)
	if cfg.Reconnect {
		policy := reconnect.New(manager,
			reconnect.WithMaxTries(cfg.ReconnectMaxTries),
			reconnect.WithLogger(logger),
		)
		onLost = policy.OnStateChange(ctx)
	}

	lb := lobby.New(accounts, manager, session.New(), view, logger)
	if err := lb.Start(ctx, *room); err != nil {
		if errors.Is(err, auth.ErrSessionExpired) || ctx.Err() != nil {
			os.Exit(1)
		}
		log.Fatalf("❌ %v", err)
	}
	defer manager.Disconnect()
	fmt.Println(helpText)

	// 4. Input loop
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := runCommand(ctx, lb, gate, view, line); quit {
				return
			}
		}
	}
}

func runCommand(ctx context.Context, lb *lobby.Lobby, gate *auth.Gate, view *terminalView, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "/join":
		err = lb.JoinRoom(ctx, arg)
	case "/nick":
		err = lb.Rename(ctx, arg)
	case "/who":
		view.RenderPresence(lb.Session().Presence())
	case "/whoami":
		info, ierr := auth.SessionInfo(gate.Client().Jar, gate.BaseURL())
		if ierr != nil {
			err = ierr
			break
		}
		view.Printf("%s (%s), session valid until %s", lb.Session().Username(), info.UserID, info.ExpiresAt.Local().Format(time.Kitchen))
	case "/logout":
		if err := lb.Logout(ctx); err != nil {
			view.Printf("❌ %v", err)
		}
		return true
	case "/quit":
		return true
	case "/help":
		view.Printf("%s", helpText)
	default:
		err = lb.SendChat(line)
	}
	if err != nil {
		view.Printf("❌ %v", err)
	}
	return false
}
