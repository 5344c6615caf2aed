package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"

	"go-chat-lobby/internal/auth"
	"go-chat-lobby/internal/chat"
	"go-chat-lobby/internal/config"
	"go-chat-lobby/internal/user"
)

const password = "password123"

var (
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080", "hub http origin")
	pairs := flag.Int("pairs", 50, "number of user pairs; each pair shares a room")
	msgCount := flag.Int("msgs", 20, "messages per user")
	flag.Parse()

	hubURL, err := config.HubURLFor(*baseURL)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	log.Printf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", *pairs*2, *msgCount)
	start := time.Now()
	run := fmt.Sprintf("%d", start.UnixNano())

	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(*baseURL, hubURL, run, pairID, *msgCount)
		}(i)
	}
	wg.Wait()

	log.Printf("✅ LOAD TEST COMPLETE in %s: sent=%d received=%d failed=%d",
		time.Since(start).Round(time.Millisecond), sent.Load(), received.Load(), failed.Load())
}

func runPair(baseURL, hubURL, run string, pairID, msgCount int) {
	room := fmt.Sprintf("load_%d", pairID)

	var wg sync.WaitGroup
	for _, side := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			email := fmt.Sprintf("u_%s_%d_%s@loadtest.local", run, pairID, side)
			spamChat(baseURL, hubURL, email, room, msgCount)
		}()
	}
	wg.Wait()
}

// spamChat signs a fresh user up, joins room and sends msgCount messages.
func spamChat(baseURL, hubURL, email, room string, msgCount int) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		failed.Add(1)
		return
	}
	quiet := log.New(io.Discard, "", 0)
	gate := auth.NewGate(&http.Client{Jar: jar, Timeout: 10 * time.Second}, baseURL, auth.WithLogger(quiet))
	accounts := user.NewService(gate)

	if err := accounts.SignUp(ctx, email, password); err != nil {
		log.Printf("❌ Sign-up Failed [%s]: %v", email, err)
		failed.Add(1)
		return
	}
	if err := accounts.Login(ctx, email, password); err != nil {
		log.Printf("❌ Login Failed [%s]: %v", email, err)
		failed.Add(1)
		return
	}

	manager := chat.NewManager(&chat.WSTransport{HubURL: hubURL, Jar: jar}, chat.WithLogger(quiet))
	manager.OnChat(func(p chat.ChatPayload) {
		if !p.IsNotification() {
			received.Add(1)
		}
	})
	if err := manager.Connect(ctx, room); err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", email, err)
		failed.Add(1)
		return
	}
	defer manager.Disconnect()

	for i := 0; i < msgCount; i++ {
		if err := manager.SendChat(fmt.Sprintf("LoadTest Msg %d from %s", i, email)); err != nil {
			log.Printf("❌ Send Fail [%s]: %v", email, err)
			failed.Add(1)
			break
		}
		sent.Add(1)
		// Small sleep to simulate real network pacing
		time.Sleep(10 * time.Millisecond)
	}
	// Let the partner's last messages arrive before leaving.
	time.Sleep(500 * time.Millisecond)
	log.Printf("✅ %s finished sending %d msgs", email, msgCount)
}
