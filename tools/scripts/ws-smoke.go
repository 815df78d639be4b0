// Package main is a CI-friendly end-to-end smoke test for a running huddle server.
//
// It validates:
//   - register over the auth API and handshake with the issued token
//   - connect_announce -> online_users roster for every client
//   - typing relay to other clients only
//   - send_message fan-out to everyone including the sender
//   - a second login of the same user evicts the first (notice + close 4001)
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "huddle/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
)

const maxReadBytes = 1 << 16

type account struct {
	ID       string
	Username string
	Token    string
}

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("base", "http://127.0.0.1:8080", "Server base URL (http/https)")
		origin   = flag.String("origin", "http://localhost:3000", "Origin header for the websocket handshake")
		text     = flag.String("text", "hello huddle", "Message text to send")
		password = flag.String("password", "smoke-password", "Password for the generated accounts")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := url.Parse(*baseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		fatalf("invalid -base %q", *baseURL)
	}
	wsURL := *base
	wsURL.Scheme = map[string]string{"http": "ws", "https": "wss"}[base.Scheme]
	wsURL.Path = "/ws"

	root := context.Background()
	suffix := strings.ToLower(ulid.Make().String()[20:])

	alice := mustRegister(root, *baseURL, "alice_"+suffix, *password, *timeout)
	bob := mustRegister(root, *baseURL, "bob_"+suffix, *password, *timeout)
	if *verbose {
		fmt.Printf("registered: alice=%s bob=%s\n", alice.ID, bob.ID)
	}

	a1 := mustConnect(root, "alice#1", wsURL.String(), *origin, alice, *timeout)
	defer closeWS(a1.conn)
	mustRoster(root, a1, *timeout, alice)

	b := mustConnect(root, "bob", wsURL.String(), *origin, bob, *timeout)
	defer closeWS(b.conn)
	mustRoster(root, b, *timeout, alice, bob)
	mustRoster(root, a1, *timeout, alice, bob)

	mustWrite(root, b, v1.TypeTyping, v1.TypingPayload{IsTyping: true}, *timeout)
	typing := a1.mustReadUntilType(root, v1.TypeUserTyping, *timeout)
	var tp v1.UserTypingPayload
	mustUnmarshal(typing.Payload, &tp)
	if tp.UserID != bob.ID || !tp.IsTyping {
		fatalf("user_typing mismatch: %+v", tp)
	}

	mustWrite(root, a1, v1.TypeSendMessage, v1.SendMessagePayload{Message: *text}, *timeout)
	for _, c := range []*smokeClient{a1, b} {
		got := c.mustReadUntilType(root, v1.TypeReceiveMessage, *timeout)
		var p v1.ReceiveMessagePayload
		mustUnmarshal(got.Payload, &p)
		if p.SenderID != alice.ID || p.Username != alice.Username || p.Message != *text {
			fatalf("receive_message mismatch (%s): %+v", c.name, p)
		}
	}

	a2 := mustConnect(root, "alice#2", wsURL.String(), *origin, alice, *timeout)
	defer closeWS(a2.conn)
	mustRoster(root, a2, *timeout, alice, bob)

	notice := a1.mustReadUntilType(root, v1.TypeAccountLoginElsewhere, *timeout)
	var np v1.NoticePayload
	mustUnmarshal(notice.Payload, &np)
	if strings.TrimSpace(np.Message) == "" {
		fatalf("account_login_elsewhere without message")
	}
	if code := a1.mustClose(root, *timeout); code != v1.CloseCodeEvicted {
		fatalf("evicted close code got=%d want=%d", code, v1.CloseCodeEvicted)
	}

	fmt.Printf("OK: alice=%s bob=%s evicted_with=%d\n", alice.ID, bob.ID, v1.CloseCodeEvicted)
}

func mustRegister(parent context.Context, baseURL, username, password string, timeout time.Duration) account {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	body, _ := json.Marshal(map[string]string{
		"username": username,
		"email":    username + "@smoke.huddle.test",
		"password": password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/auth/register", bytes.NewReader(body))
	if err != nil {
		fatalf("register request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("register %s: %v", username, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Token string `json:"token"`
		User  struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("register %s: decode: %v", username, err)
	}
	if resp.StatusCode != http.StatusCreated || out.Token == "" {
		fatalf("register %s: status=%d", username, resp.StatusCode)
	}
	return account{ID: out.User.ID, Username: out.User.Username, Token: out.Token}
}

func mustConnect(parent context.Context, name, wsURL, origin string, acct account, timeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+acct.Token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 256),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, c, v1.TypeConnectAnnounce, v1.ConnectAnnouncePayload{UserID: acct.ID, Username: acct.Username}, timeout)
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)
		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.errCh <- err
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.errCh <- fmt.Errorf("bad json: %w", err)
				return
			}
			if err := env.Validate(); err != nil {
				c.errCh <- fmt.Errorf("bad envelope: %w", err)
				return
			}
			select {
			case c.inbox <- env:
			default:
				c.errCh <- errors.New("inbox overflow: consumer too slow")
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadUntilType(parent context.Context, typ string, timeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s (%s)", typ, c.name)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed waiting for %s (%s): %v", typ, c.name, <-c.errCh)
			}
			if env.Type == v1.TypeError {
				var p v1.NoticePayload
				_ = json.Unmarshal(env.Payload, &p)
				fatalf("server error while waiting for %s (%s): %s", typ, c.name, p.Message)
			}
			if env.Type == typ {
				return env
			}
		}
	}
}

// mustClose waits for the server to close the socket and returns the close code.
func (c *smokeClient) mustClose(parent context.Context, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for close (%s)", c.name)
		case _, ok := <-c.inbox:
			if !ok {
				return int(websocket.CloseStatus(<-c.errCh))
			}
		}
	}
}

func mustRoster(parent context.Context, c *smokeClient, timeout time.Duration, want ...account) {
	env := c.mustReadUntilType(parent, v1.TypeOnlineUsers, timeout)
	var got v1.OnlineUsersPayload
	mustUnmarshal(env.Payload, &got)

	seen := make(map[string]string, len(got))
	for _, e := range got {
		seen[e.UserID] = e.Username
	}
	for _, a := range want {
		if seen[a.ID] != a.Username {
			fatalf("roster (%s) missing %s/%s: %+v", c.name, a.ID, a.Username, got)
		}
	}
}

func mustWrite(parent context.Context, c *smokeClient, typ string, payload any, timeout time.Duration) {
	raw, err := json.Marshal(payload)
	if err != nil {
		fatalf("marshal %s: %v", typ, err)
	}
	b, err := json.Marshal(v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      ulid.Make().String(),
		TS:      time.Now().UTC(),
		Payload: raw,
	})
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s (%s): %v", typ, c.name, err)
	}
}

func mustUnmarshal(b []byte, v any) {
	if err := json.Unmarshal(b, v); err != nil {
		fatalf("unmarshal payload: %v", err)
	}
}

func closeWS(c *websocket.Conn) {
	_ = c.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
