package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"huddle/cmd/internal/auth/session"
	v1 "huddle/contracts/realtime/v1"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	wsSubprotocolV1 = v1.Subprotocol

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDrainTimeout        = 2 * time.Second
)

// DefaultAllowedOrigins is the dev allowlist (localhost only).
var DefaultAllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}

// TokenVerifier verifies identity tokens presented at handshake.
type TokenVerifier interface {
	Verify(token string, now time.Time) (session.Claims, error)
}

// GatewayConfig is the websocket transport policy.
type GatewayConfig struct {
	// DevInsecure disables websocket.Accept's own origin verification. Dev only.
	DevInsecure bool

	OriginRequired bool
	AllowedOrigins []string

	// RequireAuth rejects handshakes without a valid identity token (401).
	RequireAuth bool

	SendQueueSize int
	WriteTimeout  time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// DefaultGatewayConfig returns the secure defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    append([]string(nil), DefaultAllowedOrigins...),
		RequireAuth:       true,
		SendQueueSize:     wsDefaultSendQueueSize,
		WriteTimeout:      wsDefaultWriteTimeout,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
	}
}

// WSGateway is the WebSocket entrypoint for the realtime coordinator.
//
// It enforces origin policy, handshake authentication, subprotocol selection
// and heartbeats, and feeds decoded frames to one Endpoint per connection.
type WSGateway struct {
	log    *slog.Logger
	router *Router
	tokens TokenVerifier
	cfg    GatewayConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway. tokens may be nil only when cfg.RequireAuth is false.
func NewWSGateway(log *slog.Logger, router *Router, tokens TokenVerifier, cfg GatewayConfig) (*WSGateway, error) {
	if log == nil {
		log = slog.Default()
	}
	if router == nil {
		return nil, errors.New("realtime: nil router")
	}
	if cfg.RequireAuth && tokens == nil {
		return nil, errors.New("realtime: auth required but no token verifier configured")
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = wsDefaultWriteTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = heartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = heartbeatTimeout
	}

	return &WSGateway{
		log:    log,
		router: router,
		tokens: tokens,
		cfg:    cfg,
		// websocket.Accept enforces its own origin policy (same host, or OriginPatterns).
		// Patterns are derived from the allowlist so the two layers agree.
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs it until either side closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	principal, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Server read/write deadlines would otherwise outlive the hijack.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}

	if sp := ws.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = ws.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	ws.SetReadLimit(maxFrameBytes)

	connID, err := NewConnectionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.conn_id.fail", "err", err)
		_ = ws.Close(websocket.StatusInternalError, "internal error")
		return
	}

	client := newWSClient(connID, g.cfg.SendQueueSize)
	endpoint := g.router.Open(client, principal)

	attrs := []any{"conn_id", connID, "remote", r.RemoteAddr}
	if principal != nil {
		attrs = append(attrs, "user_id", principal.UserID)
	}
	g.log.Info("ws.open", attrs...)

	grp, ctx := errgroup.WithContext(r.Context())
	grp.Go(func() error { return g.writeLoop(ctx, ws, client) })
	grp.Go(func() error { return g.heartbeatLoop(ctx, ws, client) })

	g.readLoop(ctx, ws, client, endpoint)

	endpoint.Disconnect()
	client.Close(CloseNormal)

	if err := grp.Wait(); err != nil {
		g.log.Info("ws.session.end", "conn_id", connID, "err", err)
	}
	g.log.Info("ws.close", "conn_id", connID, "reason", client.reason.String())
}

func (g *WSGateway) readLoop(ctx context.Context, ws *websocket.Conn, client *wsClient, endpoint *Endpoint) {
	for {
		data, err := readFrame(ctx, ws)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose, readErrCtxDone, readErrConnClosed:
				g.log.Debug("ws.read.end", "conn_id", client.id, "close_status", websocket.CloseStatus(err))
			case readErrMessageType:
				endpoint.sendError("unsupported frame type")
				continue
			default:
				g.log.Info("ws.read.fail", "conn_id", client.id, "err", err)
			}
			return
		}

		endpoint.HandleFrame(data)

		select {
		case <-client.Done():
			// Closed by the coordinator (eviction, shutdown); the writer is closing the socket.
			return
		default:
		}
	}
}

// writeLoop owns all socket writes. After Close it drains what is queued, then sends the close frame.
func (g *WSGateway) writeLoop(ctx context.Context, ws *websocket.Conn, client *wsClient) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case env := <-client.send:
			if err := writeEnvelope(ctx, ws, env, g.cfg.WriteTimeout); err != nil {
				g.log.Info("ws.write.fail", "conn_id", client.id, "close_status", websocket.CloseStatus(err), "err", err)
				client.Close(CloseWriteFailed)
				code, reason := client.closeStatus()
				_ = ws.Close(code, reason)
				return fmt.Errorf("write %s: %w", env.Type, err)
			}

		case <-client.Done():
			drainCtx, cancel := context.WithTimeout(ctx, wsDrainTimeout)
			g.drain(drainCtx, ws, client)
			cancel()

			code, reason := client.closeStatus()
			_ = ws.Close(code, reason)
			return nil
		}
	}
}

func (g *WSGateway) drain(ctx context.Context, ws *websocket.Conn, client *wsClient) {
	for {
		select {
		case env := <-client.send:
			if err := writeEnvelope(ctx, ws, env, g.cfg.WriteTimeout); err != nil {
				g.log.Debug("ws.drain.fail", "conn_id", client.id, "err", err)
				return
			}
		default:
			return
		}
	}
}

func (g *WSGateway) heartbeatLoop(ctx context.Context, ws *websocket.Conn, client *wsClient) error {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return nil
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := ws.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "conn_id", client.id, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					client.Close(CloseHeartbeat)
					return nil
				}
				continue
			}
			failures = 0
		}
	}
}

// ---- handshake auth ----

var errMissingToken = errors.New("missing token")

// authenticate returns the verified principal, or nil when auth is optional and no token was sent.
func (g *WSGateway) authenticate(r *http.Request) (*Principal, error) {
	tok := handshakeToken(r)
	if tok == "" {
		if g.cfg.RequireAuth {
			return nil, errMissingToken
		}
		return nil, nil
	}
	if g.tokens == nil {
		return nil, nil
	}

	claims, err := g.tokens.Verify(tok, time.Now().UTC())
	if err != nil {
		if g.cfg.RequireAuth {
			return nil, err
		}
		g.log.Info("ws.auth.ignored", "err", err, "remote", r.RemoteAddr)
		return nil, nil
	}
	return &Principal{UserID: claims.UserID, Username: claims.Username}, nil
}

func handshakeToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ---- envelope IO ----

func readFrame(ctx context.Context, ws *websocket.Conn) ([]byte, error) {
	mt, data, err := ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, errUnsupportedMessageType
	}
	return data, nil
}

func writeEnvelope(parent context.Context, ws *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

var errUnsupportedMessageType = errors.New("unsupported message type")

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrMessageType
)

func classifyReadErr(err error) readErrKind {
	if errors.Is(err, errUnsupportedMessageType) {
		return readErrMessageType
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted, de-duplicated hosts of the allowlist.
// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
