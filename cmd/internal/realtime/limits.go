package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Larger frames close the connection with 1009.
	maxFrameBytes = 64 << 10 // 64 KiB
)

const (
	// Heartbeat defaults (overridable through GatewayConfig).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Consecutive ping failures before the connection is force-closed.
	wsMaxPingFailures = 3
)
