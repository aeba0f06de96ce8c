package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read. Clients only send pings.
	maxFrameBytes = 4 << 10 // 4 KiB
)

const (
	// Heartbeat defaults (overridable via SPENDSYNC_WS_HEARTBEAT_*).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound rate limits (frames per window).
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
