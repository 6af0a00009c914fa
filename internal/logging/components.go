package logging

// Component constants for structured logging
const (
	ComponentStartup   = "startup"
	ComponentDatabase  = "database"
	ComponentAuth      = "auth"
	ComponentRegistry  = "registry"
	ComponentLiveness  = "liveness-poller"
	ComponentAPI       = "api"
	ComponentAgent     = "agent"
	ComponentSync      = "playlist-sync"
	ComponentCache     = "content-cache"
	ComponentPlayback  = "playback"
	ComponentHeartbeat = "heartbeat"
	ComponentDisplay   = "display"
	ComponentPoller    = "poller"
)
