package constants

import "time"

const (
	JWTSecretMinLength = 32

	DefaultHTTPPort = "8090"

	// Protocol-level heartbeat: ping every 5s, force-close after 10s of silence.
	DefaultWebSocketPingPeriod  = 5 * time.Second
	DefaultWebSocketPongWait    = 10 * time.Second
	DefaultWebSocketWriteWait   = 10 * time.Second
	DefaultWebSocketMaxMsgSize  = 64 * 1024
	DefaultWebSocketSendBufSize = 256

	DefaultHubQueueSize  = 1024
	DefaultLookupTimeout = 3 * time.Second

	DefaultRequestTimeout = 5 * time.Second

	EventLogin         = "login"
	EventLogout        = "logout"
	EventFriendRequest = "request"
	EventFriendAccept  = "friend"

	DBPoolMaxConns        = 25
	DBPoolMinConns        = 5
	DBPoolConnMaxLifetime = time.Hour
	DBPoolConnMaxIdleTime = 30 * time.Minute
	DBPoolHealthCheck     = time.Minute
	DBPoolConnectTimeout  = 5 * time.Second
	DBPoolMaxAttempts     = 10
	DBPoolRetryDelay      = time.Second
	DBPoolMetricsInterval = 30 * time.Second

	ServerReadHeaderTimeout = 5 * time.Second
	ServerReadTimeout       = 10 * time.Second
	ServerWriteTimeout      = 10 * time.Second
	ServerIdleTimeout       = 120 * time.Second

	ShutdownTimeout = 30 * time.Second
	DrainTimeout    = 10 * time.Second

	LoggerMaxSize    = 100
	LoggerMaxBackups = 3
	LoggerMaxAge     = 28
)

type TraceIDKeyType string

const TraceIDKey TraceIDKeyType = "trace_id"
