package ws

import "time"

// ConnInfo describes one authenticated socket connection.
type ConnInfo struct {
	ConnID      string
	UserID      int
	Username    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
