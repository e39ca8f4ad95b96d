package conn

import (
	"context"
	"net"
	"time"
)

// DefaultHeartbeatInterval is how often RunHeartbeat pings connections
// needing it and purges errored ones.
const DefaultHeartbeatInterval = 5 * time.Second

// RunHeartbeat periodically pings connections in Default/Connecting/
// Expired status and purges connections in Error status, until ctx is
// canceled.
func (s *Socket) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ping()
			s.Table.Purge(time.Now())
		}
	}
}

func (s *Socket) ping() {
	for _, c := range s.Table.NeedsPing(time.Now()) {
		remote, ok := c.RemoteAddr.(*net.UDPAddr)
		if !ok {
			continue
		}
		s.Send(pingPayload, remote)
	}
}
