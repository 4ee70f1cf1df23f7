package chat

import (
	"context"
	"time"

	"github.com/peerchat/peerchat/internal/wire"
)

// keepAliveLoop sends PUNCH datagrams on a fixed interval once the
// session is established, keeping the NAT/firewall UDP mapping open and
// signaling liveness to the peer.
func (l *Loop) keepAliveLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.sess.Established() {
				continue
			}
			peer := l.sess.Peer()
			if peer == nil {
				continue
			}
			if err := l.conn.Send(wire.NewPunch(), peer); err != nil {
				// Transient send failures are absorbed; the liveness
				// check surfaces a persistent problem.
				l.log.Debug("keep-alive send failed: " + err.Error())
				continue
			}
			l.metrics.RecordSent(wire.TypePunch.String())
			l.metrics.KeepAlivesSentTotal.Inc()
		}
	}
}
