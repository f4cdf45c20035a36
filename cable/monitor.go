package cable

import (
	"context"

	"github.com/bhoriuchi/graphql-go-cable/utils/backoff"
	"github.com/bhoriuchi/graphql-go-cable/utils/interval"
)

// monitor polls the consumer, reopening closed connections and closing
// stale ones
type monitor struct {
	consumer *Consumer
	backoff  *backoff.Backoff
	interval *interval.Interval
}

func newMonitor(c *Consumer) *monitor {
	m := &monitor{
		consumer: c,
		backoff:  backoff.NewBackoff(c.opts.backoff),
	}
	m.interval = interval.SetInterval(m.poll, c.opts.pollInterval)
	return m
}

func (m *monitor) stop() {
	m.interval.Clear()
}

func (m *monitor) recordConnect() {
	m.backoff.Reset()
}

func (m *monitor) poll(i *interval.Interval) {
	c := m.consumer
	conn := c.activeConnection()

	switch {
	case conn == nil && !c.isOpening():
		delay := m.backoff.Duration()
		c.log.Debugf("reconnecting, attempt %d", m.backoff.Attempts())

		ctx, cancel := context.WithTimeout(context.Background(), c.dialer.HandshakeTimeout)
		err := c.Open(ctx)
		cancel()

		if err != nil {
			c.log.WithError(err).Debugf("reconnect failed, retrying in %s", delay)
			i.Reset(delay)
			return
		}

	case conn != nil && conn.stale(c.opts.staleThreshold):
		c.log.WithField("connectionId", conn.id).Infof("connection is stale, closing")
		conn.close("stale connection", true)
	}

	i.Reset(c.opts.pollInterval)
}
