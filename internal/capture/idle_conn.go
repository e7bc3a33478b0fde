package capture

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// idleConn pushes its deadline forward on every read and write, so a
// transfer only fails after timeout without progress in either direction.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func (c *idleConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

// newIdleTimeoutTransport returns a transport whose connections time out
// after idle of inactivity rather than after a fixed total duration. TLS
// runs on top of the wrapped connection, so handshake records count as
// activity too.
func newIdleTimeoutTransport(idle time.Duration, tlsConfig *tls.Config) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   idle,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &idleConn{Conn: conn, timeout: idle}, nil
		},
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: idle,
		// One upload per trigger; pooled connections would sit on an
		// expiring deadline between cycles
		DisableKeepAlives: true,
	}
}
