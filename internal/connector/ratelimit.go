package connector

import (
	"context"
	"net"

	"golang.org/x/time/rate"
)

// rateLimitedConn throttles Read/Write to a configured bytes-per-second
// rate, for operators who want a TCP connector to cap egress bandwidth
// per connection (`connector.tcp.rate_limit`).
type rateLimitedConn struct {
	net.Conn
	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter
}

// minBurst must cover the largest single Read/Write the relay engine issues
// (relay.defaultBufferSize), or WaitN rejects any read that exceeds the
// limiter's burst outright instead of just slowing it down.
const minBurst = 64 * 1024

func newRateLimitedConn(conn net.Conn, bytesPerSecond int) net.Conn {
	if bytesPerSecond <= 0 {
		return conn
	}
	burst := bytesPerSecond
	if burst < minBurst {
		burst = minBurst
	}
	return &rateLimitedConn{
		Conn:         conn,
		readLimiter:  rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
		writeLimiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

func (c *rateLimitedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		_ = c.readLimiter.WaitN(context.Background(), n)
	}
	return n, err
}

func (c *rateLimitedConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		_ = c.writeLimiter.WaitN(context.Background(), n)
	}
	return n, err
}
