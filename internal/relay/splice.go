package relay

import (
	"context"
	"io"
	"net"
	"time"
)

func aLongTimeAgo() time.Time { return time.Unix(1, 0) }

// runSplice copies from src to dst using io.Copy, which on Linux dispatches
// through (*net.TCPConn).ReadFrom's splice(2) fast path when both ends are
// raw TCP sockets, avoiding a userspace copy. Falls back to the ordinary
// copy loop transparently on platforms without splice support.
func runSplice(ctx context.Context, cancel context.CancelFunc, src, dst *net.TCPConn, errCh chan<- error) {
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = src.SetReadDeadline(aLongTimeAgo())
		case <-done:
		}
	}()

	_, err := io.Copy(dst, src)
	close(done)
	_ = dst.CloseWrite()

	if err != nil {
		errCh <- err
		return
	}
	errCh <- nil
}
