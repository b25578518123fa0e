// Package relay implements the bidirectional TCP relay engine that sits
// between an ingress stream and an egress stream once routing and dialing
// have succeeded.
package relay

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/rikaaa0928/rog/internal/block"
	"github.com/rikaaa0928/rog/internal/streamio"
)

const defaultBufferSize = 32 * 1024

// Options configures a Run call.
type Options struct {
	// Carryover is written to the egress side before relaying starts (the
	// rewritten HTTP forward-proxy request line, e.g.). Nil for CONNECT
	// and SOCKS5 traffic.
	Carryover []byte
	// Manager, if non-nil, routes both directions through a DataBlock pair
	// for backpressure instead of copying directly.
	Manager *block.Manager
	// BufferSize overrides the per-loop read buffer size; 0 selects the
	// default.
	BufferSize int
}

// Run relays bytes between ingress and egress until either side closes or
// errors, then tears down both directions. It returns nil for an orderly
// peer-closed shutdown; only a genuine setup failure (writing Carryover)
// is returned as an error distinct from normal EOF.
func Run(ctx context.Context, ingress, egress streamio.Stream, opts Options) error {
	if len(opts.Carryover) > 0 {
		if _, err := egress.Write(opts.Carryover); err != nil {
			return err
		}
	}

	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inReader, inWriter := ingress.Split()
	outReader, outWriter := egress.Split()

	errCh := make(chan error, 2)

	if opts.Manager != nil {
		go runQueued(ctx, cancel, inReader, outWriter, opts.Manager, bufSize, errCh)
		go runQueued(ctx, cancel, outReader, inWriter, opts.Manager, bufSize, errCh)
	} else if rawIn, rawOut, ok := trySplice(ingress, egress); ok {
		go runSplice(ctx, cancel, rawIn, rawOut, errCh)
		go runSplice(ctx, cancel, rawOut, rawIn, errCh)
	} else {
		go runDirect(ctx, cancel, inReader, outWriter, bufSize, errCh)
		go runDirect(ctx, cancel, outReader, inWriter, bufSize, errCh)
	}

	// Both loops have joined; an I/O error in either ends the relay the
	// same way EOF does and is not surfaced.
	<-errCh
	<-errCh
	return nil
}

// runDirect copies from src to dst until EOF, error, or cancellation, then
// half-closes dst and cancels the shared token so the opposite loop unwinds.
func runDirect(ctx context.Context, cancel context.CancelFunc, src streamio.ReadHalf, dst streamio.WriteHalf, bufSize int, errCh chan<- error) {
	defer cancel()
	buf := make([]byte, bufSize)
	err := copyLoop(ctx, src, dst, buf)
	_ = dst.CloseWrite()
	errCh <- err
}

func copyLoop(ctx context.Context, src streamio.ReadHalf, dst streamio.WriteHalf, buf []byte) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return rerr
		}
	}
}

// runQueued splits one direction into reader->queue and queue->writer
// tasks coupled by a DataBlock, per the backpressure-enabled relay mode.
func runQueued(ctx context.Context, cancel context.CancelFunc, src streamio.ReadHalf, dst streamio.WriteHalf, manager *block.Manager, bufSize int, errCh chan<- error) {
	defer cancel()
	db := block.NewDataBlock(manager)
	subErrCh := make(chan error, 2)

	go func() {
		buf := make([]byte, bufSize)
		for {
			if err := ctx.Err(); err != nil {
				subErrCh <- err
				return
			}
			n, rerr := src.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if perr := db.Provide(ctx, chunk); perr != nil {
					subErrCh <- perr
					return
				}
			}
			if rerr != nil {
				if rerr == io.EOF {
					subErrCh <- nil
				} else {
					subErrCh <- rerr
				}
				return
			}
		}
	}()

	go func() {
		for {
			chunk, err := db.Consume(ctx)
			if err != nil {
				subErrCh <- err
				return
			}
			if _, werr := dst.Write(chunk); werr != nil {
				subErrCh <- werr
				return
			}
		}
	}()

	err1 := <-subErrCh
	cancel()
	_ = dst.CloseWrite()
	err2 := <-subErrCh

	if err1 != nil && !isShutdownErr(err1) {
		errCh <- err1
		return
	}
	if err2 != nil && !isShutdownErr(err2) {
		errCh <- err2
		return
	}
	errCh <- nil
}

func isShutdownErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// rawTCP is implemented by any stream wrapper that can downcast to a real
// OS TCP socket, enabling the zero-copy splice fast path.
type rawTCP interface {
	Raw() (*net.TCPConn, bool)
}

func trySplice(ingress, egress streamio.Stream) (*net.TCPConn, *net.TCPConn, bool) {
	rin, ok := ingress.(rawTCP)
	if !ok {
		return nil, nil, false
	}
	rout, ok := egress.(rawTCP)
	if !ok {
		return nil, nil, false
	}
	inConn, ok := rin.Raw()
	if !ok {
		return nil, nil, false
	}
	outConn, ok := rout.Raw()
	if !ok {
		return nil, nil, false
	}
	return inConn, outConn, true
}
