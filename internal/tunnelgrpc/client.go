package tunnelgrpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const handshakeTimeout = 10 * time.Second

var connectBackoff = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}

// FrameStream is the minimal Send/Recv surface a StreamManager dispatches
// over; both the client and server hand-written stubs in service.go
// satisfy it.
type FrameStream interface {
	Send(*Frame) error
	Recv() (*Frame, error)
}

// StreamManager owns one bidirectional gRPC stream to a single upstream
// and multiplexes many logical sub-streams over it via src_id, per the
// client-side contract: one manager per target endpoint, lazily created
// and cached by the connector.
type StreamManager struct {
	stream FrameStream
	auth   string
	logger *slog.Logger

	sendMu sync.Mutex

	mu         sync.RWMutex
	data       map[string]*subChannel  // src_id -> data mailbox, once handshake completes
	handshakes map[string]chan *Frame  // src_id -> pending handshake response, before completion

	dispatchDone chan struct{}
}

// NewStreamManager wraps stream, authenticating every HANDSHAKE_REQ this
// manager sends with auth, and starts the background dispatcher that
// routes inbound frames to their registered src_id.
func NewStreamManager(stream FrameStream, auth string, logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &StreamManager{
		stream:       stream,
		auth:         auth,
		logger:       logger,
		data:         make(map[string]*subChannel),
		handshakes:   make(map[string]chan *Frame),
		dispatchDone: make(chan struct{}),
	}
	go m.dispatch()
	return m
}

// dispatch reads inbound frames for as long as the stream is alive,
// routing each to the mpsc queue registered under its src_id. A broken
// stream clears every registered callback, cancelling every logical
// sub-stream riding on it.
func (m *StreamManager) dispatch() {
	defer close(m.dispatchDone)
	defer m.clearAll()

	for {
		f, err := m.stream.Recv()
		if err != nil {
			m.logger.Debug("tunnelgrpc: client dispatcher stopped", "error", err)
			return
		}

		if f.Cmd == CmdHandshake || f.Cmd == CmdHandshakeConflictSrc {
			m.mu.RLock()
			ch, ok := m.handshakes[f.SrcID]
			m.mu.RUnlock()
			if ok {
				select {
				case ch <- f:
				default:
				}
			}
			continue
		}

		m.mu.RLock()
		ch, ok := m.data[f.SrcID]
		m.mu.RUnlock()
		if !ok {
			m.logger.Debug("tunnelgrpc: data for unknown src_id dropped", "src_id", f.SrcID)
			continue
		}
		if f.Cmd == CmdCloseSrcID {
			ch.close()
			m.mu.Lock()
			delete(m.data, f.SrcID)
			m.mu.Unlock()
			continue
		}
		if !ch.deliver(f) {
			m.mu.Lock()
			delete(m.data, f.SrcID)
			m.mu.Unlock()
		}
	}
}

func (m *StreamManager) clearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.data {
		ch.close()
	}
	m.data = make(map[string]*subChannel)
	for _, ch := range m.handshakes {
		close(ch)
	}
	m.handshakes = make(map[string]chan *Frame)
}

func (m *StreamManager) send(f *Frame) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	return m.stream.Send(f)
}

// Connect performs the HANDSHAKE_REQ/HANDSHAKE_DONE exchange for a new TCP
// logical stream to dstAddr:dstPort and returns it once live.
func (m *StreamManager) Connect(ctx context.Context, dstAddr string, dstPort uint16) (*LogicalSubStream, error) {
	srcID := uuid.NewString()
	resp, err := m.handshake(ctx, srcID, dstAddr, dstPort, false)
	if err != nil {
		return nil, err
	}
	_ = resp

	ch := newSubChannel(128)
	m.mu.Lock()
	m.data[srcID] = ch
	m.mu.Unlock()

	return newLogicalSubStream(srcID, m.send, func() { m.removeData(srcID) }, ch), nil
}

// UDPTunnel is analogous to Connect but sets udp=true and returns a
// datagram-oriented sub-stream.
func (m *StreamManager) UDPTunnel(ctx context.Context) (*UDPSubStream, error) {
	srcID := uuid.NewString()
	if _, err := m.handshake(ctx, srcID, "", 0, true); err != nil {
		return nil, err
	}

	ch := newSubChannel(128)
	m.mu.Lock()
	m.data[srcID] = ch
	m.mu.Unlock()

	return newUDPSubStream(srcID, m.send, ch), nil
}

func (m *StreamManager) removeData(srcID string) {
	m.mu.Lock()
	delete(m.data, srcID)
	m.mu.Unlock()
}

// handshake runs the single HANDSHAKE_REQ/response exchange shared by
// Connect and UDPTunnel, awaiting a response with a 10 s timeout.
func (m *StreamManager) handshake(ctx context.Context, srcID, dstAddr string, dstPort uint16, udp bool) (*Frame, error) {
	respCh := make(chan *Frame, 1)
	m.mu.Lock()
	m.handshakes[srcID] = respCh
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.handshakes, srcID)
		m.mu.Unlock()
	}()

	req := &Frame{Auth: m.auth, Cmd: CmdHandshake, SrcID: srcID, DstAddr: dstAddr, DstPort: dstPort, UDP: udp}
	if err := m.send(req); err != nil {
		return nil, fmt.Errorf("tunnelgrpc: send handshake: %w", err)
	}

	timer := time.NewTimer(handshakeTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("tunnelgrpc: stream closed during handshake")
		}
		switch resp.Cmd {
		case CmdHandshake:
			return resp, nil
		case CmdHandshakeConflictSrc:
			return nil, fmt.Errorf("tunnelgrpc: src_id conflict")
		default:
			return nil, fmt.Errorf("tunnelgrpc: unexpected handshake response cmd %d", resp.Cmd)
		}
	case <-timer.C:
		return nil, fmt.Errorf("tunnelgrpc: handshake timeout")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the dispatcher's view of the stream; the caller is
// still responsible for closing the underlying gRPC stream/connection.
func (m *StreamManager) Close() {
	m.clearAll()
}

// DialWithRetry dials connect up to 3 times with 100/200/300 ms backoff
// before surfacing the final error, matching the connector's retry policy
// for establishing the underlying gRPC stream itself.
func DialWithRetry(ctx context.Context, connect func(context.Context) (FrameStream, error)) (FrameStream, error) {
	var lastErr error
	for _, backoff := range connectBackoff {
		stream, err := connect(ctx)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("tunnelgrpc: dial failed after %d attempts: %w", len(connectBackoff), lastErr)
}
