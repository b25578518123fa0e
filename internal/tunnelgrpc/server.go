package tunnelgrpc

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Accepted is one inbound logical sub-stream handed to the listener's
// accept loop: exactly one of TCP/UDP is populated, mirroring the ingress
// Object loop's "TCP stream OR UDP pair" contract.
type Accepted struct {
	SrcID   string
	DstAddr string
	DstPort uint16
	TCP     *LogicalSubStream
	UDP     *UDPSubStream
}

// Listener implements TunnelServer: it accepts one inbound bidi gRPC
// stream per call to Stream, authenticates its first frame, and dispatches
// HANDSHAKE_REQ/DATA/CLOSE_SRC_ID frames to per-src_id handlers, pushing
// newly established sub-streams onto Accept().
type Listener struct {
	passwordHash string // bcrypt hash, empty means no auth required
	logger       *slog.Logger
	acceptCh     chan *Accepted
}

// NewListener creates a Listener requiring passwordHash (a bcrypt hash, as
// produced by config.HashPassword) to match the first frame's auth token
// on every incoming stream. An empty passwordHash disables auth.
func NewListener(passwordHash string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{passwordHash: passwordHash, logger: logger, acceptCh: make(chan *Accepted, 64)}
}

// Accept returns the channel newly established logical sub-streams arrive
// on, for the per-listener orchestrator's accept loop.
func (l *Listener) Accept() <-chan *Accepted { return l.acceptCh }

// Stream implements TunnelServer for one inbound gRPC connection.
func (l *Listener) Stream(stream FrameStream) error {
	sendMu := &sync.Mutex{}
	send := func(f *Frame) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return stream.Send(f)
	}

	handlers := make(map[string]*subChannel)
	var mu sync.Mutex
	authenticated := false

	defer func() {
		mu.Lock()
		for _, ch := range handlers {
			ch.close()
		}
		mu.Unlock()
	}()

	for {
		f, err := stream.Recv()
		if err != nil {
			return err
		}

		if !authenticated {
			if l.passwordHash != "" {
				if err := bcrypt.CompareHashAndPassword([]byte(l.passwordHash), []byte(f.Auth)); err != nil {
					return fmt.Errorf("tunnelgrpc: authentication failed")
				}
			}
			authenticated = true
		}

		switch f.Cmd {
		case CmdHandshake:
			mu.Lock()
			_, exists := handlers[f.SrcID]
			if exists {
				mu.Unlock()
				if err := send(&Frame{Cmd: CmdHandshakeConflictSrc, SrcID: f.SrcID}); err != nil {
					return err
				}
				continue
			}
			ch := newSubChannel(128)
			handlers[f.SrcID] = ch
			mu.Unlock()

			accepted := &Accepted{SrcID: f.SrcID, DstAddr: f.DstAddr, DstPort: f.DstPort}
			if f.UDP {
				accepted.UDP = newUDPSubStream(f.SrcID, send, ch)
			} else {
				accepted.TCP = newLogicalSubStream(f.SrcID, send, func() {
					mu.Lock()
					delete(handlers, f.SrcID)
					mu.Unlock()
				}, ch)
			}
			select {
			case l.acceptCh <- accepted:
			default:
				l.logger.Debug("tunnelgrpc: accept queue full, dropping sub-stream", "src_id", f.SrcID)
				mu.Lock()
				delete(handlers, f.SrcID)
				mu.Unlock()
				continue
			}

			if err := send(&Frame{Cmd: CmdHandshake, SrcID: f.SrcID}); err != nil {
				return err
			}

		case CmdCloseSrcID:
			mu.Lock()
			ch, ok := handlers[f.SrcID]
			delete(handlers, f.SrcID)
			mu.Unlock()
			if ok {
				ch.close()
			}

		case CmdData:
			mu.Lock()
			ch, ok := handlers[f.SrcID]
			mu.Unlock()
			if !ok {
				l.logger.Debug("tunnelgrpc: data for unknown src_id dropped", "src_id", f.SrcID)
				continue
			}
			ch.deliver(f)

		default:
			l.logger.Debug("tunnelgrpc: unexpected cmd", "cmd", f.Cmd)
		}
	}
}

var _ TunnelServer = (*Listener)(nil)
