package net

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
	"go.uber.org/zap"
)

// Session represents a single client connection. Reads and writes run
// in dedicated goroutines; incoming packets are handed to the owner's
// OnPacket callback on the read goroutine, which is expected to
// acquire entity locks and return quickly.
type Session struct {
	ID   uint64
	conn net.Conn

	state atomic.Int32 // packet.SessionState

	outQueue chan []byte

	IP string

	onPacket func(data []byte)
	onClose  func()

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

func NewSession(conn net.Conn, id uint64, outSize int, log *zap.Logger) *Session {
	s := &Session{
		ID:       id,
		conn:     conn,
		outQueue: make(chan []byte, outSize),
		IP:       conn.RemoteAddr().String(),
		closeCh:  make(chan struct{}),
		log:      log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(packet.StateConnected))
	return s
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

func (s *Session) SetState(st packet.SessionState) {
	s.state.Store(int32(st))
}

// Start launches the reader and writer goroutines. onPacket receives
// each decoded frame; onClose fires exactly once when the session
// dies, from whichever goroutine noticed first.
func (s *Session) Start(onPacket func(data []byte), onClose func()) {
	s.onPacket = onPacket
	s.onClose = onClose
	go s.readLoop()
	go s.writeLoop()
}

// Send enqueues a packet for the writer goroutine. Non-blocking: a
// full queue means the client cannot keep up and the session is
// disconnected rather than stalling a handler.
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	select {
	case s.outQueue <- data:
	default:
		s.log.Warn("send queue full, disconnecting slow client")
		s.Close()
	}
}

// Close tears the session down. Safe to call from any goroutine,
// any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(packet.StateDisconnecting)
		close(s.closeCh)
		s.conn.Close()
		if s.onClose != nil {
			go s.onClose()
		}
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

func (s *Session) readLoop() {
	defer s.Close()
	for {
		data, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		s.onPacket(data)
	}
}

func (s *Session) writeLoop() {
	defer s.Close()
	for {
		select {
		case data := <-s.outQueue:
			if err := WriteFrame(s.conn, data); err != nil {
				if !s.closed.Load() {
					s.log.Debug("write failed", zap.Error(err))
				}
				return
			}
		case <-s.closeCh:
			return
		}
	}
}
