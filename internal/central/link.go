package central

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	wnet "github.com/CCasusensa/kinoko-sub000/internal/net"
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
)

var ErrRequestTimeout = errors.New("central: request timed out")
var ErrLinkClosed = errors.New("central: link closed")

// Link is a channel node's connection to the central server. Requests
// get a fresh correlation id and park in the pending table until the
// matching result arrives or the timeout fires; one-way casts skip the
// table. A result that arrives after its request timed out is dropped.
type Link struct {
	conn    net.Conn
	log     *zap.Logger
	timeout time.Duration

	writeMu sync.Mutex

	nextRequestID atomic.Int32
	pending       sync.Map // int32 -> chan *packet.Reader, buffered 1

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the central server and starts the read loop.
// onMessage receives every frame that is not a request result, on the
// read goroutine.
func Dial(addr string, timeout time.Duration, log *zap.Logger, onMessage func(kind MessageKind, r *packet.Reader)) (*Link, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial central %s: %w", addr, err)
	}
	l := &Link{
		conn:    conn,
		log:     log,
		timeout: timeout,
		closed:  make(chan struct{}),
	}
	go l.readLoop(onMessage)
	return l, nil
}

// Request sends a correlated message and blocks for its result. build
// writes the body after the correlation id.
func (l *Link) Request(ctx context.Context, kind MessageKind, build func(w *packet.Writer)) (*packet.Reader, error) {
	id := l.nextRequestID.Add(1)
	ch := make(chan *packet.Reader, 1)
	l.pending.Store(id, ch)

	w := packet.NewWriter(uint16(kind))
	w.WriteInt(id)
	if build != nil {
		build(w)
	}
	if err := l.send(w.Bytes()); err != nil {
		l.pending.Delete(id)
		return nil, err
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r, nil
	case <-timer.C:
		l.pending.Delete(id)
		return nil, fmt.Errorf("%w: %d after %s", ErrRequestTimeout, kind, l.timeout)
	case <-ctx.Done():
		l.pending.Delete(id)
		return nil, ctx.Err()
	case <-l.closed:
		l.pending.Delete(id)
		return nil, ErrLinkClosed
	}
}

// Cast sends a one-way message with correlation id zero.
func (l *Link) Cast(kind MessageKind, build func(w *packet.Writer)) error {
	w := packet.NewWriter(uint16(kind))
	w.WriteInt(0)
	if build != nil {
		build(w)
	}
	return l.send(w.Bytes())
}

// Reply answers an inbound request from central, echoing its
// correlation id. Used for central-initiated flows like shutdown.
func (l *Link) Reply(kind MessageKind, requestID int32, build func(w *packet.Writer)) error {
	w := packet.NewWriter(uint16(kind))
	w.WriteInt(requestID)
	if build != nil {
		build(w)
	}
	return l.send(w.Bytes())
}

func (l *Link) Close() {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.conn.Close()
	})
}

func (l *Link) send(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	return wnet.WriteFrame(l.conn, data)
}

func (l *Link) readLoop(onMessage func(kind MessageKind, r *packet.Reader)) {
	defer l.Close()
	for {
		payload, err := wnet.ReadFrame(l.conn)
		if err != nil {
			select {
			case <-l.closed:
			default:
				l.log.Error("central link read failed", zap.Error(err))
			}
			return
		}
		r := packet.NewReader(payload)
		kind := MessageKind(r.Op())
		if isResult(kind) {
			requestID := r.ReadInt()
			if requestID == 0 {
				// Unsolicited update, e.g. a party change pushed
				// to every member's channel.
				if onMessage != nil {
					onMessage(kind, r)
				}
				continue
			}
			ch, ok := l.pending.LoadAndDelete(requestID)
			if !ok {
				// The request gave up already.
				l.log.Warn("dropping late result",
					zap.Uint16("kind", uint16(kind)),
					zap.Int32("requestId", requestID))
				continue
			}
			ch.(chan *packet.Reader) <- r
			continue
		}
		r.ReadInt() // pushes carry correlation id zero
		if onMessage != nil {
			onMessage(kind, r)
		}
	}
}

// isResult reports whether a kind answers a channel-side request and
// should be routed through the pending table.
func isResult(kind MessageKind) bool {
	switch kind {
	case KindInitializeResult, KindShutdownResult, KindTransferResult,
		KindMigrateResult, KindUserQueryResult, KindPartyResult:
		return true
	}
	return false
}
