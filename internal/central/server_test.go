package central

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	wnet "github.com/CCasusensa/kinoko-sub000/internal/net"
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
	"github.com/CCasusensa/kinoko-sub000/internal/sched"
	"github.com/CCasusensa/kinoko-sub000/internal/world"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	s := sched.New(zap.NewNop())
	t.Cleanup(s.Close)
	srv, err := NewServer("127.0.0.1:0", 0, time.Minute, s, zap.NewNop())
	if err != nil {
		t.Fatalf("start central: %v", err)
	}
	go srv.Serve()
	t.Cleanup(srv.Close)
	return srv
}

func dialTestLink(t *testing.T, srv *Server, onMessage func(MessageKind, *packet.Reader)) *Link {
	t.Helper()
	l, err := Dial(srv.Addr().String(), 2*time.Second, zap.NewNop(), onMessage)
	if err != nil {
		t.Fatalf("dial central: %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

func initChannel(t *testing.T, l *Link, port int32) int32 {
	t.Helper()
	r, err := l.Request(context.Background(), KindInitializeRequest, func(w *packet.Writer) {
		w.WriteString("127.0.0.1")
		w.WriteInt(port)
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return r.ReadInt()
}

func TestRequestTimesOutWithoutResult(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			connCh <- conn
		}
	}()

	l, err := Dial(ln.Addr().String(), 50*time.Millisecond, zap.NewNop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	_, err = l.Request(context.Background(), KindUserQueryRequest, func(w *packet.Writer) {
		w.WriteShort(0)
	})
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("err = %v, want ErrRequestTimeout", err)
	}

	// A result arriving after the timeout must be dropped, not
	// delivered or crashed on.
	conn := <-connCh
	defer conn.Close()
	payload, err := wnet.ReadFrame(conn)
	if err != nil {
		t.Fatal(err)
	}
	r := packet.NewReader(payload)
	requestID := r.ReadInt()
	w := packet.NewWriter(uint16(KindUserQueryResult))
	w.WriteInt(requestID)
	w.WriteShort(0)
	if err := wnet.WriteFrame(conn, w.Bytes()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond) // let the read loop process it

	// The link is still usable for the next request.
	if _, err := l.Request(context.Background(), KindUserQueryRequest, func(w *packet.Writer) {
		w.WriteShort(0)
	}); !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("link unusable after late result: %v", err)
	}
}

func TestRequestHonorsContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		if conn, err := ln.Accept(); err == nil {
			defer conn.Close()
			wnet.ReadFrame(conn) // swallow the request
			select {}
		}
	}()

	l, err := Dial(ln.Addr().String(), time.Hour, zap.NewNop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Request(ctx, KindUserQueryRequest, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context deadline", err)
	}
}

func TestInitializeAssignsChannelIDs(t *testing.T) {
	srv := testServer(t)
	a := dialTestLink(t, srv, nil)
	b := dialTestLink(t, srv, nil)

	idA := initChannel(t, a, 8585)
	idB := initChannel(t, b, 8586)
	if idA == idB {
		t.Fatalf("both channels got id %d", idA)
	}
}

func TestDirectoryAndUserQuery(t *testing.T) {
	srv := testServer(t)
	l := dialTestLink(t, srv, nil)
	channelID := initChannel(t, l, 8585)

	err := l.Cast(KindUserConnect, func(w *packet.Writer) {
		WriteRemoteUser(w, RemoteUser{
			ChannelID:   channelID,
			AccountID:   1,
			CharacterID: 42,
			Name:        "Mugwort",
			Level:       30,
			FieldID:     104000000,
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return srv.OnlineCount() == 1 })

	r, err := l.Request(context.Background(), KindUserQueryRequest, func(w *packet.Writer) {
		w.WriteShort(2)
		w.WriteString("mugwort") // lookup is case-insensitive
		w.WriteString("nobody")
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := r.ReadShort(); n != 1 {
		t.Fatalf("query returned %d users, want 1", n)
	}
	u := ReadRemoteUser(r)
	if u.CharacterID != 42 || u.Name != "Mugwort" || u.FieldID != 104000000 {
		t.Fatalf("query returned wrong snapshot: %+v", u)
	}

	if err := l.Cast(KindUserDisconnect, func(w *packet.Writer) {
		w.WriteInt(42)
	}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return srv.OnlineCount() == 0 })
}

func TestTransferThenMigrateRoundTrip(t *testing.T) {
	srv := testServer(t)
	src := dialTestLink(t, srv, nil)
	dst := dialTestLink(t, srv, nil)
	initChannel(t, src, 8585)
	dstID := initChannel(t, dst, 8586)

	machineID := [16]byte{1, 2, 3}
	clientKey := [8]byte{4, 5, 6}
	buffExpire := time.Now().Add(time.Minute).Truncate(time.Millisecond)

	r, err := src.Request(context.Background(), KindTransferRequest, func(w *packet.Writer) {
		w.WriteInt(1000) // account
		w.WriteInt(42)   // character
		w.WriteBytes(machineID[:])
		w.WriteBytes(clientKey[:])
		w.WriteInt(dstID)
		w.WriteInt(5)       // messenger
		w.WriteInt(5010024) // effect item
		WriteTempStats(w, map[world.TemporaryStatKind]world.TemporaryStatOption{
			world.StatPad: {Value: 20, SourceID: 2001000, Expire: buffExpire},
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if !r.ReadBool() {
		t.Fatal("transfer refused")
	}
	if host, port := r.ReadString(), r.ReadInt(); host != "127.0.0.1" || port != 8586 {
		t.Fatalf("transfer target = %s:%d, want 127.0.0.1:8586", host, port)
	}

	// The wrong channel cannot consume the ticket.
	r, err = src.Request(context.Background(), KindMigrateRequest, func(w *packet.Writer) {
		w.WriteInt(1000)
		w.WriteInt(42)
		w.WriteBytes(machineID[:])
		w.WriteBytes(clientKey[:])
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.ReadBool() {
		t.Fatal("source channel consumed a ticket granted for the target")
	}

	r, err = dst.Request(context.Background(), KindMigrateRequest, func(w *packet.Writer) {
		w.WriteInt(1000)
		w.WriteInt(42)
		w.WriteBytes(machineID[:])
		w.WriteBytes(clientKey[:])
	})
	if err != nil {
		t.Fatal(err)
	}
	if !r.ReadBool() {
		t.Fatal("target channel could not consume the ticket")
	}
	if acc, chr := r.ReadInt(), r.ReadInt(); acc != 1000 || chr != 42 {
		t.Fatalf("ticket identity = %d/%d, want 1000/42", acc, chr)
	}
	if messenger, effect := r.ReadInt(), r.ReadInt(); messenger != 5 || effect != 5010024 {
		t.Fatalf("session extras = %d/%d, want 5/5010024", messenger, effect)
	}
	stats := ReadTempStats(r)
	if opt, ok := stats[world.StatPad]; !ok || opt.Value != 20 || !opt.Expire.Equal(buffExpire) {
		t.Fatalf("buffs did not survive the transfer: %+v", stats)
	}

	// Consumed means gone.
	r, err = dst.Request(context.Background(), KindMigrateRequest, func(w *packet.Writer) {
		w.WriteInt(1000)
		w.WriteInt(42)
		w.WriteBytes(machineID[:])
		w.WriteBytes(clientKey[:])
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.ReadBool() {
		t.Fatal("ticket consumed twice")
	}
}

func TestTransferRefusedWhileSessionHeldElsewhere(t *testing.T) {
	srv := testServer(t)
	src := dialTestLink(t, srv, nil)
	dst := dialTestLink(t, srv, nil)
	srcID := initChannel(t, src, 8585)
	dstID := initChannel(t, dst, 8586)

	// The account already has a live session on the target channel.
	dst.Cast(KindUserConnect, func(w *packet.Writer) {
		WriteRemoteUser(w, RemoteUser{ChannelID: dstID, AccountID: 1000, CharacterID: 42, Name: "Mugwort"})
	})
	waitFor(t, func() bool { return srv.OnlineCount() == 1 })

	transfer := func(characterID int32) bool {
		r, err := src.Request(context.Background(), KindTransferRequest, func(w *packet.Writer) {
			w.WriteInt(1000)
			w.WriteInt(characterID)
			w.WriteBytes(make([]byte, 16))
			w.WriteBytes(make([]byte, 8))
			w.WriteInt(dstID)
			w.WriteInt(0)
			w.WriteInt(0)
			WriteTempStats(w, nil)
		})
		if err != nil {
			t.Fatal(err)
		}
		return r.ReadBool()
	}

	if transfer(42) {
		t.Fatal("transfer granted while the character is online elsewhere")
	}
	// Another character of the same account is refused too.
	if transfer(43) {
		t.Fatal("transfer granted while the account is online elsewhere")
	}

	// The directory seeing the character on the requesting channel is
	// the normal case, not a conflict.
	src.Cast(KindUserDisconnect, func(w *packet.Writer) { w.WriteInt(42) })
	waitFor(t, func() bool { return srv.OnlineCount() == 0 })
	src.Cast(KindUserConnect, func(w *packet.Writer) {
		WriteRemoteUser(w, RemoteUser{ChannelID: srcID, AccountID: 1000, CharacterID: 42, Name: "Mugwort"})
	})
	waitFor(t, func() bool { return srv.OnlineCount() == 1 })
	if !transfer(42) {
		t.Fatal("transfer refused for the requester's own session")
	}
}

func TestMigrateRefusedWhileSessionHeldElsewhere(t *testing.T) {
	srv := testServer(t)
	src := dialTestLink(t, srv, nil)
	dst := dialTestLink(t, srv, nil)
	srcID := initChannel(t, src, 8585)
	dstID := initChannel(t, dst, 8586)

	machineID := [16]byte{1}
	clientKey := [8]byte{2}
	r, err := src.Request(context.Background(), KindTransferRequest, func(w *packet.Writer) {
		w.WriteInt(1000)
		w.WriteInt(42)
		w.WriteBytes(machineID[:])
		w.WriteBytes(clientKey[:])
		w.WriteInt(dstID)
		w.WriteInt(0)
		w.WriteInt(0)
		WriteTempStats(w, nil)
	})
	if err != nil {
		t.Fatal(err)
	}
	if !r.ReadBool() {
		t.Fatal("transfer refused")
	}

	// The old session has not left the directory yet; the claim must
	// wait and the ticket must survive the refusal.
	src.Cast(KindUserConnect, func(w *packet.Writer) {
		WriteRemoteUser(w, RemoteUser{ChannelID: srcID, AccountID: 1000, CharacterID: 42, Name: "Mugwort"})
	})
	waitFor(t, func() bool { return srv.OnlineCount() == 1 })

	migrate := func() bool {
		r, err := dst.Request(context.Background(), KindMigrateRequest, func(w *packet.Writer) {
			w.WriteInt(1000)
			w.WriteInt(42)
			w.WriteBytes(machineID[:])
			w.WriteBytes(clientKey[:])
		})
		if err != nil {
			t.Fatal(err)
		}
		return r.ReadBool()
	}

	if migrate() {
		t.Fatal("migration granted while the old session is still online")
	}

	src.Cast(KindUserDisconnect, func(w *packet.Writer) { w.WriteInt(42) })
	waitFor(t, func() bool { return srv.OnlineCount() == 0 })
	if !migrate() {
		t.Fatal("migration refused after the old session left")
	}
}

func TestUserPacketRoutedAcrossChannels(t *testing.T) {
	srv := testServer(t)

	type delivery struct {
		characterID int32
		payload     []byte
	}
	got := make(chan delivery, 1)
	dst := dialTestLink(t, srv, func(kind MessageKind, r *packet.Reader) {
		if kind == KindUserPacketReceive {
			id := r.ReadInt()
			got <- delivery{id, r.ReadBytes(r.Remaining())}
		}
	})
	src := dialTestLink(t, srv, nil)
	dstID := initChannel(t, dst, 8586)
	initChannel(t, src, 8585)

	dst.Cast(KindUserConnect, func(w *packet.Writer) {
		WriteRemoteUser(w, RemoteUser{ChannelID: dstID, CharacterID: 7, Name: "Receiver"})
	})
	waitFor(t, func() bool { return srv.OnlineCount() == 1 })

	whisper := packet.NewWriter(packet.OutWhisper)
	whisper.WriteString("psst")
	src.Cast(KindUserPacketRequest, func(w *packet.Writer) {
		w.WriteString("receiver")
		w.WriteBytes(whisper.Bytes())
	})

	select {
	case d := <-got:
		if d.characterID != 7 {
			t.Fatalf("delivered to character %d, want 7", d.characterID)
		}
		r := packet.NewReader(d.payload)
		if r.Op() != packet.OutWhisper || r.ReadString() != "psst" {
			t.Fatal("forwarded payload mangled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("packet never delivered")
	}
}

func TestPartyLifecycle(t *testing.T) {
	srv := testServer(t)

	var mu sync.Mutex
	var pushes []int32 // party ids seen in unsolicited updates
	l := dialTestLink(t, srv, func(kind MessageKind, r *packet.Reader) {
		if kind == KindPartyResult {
			r.ReadBool()
			r.ReadString()
			mu.Lock()
			pushes = append(pushes, r.ReadInt())
			mu.Unlock()
		}
	})
	channelID := initChannel(t, l, 8585)

	for id, name := range map[int32]string{1: "Leader", 2: "Member"} {
		l.Cast(KindUserConnect, func(w *packet.Writer) {
			WriteRemoteUser(w, RemoteUser{ChannelID: channelID, CharacterID: id, Name: name})
		})
	}
	waitFor(t, func() bool { return srv.OnlineCount() == 2 })

	partyReq := func(op PartyOp, requester, target int32) (*packet.Reader, error) {
		return l.Request(context.Background(), KindPartyRequest, func(w *packet.Writer) {
			w.WriteByte(byte(op))
			w.WriteInt(requester)
			w.WriteInt(target)
		})
	}

	r, err := partyReq(PartyOpCreate, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !r.ReadBool() {
		t.Fatalf("create refused: %s", r.ReadString())
	}
	r.ReadString()
	partyID := r.ReadInt()

	r, err = partyReq(PartyOpJoin, 2, partyID)
	if err != nil {
		t.Fatal(err)
	}
	if !r.ReadBool() {
		t.Fatalf("join refused: %s", r.ReadString())
	}

	// A second party for a current member is refused.
	r, err = partyReq(PartyOpCreate, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if r.ReadBool() {
		t.Fatal("member created a second party")
	}

	// Leader leaving disbands.
	r, err = partyReq(PartyOpLeave, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !r.ReadBool() {
		t.Fatalf("leave refused: %s", r.ReadString())
	}
	r.ReadString()
	r.ReadInt()
	if disbanded := r.ReadBool(); !disbanded {
		t.Fatal("leader leaving did not disband")
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(pushes) >= 2
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
