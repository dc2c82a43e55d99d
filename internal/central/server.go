package central

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CCasusensa/kinoko-sub000/internal/migration"
	wnet "github.com/CCasusensa/kinoko-sub000/internal/net"
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
	"github.com/CCasusensa/kinoko-sub000/internal/sched"
)

// channelConn is one registered channel node connection.
type channelConn struct {
	conn      net.Conn
	writeMu   sync.Mutex
	channelID int32
	host      string
	port      int32
}

func (cc *channelConn) send(kind MessageKind, requestID int32, build func(w *packet.Writer)) error {
	w := packet.NewWriter(uint16(kind))
	w.WriteInt(requestID)
	if build != nil {
		build(w)
	}
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	return wnet.WriteFrame(cc.conn, w.Bytes())
}

// Server is the central coordination process of one world: the online
// user directory, migration tickets and parties. Channel nodes connect
// over TCP and everything they know about the rest of the world flows
// through here.
type Server struct {
	worldID int32
	log     *zap.Logger

	ln         net.Listener
	migrations *migration.Registry
	parties    *partyRegistry
	sweep      *sched.Task

	mu            sync.Mutex
	channels      map[int32]*channelConn
	users         map[int32]RemoteUser
	byName        map[string]int32 // lowercased name -> character id
	nextChannelID int32

	closeOnce sync.Once
	closed    chan struct{}
}

// NewServer starts listening and arms the ticket sweep. Serve must be
// called to start accepting channel nodes.
func NewServer(bindAddr string, worldID int32, ticketTTL time.Duration, s *sched.Scheduler, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("central listen %s: %w", bindAddr, err)
	}
	srv := &Server{
		worldID:    worldID,
		log:        log,
		ln:         ln,
		migrations: migration.NewRegistry(ticketTTL),
		parties:    newPartyRegistry(),
		channels:   make(map[int32]*channelConn),
		users:      make(map[int32]RemoteUser),
		byName:     make(map[string]int32),
		closed:     make(chan struct{}),
	}
	srv.sweep = s.ScheduleWithFixedDelay(ticketTTL, ticketTTL, func() {
		if n := srv.migrations.Sweep(time.Now()); n > 0 {
			log.Info("expired migration tickets", zap.Int("count", n))
		}
	})
	return srv, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts channel node connections until Close.
func (s *Server) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.log.Error("central accept failed", zap.Error(err))
			}
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.sweep.Cancel()
		s.ln.Close()
		s.mu.Lock()
		for _, cc := range s.channels {
			cc.conn.Close()
		}
		s.mu.Unlock()
	})
}

// OnlineCount returns the number of users in the directory.
func (s *Server) OnlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *Server) handleConn(conn net.Conn) {
	cc := &channelConn{conn: conn, channelID: -1}
	defer s.dropChannel(cc)
	for {
		payload, err := wnet.ReadFrame(conn)
		if err != nil {
			if cc.channelID >= 0 {
				s.log.Warn("channel link lost",
					zap.Int32("channelId", cc.channelID), zap.Error(err))
			}
			return
		}
		r := packet.NewReader(payload)
		kind := MessageKind(r.Op())
		requestID := r.ReadInt()
		s.handleMessage(cc, kind, requestID, r)
	}
}

func (s *Server) handleMessage(cc *channelConn, kind MessageKind, requestID int32, r *packet.Reader) {
	switch kind {
	case KindInitializeRequest:
		s.handleInitialize(cc, requestID, r)
	case KindShutdownRequest:
		cc.send(KindShutdownResult, requestID, nil)
		s.dropChannel(cc)
	case KindTransferRequest:
		s.handleTransfer(cc, requestID, r)
	case KindMigrateRequest:
		s.handleMigrate(cc, requestID, r)
	case KindUserConnect, KindUserUpdate:
		s.upsertUser(ReadRemoteUser(r))
	case KindUserDisconnect:
		s.removeUser(r.ReadInt())
	case KindUserPacketRequest:
		s.handleUserPacket(r)
	case KindUserPacketBroadcast:
		s.handleUserPacketBroadcast(r)
	case KindServerPacketBroadcast:
		s.handleServerPacketBroadcast(r)
	case KindUserQueryRequest:
		s.handleUserQuery(cc, requestID, r)
	case KindPartyRequest:
		s.handleParty(cc, requestID, r)
	default:
		s.log.Warn("unknown central message",
			zap.Uint16("kind", uint16(kind)),
			zap.Int32("channelId", cc.channelID))
	}
}

func (s *Server) handleInitialize(cc *channelConn, requestID int32, r *packet.Reader) {
	host := r.ReadString()
	port := r.ReadInt()

	s.mu.Lock()
	id := s.nextChannelID
	s.nextChannelID++
	cc.channelID = id
	cc.host, cc.port = host, port
	s.channels[id] = cc
	s.mu.Unlock()

	s.log.Info("channel registered",
		zap.Int32("channelId", id),
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)))
	cc.send(KindInitializeResult, requestID, func(w *packet.Writer) {
		w.WriteInt(id)
		w.WriteInt(s.worldID)
	})
}

// handleTransfer grants a migration ticket for an outbound move and
// tells the requesting channel where to send the client.
func (s *Server) handleTransfer(cc *channelConn, requestID int32, r *packet.Reader) {
	accountID := r.ReadInt()
	characterID := r.ReadInt()
	var machineID [16]byte
	copy(machineID[:], r.ReadBytes(16))
	var clientKey [8]byte
	copy(clientKey[:], r.ReadBytes(8))
	targetChannel := r.ReadInt()
	messengerID := r.ReadInt()
	effectItemID := r.ReadInt()
	tempStats := ReadTempStats(r)

	s.mu.Lock()
	target, ok := s.channels[targetChannel]
	conflict := s.sessionHeldElsewhereLocked(accountID, characterID, cc.channelID)
	s.mu.Unlock()
	if !ok || conflict {
		if conflict {
			s.log.Warn("transfer refused, session already held",
				zap.Int32("characterId", characterID),
				zap.Int32("accountId", accountID))
		}
		cc.send(KindTransferResult, requestID, func(w *packet.Writer) {
			w.WriteBool(false)
		})
		return
	}

	s.migrations.Grant(&migration.Info{
		ChannelID:    int(targetChannel),
		AccountID:    accountID,
		CharacterID:  characterID,
		MachineID:    machineID,
		ClientKey:    clientKey,
		TempStats:    tempStats,
		MessengerID:  messengerID,
		EffectItemID: effectItemID,
	})
	cc.send(KindTransferResult, requestID, func(w *packet.Writer) {
		w.WriteBool(true)
		w.WriteString(target.host)
		w.WriteInt(target.port)
	})
}

// handleMigrate consumes a ticket for a client reconnecting to the
// requesting channel.
func (s *Server) handleMigrate(cc *channelConn, requestID int32, r *packet.Reader) {
	accountID := r.ReadInt()
	characterID := r.ReadInt()
	var machineID [16]byte
	copy(machineID[:], r.ReadBytes(16))
	var clientKey [8]byte
	copy(clientKey[:], r.ReadBytes(8))

	// The old session must be gone from the directory before the new
	// one may claim the character. The unconsumed ticket just expires.
	s.mu.Lock()
	conflict := s.sessionHeldElsewhereLocked(accountID, characterID, -1)
	s.mu.Unlock()
	if conflict {
		s.log.Warn("migration refused, session already held",
			zap.Int32("characterId", characterID),
			zap.Int32("accountId", accountID))
		cc.send(KindMigrateResult, requestID, func(w *packet.Writer) {
			w.WriteBool(false)
		})
		return
	}

	info, err := s.migrations.Consume(int(cc.channelID), accountID, characterID, machineID, clientKey, time.Now())
	if err != nil {
		s.log.Warn("migration consume refused",
			zap.Int32("characterId", characterID),
			zap.Int32("channelId", cc.channelID),
			zap.Error(err))
		cc.send(KindMigrateResult, requestID, func(w *packet.Writer) {
			w.WriteBool(false)
		})
		return
	}
	cc.send(KindMigrateResult, requestID, func(w *packet.Writer) {
		w.WriteBool(true)
		w.WriteInt(info.AccountID)
		w.WriteInt(info.CharacterID)
		w.WriteInt(info.MessengerID)
		w.WriteInt(info.EffectItemID)
		WriteTempStats(w, info.TempStats)
	})
}

// sessionHeldElsewhereLocked reports whether the directory shows the
// character, or any character of the account, online on a channel
// other than exceptChannel. Pass -1 to match any channel. Caller holds
// s.mu.
func (s *Server) sessionHeldElsewhereLocked(accountID, characterID, exceptChannel int32) bool {
	for _, u := range s.users {
		if u.ChannelID == exceptChannel {
			continue
		}
		if u.CharacterID == characterID || u.AccountID == accountID {
			return true
		}
	}
	return false
}

func (s *Server) upsertUser(u RemoteUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.users[u.CharacterID]; ok {
		delete(s.byName, strings.ToLower(prior.Name))
	}
	s.users[u.CharacterID] = u
	s.byName[strings.ToLower(u.Name)] = u.CharacterID
}

func (s *Server) removeUser(characterID int32) {
	s.mu.Lock()
	if u, ok := s.users[characterID]; ok {
		delete(s.byName, strings.ToLower(u.Name))
		delete(s.users, characterID)
	}
	s.mu.Unlock()

	// Disconnecting mid-party counts as leaving.
	if p, disbanded, err := s.parties.Leave(characterID); err == nil {
		s.pushPartyUpdate(p, disbanded)
	}
}

// handleUserPacket forwards a packet to one named user, wherever they
// are in the world. Unknown names are dropped silently; whisper
// failure feedback is the sender channel's job via a query.
func (s *Server) handleUserPacket(r *packet.Reader) {
	name := r.ReadString()
	payload := r.ReadBytes(r.Remaining())

	s.mu.Lock()
	characterID, ok := s.byName[strings.ToLower(name)]
	var target *channelConn
	if ok {
		target = s.channels[s.users[characterID].ChannelID]
	}
	s.mu.Unlock()
	if target == nil {
		return
	}
	target.send(KindUserPacketReceive, 0, func(w *packet.Writer) {
		w.WriteInt(characterID)
		w.WriteBytes(payload)
	})
}

// handleUserPacketBroadcast forwards a packet to an explicit list of
// users, e.g. every member of a party.
func (s *Server) handleUserPacketBroadcast(r *packet.Reader) {
	n := int(r.ReadShort())
	ids := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, r.ReadInt())
	}
	payload := r.ReadBytes(r.Remaining())

	s.mu.Lock()
	targets := make(map[*channelConn][]int32)
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			if cc, ok := s.channels[u.ChannelID]; ok {
				targets[cc] = append(targets[cc], id)
			}
		}
	}
	s.mu.Unlock()

	for cc, chars := range targets {
		for _, id := range chars {
			cc.send(KindUserPacketReceive, 0, func(w *packet.Writer) {
				w.WriteInt(id)
				w.WriteBytes(payload)
			})
		}
	}
}

// handleServerPacketBroadcast forwards a packet to every channel for
// delivery to every connected user, e.g. world notices.
func (s *Server) handleServerPacketBroadcast(r *packet.Reader) {
	payload := r.ReadBytes(r.Remaining())
	s.mu.Lock()
	ccs := make([]*channelConn, 0, len(s.channels))
	for _, cc := range s.channels {
		ccs = append(ccs, cc)
	}
	s.mu.Unlock()
	for _, cc := range ccs {
		cc.send(KindServerPacketBroadcast, 0, func(w *packet.Writer) {
			w.WriteBytes(payload)
		})
	}
}

func (s *Server) handleUserQuery(cc *channelConn, requestID int32, r *packet.Reader) {
	n := int(r.ReadShort())
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, r.ReadString())
	}

	s.mu.Lock()
	found := make([]RemoteUser, 0, len(names))
	for _, name := range names {
		if id, ok := s.byName[strings.ToLower(name)]; ok {
			found = append(found, s.users[id])
		}
	}
	s.mu.Unlock()

	cc.send(KindUserQueryResult, requestID, func(w *packet.Writer) {
		w.WriteShort(int16(len(found)))
		for _, u := range found {
			WriteRemoteUser(w, u)
		}
	})
}

func (s *Server) handleParty(cc *channelConn, requestID int32, r *packet.Reader) {
	op := PartyOp(r.ReadByte())
	requesterID := r.ReadInt()
	targetID := r.ReadInt() // party id for join, character id otherwise

	var p *Party
	var disbanded bool
	var err error
	switch op {
	case PartyOpCreate:
		p, err = s.parties.Create(requesterID)
	case PartyOpJoin:
		p, err = s.parties.Join(targetID, requesterID)
	case PartyOpLeave:
		p, disbanded, err = s.parties.Leave(requesterID)
	case PartyOpKick:
		p, err = s.parties.Kick(requesterID, targetID)
	case PartyOpChangeLeader:
		p, err = s.parties.ChangeLeader(requesterID, targetID)
	default:
		err = ErrNoSuchParty
	}

	if err != nil {
		cc.send(KindPartyResult, requestID, func(w *packet.Writer) {
			w.WriteBool(false)
			w.WriteString(err.Error())
		})
		return
	}

	// Members removed from the party are no longer in p.Members, so
	// clear their directory entry here.
	switch op {
	case PartyOpLeave:
		s.setUserParty(requesterID, 0)
	case PartyOpKick:
		s.setUserParty(targetID, 0)
	}

	cc.send(KindPartyResult, requestID, func(w *packet.Writer) {
		w.WriteBool(true)
		w.WriteString("")
		writeParty(w, p, disbanded)
	})
	s.pushPartyUpdate(p, disbanded)
}

func (s *Server) setUserParty(characterID, partyID int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[characterID]; ok {
		u.PartyID = partyID
		s.users[characterID] = u
	}
}

// pushPartyUpdate tells every affected member's channel the party's
// new shape, and keeps the directory's party ids current.
func (s *Server) pushPartyUpdate(p *Party, disbanded bool) {
	if p == nil {
		return
	}
	partyID := p.ID
	if disbanded {
		partyID = 0
	}

	s.mu.Lock()
	targets := make([]*channelConn, 0, len(p.Members))
	seen := make(map[int32]bool)
	for _, id := range p.Members {
		u, ok := s.users[id]
		if !ok {
			continue
		}
		u.PartyID = partyID
		s.users[id] = u
		if cc, ok := s.channels[u.ChannelID]; ok && !seen[u.ChannelID] {
			seen[u.ChannelID] = true
			targets = append(targets, cc)
		}
	}
	s.mu.Unlock()

	for _, cc := range targets {
		cc.send(KindPartyResult, 0, func(w *packet.Writer) {
			w.WriteBool(true)
			w.WriteString("")
			writeParty(w, p, disbanded)
		})
	}
}

func writeParty(w *packet.Writer, p *Party, disbanded bool) {
	w.WriteInt(p.ID)
	w.WriteBool(disbanded)
	w.WriteInt(p.LeaderID)
	w.WriteShort(int16(len(p.Members)))
	for _, id := range p.Members {
		w.WriteInt(id)
	}
}

// dropChannel unregisters a channel node and purges its users from
// the directory.
func (s *Server) dropChannel(cc *channelConn) {
	cc.conn.Close()
	if cc.channelID < 0 {
		return
	}
	s.mu.Lock()
	if s.channels[cc.channelID] == cc {
		delete(s.channels, cc.channelID)
	}
	var orphans []int32
	for id, u := range s.users {
		if u.ChannelID == cc.channelID {
			orphans = append(orphans, id)
		}
	}
	s.mu.Unlock()

	for _, id := range orphans {
		s.removeUser(id)
	}
	s.log.Info("channel unregistered", zap.Int32("channelId", cc.channelID))
	cc.channelID = -1
}
