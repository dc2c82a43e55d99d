package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CCasusensa/kinoko-sub000/internal/central"
	"github.com/CCasusensa/kinoko-sub000/internal/data"
	"github.com/CCasusensa/kinoko-sub000/internal/field"
	"github.com/CCasusensa/kinoko-sub000/internal/lock"
	wnet "github.com/CCasusensa/kinoko-sub000/internal/net"
	"github.com/CCasusensa/kinoko-sub000/internal/net/packet"
	"github.com/CCasusensa/kinoko-sub000/internal/persist"
	"github.com/CCasusensa/kinoko-sub000/internal/sched"
	"github.com/CCasusensa/kinoko-sub000/internal/script"
	"github.com/CCasusensa/kinoko-sub000/internal/world"
)

const autosaveInterval = 5 * time.Minute

// Config is the per-node slice of the server configuration.
type Config struct {
	Host           string
	Port           int32
	CentralAddr    string
	RequestTimeout time.Duration
	OutQueueSize   int

	TickInterval time.Duration
	DropTTL      time.Duration
	ReactorTTL   time.Duration

	ExpRate  float64
	DropRate float64
	MesoRate float64
}

// Deps are the shared services every node borrows from the process.
type Deps struct {
	Log        *zap.Logger
	Tables     *data.Tables
	Scripts    *script.Manager
	Accounts   *persist.AccountRepo
	Characters *persist.CharacterRepo
	Scheduler  *sched.Scheduler
	Registry   *packet.Registry
}

// Node is one running channel. It owns its client connections and
// fields; everything cross-channel goes through the central link.
type Node struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	link   *central.Link
	server *wnet.Server
	fields *field.Storage

	channelID int32
	worldID   int32

	clients  sync.Map // character id int32 -> *Client
	accounts sync.Map // account id int32 -> *Client
	autosave *sched.Task

	closeOnce sync.Once
}

func NewNode(cfg Config, deps Deps) *Node {
	return &Node{cfg: cfg, deps: deps, log: deps.Log}
}

func (n *Node) ChannelID() int32       { return n.channelID }
func (n *Node) WorldID() int32         { return n.worldID }
func (n *Node) Fields() *field.Storage { return n.fields }
func (n *Node) Tables() *data.Tables   { return n.deps.Tables }
func (n *Node) Scripts() *script.Manager {
	return n.deps.Scripts
}

// Start registers with central and begins accepting clients.
func (n *Node) Start(ctx context.Context) error {
	link, err := central.Dial(n.cfg.CentralAddr, n.cfg.RequestTimeout, n.log, n.handleCentralMessage)
	if err != nil {
		return err
	}
	n.link = link

	r, err := link.Request(ctx, central.KindInitializeRequest, func(w *packet.Writer) {
		w.WriteString(n.cfg.Host)
		w.WriteInt(n.cfg.Port)
	})
	if err != nil {
		link.Close()
		return fmt.Errorf("register with central: %w", err)
	}
	n.channelID = r.ReadInt()
	n.worldID = r.ReadInt()
	n.log = n.deps.Log.With(zap.Int32("channelId", n.channelID))

	n.fields = field.NewStorage(field.Deps{
		Tables:       n.deps.Tables,
		Log:          n.log,
		Scheduler:    n.deps.Scheduler,
		ExpRate:      n.cfg.ExpRate,
		DropRate:     n.cfg.DropRate,
		MesoRate:     n.cfg.MesoRate,
		TickInterval: n.cfg.TickInterval,
		DropTTL:      n.cfg.DropTTL,
		ReactorTTL:   n.cfg.ReactorTTL,
	})

	server, err := wnet.NewServer(fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port), n.cfg.OutQueueSize, n.log)
	if err != nil {
		link.Close()
		return err
	}
	n.server = server
	go server.AcceptLoop(n.onAccept)

	n.autosave = n.deps.Scheduler.ScheduleWithFixedDelay(autosaveInterval, autosaveInterval, n.saveAll)

	n.log.Info("channel started",
		zap.String("addr", fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)),
		zap.Int32("worldId", n.worldID))
	return nil
}

// Stop disconnects every client, flushes their state and tears the
// node down.
func (n *Node) Stop() {
	n.closeOnce.Do(func() {
		if n.autosave != nil {
			n.autosave.Cancel()
		}
		if n.server != nil {
			n.server.Shutdown()
		}
		n.clients.Range(func(_, v any) bool {
			v.(*Client).Disconnect()
			return true
		})
		if n.fields != nil {
			n.fields.Close()
		}
		if n.link != nil {
			// Announce the shutdown so central purges this channel
			// cleanly; a dropped link would get there eventually too.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			n.link.Request(ctx, central.KindShutdownRequest, nil)
			cancel()
			n.link.Close()
		}
		n.log.Info("channel stopped")
	})
}

func (n *Node) onAccept(s *wnet.Session) {
	c := newClient(s, n)
	s.Start(
		func(data []byte) {
			if err := n.deps.Registry.Dispatch(c, s.State(), data); err != nil {
				n.log.Warn("dispatch failed",
					zap.Uint64("session", s.ID),
					zap.Error(err))
				s.Close()
			}
		},
		func() { n.onDisconnect(c) },
	)
}

// ClientByCharacter returns the client a character is playing on.
func (n *Node) ClientByCharacter(characterID int32) (*Client, bool) {
	v, ok := n.clients.Load(characterID)
	if !ok {
		return nil, false
	}
	return v.(*Client), true
}

// MigrateIn completes a client's arrival on this channel: the ticket
// is consumed at central, the character is loaded, placed in its
// field and announced to the world.
func (n *Node) MigrateIn(ctx context.Context, c *Client, accountID, characterID int32) error {
	// One live session per character and per account on this node.
	if _, ok := n.clients.Load(characterID); ok {
		return fmt.Errorf("character %d already connected", characterID)
	}
	if _, ok := n.accounts.Load(accountID); ok {
		return fmt.Errorf("account %d already connected", accountID)
	}

	r, err := n.link.Request(ctx, central.KindMigrateRequest, func(w *packet.Writer) {
		w.WriteInt(accountID)
		w.WriteInt(characterID)
		w.WriteBytes(c.MachineID[:])
		w.WriteBytes(c.ClientKey[:])
	})
	if err != nil {
		return fmt.Errorf("migrate request: %w", err)
	}
	if !r.ReadBool() {
		return fmt.Errorf("migration refused for character %d", characterID)
	}
	r.ReadInt() // account id, echoed
	r.ReadInt() // character id, echoed
	messengerID := r.ReadInt()
	effectItemID := r.ReadInt()
	tempStats := central.ReadTempStats(r)

	account, err := n.deps.Accounts.Get(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %d: %w", accountID, err)
	}
	cd, err := n.deps.Characters.Load(ctx, accountID, characterID)
	if err != nil {
		return fmt.Errorf("load character %d: %w", characterID, err)
	}

	u := field.NewUser(c, cd, account)
	if tempStats != nil {
		u.TempStats.Restore(tempStats)
	}
	u.MessengerID = messengerID
	u.EffectItemID = effectItemID

	f, err := n.fields.Get(cd.Stat.Field)
	if err != nil {
		// Fall back to the return map of nowhere: the character's
		// saved field vanished from the data set.
		return fmt.Errorf("character %d field: %w", characterID, err)
	}
	portal := f.Template().PortalByID(int32(cd.Stat.Portal))

	if _, loaded := n.clients.LoadOrStore(characterID, c); loaded {
		return fmt.Errorf("character %d already connected", characterID)
	}
	n.accounts.Store(accountID, c)
	c.bind(account, u)
	c.Session().SetState(packet.StateInWorld)

	lock.With(u, func(g *lock.Locked[*field.User]) {
		c.WritePacket(setFieldPacket(n.channelID, f.MapID(), cd.Stat.Portal, cd))
		f.EnterUser(g, u, portal)
	})

	n.castUserState(central.KindUserConnect, u)
	n.log.Info("user migrated in",
		zap.Int32("characterId", characterID),
		zap.String("name", cd.Name),
		zap.Int32("fieldId", f.MapID()))
	return nil
}

// ChangeField moves a user between maps on this channel.
func (n *Node) ChangeField(c *Client, u *field.User, mapID int32, portalName string) error {
	target, err := n.fields.Get(mapID)
	if err != nil {
		return err
	}
	var portal *data.Portal
	if portalName != "" {
		portal = target.Template().PortalByName(portalName)
	}
	if portal == nil && len(target.Template().Portals) > 0 {
		portal = &target.Template().Portals[0]
	}

	// Walking out of the map abandons an open trade.
	var cur *field.Field
	lock.With(u, func(g *lock.Locked[*field.User]) {
		cur = u.Field(g)
	})
	if cur != nil {
		cur.CancelMiniRoomOf(u)
	}

	lock.With(u, func(g *lock.Locked[*field.User]) {
		if cur := u.Field(g); cur != nil {
			cur.LeaveUser(g, u)
		}
		u.Data.Stat.Field = mapID
		if portal != nil {
			u.Data.Stat.Portal = byte(portal.ID)
		}
		c.WritePacket(setFieldPacket(n.channelID, mapID, u.Data.Stat.Portal, u.Data))
		target.EnterUser(g, u, portal)
	})

	n.castUserState(central.KindUserUpdate, u)
	return nil
}

// TransferChannel asks central for a migration ticket to another
// channel and commands the client to reconnect there.
func (n *Node) TransferChannel(ctx context.Context, c *Client, u *field.User, targetChannel int32) error {
	var snapshot map[world.TemporaryStatKind]world.TemporaryStatOption
	var messengerID, effectItemID int32
	var fld *field.Field
	lock.With(u, func(g *lock.Locked[*field.User]) {
		snapshot = u.TempStats.Snapshot()
		messengerID = u.MessengerID
		effectItemID = u.EffectItemID
		fld = u.Field(g)
	})

	r, err := n.link.Request(ctx, central.KindTransferRequest, func(w *packet.Writer) {
		w.WriteInt(u.Account.ID)
		w.WriteInt(u.CharacterID())
		w.WriteBytes(c.MachineID[:])
		w.WriteBytes(c.ClientKey[:])
		w.WriteInt(targetChannel)
		w.WriteInt(messengerID)
		w.WriteInt(effectItemID)
		central.WriteTempStats(w, snapshot)
	})
	if err != nil {
		return fmt.Errorf("transfer request: %w", err)
	}
	if !r.ReadBool() {
		c.WritePacket(transferChannelFailPacket())
		return nil
	}
	host := r.ReadString()
	port := r.ReadInt()

	// Persist before handing the session off; the target channel
	// loads from the database. An open trade unwinds first so its
	// escrow is part of what gets saved.
	if fld != nil {
		fld.CancelMiniRoomOf(u)
	}
	n.saveClient(c)
	c.WritePacket(migrateCommandPacket(host, port))
	return nil
}

// SendToUser delivers a packet to a named user anywhere in the world.
func (n *Node) SendToUser(targetName string, payload []byte) error {
	return n.link.Cast(central.KindUserPacketRequest, func(w *packet.Writer) {
		w.WriteString(targetName)
		w.WriteBytes(payload)
	})
}

// QueryUsers resolves names to directory snapshots via central.
func (n *Node) QueryUsers(ctx context.Context, names ...string) ([]central.RemoteUser, error) {
	r, err := n.link.Request(ctx, central.KindUserQueryRequest, func(w *packet.Writer) {
		w.WriteShort(int16(len(names)))
		for _, name := range names {
			w.WriteString(name)
		}
	})
	if err != nil {
		return nil, err
	}
	count := int(r.ReadShort())
	out := make([]central.RemoteUser, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, central.ReadRemoteUser(r))
	}
	return out, nil
}

// PartyRequest runs a party operation at central and returns the
// result reader positioned after the ok flag and error text.
func (n *Node) PartyRequest(ctx context.Context, op central.PartyOp, requesterID, targetID int32) (*packet.Reader, bool, string, error) {
	r, err := n.link.Request(ctx, central.KindPartyRequest, func(w *packet.Writer) {
		w.WriteByte(byte(op))
		w.WriteInt(requesterID)
		w.WriteInt(targetID)
	})
	if err != nil {
		return nil, false, "", err
	}
	ok := r.ReadBool()
	reason := r.ReadString()
	return r, ok, reason, nil
}

// castUserState pushes the user's directory snapshot to central.
func (n *Node) castUserState(kind central.MessageKind, u *field.User) {
	var snap central.RemoteUser
	lock.With(u, func(g *lock.Locked[*field.User]) {
		snap = central.RemoteUser{
			ChannelID:   n.channelID,
			AccountID:   u.Account.ID,
			CharacterID: u.CharacterID(),
			Name:        u.Name(),
			Level:       u.Data.Stat.Level,
			Job:         u.Data.Stat.Job,
			FieldID:     u.Data.Stat.Field,
			PartyID:     u.PartyID,
		}
	})
	n.link.Cast(kind, func(w *packet.Writer) {
		central.WriteRemoteUser(w, snap)
	})
}

// onDisconnect tears down a client: field exit, persistence, central
// notification.
func (n *Node) onDisconnect(c *Client) {
	c.SetConversation(nil)
	u := c.User()
	if u == nil {
		return
	}
	// Unwind any open trade first so the escrowed items are back in
	// the inventory saveClient persists.
	var fld *field.Field
	lock.With(u, func(g *lock.Locked[*field.User]) {
		fld = u.Field(g)
	})
	if fld != nil {
		fld.CancelMiniRoomOf(u)
	}
	lock.With(u, func(g *lock.Locked[*field.User]) {
		if f := u.Field(g); f != nil {
			f.LeaveUser(g, u)
		}
	})
	n.saveClient(c)
	n.clients.CompareAndDelete(u.CharacterID(), c)
	n.accounts.CompareAndDelete(u.Account.ID, c)
	n.link.Cast(central.KindUserDisconnect, func(w *packet.Writer) {
		w.WriteInt(u.CharacterID())
	})
	n.log.Info("user disconnected", zap.Int32("characterId", u.CharacterID()))
}

// saveClient writes the character and wallet back. Slow path; runs on
// disconnect, transfer and autosave, never on the packet path.
func (n *Node) saveClient(c *Client) {
	u := c.User()
	acc := c.Account()
	if u == nil || acc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var cd world.CharacterData
	lock.With(u, func(g *lock.Locked[*field.User]) {
		cd = *u.Data
	})
	if err := n.deps.Characters.Save(ctx, &cd); err != nil {
		n.log.Error("character save failed",
			zap.Int32("characterId", cd.ID),
			zap.Error(err))
	}
	lock.With(acc, func(g *lock.Locked[*world.Account]) {
		if err := n.deps.Accounts.SaveWallet(ctx, acc); err != nil {
			n.log.Error("wallet save failed",
				zap.Int32("accountId", acc.ID),
				zap.Error(err))
		}
	})
}

func (n *Node) saveAll() {
	n.clients.Range(func(_, v any) bool {
		n.saveClient(v.(*Client))
		return true
	})
}

// handleCentralMessage runs on the link's read goroutine; anything
// slow is pushed to the scheduler.
func (n *Node) handleCentralMessage(kind central.MessageKind, r *packet.Reader) {
	switch kind {
	case central.KindUserPacketReceive:
		characterID := r.ReadInt()
		payload := r.ReadBytes(r.Remaining())
		if c, ok := n.ClientByCharacter(characterID); ok {
			c.WritePacket(payload)
		}
	case central.KindServerPacketBroadcast:
		payload := r.ReadBytes(r.Remaining())
		n.clients.Range(func(_, v any) bool {
			v.(*Client).WritePacket(payload)
			return true
		})
	case central.KindPartyResult:
		n.applyPartyUpdate(r)
	default:
		n.log.Warn("unexpected central message", zap.Uint16("kind", uint16(kind)))
	}
}

// applyPartyUpdate records new party membership for local users and
// relays the result packet to them.
func (n *Node) applyPartyUpdate(r *packet.Reader) {
	r.ReadBool()   // ok, always true on pushes
	r.ReadString() // error text, empty on pushes
	partyID := r.ReadInt()
	disbanded := r.ReadBool()
	leaderID := r.ReadInt()
	count := int(r.ReadShort())
	members := make([]int32, 0, count)
	for i := 0; i < count; i++ {
		members = append(members, r.ReadInt())
	}

	effective := partyID
	if disbanded {
		effective = 0
	}
	for _, id := range members {
		c, ok := n.ClientByCharacter(id)
		if !ok {
			continue
		}
		u := c.User()
		if u == nil {
			c.WritePacket(partyResultPacket(effective, leaderID, members))
			continue
		}
		var f *field.Field
		var hp, maxHP int32
		lock.With(u, func(g *lock.Locked[*field.User]) {
			u.PartyID = effective
			f = u.Field(g)
			hp, maxHP = u.Data.Stat.HP, u.Data.Stat.MaxHP
		})
		c.WritePacket(partyResultPacket(effective, leaderID, members))

		// Members sharing a field learn each other's hp right away.
		if f != nil && effective != 0 {
			hpPkt := partyMemberHPPacket(id, hp, maxHP)
			f.ForEachPartyMember(effective, func(g *lock.Locked[*field.User], member *field.User) {
				if member.CharacterID() != id {
					member.WritePacket(hpPkt)
				}
			})
		}
	}
}
