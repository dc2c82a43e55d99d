package script

import (
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Talk types sent to the client during a conversation.
const (
	TalkSay    byte = 0
	TalkYesNo  byte = 1
	TalkText   byte = 2
	TalkNumber byte = 3
)

// Response is the client's answer to the pending talk. Action 0 means
// decline/end, 1 means ok/yes/next; Answer and Text carry number and
// text inputs.
type Response struct {
	Action byte
	Answer int32
	Text   string
}

// Actions is everything a script may do to the world. Implemented by
// the channel layer; every method runs on the conversation goroutine
// and must do its own locking.
type Actions interface {
	SendTalk(talkType byte, text string)
	GiveItem(itemID, quantity int32) bool
	HasItem(itemID, quantity int32) bool
	TakeItem(itemID, quantity int32) bool
	GiveExp(exp int64)
	GiveMeso(amount int32) bool
	Warp(mapID int32, portalName string)
	StartQuest(questID int32)
	CompleteQuest(questID int32)
	HasQuestStarted(questID int32) bool
	Level() int16
	Job() int16
}

var errConversationEnded = errors.New("script: conversation ended")

// Conversation is one running script bound to one client. The script
// runs on its own goroutine; the client's answers come in through
// Resume and the script sees them as return values of say/ask.
type Conversation struct {
	name    string
	actions Actions
	log     *zap.Logger

	resume chan Response
	done   chan struct{}
	once   sync.Once
}

// Start runs the named script against the given actions. It returns
// immediately; the conversation lives until the script returns, the
// script fails, or End is called.
func (m *Manager) Start(name string, actions Actions) (*Conversation, error) {
	proto, ok := m.protos[name]
	if !ok {
		return nil, fmt.Errorf("script: unknown script %q", name)
	}
	c := &Conversation{
		name:    name,
		actions: actions,
		log:     m.log,
		resume:  make(chan Response),
		done:    make(chan struct{}),
	}
	go c.run(proto)
	return c, nil
}

// Resume delivers the client's answer to the blocked script.
func (c *Conversation) Resume(r Response) {
	select {
	case c.resume <- r:
	case <-c.done:
	}
}

// End aborts the conversation. The script goroutine unblocks and
// exits on its next yield point.
func (c *Conversation) End() {
	c.once.Do(func() { close(c.done) })
}

// Ended reports whether the conversation is over.
func (c *Conversation) Ended() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conversation) run(proto *lua.FunctionProto) {
	defer c.End()
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	defer L.Close()
	c.register(L)

	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil && !c.Ended() {
		c.log.Error("script failed",
			zap.String("script", c.name),
			zap.Error(err))
	}
}

// await blocks the script until the client answers or the
// conversation is torn down.
func (c *Conversation) await(L *lua.LState) Response {
	select {
	case r := <-c.resume:
		if r.Action == 0 {
			c.End()
			L.RaiseError("%s", errConversationEnded)
		}
		return r
	case <-c.done:
		L.RaiseError("%s", errConversationEnded)
		return Response{}
	}
}

func (c *Conversation) register(L *lua.LState) {
	reg := func(name string, fn lua.LGFunction) {
		L.SetGlobal(name, L.NewFunction(fn))
	}
	reg("say", func(L *lua.LState) int {
		c.actions.SendTalk(TalkSay, L.CheckString(1))
		c.await(L)
		return 0
	})
	reg("askYesNo", func(L *lua.LState) int {
		c.actions.SendTalk(TalkYesNo, L.CheckString(1))
		r := c.await(L)
		L.Push(lua.LBool(r.Answer == 1))
		return 1
	})
	reg("askText", func(L *lua.LState) int {
		c.actions.SendTalk(TalkText, L.CheckString(1))
		r := c.await(L)
		L.Push(lua.LString(r.Text))
		return 1
	})
	reg("askNumber", func(L *lua.LState) int {
		c.actions.SendTalk(TalkNumber, L.CheckString(1))
		r := c.await(L)
		L.Push(lua.LNumber(r.Answer))
		return 1
	})
	reg("giveItem", func(L *lua.LState) int {
		qty := int32(1)
		if L.GetTop() >= 2 {
			qty = int32(L.CheckInt(2))
		}
		L.Push(lua.LBool(c.actions.GiveItem(int32(L.CheckInt(1)), qty)))
		return 1
	})
	reg("hasItem", func(L *lua.LState) int {
		qty := int32(1)
		if L.GetTop() >= 2 {
			qty = int32(L.CheckInt(2))
		}
		L.Push(lua.LBool(c.actions.HasItem(int32(L.CheckInt(1)), qty)))
		return 1
	})
	reg("takeItem", func(L *lua.LState) int {
		qty := int32(1)
		if L.GetTop() >= 2 {
			qty = int32(L.CheckInt(2))
		}
		L.Push(lua.LBool(c.actions.TakeItem(int32(L.CheckInt(1)), qty)))
		return 1
	})
	reg("giveExp", func(L *lua.LState) int {
		c.actions.GiveExp(int64(L.CheckInt(1)))
		return 0
	})
	reg("giveMeso", func(L *lua.LState) int {
		L.Push(lua.LBool(c.actions.GiveMeso(int32(L.CheckInt(1)))))
		return 1
	})
	reg("warp", func(L *lua.LState) int {
		portal := ""
		if L.GetTop() >= 2 {
			portal = L.CheckString(2)
		}
		c.actions.Warp(int32(L.CheckInt(1)), portal)
		return 0
	})
	reg("startQuest", func(L *lua.LState) int {
		c.actions.StartQuest(int32(L.CheckInt(1)))
		return 0
	})
	reg("completeQuest", func(L *lua.LState) int {
		c.actions.CompleteQuest(int32(L.CheckInt(1)))
		return 0
	})
	reg("hasQuestStarted", func(L *lua.LState) int {
		L.Push(lua.LBool(c.actions.HasQuestStarted(int32(L.CheckInt(1)))))
		return 1
	})
	reg("level", func(L *lua.LState) int {
		L.Push(lua.LNumber(c.actions.Level()))
		return 1
	})
	reg("job", func(L *lua.LState) int {
		L.Push(lua.LNumber(c.actions.Job()))
		return 1
	})
}
