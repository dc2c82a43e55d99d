// Package channel runs one channel node: the client server, the link
// to central, and the running fields. Handlers live in the handler
// package and reach the node through the Client they are dispatched
// with.
package channel

import (
	"sync"

	"github.com/CCasusensa/kinoko-sub000/internal/field"
	wnet "github.com/CCasusensa/kinoko-sub000/internal/net"
	"github.com/CCasusensa/kinoko-sub000/internal/script"
	"github.com/CCasusensa/kinoko-sub000/internal/world"
)

// Client is one connected game client. It binds the session to the
// account and user once migrate-in succeeds. The session outlives
// both pointers; handlers must tolerate a nil user before migrate-in
// completes.
type Client struct {
	session *wnet.Session
	node    *Node

	MachineID [16]byte
	ClientKey [8]byte

	mu      sync.Mutex
	account *world.Account
	user    *field.User
	convo   *script.Conversation
}

func newClient(session *wnet.Session, node *Node) *Client {
	return &Client{session: session, node: node}
}

func (c *Client) Session() *wnet.Session { return c.session }
func (c *Client) Node() *Node            { return c.node }

// WritePacket queues a packet for the client. Implements
// field.ClientConn.
func (c *Client) WritePacket(p []byte) { c.session.Send(p) }

// Disconnect severs the connection. Implements field.ClientConn.
func (c *Client) Disconnect() { c.session.Close() }

// User returns the bound user, nil before migrate-in.
func (c *Client) User() *field.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Account returns the bound account, nil before migrate-in.
func (c *Client) Account() *world.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

func (c *Client) bind(account *world.Account, user *field.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = account
	c.user = user
}

// Conversation returns the running script dialogue, nil when idle.
func (c *Client) Conversation() *script.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.convo != nil && c.convo.Ended() {
		c.convo = nil
	}
	return c.convo
}

// SetConversation installs a dialogue, ending any previous one.
func (c *Client) SetConversation(convo *script.Conversation) {
	c.mu.Lock()
	prev := c.convo
	c.convo = convo
	c.mu.Unlock()
	if prev != nil {
		prev.End()
	}
}
