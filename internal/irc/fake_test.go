package irc

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ergochat/irc-go/ircmsg"
)

// fakeConn stands in for the ergochat connection
type fakeConn struct {
	mu         sync.Mutex
	callbacks  map[string][]func(ircmsg.Message)
	onDrop     []func()
	nick       string
	connectErr error
	connecting bool
	connected  bool
	quitCount  int
	sent       []string
	privmsgs   []string
	nicks      []string
	quit       chan struct{}
	quitOnce   sync.Once

	// blockConnect makes Connect hang until Quit, like a server that
	// never finishes registration
	blockConnect bool
}

var _ Conn = (*fakeConn)(nil)

func newFakeConn(nick string) *fakeConn {
	return &fakeConn{
		callbacks: make(map[string][]func(ircmsg.Message)),
		nick:      nick,
		quit:      make(chan struct{}),
	}
}

func (c *fakeConn) On(code string, callback func(ircmsg.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[code] = append(c.callbacks[code], callback)
}

func (c *fakeConn) OnDisconnect(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDrop = append(c.onDrop, callback)
}

func (c *fakeConn) Connect() error {
	c.mu.Lock()
	c.connecting = true
	block, err := c.blockConnect, c.connectErr
	c.mu.Unlock()

	if block {
		<-c.quit
		return errors.New("client has called Quit()")
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Loop() {
	<-c.quit
}

func (c *fakeConn) Quit() {
	c.mu.Lock()
	c.quitCount++
	c.mu.Unlock()
	c.quitOnce.Do(func() { close(c.quit) })
}

func (c *fakeConn) Send(command string, params ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, strings.Join(append([]string{command}, params...), " "))
	return nil
}

func (c *fakeConn) Privmsg(target, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.privmsgs = append(c.privmsgs, target+" :"+text)
	return nil
}

func (c *fakeConn) SetNick(nick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nicks = append(c.nicks, nick)
	c.nick = nick
}

func (c *fakeConn) CurrentNick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

// fire delivers a message to the callbacks registered for its command
func (c *fakeConn) fire(msg ircmsg.Message) {
	c.mu.Lock()
	callbacks := append([]func(ircmsg.Message){}, c.callbacks[msg.Command]...)
	c.mu.Unlock()
	for _, cb := range callbacks {
		cb(msg)
	}
}

// drop runs the disconnect callbacks as the runtime does when the
// server goes away
func (c *fakeConn) drop() {
	c.mu.Lock()
	callbacks := append([]func(){}, c.onDrop...)
	c.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}

func (c *fakeConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.sent...)
}

func (c *fakeConn) Privmsgs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.privmsgs...)
}

func (c *fakeConn) Nicks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.nicks...)
}

// fakeChat is an accepted DCC chat that delivers fixed lines
type fakeChat struct {
	mu     sync.Mutex
	lines  []string
	sent   []string
	closed bool
}

func (c *fakeChat) Serve(ctx context.Context, onLine func(text string)) error {
	for _, line := range c.lines {
		onLine(line)
	}
	return nil
}

func (c *fakeChat) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeChat) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChat) RemoteAddr() string {
	return "192.168.0.1:5000"
}

func (c *fakeChat) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.sent...)
}

// recordingDispatcher collects dispatched messages
type recordingDispatcher struct {
	mu       sync.Mutex
	kinds    []string
	messages []*Message
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, kind string, msg *Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kinds = append(d.kinds, kind)
	d.messages = append(d.messages, msg)
	return nil
}

func (d *recordingDispatcher) Messages() []*Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Message{}, d.messages...)
}
