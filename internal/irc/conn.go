package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	stdlog "log"
	"net"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"
	"github.com/rs/zerolog"
)

// Version information (set at build time via ldflags in main)
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// Conn is the part of the connection runtime a Session talks to.
// *ircevent.Connection satisfies it through eventConn.
type Conn interface {
	On(code string, callback func(ircmsg.Message))
	// OnDisconnect runs after the connection to the server was lost or
	// closed, before the runtime reconnects.
	OnDisconnect(callback func())
	Connect() error
	Loop()
	Quit()
	Send(command string, params ...string) error
	Privmsg(target, text string) error
	SetNick(nick string)
	CurrentNick() string
}

// ownedCodes are answered by the session alone. The runtime's own
// handlers for these codes are removed once it installed them.
var ownedCodes = []string{
	"433", // ERR_NICKNAMEINUSE
}

type eventConn struct {
	*ircevent.Connection

	mu    sync.Mutex
	owned map[string][]func(ircmsg.Message)
	once  sync.Once
}

var _ Conn = (*eventConn)(nil)

func (c *eventConn) On(code string, callback func(ircmsg.Message)) {
	if isOwned(code) {
		c.mu.Lock()
		c.owned[code] = append(c.owned[code], callback)
		c.mu.Unlock()
		return
	}
	c.AddCallback(code, callback)
}

func (c *eventConn) OnDisconnect(callback func()) {
	c.AddDisconnectCallback(func(ircmsg.Message) { callback() })
}

// takeOwnership replaces the runtime's handlers for ownedCodes with the
// session's. Connect installs the runtime handlers right before dialing,
// so this runs from the dial hook; NICK is only sent after it returns.
func (c *eventConn) takeOwnership() {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, code := range ownedCodes {
			c.ClearCallback(code)
			for _, cb := range c.owned[code] {
				c.AddCallback(code, cb)
			}
		}
	})
}

func (c *eventConn) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	c.takeOwnership()
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

func isOwned(code string) bool {
	for _, owned := range ownedCodes {
		if owned == code {
			return true
		}
	}
	return false
}

type connOptions struct {
	Timeout     time.Duration
	QuitMessage string
	Debug       bool
	Logger      zerolog.Logger
}

// newEventConn builds the ergochat connection for one server
func newEventConn(sc SessionConfig, opts connOptions) Conn {
	conn := &ircevent.Connection{
		Server:      sc.Server.Key(),
		Nick:        sc.Nick,
		User:        sc.Username,
		RealName:    sc.RealName,
		Password:    sc.Password,
		QuitMessage: opts.QuitMessage,
		Version:     fmt.Sprintf("nekirc %s (built %s, commit %s)", Version, BuildDate, GitCommit),
		EnableCTCP:  true,
		Timeout:     opts.Timeout,
		Debug:       opts.Debug,
		UseTLS:      sc.TLS,
		TLSConfig:   &tls.Config{ServerName: sc.Server.Host},
		Log:         stdlog.New(opts.Logger, "", 0),
	}
	c := &eventConn{
		Connection: conn,
		owned:      make(map[string][]func(ircmsg.Message)),
	}
	conn.DialContext = c.dialContext
	return c
}
