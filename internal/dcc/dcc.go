// Package dcc implements the peer side of DCC CHAT: parsing the CTCP offer
// and talking line-based text over the direct connection.
package dcc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

var ErrMalformedOffer = errors.New("malformed DCC CHAT offer")

// Offer is a parsed "CHAT chat <address> <port>" invitation
type Offer struct {
	IP   net.IP
	Port int
}

// ParseOffer parses the arguments following "DCC" in a CTCP message.
// Exactly four tokens are expected; the address is the numeric IPv4 form.
func ParseOffer(args string) (Offer, error) {
	fields := strings.Fields(args)
	if len(fields) != 4 {
		return Offer{}, fmt.Errorf("%w: expected 4 arguments, got %d", ErrMalformedOffer, len(fields))
	}
	if !strings.EqualFold(fields[0], "CHAT") {
		return Offer{}, fmt.Errorf("%w: unsupported type %q", ErrMalformedOffer, fields[0])
	}

	ip, err := NumericToIP(fields[2])
	if err != nil {
		return Offer{}, err
	}

	port, err := strconv.Atoi(fields[3])
	if err != nil || port <= 0 || port > 65535 {
		return Offer{}, fmt.Errorf("%w: invalid port %q", ErrMalformedOffer, fields[3])
	}

	return Offer{IP: ip, Port: port}, nil
}

// NumericToIP converts the decimal representation of an IPv4 address
// ("3232235521") into dotted form (192.168.0.1)
func NumericToIP(s string) (net.IP, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid address %q", ErrMalformedOffer, s)
	}
	return net.IPv4(byte(n>>24), byte(n>>16), byte(n>>8), byte(n)), nil
}

// Addr returns "ip:port"
func (o Offer) Addr() string {
	return net.JoinHostPort(o.IP.String(), strconv.Itoa(o.Port))
}

// Chat is an established DCC CHAT connection
type Chat struct {
	conn net.Conn

	writeMu sync.Mutex
	once    sync.Once
}

// Dial connects to the peer that sent the offer
func Dial(ctx context.Context, offer Offer, timeout time.Duration) (*Chat, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", offer.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DCC peer %s: %w", offer.Addr(), err)
	}
	return NewChat(conn), nil
}

// NewChat wraps an established connection
func NewChat(conn net.Conn) *Chat {
	return &Chat{conn: conn}
}

// RemoteAddr returns the peer address
func (c *Chat) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Serve reads lines from the peer and hands each one, decoded as text,
// to onLine. It returns when the peer closes the connection, ctx is done,
// or a read fails.
func (c *Chat) Serve(ctx context.Context, onLine func(text string)) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		onLine(Decode(scanner.Bytes()))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}

// Send writes one line of text to the peer
func (c *Chat) Send(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := fmt.Fprintf(c.conn, "%s\n", text)
	return err
}

func (c *Chat) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// Decode turns raw chat bytes into text, trimming line endings and
// replacing invalid UTF-8
func Decode(b []byte) string {
	s := strings.TrimRight(string(b), "\r\n")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return s
}
