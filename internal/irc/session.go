package irc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nekbot/nekirc/internal/address"
	"github.com/nekbot/nekirc/internal/dcc"
	"github.com/nekbot/nekirc/internal/routing"
)

var ErrNotConnected = errors.New("session is not connected")

// dccAck prefixes every line echoed back over a DCC chat
const dccAck = "You said: "

// RoomSpec is a configured room to join, with an optional key
type RoomSpec struct {
	Name string
	Key  string
}

// SessionConfig is the login identity and rooms for one server
type SessionConfig struct {
	Server   address.ServerAddress
	Nick     string
	Username string
	RealName string
	Password string
	TLS      bool
	Rooms    []RoomSpec
}

// PeerChat is an accepted DCC chat
type PeerChat interface {
	Serve(ctx context.Context, onLine func(text string)) error
	Send(text string) error
	Close() error
	RemoteAddr() string
}

type dialFunc func(ctx context.Context, offer dcc.Offer, timeout time.Duration) (PeerChat, error)

func dialDCC(ctx context.Context, offer dcc.Offer, timeout time.Duration) (PeerChat, error) {
	return dcc.Dial(ctx, offer, timeout)
}

// Session bridges one server connection to the Dispatcher
type Session struct {
	ID string

	cfg        SessionConfig
	conn       Conn
	dispatcher Dispatcher
	registry   *routing.Registry
	logger     zerolog.Logger

	maxNickRetries int
	dialTimeout    time.Duration
	dial           dialFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	state       State
	nick        string
	nickRetries int
	rooms       map[string]*routing.Membership
	chats       map[PeerChat]struct{}
}

type sessionOptions struct {
	MaxNickRetries int
	DialTimeout    time.Duration
}

func newSession(
	cfg SessionConfig,
	conn Conn,
	dispatcher Dispatcher,
	registry *routing.Registry,
	opts sessionOptions,
) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	s := &Session{
		ID:             id,
		cfg:            cfg,
		conn:           conn,
		dispatcher:     dispatcher,
		registry:       registry,
		logger:         log.With().Str("module", "irc.session").Str("server", cfg.Server.Key()).Str("session", id).Logger(),
		maxNickRetries: opts.MaxNickRetries,
		dialTimeout:    opts.DialTimeout,
		dial:           dialDCC,
		ctx:            ctx,
		cancel:         cancel,
		nick:           cfg.Nick,
		rooms:          make(map[string]*routing.Membership),
		chats:          make(map[PeerChat]struct{}),
	}
	s.registerHandlers()
	return s
}

// event is one occurrence handed to Session.handle
type event struct {
	kind EventKind
	msg  ircmsg.Message

	// set for EventDCCData
	chat PeerChat
	text string
}

func (s *Session) registerHandlers() {
	for _, ec := range eventCodes {
		kind := ec.kind
		s.conn.On(ec.code, func(e ircmsg.Message) {
			s.handle(event{kind: kind, msg: e})
		})
	}
	s.conn.OnDisconnect(s.onDisconnect)
}

// handle is the single entry point for session events
func (s *Session) handle(ev event) {
	switch ev.kind {
	case EventReady:
		s.onReady(ev.msg)
	case EventMessage:
		s.onMessage(ev.msg)
	case EventJoin:
		s.onJoin(ev.msg)
	case EventNickInUse:
		s.onNickInUse(ev.msg)
	case EventDCCInvite:
		s.onDCCInvite(ev.msg)
	case EventDCCData:
		s.onDCCData(ev.chat, ev.text)
	default:
		s.logger.Debug().Stringer("event", ev.kind).Msg("unhandled event")
	}
}

// Config returns the configuration the session was built from
func (s *Session) Config() SessionConfig {
	return s.cfg
}

// Server returns the server this session is bound to
func (s *Session) Server() address.ServerAddress {
	return s.cfg.Server
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.logger.Debug().Stringer("from", prev).Stringer("to", state).Msg("state changed")
	}
}

// Nick returns the nickname the session currently asks for
func (s *Session) Nick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nick
}

// Rooms returns the rooms confirmed on this session
func (s *Session) Rooms() []routing.Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]routing.Membership, 0, len(s.rooms))
	for _, m := range s.rooms {
		out = append(out, *m)
	}
	return out
}

// Start initiates the connection. It does not wait for registration.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return ErrNotConnected
	}

	s.setState(StateConnecting)
	s.logger.Info().Msg("connecting")

	if err := s.conn.Connect(); err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("failed to connect to %s: %w", s.cfg.Server, err)
	}
	return nil
}

// Loop runs the connection's event loop until the session is stopped
func (s *Session) Loop() {
	s.conn.Loop()
	s.setState(StateDisconnected)
	s.cancel()
	s.closeChats()
	s.logger.Info().Msg("disconnected")
}

// Stop quits the server connection and closes DCC chats. In-flight and
// later sends fail with ErrNotConnected.
func (s *Session) Stop() {
	if s.ctx.Err() != nil && s.State() == StateDisconnected {
		return
	}
	s.cancel()
	s.setState(StateDisconnected)
	s.conn.Quit()
	s.closeChats()
}

// Wait blocks until all DCC chats of the session ended
func (s *Session) Wait() {
	s.wg.Wait()
}

// Send posts body to a room or nick. Multi-line bodies are sent line by line.
func (s *Session) Send(target, body string) error {
	if s.ctx.Err() != nil || s.State() == StateDisconnected {
		return ErrNotConnected
	}

	for _, line := range splitLines(body) {
		if err := s.conn.Privmsg(target, line); err != nil {
			return fmt.Errorf("failed to send to %s: %w", target, err)
		}
	}
	return nil
}

// SendContext is Send that fails fast once ctx is done
func (s *Session) SendContext(ctx context.Context, target, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Send(target, body)
}

// Join asks the server to join a room. Membership is recorded once the
// server confirms it.
func (s *Session) Join(ctx context.Context, room, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ctx.Err() != nil || s.State() == StateDisconnected {
		return ErrNotConnected
	}
	return s.join(RoomSpec{Name: address.NormalizeRoom(room), Key: key})
}

func (s *Session) join(room RoomSpec) error {
	params := []string{room.Name}
	if room.Key != "" {
		params = append(params, room.Key)
	}
	if err := s.conn.Send("JOIN", params...); err != nil {
		return fmt.Errorf("failed to join %s: %w", room.Name, err)
	}
	return nil
}

func (s *Session) onReady(e ircmsg.Message) {
	s.mu.Lock()
	s.nickRetries = 0
	s.mu.Unlock()
	s.setState(StateReady)

	s.logger.Info().Str("nick", s.conn.CurrentNick()).Int("rooms", len(s.cfg.Rooms)).Msg("connected to IRC server")

	for _, room := range s.cfg.Rooms {
		if err := s.join(room); err != nil {
			s.logger.Error().Err(err).Str("room", room.Name).Msg("join failed")
		}
	}
}

// onDisconnect follows the runtime losing the server. Unless the session
// was stopped the runtime reconnects, and the next ready event joins the
// rooms again.
func (s *Session) onDisconnect() {
	s.setState(StateDisconnected)

	s.mu.Lock()
	reconnecting := s.ctx.Err() == nil
	if reconnecting {
		s.nickRetries = 0
		s.state = StateConnecting
	}
	s.mu.Unlock()

	if reconnecting {
		s.logger.Warn().Msg("connection lost, reconnecting")
	}
}

func (s *Session) onNickInUse(e ircmsg.Message) {
	s.mu.Lock()
	if s.nickRetries >= s.maxNickRetries {
		nick := s.nick
		s.mu.Unlock()
		s.logger.Error().Str("nick", nick).Int("retries", s.maxNickRetries).Msg("nick still in use, giving up")
		s.Stop()
		return
	}
	s.nickRetries++
	s.nick += "_"
	nick := s.nick
	s.mu.Unlock()

	s.logger.Warn().Str("nick", nick).Msg("nick in use, retrying")
	s.conn.SetNick(nick)
}

func (s *Session) onMessage(e ircmsg.Message) {
	// PRIVMSG <target> :<text>
	if len(e.Params) < 2 {
		return
	}

	target := e.Params[0]
	msg := &Message{
		ID:         uuid.NewString(),
		Source:     e.Source,
		Nick:       e.Nick(),
		Target:     target,
		Body:       e.Params[1],
		Private:    !isRoom(target),
		ReceivedAt: time.Now(),
		Session:    s,
	}

	if err := s.dispatcher.Dispatch(s.ctx, KindMessage, msg); err != nil {
		s.logger.Warn().Err(err).Str("message", msg.ID).Msg("dispatch failed")
	}
}

func (s *Session) onJoin(e ircmsg.Message) {
	// JOIN <room>; only our own joins confirm membership
	if len(e.Params) < 1 || !strings.EqualFold(e.Nick(), s.conn.CurrentNick()) {
		return
	}

	m := &routing.Membership{
		Room:     address.RoomAddress{Room: e.Params[0], Server: s.cfg.Server},
		JoinedBy: e.Source,
		Session:  s,
	}

	s.mu.Lock()
	s.rooms[strings.ToLower(m.Room.Room)] = m
	if s.state == StateReady || s.state == StateConnecting {
		s.state = StateJoined
	}
	s.mu.Unlock()

	s.registry.Register(m)
	s.logger.Info().Str("room", m.Room.Room).Msg("joined room")
}

func (s *Session) onDCCInvite(e ircmsg.Message) {
	if len(e.Params) < 2 {
		return
	}

	// The runtime strips the CTCP delimiters; tolerate them anyway
	text := strings.Trim(e.Params[len(e.Params)-1], "\x01")
	cmd, args, _ := strings.Cut(text, " ")
	if !strings.EqualFold(cmd, "DCC") {
		return
	}

	offer, err := dcc.ParseOffer(args)
	if err != nil {
		s.logger.Debug().Err(err).Str("from", e.Source).Msg("ignoring DCC offer")
		return
	}

	s.wg.Add(1)
	go s.serveChat(offer, e.Nick())
}

func (s *Session) serveChat(offer dcc.Offer, from string) {
	defer s.wg.Done()

	chat, err := s.dial(s.ctx, offer, s.dialTimeout)
	if err != nil {
		s.logger.Warn().Err(err).Str("from", from).Msg("DCC chat failed")
		return
	}
	if !s.trackChat(chat) {
		chat.Close()
		return
	}
	defer s.untrackChat(chat)

	s.logger.Info().Str("from", from).Str("peer", chat.RemoteAddr()).Msg("DCC chat established")

	err = chat.Serve(s.ctx, func(text string) {
		s.handle(event{kind: EventDCCData, chat: chat, text: text})
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug().Err(err).Str("peer", chat.RemoteAddr()).Msg("DCC chat ended")
	}
}

func (s *Session) onDCCData(chat PeerChat, text string) {
	if err := chat.Send(dccAck + text); err != nil {
		s.logger.Debug().Err(err).Str("peer", chat.RemoteAddr()).Msg("DCC reply failed")
	}
}

func (s *Session) trackChat(chat PeerChat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.chats[chat] = struct{}{}
	return true
}

func (s *Session) untrackChat(chat PeerChat) {
	s.mu.Lock()
	delete(s.chats, chat)
	s.mu.Unlock()
	chat.Close()
}

func (s *Session) closeChats() {
	s.mu.Lock()
	chats := make([]PeerChat, 0, len(s.chats))
	for chat := range s.chats {
		chats = append(chats, chat)
	}
	s.mu.Unlock()

	for _, chat := range chats {
		chat.Close()
	}
}

func isRoom(target string) bool {
	return target != "" && (target[0] == '#' || target[0] == '&')
}

func splitLines(body string) []string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
