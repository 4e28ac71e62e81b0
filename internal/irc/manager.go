package irc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/nekbot/nekirc/internal/address"
	"github.com/nekbot/nekirc/internal/config"
	"github.com/nekbot/nekirc/internal/routing"
)

var (
	ErrNoSessions         = errors.New("no IRC sessions configured")
	ErrAlreadyInitialized = errors.New("manager already initialized")
)

// ConnFactory builds the connection for a session
type ConnFactory func(SessionConfig) Conn

// Option configures a Manager
type Option func(*Manager)

// WithConnFactory replaces the ergochat connection, mostly for tests
func WithConnFactory(f ConnFactory) Option {
	return func(m *Manager) {
		m.newConn = f
	}
}

// Manager builds one Session per configured server and runs them
type Manager struct {
	cfg        *config.Config
	dispatcher Dispatcher
	registry   *routing.Registry
	newConn    ConnFactory
	dial       dialFunc

	mu          sync.RWMutex
	sessions    []*Session
	initialized bool
}

func NewManager(cfg *config.Config, dispatcher Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		dispatcher: dispatcher,
		registry:   routing.NewRegistry(),
		dial:       dialDCC,
	}
	m.newConn = func(sc SessionConfig) Conn {
		return newEventConn(sc, connOptions{
			Timeout:     cfg.ConnectTimeout,
			QuitMessage: cfg.QuitMessage,
			Debug:       cfg.Debug,
			Logger:      log.With().Str("module", "ircevent").Str("server", sc.Server.Key()).Logger(),
		})
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type credential struct {
	login address.LoginAddress
	auth  config.Auth
}

// Init groups the configured rooms by server and creates a Session for
// every server that has both rooms and credentials. Servers without
// credentials are skipped.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return ErrAlreadyInitialized
	}

	// Rooms by server key, in configuration order
	var order []string
	roomsByServer := make(map[string][]address.RoomAddress)
	servers := make(map[string]address.ServerAddress)
	seen := make(map[string]bool)
	for _, raw := range m.cfg.Rooms {
		room, err := address.ParseRoom(raw)
		if err != nil {
			return fmt.Errorf("invalid room address: %w", err)
		}
		if seen[room.Key()] {
			continue
		}
		seen[room.Key()] = true

		key := room.Server.Key()
		if _, ok := roomsByServer[key]; !ok {
			order = append(order, key)
			servers[key] = room.Server
		}
		roomsByServer[key] = append(roomsByServer[key], room)
	}

	creds, err := m.credentials()
	if err != nil {
		return err
	}

	for _, key := range order {
		cred, ok := creds[key]
		if !ok {
			log.Debug().Str("module", "irc.manager").Str("server", key).Msg("no credentials for server, skipping")
			continue
		}

		sc := m.sessionConfig(servers[key], cred, roomsByServer[key])
		s := newSession(sc, m.newConn(sc), m.dispatcher, m.registry, sessionOptions{
			MaxNickRetries: m.cfg.MaxNickRetries,
			DialTimeout:    m.cfg.ConnectTimeout,
		})
		s.dial = m.dial
		m.sessions = append(m.sessions, s)

		log.Info().Str("module", "irc.manager").Str("server", key).Str("nick", sc.Nick).Int("rooms", len(sc.Rooms)).Msg("session created")
	}

	m.initialized = true
	return nil
}

// credentials parses the auth keys. Keys are visited in sorted order so
// that duplicates resolving to the same server are settled the same way
// on every run.
func (m *Manager) credentials() (map[string]credential, error) {
	keys := make([]string, 0, len(m.cfg.Auths))
	for k := range m.cfg.Auths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	creds := make(map[string]credential, len(keys))
	for _, k := range keys {
		login, err := address.ParseLogin(k)
		if err != nil {
			return nil, fmt.Errorf("invalid credentials address: %w", err)
		}
		serverKey := login.Server.Key()
		if _, dup := creds[serverKey]; dup {
			log.Warn().Str("module", "irc.manager").Str("server", serverKey).Str("entry", k).Msg("duplicate credentials for server, ignoring")
			continue
		}
		creds[serverKey] = credential{login: login, auth: m.cfg.Auths[k]}
	}
	return creds, nil
}

func (m *Manager) sessionConfig(server address.ServerAddress, cred credential, rooms []address.RoomAddress) SessionConfig {
	nick := cred.login.Username
	if nick == "" {
		nick = cred.auth.Username
	}
	if nick == "" {
		nick = m.cfg.Nick
	}

	username := cred.auth.Username
	if username == "" {
		username = nick
	}
	realname := cred.auth.RealName
	if realname == "" {
		realname = username
	}

	keys := make(map[string]string, len(cred.auth.Keys))
	for room, key := range cred.auth.Keys {
		keys[address.RoomAddress{Room: address.NormalizeRoom(room), Server: server}.Key()] = key
	}

	specs := make([]RoomSpec, 0, len(rooms))
	for _, room := range rooms {
		specs = append(specs, RoomSpec{Name: room.Room, Key: keys[room.Key()]})
	}

	return SessionConfig{
		Server:   server,
		Nick:     nick,
		Username: username,
		RealName: realname,
		Password: cred.auth.Password,
		TLS:      cred.auth.TLS,
		Rooms:    specs,
	}
}

// Sessions returns the sessions built by Init
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// Rooms returns the registry of joined rooms across all sessions
func (m *Manager) Rooms() *routing.Registry {
	return m.registry
}

// Run starts every session and blocks until they all ended or ctx is
// done, in which case every session is stopped. A session that fails to
// start does not keep the others from running; start errors are returned
// together once Run is over.
func (m *Manager) Run(ctx context.Context) error {
	sessions := m.Sessions()
	if len(sessions) == 0 {
		return ErrNoSessions
	}

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		result *multierror.Error
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Start(ctx); err != nil {
				if ctx.Err() != nil {
					// shut down while still connecting
					return
				}
				log.Error().Err(err).Str("module", "irc.manager").Str("server", s.Server().Key()).Msg("session failed to start")
				errMu.Lock()
				result = multierror.Append(result, err)
				errMu.Unlock()
				return
			}
			s.Loop()
			s.Wait()
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		log.Info().Str("module", "irc.manager").Msg("shutting down sessions")
		m.Shutdown()
		<-done
	case <-done:
	}

	errMu.Lock()
	defer errMu.Unlock()
	return result.ErrorOrNil()
}

// Shutdown stops every session
func (m *Manager) Shutdown() {
	for _, s := range m.Sessions() {
		s.Stop()
	}
}

// Send routes body to a joined room given as "room@server"
func (m *Manager) Send(ctx context.Context, room, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr, err := address.ParseRoom(room)
	if err != nil {
		return err
	}
	membership, ok := m.registry.Lookup(addr)
	if !ok {
		return fmt.Errorf("%w: %s", routing.ErrUnknownRoom, addr)
	}
	return membership.Send(body)
}
