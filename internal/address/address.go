package address

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the plaintext IRC port used when an address omits one
const DefaultPort = 6667

var ErrEmpty = errors.New("empty address")

// ServerAddress identifies an IRC server endpoint
type ServerAddress struct {
	Host string
	Port int
}

// ParseServer parses "host[:port]"
func ParseServer(s string) (ServerAddress, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ServerAddress{}, ErrEmpty
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// No port given
		if strings.Contains(s, ":") && !strings.HasPrefix(s, "[") {
			return ServerAddress{}, fmt.Errorf("invalid server address %q: %w", s, err)
		}
		return ServerAddress{Host: strings.Trim(s, "[]"), Port: DefaultPort}, nil
	}
	if host == "" {
		return ServerAddress{}, fmt.Errorf("invalid server address %q: missing host", s)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return ServerAddress{}, fmt.Errorf("invalid port in server address %q", s)
	}
	return ServerAddress{Host: host, Port: port}, nil
}

// Key returns the canonical "host:port" form. Hosts are case-insensitive.
func (a ServerAddress) Key() string {
	return net.JoinHostPort(strings.ToLower(a.Host), strconv.Itoa(a.Port))
}

func (a ServerAddress) String() string {
	return a.Key()
}

// RoomAddress is a configured "room@server" entry
type RoomAddress struct {
	Room   string
	Server ServerAddress
}

// ParseRoom parses "room@host[:port]". The room name is normalized.
func ParseRoom(s string) (RoomAddress, error) {
	room, server, err := splitAt(s)
	if err != nil {
		return RoomAddress{}, err
	}
	if room == "" {
		return RoomAddress{}, fmt.Errorf("invalid room address %q: missing room", s)
	}
	srv, err := ParseServer(server)
	if err != nil {
		return RoomAddress{}, err
	}
	return RoomAddress{Room: NormalizeRoom(room), Server: srv}, nil
}

// String renders "room@host:port"
func (a RoomAddress) String() string {
	return a.Room + "@" + a.Server.Key()
}

// Key is String with the room name case-folded; IRC room names are
// case-insensitive.
func (a RoomAddress) Key() string {
	return strings.ToLower(a.Room) + "@" + a.Server.Key()
}

// LoginAddress is a credentials key, "[username@]host[:port]"
type LoginAddress struct {
	Username string
	Server   ServerAddress
}

func ParseLogin(s string) (LoginAddress, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return LoginAddress{}, ErrEmpty
	}

	var username, server string
	if strings.Contains(s, "@") {
		var err error
		username, server, err = splitAt(s)
		if err != nil {
			return LoginAddress{}, err
		}
	} else {
		server = s
	}

	srv, err := ParseServer(server)
	if err != nil {
		return LoginAddress{}, err
	}
	return LoginAddress{Username: username, Server: srv}, nil
}

func (a LoginAddress) String() string {
	if a.Username == "" {
		return a.Server.Key()
	}
	return a.Username + "@" + a.Server.Key()
}

// NormalizeRoom makes sure a room name carries exactly one channel prefix.
// Names already starting with '#' or '&' are kept as they are.
func NormalizeRoom(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	switch name[0] {
	case '#', '&':
		return name
	}
	return "#" + name
}

func splitAt(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", ErrEmpty
	}
	idx := strings.LastIndex(s, "@")
	if idx < 0 {
		return "", "", fmt.Errorf("invalid address %q: expected name@server", s)
	}
	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+1:]), nil
}
