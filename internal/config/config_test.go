package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	content := `nick: NekBot
rooms:
  - testing@irc.example.net
  - "#go@irc.example.net:6697"
auths:
  irc.example.net:
    username: NekBot
    realname: Nekbot Mirai IRC
    keys:
      "#testing": secret
  nekbot@irc.example.net:6697:
    tls: true
connect_timeout: 10s
`
	path := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "NekBot", cfg.Nick)
	require.Len(t, cfg.Rooms, 2)
	require.Len(t, cfg.Auths, 2)
	require.Equal(t, "Nekbot Mirai IRC", cfg.Auths["irc.example.net"].RealName)
	require.Equal(t, "secret", cfg.Auths["irc.example.net"].Keys["#testing"])
	require.True(t, cfg.Auths["nekbot@irc.example.net:6697"].TLS)
	require.Equal(t, 10*time.Second, cfg.ConnectTimeout)

	// Defaults
	require.Equal(t, DefaultMaxNickRetries, cfg.MaxNickRetries)
	require.Equal(t, DefaultQuitMessage, cfg.QuitMessage)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("rooms: []\n"))
	require.NoError(t, err)
	require.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout)
	require.NotNil(t, cfg.Auths)
}

func TestValidateReportsAllErrors(t *testing.T) {
	_, err := Parse([]byte(`rooms:
  - no-server
  - "room@host:notaport"
auths:
  irc.example.net: {}
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "3 errors occurred")
}
