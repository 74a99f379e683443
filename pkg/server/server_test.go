package server

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/cuemby/gaiadb/pkg/protocol"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		SocketPath:           filepath.Join(dir, "gaiadb.sock"),
		DataDir:              dir,
		ArenaBytes:           1 << 20,
		LocatorCapacity:      1024,
		IDIndexOverflowSize:  1024,
		TxnInfoBits:          8,
		WatermarkIntervalSec: 1,
	}
}

func TestLoadConfigFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("socketPath: /tmp/custom.sock\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", cfg.SocketPath)
	assert.Equal(t, DefaultConfig().ArenaBytes, cfg.ArenaBytes)
}

func TestServerAcceptsConnectHandshake(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Listen())

	go s.Serve()
	defer s.Shutdown()

	conn, err := net.Dial("unixpacket", cfg.SocketPath)
	require.NoError(t, err)
	defer conn.Close()
	uc := conn.(*net.UnixConn)

	buf, err := protocol.Encode(protocol.Header{Kind: protocol.KindRequest, Event: protocol.EventConnect}, nil)
	require.NoError(t, err)
	require.NoError(t, protocol.SendWithFDs(uc, buf, nil))

	data, fds, err := protocol.RecvWithFDs(uc, protocol.MaxDatagramSize)
	require.NoError(t, err)
	hdr, _, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindReply, hdr.Kind)
	require.Len(t, fds, 5)
	for _, fd := range fds {
		unix.Close(fd)
	}

	assert.Greater(t, s.ArenaBytesUsed(), uint64(0))

	buf, err = protocol.Encode(protocol.Header{Kind: protocol.KindRequest, Event: protocol.EventClientShutdown}, nil)
	require.NoError(t, err)
	require.NoError(t, protocol.SendWithFDs(uc, buf, nil))
	time.Sleep(10 * time.Millisecond)
}
