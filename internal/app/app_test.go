package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseConfString(t *testing.T) {
	require.Equal(t, "{log: {level: trace}}", string(parseConfString("log.level=trace")))
	require.Equal(t, "{api: {listen: :9000}}", string(parseConfString("api.listen=:9000")))
	require.Nil(t, parseConfString("level=trace"))
	require.Nil(t, parseConfString("onvifrelay.yaml"))
}

func TestInitConfig(t *testing.T) {
	t.Setenv("RELAY_LISTEN", ":9999")

	path := filepath.Join(t.TempDir(), "relay.yaml")
	err := os.WriteFile(path, []byte("api:\n  listen: ${RELAY_LISTEN}\n  static_dir: www\n"), 0644)
	require.Nil(t, err)

	initConfig([]string{path, "{api: {static_dir: ui}}", "relay.ptz_guard=false", "missing.yaml"})
	require.Equal(t, path, ConfigPath)

	var cfg struct {
		API struct {
			Listen    string `yaml:"listen"`
			StaticDir string `yaml:"static_dir"`
		} `yaml:"api"`
		Relay struct {
			PTZGuard bool `yaml:"ptz_guard"`
		} `yaml:"relay"`
	}
	cfg.Relay.PTZGuard = true

	LoadConfig(&cfg)
	require.Equal(t, ":9999", cfg.API.Listen)
	require.Equal(t, "ui", cfg.API.StaticDir)
	require.False(t, cfg.Relay.PTZGuard)
}

func TestGetLogger(t *testing.T) {
	Logger = zerolog.New(nil).Level(zerolog.InfoLevel)
	modules = map[string]string{
		"relay": "debug",
		"api":   "warn",
		"onvif": "wrong",
	}

	require.Equal(t, zerolog.DebugLevel, GetLogger("relay").GetLevel())
	require.Equal(t, zerolog.WarnLevel, GetLogger("api").GetLevel())
	require.Equal(t, zerolog.InfoLevel, GetLogger("onvif").GetLevel())
	require.Equal(t, zerolog.InfoLevel, GetLogger("nonexistent").GetLevel())
}

func TestCircularBuffer(t *testing.T) {
	buf := newBuffer(2)

	_, _ = buf.Write([]byte("hello"))
	_, _ = buf.Write([]byte("world"))

	w := bytes.NewBuffer(nil)
	_, err := buf.WriteTo(w)
	require.Nil(t, err)
	require.Equal(t, "helloworld", w.String())

	buf.Reset()
	w.Reset()
	_, _ = buf.WriteTo(w)
	require.Zero(t, w.Len())
}

func TestCircularBufferOverflow(t *testing.T) {
	buf := newBuffer(2)

	chunk := bytes.Repeat([]byte{'a'}, chunkSize)
	_, _ = buf.Write(chunk)
	_, _ = buf.Write(bytes.Repeat([]byte{'b'}, chunkSize))
	_, _ = buf.Write([]byte("c"))

	// first chunk overwritten
	w := bytes.NewBuffer(nil)
	_, _ = buf.WriteTo(w)
	require.Equal(t, chunkSize+1, w.Len())
	require.Equal(t, byte('b'), w.Bytes()[0])
	require.Equal(t, byte('c'), w.Bytes()[w.Len()-1])
}
