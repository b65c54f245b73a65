package yaml

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnmarshalMerge(t *testing.T) {
	var cfg struct {
		Mod struct {
			Listen   string        `yaml:"listen"`
			PTZGuard bool          `yaml:"ptz_guard"`
			Timeout  time.Duration `yaml:"timeout"`
		} `yaml:"relay"`
	}

	cfg.Mod.Listen = ":8880"
	cfg.Mod.PTZGuard = true

	require.Nil(t, Unmarshal([]byte("relay:\n  timeout: 5s\n"), &cfg))
	require.Nil(t, Unmarshal([]byte("{relay: {ptz_guard: false}}"), &cfg))

	// defaults survive, later configs override earlier
	require.Equal(t, ":8880", cfg.Mod.Listen)
	require.False(t, cfg.Mod.PTZGuard)
	require.Equal(t, 5*time.Second, cfg.Mod.Timeout)
}

func TestEncode(t *testing.T) {
	b, err := Encode(map[string]any{"devices": []string{"192.0.2.10"}}, 2)
	require.Nil(t, err)
	require.Equal(t, "devices:\n  - 192.0.2.10\n", string(b))
}
