package mdns

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHostName(t *testing.T) {
	require.Equal(t, "relay.local.", hostName("relay"))
	require.Equal(t, "relay.local.", hostName("relay.local"))
	require.Equal(t, "living-room.local.", hostName("living room"))
}

func TestTXT(t *testing.T) {
	txt := TXT()
	require.Contains(t, txt, "path=/api/ws")
	require.Contains(t, txt, "scheme=http")
}
