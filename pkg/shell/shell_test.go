package shell

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplaceEnvVars(t *testing.T) {
	t.Setenv("RELAY_PORT", "9000")

	s := ReplaceEnvVars(`listen: ":${RELAY_PORT}"`)
	require.Equal(t, `listen: ":9000"`, s)

	s = ReplaceEnvVars(`static_dir: ${RELAY_WWW:/var/www}`)
	require.Equal(t, `static_dir: /var/www`, s)

	s = ReplaceEnvVars(`tls_cert: ${RELAY_UNKNOWN_VAR}`)
	require.Equal(t, `tls_cert: ${RELAY_UNKNOWN_VAR}`, s)
}
