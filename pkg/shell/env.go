package shell

import (
	"os"
	"regexp"
	"strings"
)

var envRe = regexp.MustCompile(`\${([^}{]+)}`)

// ReplaceEnvVars support format ${RELAY_PORT} and ${RELAY_PORT:8880}.
// Unknown variables without default are kept as is.
func ReplaceEnvVars(text string) string {
	return envRe.ReplaceAllStringFunc(text, func(match string) string {
		key := match[2 : len(match)-1]

		key, def, dok := strings.Cut(key, ":")

		if value, vok := os.LookupEnv(key); vok {
			return value
		}

		if dok {
			return def
		}

		return match
	})
}
