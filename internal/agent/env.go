package agent

import (
	"fmt"
	"maps"
	"os"
	"slices"
)

// expandEnv resolves ${VAR} and $VAR references in configured values
// against the runner's own environment. Unset variables expand to "".
func expandEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = os.ExpandEnv(v)
	}
	return out
}

// environ is the agent process environment: the runner's environment
// followed by the configured overrides in key order.
func (c Config) environ() []string {
	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(c.Environment)) {
		env = append(env, fmt.Sprintf("%s=%s", k, c.Environment[k]))
	}
	return env
}
