package launch

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// =============================================================================
// Environment Construction
// =============================================================================

// Instance-index marker keys injected into every child environment. The
// dotted spellings are what property-binding frameworks expect to find; the
// uppercase spelling serves everything else. All of them carry the same
// index so the child can self-identify its shard whichever convention it
// reads.
const (
	EnvInstanceIndex       = "INSTANCE_INDEX"
	EnvDottedInstanceIndex = "instance.index"
	EnvApplicationIndex    = "spring.application.index"
	EnvApplicationGUID     = "spring.cloud.application.guid"
	EnvStreamInstanceIndex = "spring.cloud.stream.instanceIndex"
)

// Port and debug keys injected into the child environment.
const (
	EnvServerPort       = "SERVER_PORT"
	EnvDottedServerPort = "server.port"
	EnvDebugPort        = "DEBUG_PORT"
	EnvDebugSuspend     = "DEBUG_SUSPEND"
)

// DefaultInheritPatterns selects which parent environment variables leak
// into children by default. Everything else is withheld so instances start
// from a clean, reproducible environment.
var DefaultInheritPatterns = []string{"TMP", "LANG", "LANGUAGE", "LC_.*", "PATH", "HOME", "USER"}

// EnvSpec carries everything BuildEnvironment needs for one instance.
type EnvSpec struct {
	DeploymentID  string
	Index         int
	GUID          string
	Port          int
	AppProperties map[string]string
	DebugPort     int
	DebugSuspend  bool
}

// BuildEnvironment assembles the child environment for one instance as
// KEY=VALUE pairs in deterministic (sorted) order.
//
// Precedence, lowest to highest:
//  1. parent variables matching the inherit patterns
//  2. application properties, passed through verbatim
//  3. index markers, GUID, and the resolved port
//  4. debug settings when a debug port is configured
//
// Patterns are anchored regular expressions matched against the variable
// name; a malformed pattern is an error.
func BuildEnvironment(spec EnvSpec, parent []string, inheritPatterns []string) ([]string, error) {
	merged := make(map[string]string)

	inherited, err := filterEnv(parent, inheritPatterns)
	if err != nil {
		return nil, err
	}
	for k, v := range inherited {
		merged[k] = v
	}

	for k, v := range spec.AppProperties {
		merged[k] = v
	}

	index := strconv.Itoa(spec.Index)
	merged[EnvInstanceIndex] = index
	merged[EnvDottedInstanceIndex] = index
	merged[EnvApplicationIndex] = index
	merged[EnvStreamInstanceIndex] = index
	merged[EnvApplicationGUID] = spec.GUID

	port := strconv.Itoa(spec.Port)
	merged[EnvServerPort] = port
	merged[EnvDottedServerPort] = port

	if spec.DebugPort > 0 {
		merged[EnvDebugPort] = strconv.Itoa(spec.DebugPort)
		if spec.DebugSuspend {
			merged[EnvDebugSuspend] = "y"
		} else {
			merged[EnvDebugSuspend] = "n"
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env, nil
}

// filterEnv keeps the KEY=VALUE entries whose key matches any pattern.
func filterEnv(parent []string, patterns []string) (map[string]string, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("compile inherit pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	out := make(map[string]string)
	for _, entry := range parent {
		for i := 0; i < len(entry); i++ {
			if entry[i] == '=' {
				key, value := entry[:i], entry[i+1:]
				for _, re := range compiled {
					if re.MatchString(key) {
						out[key] = value
						break
					}
				}
				break
			}
		}
	}
	return out, nil
}
