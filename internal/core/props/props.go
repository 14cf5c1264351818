// Package props normalizes and types the deployer-level properties carried
// by a deployment request. Callers may spell keys dashed or camelCase, with
// or without the deployer prefix; everything funnels through NormalizeKey
// before any component looks at a property, so the rest of the system only
// ever sees the canonical dashed spellings.
package props

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/artpar/slipway/internal/core/domain"
)

// =============================================================================
// Canonical Keys
// =============================================================================

// Prefix optionally carried by deployer property keys, stripped during
// normalization.
const Prefix = "deployer.local."

// Recognized deployer property keys, canonical spellings.
const (
	KeyCount          = "count"
	KeyDebugPort      = "debug-port"
	KeyDebugSuspend   = "debug-suspend"
	KeyInheritLogging = "inherit-logging"
	KeyWorkDirsRoot   = "working-directories-root"
	KeyStartupProbe   = "startup-probe.path"
	KeyHealthProbe    = "health-probe.path"
)

// aliases maps alternate spellings onto the recognized canonical key. The
// instance count is accepted both as "count" and as "instance-count".
var aliases = map[string]string{
	"instance-count": KeyCount,
}

// =============================================================================
// Key Normalization
// =============================================================================

// NormalizeKey maps one property key to its canonical spelling: the optional
// deployer prefix is stripped, each dot-separated segment is converted from
// camelCase to dashed lowercase, and alias spellings collapse onto the
// recognized key.
//
// This is a pure function with no side effects.
//
// Examples:
//
//	NormalizeKey("debugPort")                     // returns "debug-port"
//	NormalizeKey("debug-port")                    // returns "debug-port"
//	NormalizeKey("deployer.local.debugSuspend")   // returns "debug-suspend"
//	NormalizeKey("startupProbe.path")             // returns "startup-probe.path"
//	NormalizeKey("workingDirectoriesRoot")        // returns "working-directories-root"
//	NormalizeKey("instanceCount")                 // returns "count"
func NormalizeKey(key string) string {
	key = strings.TrimPrefix(key, Prefix)

	segments := strings.Split(key, ".")
	for i, segment := range segments {
		segments[i] = dashed(segment)
	}
	normalized := strings.Join(segments, ".")
	if canonical, ok := aliases[normalized]; ok {
		return canonical
	}
	return normalized
}

// dashed converts one camelCase segment to dashed lowercase. Existing dashes
// pass through untouched.
func dashed(segment string) string {
	var b strings.Builder
	for i, r := range segment {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r + 32)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize rewrites a raw property map onto canonical keys. When a canonical
// spelling and an alias both appear, the canonical spelling wins; among
// multiple aliases the lexicographically smallest original key wins, keeping
// the result deterministic regardless of map iteration order.
func Normalize(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	if len(raw) == 0 {
		return out
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Canonical spellings first so aliases never shadow them.
	for _, k := range keys {
		if NormalizeKey(k) == k {
			out[k] = raw[k]
		}
	}
	for _, k := range keys {
		canonical := NormalizeKey(k)
		if _, taken := out[canonical]; !taken {
			out[canonical] = raw[k]
		}
	}
	return out
}

// =============================================================================
// Typed Properties
// =============================================================================

// Properties is the typed view of the recognized deployer properties for one
// deployment request.
type Properties struct {
	Count            int
	DebugPort        int
	DebugSuspend     bool
	InheritLogging   bool
	WorkDirsRoot     string
	StartupProbePath string
	HealthProbePath  string
}

// Parse normalizes a raw property map and extracts the typed properties.
// Count defaults to 1. Unrecognized keys are ignored; malformed values for
// recognized keys are an error surfaced before any process is spawned.
func Parse(raw map[string]string) (Properties, error) {
	normalized := Normalize(raw)

	p := Properties{Count: 1}

	if v, ok := normalized[KeyCount]; ok {
		count, err := strconv.Atoi(v)
		if err != nil {
			return Properties{}, fmt.Errorf("parse %s %q: %w", KeyCount, v, err)
		}
		if count < 1 {
			return Properties{}, fmt.Errorf("%s %d: %w", KeyCount, count, domain.ErrInvalidCount)
		}
		p.Count = count
	}

	if v, ok := normalized[KeyDebugPort]; ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Properties{}, fmt.Errorf("parse %s %q: %w", KeyDebugPort, v, err)
		}
		p.DebugPort = port
	}

	if v, ok := normalized[KeyDebugSuspend]; ok {
		p.DebugSuspend = strings.EqualFold(v, "y")
	}

	if v, ok := normalized[KeyInheritLogging]; ok {
		inherit, err := strconv.ParseBool(v)
		if err != nil {
			return Properties{}, fmt.Errorf("parse %s %q: %w", KeyInheritLogging, v, err)
		}
		p.InheritLogging = inherit
	}

	p.WorkDirsRoot = normalized[KeyWorkDirsRoot]
	p.StartupProbePath = normalized[KeyStartupProbe]
	p.HealthProbePath = normalized[KeyHealthProbe]

	return p, nil
}

// DebugEnabled reports whether the request asked for remote debugging.
func (p Properties) DebugEnabled() bool {
	return p.DebugPort > 0
}
