package otaagent

import (
	"strconv"
	"strings"
)

// versionTriple is the parsed MAJOR.MINOR.PATCH form of a version
// string (spec §6). Parsing is deliberately lenient: this is the wire
// format devices report over the control channel, not a strict semver
// string, and the spec explicitly requires "1.2" to compare equal to
// "1.2.0".
type versionTriple [3]int

// parseVersion extracts up to three integer components from a dotted
// version string. Missing trailing components default to 0;
// non-numeric characters within a component are ignored (spec §6).
func parseVersion(v string) versionTriple {
	var out versionTriple
	parts := strings.SplitN(v, ".", 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		out[i] = extractDigits(parts[i])
	}
	return out
}

// extractDigits keeps only the ASCII digits in s and parses them as a
// base-10 integer, returning 0 for a component with no digits at all.
func extractDigits(s string) int {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}
	return n
}

// compareVersions compares two version strings lexicographically over
// their integer triples (spec §6/§8). Returns -1, 0, or 1.
func compareVersions(a, b string) int {
	ta, tb := parseVersion(a), parseVersion(b)
	for i := 0; i < 3; i++ {
		if ta[i] != tb[i] {
			if ta[i] < tb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// isNewerVersion reports whether candidate strictly exceeds current
// under compareVersions.
func isNewerVersion(candidate, current string) bool {
	return compareVersions(candidate, current) > 0
}
