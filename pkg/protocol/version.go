package protocol

import "sort"

// Protocol revisions understood by this engine, newest first.
const (
	Version20250618 = "2025-06-18"
	Version20250326 = "2025-03-26"
	Version20241105 = "2024-11-05"

	// LatestVersion is the revision offered when nothing else is configured.
	LatestVersion = Version20250618
)

// SupportedVersions returns every revision this engine speaks, newest first.
func SupportedVersions() []string {
	return []string{Version20250618, Version20250326, Version20241105}
}

// SortNewestFirst orders date-stamped versions descending. Revisions compare
// lexically.
func SortNewestFirst(versions []string) []string {
	out := append([]string(nil), versions...)
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}

// IsSupported reports whether version appears in supported.
func IsSupported(version string, supported []string) bool {
	for _, v := range supported {
		if v == version {
			return true
		}
	}
	return false
}

// Negotiate returns requested when it is supported, otherwise the newest
// supported version. supported must be non-empty and ordered newest first.
func Negotiate(requested string, supported []string) string {
	if IsSupported(requested, supported) {
		return requested
	}
	return supported[0]
}
