package radio

import "strings"

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the lowercase, dash-free form used
// for comparisons. A 0x prefix is stripped, and full 128-bit UUIDs in the
// Bluetooth SIG base range are reduced to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// SameUUID compares two UUID strings in normalized form.
func SameUUID(a, b string) bool {
	return NormalizeUUID(a) == NormalizeUUID(b)
}

// ContainsUUID reports whether uuids contains want.
func ContainsUUID(uuids []string, want string) bool {
	for _, u := range uuids {
		if SameUUID(u, want) {
			return true
		}
	}
	return false
}
