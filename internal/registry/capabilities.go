package registry

import (
	"sort"
	"strings"
)

// ParseCapabilities decodes a "key1:value1,key2:value2" string.
func ParseCapabilities(s string) map[string]string {
	caps := make(map[string]string)
	for _, item := range strings.Split(s, ",") {
		if item == "" {
			continue
		}
		key, value, _ := strings.Cut(item, ":")
		caps[key] = value
	}
	return caps
}

// FormatCapabilities encodes caps with keys in sorted order.
func FormatCapabilities(caps map[string]string) string {
	keys := make([]string, 0, len(caps))
	for k := range caps {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+caps[k])
	}
	return strings.Join(parts, ",")
}
