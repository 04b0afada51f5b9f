package cache

import "strings"

// Key joins parts with ':' into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
