// Package reverseproxy holds the admin-configured prefix -> target rule
// table consulted ahead of version dispatch, published as an atomically
// swapped snapshot so readers never block on a writer.
package reverseproxy

import (
	"net/url"
	"strings"
	"sync/atomic"
)

// Rule maps a path prefix to an upstream target URL.
type Rule struct {
	ID     int64
	Prefix string
	Target string
}

// Table is a read-only, prefix-descending-ordered snapshot of rules.
type Table struct {
	rules []Rule
}

var current atomic.Pointer[Table]

func init() {
	current.Store(&Table{})
}

// Publish atomically replaces the live rule table. rules must already be
// ordered with the most specific (longest) prefixes first, matching the
// store's `ORDER BY prefix DESC` query.
func Publish(rules []Rule) {
	current.Store(&Table{rules: rules})
}

// Match returns the first rule whose prefix is a prefix of path, scanning
// in the table's stored (prefix-descending) order so the longest match
// wins. rawQuery is preserved onto the rewritten destination. ok is
// false when no rule matches.
func Match(path, rawQuery string) (rule Rule, rewritten string, ok bool) {
	t := current.Load()
	for _, r := range t.rules {
		if strings.HasPrefix(path, r.Prefix) {
			return r, joinTarget(r.Target, path[len(r.Prefix):], rawQuery), true
		}
	}
	return Rule{}, "", false
}

func joinTarget(target, suffix, rawQuery string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	u.Path = u.Path + suffix
	u.RawQuery = rawQuery
	return u.String()
}
