// Package managedcomment builds and recognises the reserved
// HTML-comment marker used to upsert a single comment per (target,
// marker) pair, per spec.md §3 and §4.13.
package managedcomment

import (
	"regexp"
	"strings"
)

const markerPrefix = "mr-agent:"

var markerRe = regexp.MustCompile(`<!--\s*mr-agent:([a-z0-9_-]+)(?::([a-f0-9]+))?\s*-->`)

// Marker builds the `<!-- mr-agent:<kind>[:<digest>] -->` tail. digest
// is omitted when empty.
func Marker(kind, digest string) string {
	if digest == "" {
		return "<!-- " + markerPrefix + kind + " -->"
	}
	return "<!-- " + markerPrefix + kind + ":" + digest + " -->"
}

// WithMarker appends marker to body, separated by a blank line.
func WithMarker(body, kind, digest string) string {
	return strings.TrimRight(body, "\n") + "\n\n" + Marker(kind, digest)
}

// Find reports the (kind, digest) pair encoded in body's marker, if
// any.
func Find(body string) (kind, digest string, ok bool) {
	m := markerRe.FindStringSubmatch(body)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// HasKind reports whether body carries a marker of exactly kind,
// ignoring any digest suffix.
func HasKind(body, kind string) bool {
	foundKind, _, ok := Find(body)
	return ok && foundKind == kind
}
