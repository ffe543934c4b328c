// Package meeting builds the room keys both participants compute on their own.
package meeting

import "strings"

// Sanitize keeps only ASCII letters, digits and underscores.
func Sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Derive returns the meeting id for an application/mentor pair. Mentor and
// student dashboards call it independently and land in the same room.
func Derive(applicationID, mentorID string) string {
	return Sanitize("meeting_" + applicationID + "_" + mentorID)
}

// Valid reports whether id is non-empty and already sanitized.
func Valid(id string) bool {
	return id != "" && Sanitize(id) == id
}
