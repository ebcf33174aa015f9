// Package stats implements the issue lifecycle analysis core: actor
// classification, issue categorization, duration extraction, and descriptive
// statistics over duration samples. All functions are pure transforms over
// already-fetched records; network I/O stays in pkg/github.
package stats

import "time"

// Actor identifies the author of an issue or comment.
type Actor struct {
	Login string // GitHub login, empty if the account was deleted
	Type  string // "User", "Bot", or empty if unknown
}

// Issue holds the fields of a GitHub issue needed for lifecycle analysis.
// Pull requests never appear here; the fetch layer filters them out.
type Issue struct {
	CreatedAt   time.Time
	ClosedAt    *time.Time // nil if still open
	Title       string
	State       string // "open" or "closed"
	StateReason string // "completed", "not_planned", "reopened", or empty on older records
	Author      Actor
	Number      int
}

// Comment holds the fields of an issue comment needed for first-response
// analysis.
type Comment struct {
	CreatedAt time.Time
	Author    Actor
}

// Collaborators is the set of logins with push access to one repository.
// It is populated once per run and read-only afterwards.
type Collaborators map[string]bool

// NewCollaborators builds a Collaborators set from a list of logins.
func NewCollaborators(logins []string) Collaborators {
	set := make(Collaborators, len(logins))
	for _, login := range logins {
		set[login] = true
	}
	return set
}
