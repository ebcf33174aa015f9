package stats

import "strings"

// BotRules configures bot detection for actor logins. Patterns are matched
// against the lower-cased login; an account type of "Bot" always classifies
// as a bot regardless of the rules.
type BotRules struct {
	Substrings []string // matched anywhere in the login
	Suffixes   []string // matched at the end of the login
}

// DefaultBotRules returns the rule table used when callers do not supply
// their own: well-known automation account names plus GitHub's "[bot]"
// login suffix.
func DefaultBotRules() BotRules {
	return BotRules{
		Substrings: []string{
			"bot", "dependabot", "renovate",
			"greenkeeper", "codecov",
		},
		Suffixes: []string{"[bot]"},
	}
}

// IsBot determines if an actor is likely a bot based on its account type
// and the configured login patterns.
func (r BotRules) IsBot(a Actor) bool {
	// Primary check: GitHub's account type field
	if strings.EqualFold(a.Type, "Bot") {
		return true
	}

	if a.Login == "" {
		return false
	}

	// Fallback: login naming patterns
	login := strings.ToLower(a.Login)

	for _, suffix := range r.Suffixes {
		if strings.HasSuffix(login, suffix) {
			return true
		}
	}
	for _, sub := range r.Substrings {
		if strings.Contains(login, sub) {
			return true
		}
	}
	return false
}

// IsMember reports whether the actor's login is in the collaborator set.
// Actors with no login are never members.
func IsMember(a Actor, collabs Collaborators) bool {
	return a.Login != "" && collabs[a.Login]
}
