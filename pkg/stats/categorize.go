package stats

// StateReasonNotPlanned is the close reason GitHub assigns to issues closed
// as duplicate, stale, or won't-fix rather than completed.
const StateReasonNotPlanned = "not_planned"

// SplitByMembership partitions issues by whether the author belongs to the
// collaborator set. Every issue lands in exactly one partition and input
// order is preserved in both.
func SplitByMembership(issues []Issue, collabs Collaborators) (members, external []Issue) {
	for _, iss := range issues {
		if IsMember(iss.Author, collabs) {
			members = append(members, iss)
		} else {
			external = append(external, iss)
		}
	}
	return members, external
}

// SplitByResolution partitions issues into genuinely resolved ones and
// those closed without resolution. Only a state reason of "not_planned"
// counts as unresolved; records predating the field (empty state reason)
// are treated as resolved, never as unknown. Input order is preserved in
// both partitions.
func SplitByResolution(issues []Issue) (resolved, closedUnresolved []Issue) {
	for _, iss := range issues {
		if iss.StateReason == StateReasonNotPlanned {
			closedUnresolved = append(closedUnresolved, iss)
		} else {
			resolved = append(resolved, iss)
		}
	}
	return resolved, closedUnresolved
}
