package stats

import "testing"

func TestSplitByMembership(t *testing.T) {
	collabs := NewCollaborators([]string{"alice", "bob"})
	issues := []Issue{
		{Number: 1, Author: Actor{Login: "alice"}},
		{Number: 2, Author: Actor{Login: "mallory"}},
		{Number: 3, Author: Actor{Login: "bob"}},
		{Number: 4, Author: Actor{Login: "trent"}},
		{Number: 5, Author: Actor{}},
	}

	members, external := SplitByMembership(issues, collabs)

	if len(members)+len(external) != len(issues) {
		t.Fatalf("partition not total: %d members + %d external, want %d", len(members), len(external), len(issues))
	}
	wantMembers := []int{1, 3}
	wantExternal := []int{2, 4, 5}
	for i, num := range wantMembers {
		if members[i].Number != num {
			t.Errorf("members[%d].Number = %d, want %d", i, members[i].Number, num)
		}
	}
	for i, num := range wantExternal {
		if external[i].Number != num {
			t.Errorf("external[%d].Number = %d, want %d", i, external[i].Number, num)
		}
	}
}

func TestSplitByMembershipEmpty(t *testing.T) {
	members, external := SplitByMembership(nil, NewCollaborators(nil))
	if len(members) != 0 || len(external) != 0 {
		t.Errorf("SplitByMembership(nil) = %d members, %d external, want 0, 0", len(members), len(external))
	}
}

func TestSplitByResolution(t *testing.T) {
	issues := []Issue{
		{Number: 1, StateReason: "completed"},
		{Number: 2, StateReason: "not_planned"},
		{Number: 3, StateReason: ""},
		{Number: 4, StateReason: "not_planned"},
		{Number: 5, StateReason: "reopened"},
	}

	resolved, unresolved := SplitByResolution(issues)

	if len(resolved)+len(unresolved) != len(issues) {
		t.Fatalf("partition not total: %d resolved + %d unresolved, want %d", len(resolved), len(unresolved), len(issues))
	}
	wantResolved := []int{1, 3, 5}
	wantUnresolved := []int{2, 4}
	for i, num := range wantResolved {
		if resolved[i].Number != num {
			t.Errorf("resolved[%d].Number = %d, want %d", i, resolved[i].Number, num)
		}
	}
	for i, num := range wantUnresolved {
		if unresolved[i].Number != num {
			t.Errorf("unresolved[%d].Number = %d, want %d", i, unresolved[i].Number, num)
		}
	}
}

func TestSplitByResolutionAbsentDefaultsToResolved(t *testing.T) {
	resolved, unresolved := SplitByResolution([]Issue{{Number: 7}})
	if len(resolved) != 1 || len(unresolved) != 0 {
		t.Errorf("absent state reason: %d resolved, %d unresolved, want 1, 0", len(resolved), len(unresolved))
	}
}
