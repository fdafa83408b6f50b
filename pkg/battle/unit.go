package battle

import "sort"

// Player names a participant in the game. Neutral land is owned by NoPlayer.
type Player string

const NoPlayer Player = ""

// UnitID is the stable identity of a unit. All relations between units are
// expressed through ids so battle state can be snapshotted without cycles.
type UnitID int64

// Unit is a single unit instance and its mutable per-turn state.
type Unit struct {
	ID            UnitID `json:"id"`
	Type          string `json:"type"`
	Owner         Player `json:"owner"`
	Hits          int    `json:"hits,omitempty"`
	Moved         int    `json:"moved,omitempty"`
	WasInCombat   bool   `json:"wasInCombat,omitempty"`
	WasAmphibious bool   `json:"wasAmphibious,omitempty"`
	Submerged     bool   `json:"submerged,omitempty"`
	Disabled      bool   `json:"disabled,omitempty"`

	// TransportedBy is the carrier, transport or air transport holding this unit.
	TransportedBy UnitID `json:"transportedBy,omitempty"`
	// UnloadedFrom is the transport that unloaded this unit this turn.
	UnloadedFrom UnitID `json:"unloadedFrom,omitempty"`
	// UnloadedTo is, for cargo, where it was unloaded and, for a transport,
	// where it has unloaded this turn.
	UnloadedTo       string `json:"unloadedTo,omitempty"`
	UnloadedInCombat bool   `json:"unloadedInCombat,omitempty"`
	LoadedThisTurn   bool   `json:"loadedThisTurn,omitempty"`
	LaunchedThisTurn bool   `json:"launchedThisTurn,omitempty"`
}

// Side is one of the two sides of a battle.
type Side int

const (
	AttackingSide Side = iota
	DefendingSide
)

func (s Side) String() string {
	if s == AttackingSide {
		return "attacker"
	}
	return "defender"
}

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == AttackingSide {
		return DefendingSide
	}
	return AttackingSide
}

func containsID(ids []UnitID, id UnitID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func idSet(ids []UnitID) map[UnitID]bool {
	set := make(map[UnitID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// withoutIDs returns ids minus remove, preserving order.
func withoutIDs(ids, remove []UnitID) []UnitID {
	if len(remove) == 0 {
		return append([]UnitID(nil), ids...)
	}
	drop := idSet(remove)
	out := make([]UnitID, 0, len(ids))
	for _, id := range ids {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}

// unionIDs appends the members of b not already in a.
func unionIDs(a, b []UnitID) []UnitID {
	out := append([]UnitID(nil), a...)
	seen := idSet(a)
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func intersectIDs(a, b []UnitID) []UnitID {
	in := idSet(b)
	var out []UnitID
	for _, id := range a {
		if in[id] {
			out = append(out, id)
		}
	}
	return out
}

func sortedIDs(ids []UnitID) []UnitID {
	out := append([]UnitID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
