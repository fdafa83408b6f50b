package battle

// ChangeKind tags the variant held by a Change.
type ChangeKind string

const (
	ChangeAddUnits    ChangeKind = "add_units"
	ChangeRemoveUnits ChangeKind = "remove_units"
	ChangeMoveUnits   ChangeKind = "move_units"
	ChangeOwner       ChangeKind = "owner"
	ChangeUnit        ChangeKind = "unit"
	ChangeResource    ChangeKind = "resource"
	ChangeComposite   ChangeKind = "composite"
)

// Change is a serializable, invertible mutation of the map model. Every
// change carries enough of the prior state to build its inverse, so
// m.Apply(c) followed by m.Apply(c.Invert()) leaves m unchanged.
type Change struct {
	Kind ChangeKind `json:"kind"`

	Territory string   `json:"territory,omitempty"`
	To        string   `json:"to,omitempty"`
	Units     []Unit   `json:"units,omitempty"`
	UnitIDs   []UnitID `json:"unitIds,omitempty"`

	OldOwner Player `json:"oldOwner,omitempty"`
	NewOwner Player `json:"newOwner,omitempty"`

	Before *Unit `json:"before,omitempty"`
	After  *Unit `json:"after,omitempty"`

	Player Player `json:"player,omitempty"`
	Delta  int    `json:"delta,omitempty"`

	Children []Change `json:"children,omitempty"`
}

// AddUnitsChange places new units into a territory.
func AddUnitsChange(territory string, units []Unit) Change {
	return Change{Kind: ChangeAddUnits, Territory: territory, Units: append([]Unit(nil), units...)}
}

// RemoveUnitsChange deletes units from a territory, recording their state.
func RemoveUnitsChange(m *MapModel, territory string, ids []UnitID) Change {
	c := Change{Kind: ChangeRemoveUnits, Territory: territory}
	for _, id := range ids {
		if u := m.Units[id]; u != nil {
			c.Units = append(c.Units, *u)
		}
	}
	return c
}

// MoveUnitsChange relocates units between two territories.
func MoveUnitsChange(from, to string, ids []UnitID) Change {
	return Change{Kind: ChangeMoveUnits, Territory: from, To: to, UnitIDs: append([]UnitID(nil), ids...)}
}

// OwnerChange transfers a territory to a new owner.
func OwnerChange(m *MapModel, territory string, owner Player) Change {
	c := Change{Kind: ChangeOwner, Territory: territory, NewOwner: owner}
	if t := m.Territories[territory]; t != nil {
		c.OldOwner = t.Owner
	}
	return c
}

// UnitChange applies edit to a copy of the unit and records before/after.
// It does not mutate the model; apply the returned change for that.
func UnitChange(m *MapModel, id UnitID, edit func(u *Unit)) Change {
	u := m.Units[id]
	if u == nil {
		return Change{Kind: ChangeComposite}
	}
	before := *u
	after := *u
	edit(&after)
	return Change{Kind: ChangeUnit, Before: &before, After: &after}
}

// ResourceChange adjusts a player's PU balance.
func ResourceChange(p Player, delta int) Change {
	return Change{Kind: ChangeResource, Player: p, Delta: delta}
}

// CompositeChange groups changes applied in order. Empty children are dropped.
func CompositeChange(children ...Change) Change {
	c := Change{Kind: ChangeComposite}
	for _, ch := range children {
		if !ch.IsEmpty() {
			c.Children = append(c.Children, ch)
		}
	}
	return c
}

// Add appends a child to a composite change.
func (c *Change) Add(ch Change) {
	if !ch.IsEmpty() {
		c.Children = append(c.Children, ch)
	}
}

// IsEmpty reports whether applying the change would do nothing.
func (c Change) IsEmpty() bool {
	switch c.Kind {
	case ChangeAddUnits, ChangeRemoveUnits:
		return len(c.Units) == 0
	case ChangeMoveUnits:
		return len(c.UnitIDs) == 0 || c.Territory == c.To
	case ChangeOwner:
		return c.OldOwner == c.NewOwner
	case ChangeUnit:
		return c.Before == nil || c.After == nil || *c.Before == *c.After
	case ChangeResource:
		return c.Delta == 0
	case ChangeComposite:
		for _, ch := range c.Children {
			if !ch.IsEmpty() {
				return false
			}
		}
		return true
	}
	return true
}

// Invert returns the change that undoes c.
func (c Change) Invert() Change {
	switch c.Kind {
	case ChangeAddUnits:
		return Change{Kind: ChangeRemoveUnits, Territory: c.Territory, Units: c.Units}
	case ChangeRemoveUnits:
		return Change{Kind: ChangeAddUnits, Territory: c.Territory, Units: c.Units}
	case ChangeMoveUnits:
		return Change{Kind: ChangeMoveUnits, Territory: c.To, To: c.Territory, UnitIDs: c.UnitIDs}
	case ChangeOwner:
		return Change{Kind: ChangeOwner, Territory: c.Territory, OldOwner: c.NewOwner, NewOwner: c.OldOwner}
	case ChangeUnit:
		return Change{Kind: ChangeUnit, Before: c.After, After: c.Before}
	case ChangeResource:
		return Change{Kind: ChangeResource, Player: c.Player, Delta: -c.Delta}
	}
	inv := Change{Kind: ChangeComposite}
	for i := len(c.Children) - 1; i >= 0; i-- {
		inv.Children = append(inv.Children, c.Children[i].Invert())
	}
	return inv
}
