package battle

// unitMatch is a predicate over a unit and its type.
type unitMatch func(u *Unit, t *UnitType) bool

func matchAll(ms ...unitMatch) unitMatch {
	return func(u *Unit, t *UnitType) bool {
		for _, m := range ms {
			if !m(u, t) {
				return false
			}
		}
		return true
	}
}

func not(m unitMatch) unitMatch {
	return func(u *Unit, t *UnitType) bool { return !m(u, t) }
}

var (
	isSub            unitMatch = func(_ *Unit, t *UnitType) bool { return t.IsSub }
	isDestroyer      unitMatch = func(_ *Unit, t *UnitType) bool { return t.IsDestroyer }
	isAir            unitMatch = func(_ *Unit, t *UnitType) bool { return t.IsAir }
	isSea            unitMatch = func(_ *Unit, t *UnitType) bool { return t.IsSea }
	isLand           unitMatch = func(_ *Unit, t *UnitType) bool { return t.IsLand() }
	isInfrastructure unitMatch = func(_ *Unit, t *UnitType) bool { return t.IsInfrastructure }
	isSuicide        unitMatch = func(_ *Unit, t *UnitType) bool { return t.IsSuicide }
	isAirTransport   unitMatch = func(_ *Unit, t *UnitType) bool { return t.IsAirTransport }
	isCarrier        unitMatch = func(_ *Unit, t *UnitType) bool { return t.IsCarrier() }
	canTransport     unitMatch = func(_ *Unit, t *UnitType) bool { return t.CanTransport() }
	isSubmerged      unitMatch = func(u *Unit, _ *UnitType) bool { return u.Submerged }
	isDisabled       unitMatch = func(u *Unit, _ *UnitType) bool { return u.Disabled }
	isBeingCarried   unitMatch = func(u *Unit, _ *UnitType) bool { return u.TransportedBy != 0 }
	wasAmphibious    unitMatch = func(u *Unit, _ *UnitType) bool { return u.WasAmphibious }
	// a transport with no attack of its own
	isNonCombatTransport unitMatch = func(_ *Unit, t *UnitType) bool { return t.IsTransport && t.Attack == 0 }
)

func ownedBy(p Player) unitMatch {
	return func(u *Unit, _ *UnitType) bool { return u.Owner == p }
}

func hasStrength(side Side) unitMatch {
	return func(_ *Unit, t *UnitType) bool { return t.Strength(side) >= 1 }
}

// canRoll covers units with a combat value or support to give.
func canRoll(side Side) unitMatch {
	return func(_ *Unit, t *UnitType) bool { return t.Strength(side) > 0 || t.Support > 0 }
}

func filterUnits(m *MapModel, ids []UnitID, match unitMatch) []UnitID {
	var out []UnitID
	for _, id := range ids {
		u, t := m.Unit(id), m.TypeOf(id)
		if u != nil && t != nil && match(u, t) {
			out = append(out, id)
		}
	}
	return out
}

func anyUnit(m *MapModel, ids []UnitID, match unitMatch) bool {
	for _, id := range ids {
		u, t := m.Unit(id), m.TypeOf(id)
		if u != nil && t != nil && match(u, t) {
			return true
		}
	}
	return false
}

// allUnits is true for an empty list.
func allUnits(m *MapModel, ids []UnitID, match unitMatch) bool {
	for _, id := range ids {
		u, t := m.Unit(id), m.TypeOf(id)
		if u == nil || t == nil || !match(u, t) {
			return false
		}
	}
	return true
}

// unitsTUV sums production cost over units still on the map.
func unitsTUV(m *MapModel, ids []UnitID) int {
	total := 0
	for _, id := range ids {
		if t := m.TypeOf(id); t != nil {
			total += t.Cost
		}
	}
	return total
}

// onMap keeps the ids of units that still exist.
func onMap(m *MapModel, ids []UnitID) []UnitID {
	return filterUnits(m, ids, func(*Unit, *UnitType) bool { return true })
}
