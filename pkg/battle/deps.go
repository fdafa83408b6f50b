package battle

// DependencyGraph records which units carry which. The forward map is the
// authoritative copy; the reverse index is rebuilt from it.
type DependencyGraph struct {
	Cargo   map[UnitID][]UnitID `json:"cargo,omitempty"`
	carrier map[UnitID]UnitID
}

func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{Cargo: make(map[UnitID][]UnitID), carrier: make(map[UnitID]UnitID)}
}

// Add links cargo to holder. A cargo unit has at most one holder; linking it
// again moves it.
func (g *DependencyGraph) Add(holder UnitID, cargo ...UnitID) {
	g.ensure()
	for _, c := range cargo {
		if prev, ok := g.carrier[c]; ok && prev != holder {
			g.unlink(prev, c)
		}
		if !containsID(g.Cargo[holder], c) {
			g.Cargo[holder] = append(g.Cargo[holder], c)
		}
		g.carrier[c] = holder
	}
}

// AddAll merges a holder -> cargo map.
func (g *DependencyGraph) AddAll(deps map[UnitID][]UnitID) {
	for _, h := range sortedKeys(deps) {
		g.Add(h, deps[h]...)
	}
}

func (g *DependencyGraph) Dependents(holder UnitID) []UnitID {
	return append([]UnitID(nil), g.Cargo[holder]...)
}

// DependentsOf returns the cargo of every holder in ids.
func (g *DependencyGraph) DependentsOf(ids []UnitID) []UnitID {
	var out []UnitID
	for _, h := range ids {
		out = unionIDs(out, g.Cargo[h])
	}
	return out
}

// HolderOf returns the unit carrying id.
func (g *DependencyGraph) HolderOf(id UnitID) (UnitID, bool) {
	g.ensure()
	h, ok := g.carrier[id]
	return h, ok
}

// Remove drops ids both as holders and as cargo.
func (g *DependencyGraph) Remove(ids []UnitID) {
	g.ensure()
	for _, id := range ids {
		for _, c := range g.Cargo[id] {
			delete(g.carrier, c)
		}
		delete(g.Cargo, id)
		if h, ok := g.carrier[id]; ok {
			g.unlink(h, id)
		}
	}
}

// RemoveCargo detaches ids from their holders but keeps them as holders.
func (g *DependencyGraph) RemoveCargo(ids []UnitID) {
	g.ensure()
	for _, id := range ids {
		if h, ok := g.carrier[id]; ok {
			g.unlink(h, id)
		}
	}
}

func (g *DependencyGraph) IsEmpty() bool { return len(g.Cargo) == 0 }

func (g *DependencyGraph) Clone() *DependencyGraph {
	c := NewDependencyGraph()
	for h, cargo := range g.Cargo {
		c.Cargo[h] = append([]UnitID(nil), cargo...)
	}
	c.reindex()
	return c
}

func (g *DependencyGraph) unlink(holder, cargo UnitID) {
	g.Cargo[holder] = withoutIDs(g.Cargo[holder], []UnitID{cargo})
	if len(g.Cargo[holder]) == 0 {
		delete(g.Cargo, holder)
	}
	delete(g.carrier, cargo)
}

// ensure lazily builds the reverse index, e.g. after JSON decoding.
func (g *DependencyGraph) ensure() {
	if g.Cargo == nil {
		g.Cargo = make(map[UnitID][]UnitID)
	}
	if g.carrier == nil {
		g.reindex()
	}
}

func (g *DependencyGraph) reindex() {
	g.carrier = make(map[UnitID]UnitID)
	for h, cargo := range g.Cargo {
		for _, c := range cargo {
			g.carrier[c] = h
		}
	}
}

// transporting maps each holder in ids to the units in its territory whose
// TransportedBy points at it.
func transporting(m *MapModel, ids []UnitID) map[UnitID][]UnitID {
	out := make(map[UnitID][]UnitID)
	for _, h := range sortedIDs(ids) {
		loc := m.Locate(h)
		if loc == "" {
			continue
		}
		for _, id := range m.UnitsIn(loc) {
			if u := m.Unit(id); u != nil && u.TransportedBy == h {
				out[h] = append(out[h], id)
			}
		}
	}
	return out
}

// transportingAndUnloaded lists cargo still aboard a transport plus cargo it
// unloaded this turn.
func transportingAndUnloaded(m *MapModel, transport UnitID) []UnitID {
	var out []UnitID
	for _, id := range sortedKeys(m.Units) {
		u := m.Units[id]
		if u.TransportedBy == transport || u.UnloadedFrom == transport {
			out = append(out, id)
		}
	}
	return out
}

// unloadedBy lists cargo a transport has already put ashore.
func unloadedBy(m *MapModel, transport UnitID) []UnitID {
	var out []UnitID
	for _, id := range sortedKeys(m.Units) {
		if m.Units[id].UnloadedFrom == transport {
			out = append(out, id)
		}
	}
	return out
}

// CarrierMustMoveWith assigns allied, not owned, carrier-capable air in
// startUnits to the owned carriers among moving. Air that allied carriers
// left behind can hold is not assigned.
func CarrierMustMoveWith(m *MapModel, moving, startUnits []UnitID, player Player) map[UnitID][]UnitID {
	var alliedAir []UnitID
	for _, id := range sortedIDs(startUnits) {
		u, ut := m.Unit(id), m.TypeOf(id)
		if u == nil || ut == nil || u.Owner == player || !m.IsAllied(player, u.Owner) {
			continue
		}
		if ut.IsAir && ut.CanLandOnCarrier() {
			alliedAir = append(alliedAir, id)
		}
	}
	if len(alliedAir) == 0 {
		return nil
	}
	for _, id := range sortedIDs(startUnits) {
		u, ut := m.Unit(id), m.TypeOf(id)
		if u == nil || ut == nil || u.Owner == player || !m.IsAllied(player, u.Owner) || !ut.IsCarrier() {
			continue
		}
		alliedAir = withoutIDs(alliedAir, canCarry(m, id, alliedAir))
		if len(alliedAir) == 0 {
			return nil
		}
	}
	out := make(map[UnitID][]UnitID)
	for _, id := range sortedIDs(moving) {
		u, ut := m.Unit(id), m.TypeOf(id)
		if u == nil || ut == nil || u.Owner != player || !ut.IsCarrier() {
			continue
		}
		carrying := canCarry(m, id, alliedAir)
		alliedAir = withoutIDs(alliedAir, carrying)
		if len(carrying) > 0 {
			out[id] = carrying
		}
	}
	return out
}

// canCarry picks planes from candidates, in order, while the carrier has
// capacity for them.
func canCarry(m *MapModel, carrier UnitID, candidates []UnitID) []UnitID {
	ct := m.TypeOf(carrier)
	if ct == nil {
		return nil
	}
	available := ct.CarrierCapacity
	var out []UnitID
	for _, id := range candidates {
		pt := m.TypeOf(id)
		if pt == nil || !pt.CanLandOnCarrier() {
			continue
		}
		if available >= pt.CarrierCost {
			available -= pt.CarrierCost
			out = append(out, id)
		}
	}
	return out
}

func carrierCapacity(m *MapModel, ids []UnitID) int {
	total := 0
	for _, id := range ids {
		if ut := m.TypeOf(id); ut != nil {
			total += ut.CarrierCapacity
		}
	}
	return total
}

func carrierCost(m *MapModel, ids []UnitID) int {
	total := 0
	for _, id := range ids {
		if ut := m.TypeOf(id); ut != nil {
			total += ut.CarrierCost
		}
	}
	return total
}

func sortedKeys[V any](mp map[UnitID]V) []UnitID {
	keys := make([]UnitID, 0, len(mp))
	for k := range mp {
		keys = append(keys, k)
	}
	return sortedIDs(keys)
}
