package battle

// MoveChange builds the change for a validated move. Loads and unloads
// update the transport bookkeeping, units that move themselves spend
// movement and fuel, and riding units travel with their holders.
func MoveChange(m *MapModel, rules Rules, req MoveRequest, player Player) Change {
	route := req.Route
	c := CompositeChange()
	if route.HasNoSteps() {
		return c
	}
	cost := route.MovementCost()
	end := route.End()
	self := independentUnits(m, req, player)
	moving := append([]UnitID(nil), req.Units...)

	selfMoving := idSet(self)
	for holder, cargo := range transporting(m, filterUnits(m, req.Units, isSeaTransport)) {
		if selfMoving[holder] {
			moving = unionIDs(moving, cargo)
		}
	}
	for _, planes := range CarrierMustMoveWith(m, req.Units, m.UnitsIn(route.Start), player) {
		moving = unionIDs(moving, planes)
	}

	switch {
	case route.IsLoad(m):
		mapping := mapTransports(m, filterUnits(m, req.Units, isLand), loadCandidates(m, req, player))
		for _, id := range sortedKeys(mapping) {
			tr := mapping[id]
			c.Add(UnitChange(m, id, func(u *Unit) {
				u.TransportedBy = tr
				u.LoadedThisTurn = true
				u.Moved += cost
			}))
			selfMoving[id] = false
		}
	case route.IsUnload(m):
		var transports []UnitID
		for _, id := range filterUnits(m, req.Units, matchAll(isLand, isBeingCarried)) {
			tr := m.Unit(id).TransportedBy
			transports = unionIDs(transports, []UnitID{tr})
			full := m.TypeOf(id).Movement
			c.Add(UnitChange(m, id, func(u *Unit) {
				u.UnloadedFrom = tr
				u.UnloadedTo = end
				u.UnloadedInCombat = !req.NonCombat
				u.TransportedBy = 0
				if u.Moved < full {
					u.Moved = full
				}
			}))
			selfMoving[id] = false
		}
		for _, tr := range transports {
			c.Add(UnitChange(m, tr, func(u *Unit) {
				u.UnloadedTo = end
				u.UnloadedInCombat = !req.NonCombat
			}))
		}
	}

	for _, id := range sortedIDs(self) {
		if !selfMoving[id] {
			continue
		}
		c.Add(UnitChange(m, id, func(u *Unit) { u.Moved += cost }))
	}
	if rules.UseFuelCost {
		c.Add(ResourceChange(player, -fuelCost(m, self, route)))
	}
	c.Add(MoveUnitsChange(route.Start, end, sortedIDs(moving)))
	return c
}
