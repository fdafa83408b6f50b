package battle

import (
	"sort"
)

var isSeaTransport = matchAll(isSea, canTransport)

// independentUnits drops units that ride on another unit of the move:
// cargo of moving transports and allied planes on moving carriers.
func independentUnits(m *MapModel, req MoveRequest, player Player) []UnitID {
	set := idSet(req.Units)
	carried := make(map[UnitID]bool)
	for _, id := range req.Units {
		if u := m.Unit(id); u != nil && u.TransportedBy != 0 && set[u.TransportedBy] {
			carried[id] = true
		}
	}
	for _, cargo := range req.NewDependents {
		for _, id := range cargo {
			carried[id] = true
		}
	}
	for _, planes := range CarrierMustMoveWith(m, req.Units, m.UnitsIn(req.Route.Start), player) {
		for _, id := range planes {
			carried[id] = true
		}
	}
	var out []UnitID
	for _, id := range req.Units {
		if !carried[id] {
			out = append(out, id)
		}
	}
	return out
}

// nonParatroopersPresent is false only when every land unit of the move
// fits on the air transports moving with it.
func (v *MoveValidator) nonParatroopersPresent(player Player, units []UnitID) bool {
	m := v.m
	if !m.Tech(player).AirTransportable || !anyUnit(m, units, isAirTransport) {
		return true
	}
	land := filterUnits(m, units, isLand)
	if len(land) == 0 {
		return true
	}
	var riding []UnitID
	for _, cargo := range mapParatroopers(m, units) {
		riding = append(riding, cargo...)
	}
	return len(intersectIDs(land, riding)) != len(land)
}

// paratroopers lists the land units of the move that ride air transports.
func (v *MoveValidator) paratroopers(req MoveRequest, player Player) []UnitID {
	m := v.m
	if !m.Tech(player).AirTransportable || !anyUnit(m, req.Units, isAirTransport) {
		return nil
	}
	var out []UnitID
	for _, cargo := range mapParatroopers(m, req.Units) {
		out = append(out, cargo...)
	}
	return sortedIDs(out)
}

func (v *MoveValidator) paratrooping(req MoveRequest, player Player) bool {
	return len(v.paratroopers(req, player)) > 0
}

// validateParatroops: air-transported units drop straight into the first
// enemy territory during combat moves only.
func (v *MoveValidator) validateParatroops(req MoveRequest, player Player, r *MoveValidationResult) {
	m := v.m
	troops := v.paratroopers(req, player)
	if len(troops) == 0 {
		return
	}
	if req.NonCombat {
		r.fail("Paratroops may not move during NonCombat")
		return
	}
	r.disallow("Cannot paratroop units that have already moved", filterUnits(m, troops, func(u *Unit, _ *UnitType) bool {
		return u.Moved > 0
	})...)
	r.disallow("Cannot move then transport paratroops", filterUnits(m, req.Units, matchAll(isAirTransport, func(u *Unit, _ *UnitType) bool {
		return u.Moved > 0
	}))...)
	end := req.Route.End()
	if !m.IsEnemyTerritory(player, end) && !m.HasEnemyUnits(player, end) && !v.sched.WasConquered(end) {
		r.disallow("Paratroops must advance to battle", troops...)
	}
	if req.Route.AnyMiddle(func(name string) bool { return m.IsEnemyTerritory(player, name) }) {
		r.fail("Must stop paratroops in first enemy territory")
	}
}

// validateTransport covers loading, unloading and cargo staying with its
// transport at sea.
func (v *MoveValidator) validateTransport(req MoveRequest, player Player, r *MoveValidationResult) {
	m := v.m
	route := req.Route
	if allUnits(m, req.Units, isAir) || !route.HasWater(m) {
		return
	}
	land := filterUnits(m, req.Units, isLand)
	if route.IsUnload(m) {
		if v.validateUnload(req, player, land, r); r.HasError() {
			return
		}
	}
	if v.nonParatroopersPresent(player, req.Units) {
		r.disallow("Not all units can be transported", filterUnits(m, land, func(_ *Unit, t *UnitType) bool {
			return !t.CanBeTransported()
		})...)
		if !m.IsWater(route.Start) && !m.IsWater(route.End()) {
			r.fail("Invalid move, only start or end can be land when route has water.")
			return
		}
	}
	switch {
	case m.IsWater(route.Start) && m.IsWater(route.End()):
		v.validateCargoAtSea(req, land, r)
	case route.IsLoad(m):
		v.validateLoad(req, player, land, r)
	}
}

func (v *MoveValidator) validateUnload(req MoveRequest, player Player, land []UnitID, r *MoveValidationResult) {
	m := v.m
	route := req.Route
	end := route.End()
	if len(route.Steps) > 1 {
		r.fail("Unloading units must stop where they are unloaded")
		return
	}
	cargo := make(map[UnitID][]UnitID)
	for _, id := range land {
		u := m.Unit(id)
		if u.TransportedBy == 0 {
			continue
		}
		cargo[u.TransportedBy] = append(cargo[u.TransportedBy], id)
		if t := m.Unit(u.TransportedBy); t != nil && t.Owner != player && u.LoadedThisTurn {
			r.disallow("Cannot load and unload an allied transport in the same round", id)
		}
	}
	battleAtSea := anyUnit(m, m.EnemyUnitsIn(player, route.Start), matchAll(not(isInfrastructure), not(isSubmerged)))
	friendlyEnd := !m.IsEnemyTerritory(player, end) && !m.HasEnemyUnits(player, end) && !v.sched.WasConquered(end)
	for _, tr := range sortedKeys(cargo) {
		t := m.Unit(tr)
		if t == nil {
			continue
		}
		switch {
		case !req.NonCombat && friendlyEnd && battleAtSea:
			r.disallow("Transport may not unload to friendly territories until after combat is resolved", cargo[tr]...)
		case t.UnloadedTo != "" && t.UnloadedInCombat == req.NonCombat:
			r.disallow("Transport has already unloaded units in a previous phase", cargo[tr]...)
		case t.UnloadedTo != "" && t.UnloadedTo != end:
			r.disallow("Transport has already unloaded units to "+t.UnloadedTo, cargo[tr]...)
		case req.NonCombat && t.WasInCombat && anyUnit(m, cargo[tr], func(u *Unit, _ *UnitType) bool { return u.LoadedThisTurn }):
			r.disallow("Transport cannot both load AND unload after being in combat", cargo[tr]...)
		}
	}
}

// validateCargoAtSea keeps cargo and transports together on sea moves.
func (v *MoveValidator) validateCargoAtSea(req MoveRequest, land []UnitID, r *MoveValidationResult) {
	m := v.m
	set := idSet(req.Units)
	transports := filterUnits(m, req.Units, isSeaTransport)
	aboard := transporting(m, transports)
	for _, tr := range transports {
		for _, id := range aboard[tr] {
			if !set[id] {
				r.disallow("Transports cannot leave their units", tr)
				break
			}
		}
	}
	for _, id := range land {
		if tb := m.Unit(id).TransportedBy; tb != 0 && !set[tb] {
			r.disallow("Unit must stay with its transport while moving", id)
		}
	}
}

func (v *MoveValidator) validateLoad(req MoveRequest, player Player, land []UnitID, r *MoveValidationResult) {
	m := v.m
	route := req.Route
	end := route.End()
	if len(route.Steps) != 1 && v.nonParatroopersPresent(player, req.Units) {
		r.fail("Units cannot move before loading onto transports")
		return
	}
	seaEnemies := filterUnits(m, m.EnemyUnitsIn(player, end), matchAll(isSea, not(isSubmerged)))
	if len(seaEnemies) > 0 && !v.onlyIgnoredUnitsOnPath(route, player, false) {
		r.fail("Cannot load when enemy sea units are present")
		return
	}
	toLoad := withoutIDs(land, v.paratroopers(req, player))
	r.disallow("Units cannot move before loading onto transports", filterUnits(m, toLoad, func(u *Unit, _ *UnitType) bool {
		return u.Moved > 0
	})...)
	mapping := mapTransports(m, toLoad, loadCandidates(m, req, player))
	byTransport := make(map[UnitID][]UnitID)
	for _, id := range sortedKeys(mapping) {
		byTransport[mapping[id]] = append(byTransport[mapping[id]], id)
	}
	for _, tr := range sortedKeys(byTransport) {
		t := m.Unit(tr)
		switch {
		case t.UnloadedTo != "" && t.UnloadedInCombat == req.NonCombat:
			r.disallow("Transport has already unloaded units in a previous phase", byTransport[tr]...)
		case req.NonCombat && t.WasInCombat && t.UnloadedTo != "":
			r.disallow("Transport cannot both load AND unload after being in combat", byTransport[tr]...)
		}
	}
	var unmapped []UnitID
	for _, id := range toLoad {
		if _, ok := mapping[id]; !ok {
			unmapped = append(unmapped, id)
		}
	}
	if len(unmapped) == 0 {
		return
	}
	types := make(map[string]bool)
	for _, id := range toLoad {
		types[m.Unit(id).Type] = true
	}
	if len(mapping) == 0 || len(types) == 1 {
		r.disallow(msgNotEnoughTransports, unmapped...)
	} else {
		r.unresolved(msgNotEnoughTransports, unmapped...)
	}
}

// loadCandidates are the transports the caller named, or else every
// friendly transport at the end of the route.
func loadCandidates(m *MapModel, req MoveRequest, player Player) []UnitID {
	if len(req.TransportsToLoad) > 0 {
		return sortedIDs(req.TransportsToLoad)
	}
	return filterUnits(m, sortedIDs(m.UnitsIn(req.Route.End())), matchAll(isSeaTransport, func(u *Unit, _ *UnitType) bool {
		return m.IsAllied(player, u.Owner)
	}))
}

// mapTransports assigns land units to transports with room for them,
// heaviest units first.
func mapTransports(m *MapModel, land, transports []UnitID) map[UnitID]UnitID {
	free := make(map[UnitID]int, len(transports))
	aboard := transporting(m, transports)
	for _, tr := range transports {
		free[tr] = m.TypeOf(tr).TransportCapacity
		for _, id := range aboard[tr] {
			free[tr] -= m.TypeOf(id).TransportCost
		}
	}
	order := sortedIDs(land)
	sort.SliceStable(order, func(i, j int) bool {
		return m.TypeOf(order[i]).TransportCost > m.TypeOf(order[j]).TransportCost
	})
	out := make(map[UnitID]UnitID)
	for _, id := range order {
		cost := m.TypeOf(id).TransportCost
		for _, tr := range transports {
			if free[tr] >= cost {
				free[tr] -= cost
				out[id] = tr
				break
			}
		}
	}
	return out
}
