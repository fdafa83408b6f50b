package battle

import (
	"fmt"
	"sort"
	"strings"
)

const (
	msgImpassable            = "Can't move through impassable territories"
	msgTooPoorForNeutral     = "Not enough money to pay for violating neutrality"
	msgCannotViolateNeutral  = "Cannot violate neutrality"
	msgNotAllAirCanLand      = "Not all air units can land"
	msgNotAllUnitsCanBlitz   = "Not all units can blitz"
	msgNotEnoughMovement     = "Not all units have enough movement"
	msgNotEnoughTransports   = "Not enough transports"
	msgOutsideRestricted     = "Cannot move outside restricted territories"
	msgIntoRestricted        = "Cannot move to restricted territories"
	msgEnemyUnitsOnPath      = "Enemy units on path"
	msgSubsUnderDestroyers   = "Cannot move submarines under destroyers"
	msgNonCombatIntoBattle   = "Cannot advance units to battle in non combat"
	msgNonCombatThroughEnemy = "Cannot move units through neutral or enemy territories in non combat"
)

// MoveValidationResult explains why a move is illegal. Error rejects the
// move as a whole; the maps reject single units and say why.
type MoveValidationResult struct {
	Error      string            `json:"error,omitempty"`
	Disallowed map[UnitID]string `json:"disallowed,omitempty"`
	Unresolved map[UnitID]string `json:"unresolved,omitempty"`
}

func (r *MoveValidationResult) IsMoveValid() bool {
	return r.Error == "" && len(r.Disallowed) == 0 && len(r.Unresolved) == 0
}

func (r *MoveValidationResult) HasError() bool { return r.Error != "" }

// DisallowedUnits returns the rejected units in id order.
func (r *MoveValidationResult) DisallowedUnits() []UnitID {
	return sortedKeys(r.Disallowed)
}

func (r *MoveValidationResult) String() string {
	if r.IsMoveValid() {
		return "valid"
	}
	var parts []string
	if r.Error != "" {
		parts = append(parts, r.Error)
	}
	for _, id := range sortedKeys(r.Disallowed) {
		parts = append(parts, fmt.Sprintf("unit %d: %s", id, r.Disallowed[id]))
	}
	for _, id := range sortedKeys(r.Unresolved) {
		parts = append(parts, fmt.Sprintf("unit %d unresolved: %s", id, r.Unresolved[id]))
	}
	return strings.Join(parts, "; ")
}

func (r *MoveValidationResult) fail(msg string) *MoveValidationResult {
	if r.Error == "" {
		r.Error = msg
	}
	return r
}

func (r *MoveValidationResult) disallow(msg string, ids ...UnitID) {
	if r.Disallowed == nil {
		r.Disallowed = make(map[UnitID]string)
	}
	for _, id := range ids {
		if _, ok := r.Disallowed[id]; !ok {
			r.Disallowed[id] = msg
		}
	}
}

func (r *MoveValidationResult) unresolved(msg string, ids ...UnitID) {
	if r.Unresolved == nil {
		r.Unresolved = make(map[UnitID]string)
	}
	for _, id := range ids {
		r.Unresolved[id] = msg
	}
}

// MoveRequest is a proposed movement of units along a route.
type MoveRequest struct {
	Units            []UnitID            `json:"units"`
	Route            Route               `json:"route"`
	TransportsToLoad []UnitID            `json:"transportsToLoad,omitempty"`
	NewDependents    map[UnitID][]UnitID `json:"newDependents,omitempty"`
	NonCombat        bool                `json:"nonCombat,omitempty"`
}

// MoveRecord is a move already made this turn.
type MoveRecord struct {
	Route Route    `json:"route"`
	Units []UnitID `json:"units"`
}

// MoveHistory is the moves made so far this turn, oldest first.
type MoveHistory []MoveRecord

// movedInto reports whether any of units entered name earlier this turn.
func (h MoveHistory) movedInto(name string, units []UnitID) bool {
	set := idSet(units)
	for _, mv := range h {
		if mv.Route.End() != name || mv.Route.HasNoSteps() {
			continue
		}
		for _, id := range mv.Units {
			if set[id] {
				return true
			}
		}
	}
	return false
}

// MoveValidator checks proposed moves against the map, the rules and the
// battles already set up this turn. It never changes anything.
type MoveValidator struct {
	m     *MapModel
	rules Rules
	sched *BattleScheduler
}

// NewMoveValidator builds a validator. sched may be nil when no battles
// are pending.
func NewMoveValidator(m *MapModel, rules Rules, sched *BattleScheduler) *MoveValidator {
	return &MoveValidator{m: m, rules: rules, sched: sched}
}

// Validate runs the checks in order. A general error stops at the check
// that raised it; unit-level problems from every check are collected.
func (v *MoveValidator) Validate(req MoveRequest, player Player, history MoveHistory) *MoveValidationResult {
	r := &MoveValidationResult{}
	if req.Route.HasNoSteps() {
		return r
	}
	v.m.ReadLocked(func() {
		passes := []func(MoveRequest, Player, *MoveValidationResult){
			v.validateFirst,
			v.validateRestrictions,
			v.validateNeutrals,
			v.validatePhase,
			v.validateNonEnemyUnitsOnPath,
			v.validateBasic,
			v.validateFuel,
			v.validateAirCanLand,
			v.validateTransport,
			v.validateParatroops,
			v.validateStacking,
		}
		for _, pass := range passes {
			if pass(req, player, r); r.HasError() {
				return
			}
		}
		v.validateBattleZoneExit(req, player, history, r)
	})
	return r
}

func (v *MoveValidator) independent(req MoveRequest, player Player) []UnitID {
	return independentUnits(v.m, req, player)
}

// validateFirst covers ownership and the basic shape of the move.
func (v *MoveValidator) validateFirst(req MoveRequest, player Player, r *MoveValidationResult) {
	m := v.m
	if len(req.Units) == 0 {
		r.fail("No units")
		return
	}
	if len(idSet(req.Units)) != len(req.Units) {
		r.fail(fmt.Sprintf("Not all units unique, units: %v", req.Units))
		return
	}
	for _, id := range req.Units {
		if m.Unit(id) == nil {
			r.fail(fmt.Sprintf("Unknown unit %d", id))
			return
		}
	}
	own := v.independent(req, player)
	if len(own) == 0 || !allUnits(m, own, ownedBy(player)) {
		r.fail(fmt.Sprintf("Player, %s, is not owner of all the units: %s", player, describeUnits(m, req.Units)))
		return
	}
	if !req.Route.Valid(m) {
		r.fail("Invalid route: " + req.Route.String())
		return
	}
	if len(intersectIDs(req.Units, m.UnitsIn(req.Route.Start))) != len(req.Units) {
		r.fail("Not enough units in starting territory")
		return
	}
	r.disallow("Cannot move submerged units", filterUnits(m, req.Units, isSubmerged)...)
}

// validateRestrictions applies the player's territory list, impassable
// terrain and canals.
func (v *MoveValidator) validateRestrictions(req MoveRequest, player Player, r *MoveValidationResult) {
	m := v.m
	route := req.Route
	if v.rules.MovementByTerritoryRestricted {
		if rs := m.Restrictions[player]; rs != nil {
			for _, name := range route.All() {
				listed := containsString(rs.Territories, name)
				if rs.Allowed && !listed {
					r.fail(msgOutsideRestricted)
					return
				}
				if !rs.Allowed && listed {
					r.fail(msgIntoRestricted)
					return
				}
			}
		}
	}
	for _, name := range route.All() {
		if t := m.Territory(name); t != nil && t.Impassable {
			r.fail(msgImpassable)
			return
		}
	}
	if msg := canalError(m, route, req.Units, player); msg != "" {
		r.fail(msg)
		return
	}
	for _, c := range m.Canals {
		if !canalOnRoute(c, route) {
			continue
		}
		for _, land := range c.Land {
			if v.sched.WasConquered(land) {
				r.fail(fmt.Sprintf("Must control %s for an entire turn to move through", c.Name))
				return
			}
		}
	}
}

// canalError says why units may not pass a canal on route, or "" if they may.
func canalError(m *MapModel, route Route, units []UnitID, player Player) string {
	for _, c := range m.Canals {
		if !canalOnRoute(c, route) {
			continue
		}
		exempt := len(units) > 0 && allUnits(m, units, func(_ *Unit, t *UnitType) bool {
			return t.IsAir || containsString(c.Excluded, t.Name)
		})
		if exempt {
			continue
		}
		for _, land := range c.Land {
			if !m.IsAllied(player, m.Owner(land)) {
				return fmt.Sprintf("Must control %s to move through", c.Name)
			}
		}
	}
	return ""
}

// canalOnRoute is true when both sea zones of the canal follow each other
// on the route.
func canalOnRoute(c Canal, route Route) bool {
	all := route.All()
	for i := 1; i < len(all); i++ {
		a, b := all[i-1], all[i]
		if (a == c.SeaZones[0] && b == c.SeaZones[1]) || (a == c.SeaZones[1] && b == c.SeaZones[0]) {
			return true
		}
	}
	return false
}

// validateNeutrals charges for crossing neutral land and applies the
// neutrality rules.
func (v *MoveValidator) validateNeutrals(req MoveRequest, player Player, r *MoveValidationResult) {
	m := v.m
	var neutrals []string
	for _, name := range req.Route.Steps {
		if m.IsNeutral(name) {
			neutrals = append(neutrals, name)
		}
	}
	if len(neutrals) == 0 {
		return
	}
	if v.rules.NeutralsImpassable && !v.rules.NeutralsBlitzable && !allUnits(m, req.Units, isAir) {
		r.fail(msgCannotViolateNeutral)
		return
	}
	empty := 0
	for _, name := range neutrals {
		if len(m.UnitsIn(name)) == 0 {
			empty++
		}
	}
	if !allUnits(m, req.Units, isAir) && m.Resources[player] < empty*v.rules.NeutralCharge {
		r.fail(msgTooPoorForNeutral)
	}
}

func (v *MoveValidator) validatePhase(req MoveRequest, player Player, r *MoveValidationResult) {
	if req.NonCombat {
		v.validateNonCombat(req, player, r)
	} else {
		v.validateCombat(req, player, r)
	}
}

// blitzable is enemy land with nothing left that could fight.
func (v *MoveValidator) blitzable(player Player, name string) bool {
	m := v.m
	if m.IsWater(name) {
		return false
	}
	return !anyUnit(m, m.EnemyUnitsIn(player, name), not(isInfrastructure))
}

func (v *MoveValidator) validateCombat(req MoveRequest, player Player, r *MoveValidationResult) {
	m := v.m
	route := req.Route
	units := req.Units
	allAir := allUnits(m, units, isAir)
	enemyLand := func(name string) bool { return m.IsEnemyTerritory(player, name) }
	end := route.End()

	if m.IsNeutral(end) && v.rules.NeutralsImpassable {
		r.fail(msgCannotViolateNeutral)
		return
	}
	if !m.IsWater(route.Start) && v.sched.PendingBattle(route.Start) != nil &&
		route.AllSteps(func(string) bool { return true }) && route.CountSteps(enemyLand) > 0 && !allAir {
		if !v.blitzable(player, route.Start) {
			r.fail("Cannot blitz out of a battle into enemy territory")
			return
		}
	}
	if !m.IsWater(route.Start) || !m.IsWater(end) {
		r.disallow("Cannot move AA guns in combat movement phase",
			filterUnits(m, units, func(_ *Unit, t *UnitType) bool { return t.CanNotMoveDuringCombatMove })...)
	}
	if route.HasNeutralBeforeEnd(m) && !allAir && !v.rules.NeutralsBlitzable {
		r.fail("Must stop land units when passing through neutral territories")
		return
	}
	if land := filterUnits(m, units, isLand); len(land) > 0 {
		enemyCount, allBlitzable := 0, true
		for _, name := range route.MiddleSteps() {
			if m.IsWater(name) {
				continue
			}
			if enemyLand(name) || v.sched.WasConquered(name) {
				enemyCount++
				allBlitzable = allBlitzable && v.blitzable(player, name)
			}
		}
		switch {
		case enemyCount > 0 && !allBlitzable:
			if v.nonParatroopersPresent(player, units) {
				r.fail("Cannot blitz on that route")
				return
			}
		case enemyCount > 0 && !m.IsWater(route.Start) && !m.IsWater(end):
			for _, id := range land {
				t := m.TypeOf(id)
				if t.CanBlitz || (t.IsAirTransportable && v.paratrooping(req, player)) {
					continue
				}
				r.disallow(msgNotAllUnitsCanBlitz, id)
			}
		}
		if !m.IsWater(end) && !enemyLand(end) && !m.HasEnemyUnits(player, end) && !route.IsUnload(m) {
			r.disallow("Cannot move land units into friendly territory during Combat Movement Phase", land...)
		}
	}
	if anyUnit(m, units, isAir) && (!v.rules.NeutralFlyoverAllowed || v.rules.NeutralsImpassable) &&
		route.AnyMiddle(m.IsNeutral) {
		r.fail("Air units cannot fly over neutral territories")
		return
	}
	if !allAir && route.AnyMiddle(func(name string) bool {
		return !m.IsWater(name) && v.sched.WasConquered(name) && !v.sched.WasBlitzed(name)
	}) {
		r.fail("Cannot move through newly captured territories")
		return
	}
	inCombat := anyUnit(m, units, func(u *Unit, _ *UnitType) bool { return u.WasInCombat })
	unloaded := anyUnit(m, units, func(u *Unit, _ *UnitType) bool { return u.UnloadedFrom != 0 })
	if inCombat && unloaded && enemyLand(end) && len(m.UnitsIn(end)) > 0 {
		r.fail("Units cannot participate in multiple battles")
	}
}

func (v *MoveValidator) validateNonCombat(req MoveRequest, player Player, r *MoveValidationResult) {
	m := v.m
	route := req.Route
	units := req.Units
	end := route.End()
	navalRestricted := v.rules.WW2V2 || v.rules.NavalMayNotNonCombatIntoControlled
	neutralOrEnemy := func(name string) bool { return m.IsNeutral(name) || m.IsEnemyTerritory(player, name) }

	if neutralOrEnemy(end) {
		r.fail(msgNonCombatIntoBattle)
		return
	}
	if v.rules.SubmersibleSubs && allUnits(m, units, isSub) && v.enemyDestroyerOnPath(route, player) {
		r.fail(msgSubsUnderDestroyers)
		return
	}
	blocking := filterUnits(m, m.EnemyUnitsIn(player, end), not(isSubmerged))
	if len(blocking) > 0 && !v.onlyIgnoredUnitsOnPath(route, player, false) &&
		!(allUnits(m, units, isAir) && m.IsWater(end)) {
		r.fail("Cannot advance to battle in non combat")
		return
	}
	switch {
	case allUnits(m, units, isAir) || (!anyUnit(m, units, isSea) && !v.nonParatroopersPresent(player, units)):
		if (!v.rules.NeutralFlyoverAllowed || v.rules.NeutralsImpassable) && routeAny(route, m.IsNeutral) {
			r.fail("Air units cannot fly over neutral territories in non combat")
		}
	case anyUnit(m, units, isSea) || route.HasWater(m):
		if navalRestricted && routeAny(route, neutralOrEnemy) {
			r.fail(msgNonCombatThroughEnemy)
		}
	default:
		if routeAny(route, neutralOrEnemy) {
			r.fail(msgNonCombatThroughEnemy)
		}
	}
}

func routeAny(route Route, fn func(string) bool) bool {
	for _, name := range route.All() {
		if fn(name) {
			return true
		}
	}
	return false
}

func (v *MoveValidator) enemyDestroyerOnPath(route Route, player Player) bool {
	return route.AnyMiddle(func(name string) bool {
		return anyUnit(v.m, v.m.EnemyUnitsIn(player, name), isDestroyer)
	})
}

// onlyIgnoredUnitsOnPath checks the steps of the route, without the end
// when middleOnly is set.
func (v *MoveValidator) onlyIgnoredUnitsOnPath(route Route, player Player, middleOnly bool) bool {
	steps := route.Steps
	if middleOnly {
		steps = route.MiddleSteps()
	}
	return onlyIgnoredEnemies(v.m, v.rules, player, steps)
}

// validateNonEnemyUnitsOnPath stops moves through enemy units short of the end.
func (v *MoveValidator) validateNonEnemyUnitsOnPath(req MoveRequest, player Player, r *MoveValidationResult) {
	m := v.m
	route := req.Route
	blocked := route.AnyMiddle(func(name string) bool {
		return anyUnit(m, m.EnemyUnitsIn(player, name), matchAll(not(isInfrastructure), not(isSubmerged)))
	})
	if !blocked || allUnits(m, req.Units, isAir) {
		return
	}
	if v.rules.SubmersibleSubs {
		free := filterUnits(m, req.Units, not(isBeingCarried))
		if len(free) > 0 && allUnits(m, free, isSub) {
			if v.enemyDestroyerOnPath(route, player) {
				r.fail(msgSubsUnderDestroyers)
			}
			return
		}
	}
	if v.onlyIgnoredUnitsOnPath(route, player, true) {
		return
	}
	if v.nonParatroopersPresent(player, req.Units) {
		r.fail(msgEnemyUnitsOnPath)
	}
}

// validateBasic checks movement points and where units may go.
func (v *MoveValidator) validateBasic(req MoveRequest, player Player, r *MoveValidationResult) {
	m := v.m
	route := req.Route
	units := req.Units
	end := m.UnitsIn(route.End())
	for _, t := range req.TransportsToLoad {
		if !containsID(end, t) && !containsID(units, t) {
			r.fail("Transports not found in route end")
			return
		}
	}
	r.disallow("Can only move friendly units", filterUnits(m, units, func(u *Unit, _ *UnitType) bool {
		return m.IsEnemy(player, u.Owner)
	})...)

	moveTest := units
	if m.IsWater(route.Start) {
		moveTest = filterUnits(m, units, not(isLand))
	}
	alliedCarrierAir := func(id UnitID) bool {
		u, t := m.Unit(id), m.TypeOf(id)
		return u.Owner != player && m.IsAllied(player, u.Owner) && t.CanLandOnCarrier() &&
			anyUnit(m, moveTest, matchAll(isCarrier, func(c *Unit, _ *UnitType) bool { return m.IsAllied(u.Owner, c.Owner) }))
	}
	for _, id := range filterUnits(m, moveTest, not(ownedBy(player))) {
		if !alliedCarrierAir(id) {
			r.disallow("Can only move own troops", id)
		}
	}
	paratroops := idSet(v.paratroopers(req, player))
	cost := route.MovementCost()
	for _, id := range moveTest {
		if m.MovementLeft(id) >= cost || paratroops[id] || alliedCarrierAir(id) {
			continue
		}
		r.disallow(msgNotEnoughMovement, id)
	}
	if m.IsWater(route.End()) {
		r.disallow("Not all units can end at water", filterUnits(m, units, func(_ *Unit, t *UnitType) bool {
			return t.IsLand() && !t.CanBeTransported()
		})...)
	}
	if route.HasLand(m) {
		r.disallow("Sea units cannot go on land", filterUnits(m, units, isSea)...)
	}
}

// validateFuel charges fuel per step for every unit that moves itself.
func (v *MoveValidator) validateFuel(req MoveRequest, player Player, r *MoveValidationResult) {
	if !v.rules.UseFuelCost {
		return
	}
	need := fuelCost(v.m, v.independent(req, player), req.Route)
	if need > v.m.Resources[player] {
		r.fail(fmt.Sprintf("Not enough resources to perform this move, you need: %d PUs for this move", need))
	}
}

func fuelCost(m *MapModel, units []UnitID, route Route) int {
	total := 0
	for _, id := range units {
		if t := m.TypeOf(id); t != nil {
			total += t.FuelCost * route.MovementCost()
		}
	}
	return total
}

// validateAirCanLand makes sure every plane can still reach somewhere to
// land after the move.
func (v *MoveValidator) validateAirCanLand(req MoveRequest, player Player, r *MoveValidationResult) {
	m := v.m
	air := sortedIDs(filterUnits(m, req.Units, isAir))
	if len(air) == 0 {
		return
	}
	end := req.Route.End()
	al := newAirLanding(m, v.rules, player, air)
	al.addCarriers(end, filterUnits(m, req.Units, matchAll(isCarrier, ownedBy(player))))
	al.avoid = v.sched.WasConquered
	// carrier planes first so land-only planes are not crowded off the
	// nearest field
	sort.SliceStable(air, func(i, j int) bool {
		return !m.TypeOf(air[i]).CanLandOnCarrier() && m.TypeOf(air[j]).CanLandOnCarrier()
	})
	for _, id := range air {
		reach := m.MovementLeft(id) - req.Route.MovementCost()
		if reach < 0 {
			continue
		}
		if _, _, ok := al.reserve(id, end, reach); !ok {
			r.disallow(msgNotAllAirCanLand, id)
		}
	}
}

// validateStacking enforces per-type caps: the attacking cap where the
// step holds enemies, the movement cap elsewhere.
func (v *MoveValidator) validateStacking(req MoveRequest, player Player, r *MoveValidationResult) {
	m := v.m
	limited := filterUnits(m, req.Units, func(_ *Unit, t *UnitType) bool {
		return t.MovementLimit > 0 || t.AttackingLimit > 0
	})
	if len(limited) == 0 {
		return
	}
	for _, name := range req.Route.Steps {
		hostile := m.IsEnemyTerritory(player, name) || m.HasEnemyUnits(player, name)
		passing := make(map[string]int)
		for _, id := range limited {
			t := m.TypeOf(id)
			limit := t.MovementLimit
			if hostile {
				limit = t.AttackingLimit
			}
			if limit <= 0 {
				continue
			}
			present := len(filterUnits(m, m.UnitsIn(name), func(u *Unit, ut *UnitType) bool {
				return u.Owner == player && ut.Name == t.Name
			}))
			if present+passing[t.Name] >= limit {
				r.disallow(fmt.Sprintf("UnitType %s has reached stacking limit", t.Name), id)
				continue
			}
			passing[t.Name]++
		}
	}
}

// validateBattleZoneExit stops units that moved into a pending battle
// from leaving it, except to unload into another attack.
func (v *MoveValidator) validateBattleZoneExit(req MoveRequest, player Player, history MoveHistory, r *MoveValidationResult) {
	m := v.m
	route := req.Route
	if v.sched.PendingBattle(route.Start) == nil || !anyUnit(m, req.Units, not(isAir)) {
		return
	}
	if !history.movedInto(route.Start, req.Units) {
		return
	}
	attack := !m.IsAllied(player, m.Owner(route.End())) || v.sched.WasConquered(route.End())
	if !(route.IsUnload(m) && attack) {
		r.fail("Cannot move units out of battle zone")
	}
}
