package battle

import (
	"context"
	"fmt"
	"sort"
)

type retreatKind int

const (
	retreatDefault retreatKind = iota
	retreatSubs
	retreatPlanes
	retreatPartialAmphib
)

// AttackerRetreatTerritories lists where the attacker may withdraw to now.
func (b *MustFightBattle) AttackerRetreatTerritories() []string {
	s := &b.State
	m := b.m
	if (len(s.Attacking) > 0 && allUnits(m, s.Attacking, isAir)) || b.rules.RetreatingUnitsRemainInPlace {
		return []string{s.Site}
	}
	var out []string
	froms := make([]string, 0, len(s.AttackingFrom))
	for from := range s.AttackingFrom {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		if from == s.Site || b.blocksRetreat(from) {
			continue
		}
		if (b.rules.WW2V2 || b.rules.WW2V3) && len(s.AttackingFrom[from]) > 0 && allUnits(m, s.AttackingFrom[from], isAir) {
			continue
		}
		t := m.Territory(from)
		if t == nil || t.Impassable || m.IsEnemyTerritory(s.Attacker, from) {
			continue
		}
		if t.Water && b.sched.foughtOver(from) {
			continue
		}
		out = append(out, from)
	}
	if anyUnit(m, s.Attacking, isLand) && !m.IsWater(s.Site) {
		out = filterTerritories(out, func(name string) bool { return !m.IsWater(name) })
	}
	if anyUnit(m, s.Attacking, isSea) {
		out = filterTerritories(out, m.IsWater)
	}
	return out
}

// blocksRetreat reports enemy units at name that stop a retreat into it.
func (b *MustFightBattle) blocksRetreat(name string) bool {
	m := b.m
	return anyUnit(m, m.UnitsIn(name), func(u *Unit, t *UnitType) bool {
		if !m.IsEnemy(b.State.Attacker, u.Owner) || t.IsInfrastructure || u.TransportedBy != 0 || u.Submerged {
			return false
		}
		if b.rules.IgnoreSubInMovement && t.IsSub {
			return false
		}
		return !(b.rules.IgnoreTransportInMovement && t.IsTransport)
	})
}

func filterTerritories(names []string, keep func(string) bool) []string {
	var out []string
	for _, n := range names {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

func (b *MustFightBattle) canAttackerRetreat() bool {
	if b.onlyDefenselessDefendingTransportsLeft() || b.State.IsAmphibious {
		return false
	}
	return len(b.AttackerRetreatTerritories()) > 0
}

func (b *MustFightBattle) onlyDefenselessDefendingTransportsLeft() bool {
	if !b.rules.TransportCasualtiesRestricted {
		return false
	}
	d := b.State.Defending
	return len(d) > 0 && allUnits(b.m, d, isNonCombatTransport)
}

func (b *MustFightBattle) canAttackerRetreatSubs() bool {
	s := &b.State
	if anyUnit(b.m, unionIDs(s.Defending, s.DefendingWaitingToDie), isDestroyer) {
		return false
	}
	return b.canAttackerRetreat() || b.rules.SubmersibleSubs
}

func (b *MustFightBattle) canDefenderRetreatSubs() bool {
	s := &b.State
	if anyUnit(b.m, unionIDs(s.Attacking, s.AttackingWaitingToDie), isDestroyer) {
		return false
	}
	subs := filterUnits(b.m, s.Defending, isSub)
	return len(b.emptyOrFriendlySeaNeighbors(s.Defender, subs)) > 0 || b.rules.SubmersibleSubs
}

func (b *MustFightBattle) canAttackerRetreatPlanes() bool {
	r := b.rules
	return (r.WW2V2 || r.AttackerRetreatPlanes || r.PartialAmphibiousRetreat) && b.State.IsAmphibious &&
		anyUnit(b.m, b.State.Attacking, isAir)
}

func (b *MustFightBattle) canAttackerRetreatPartialAmphib() bool {
	if !b.State.IsAmphibious || !b.rules.PartialAmphibiousRetreat {
		return false
	}
	return anyUnit(b.m, b.State.Attacking, matchAll(isLand, not(wasAmphibious)))
}

// emptyOrFriendlySeaNeighbors lists adjacent sea zones free of enemies that
// units can reach through any canal on the way.
func (b *MustFightBattle) emptyOrFriendlySeaNeighbors(p Player, units []UnitID) []string {
	m := b.m
	var out []string
	for _, n := range m.Neighbors(b.State.Site) {
		if !m.IsWater(n) || m.HasEnemyUnits(p, n) {
			continue
		}
		if canalError(m, NewRoute(b.State.Site, n), units, p) != "" {
			continue
		}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (b *MustFightBattle) attackerSubRetreat(ctx context.Context, br *Bridge) error {
	s := &b.State
	if s.IsOver || b.rules.SubRetreatBeforeBattle || !b.canAttackerRetreatSubs() {
		return nil
	}
	if !anyUnit(b.m, s.Attacking, isSub) {
		return nil
	}
	return b.queryRetreat(ctx, br, AttackingSide, retreatSubs, b.AttackerRetreatTerritories())
}

func (b *MustFightBattle) defenderSubRetreat(ctx context.Context, br *Bridge) error {
	s := &b.State
	if s.IsOver {
		return nil
	}
	if !b.rules.SubRetreatBeforeBattle && b.canDefenderRetreatSubs() && anyUnit(b.m, s.Defending, isSub) {
		subs := filterUnits(b.m, s.Defending, isSub)
		if err := b.queryRetreat(ctx, br, DefendingSide, retreatSubs, b.emptyOrFriendlySeaNeighbors(s.Defender, subs)); err != nil {
			return err
		}
	}
	// checked again so the attacker cannot retreat from a battle already won
	if !s.IsOver && len(s.Defending) == 0 {
		if err := b.endBattle(br); err != nil {
			return err
		}
		return b.attackerWins(br)
	}
	return nil
}

func (b *MustFightBattle) planesRetreat(ctx context.Context, br *Bridge) error {
	s := &b.State
	if s.IsOver || !b.canAttackerRetreatPlanes() || b.canAttackerRetreatPartialAmphib() {
		return nil
	}
	return b.queryRetreat(ctx, br, AttackingSide, retreatPlanes, []string{s.Site})
}

func (b *MustFightBattle) partialAmphibiousRetreat(ctx context.Context, br *Bridge) error {
	if b.State.IsOver || !b.canAttackerRetreatPartialAmphib() {
		return nil
	}
	return b.queryRetreat(ctx, br, AttackingSide, retreatPartialAmphib, b.AttackerRetreatTerritories())
}

func (b *MustFightBattle) attackerRetreat(ctx context.Context, br *Bridge) error {
	s := &b.State
	if s.IsOver || !b.canAttackerRetreat() {
		return nil
	}
	kind := retreatDefault
	if s.IsAmphibious {
		kind = retreatPartialAmphib
	}
	return b.queryRetreat(ctx, br, AttackingSide, kind, b.AttackerRetreatTerritories())
}

// subRetreatBeforeBattle offers subs of side the chance to leave before
// any shot is fired.
func (b *MustFightBattle) subRetreatBeforeBattle(ctx context.Context, br *Bridge, side Side) error {
	s := &b.State
	if s.IsOver {
		return nil
	}
	if side == AttackingSide {
		if !b.canAttackerRetreatSubs() || !anyUnit(b.m, s.Attacking, isSub) {
			return nil
		}
		return b.queryRetreat(ctx, br, AttackingSide, retreatSubs, b.AttackerRetreatTerritories())
	}
	if !b.canDefenderRetreatSubs() || !anyUnit(b.m, s.Defending, isSub) {
		return nil
	}
	subs := filterUnits(b.m, s.Defending, isSub)
	return b.queryRetreat(ctx, br, DefendingSide, retreatSubs, b.emptyOrFriendlySeaNeighbors(s.Defender, subs))
}

// submergeSubsVsOnlyAir hides subs that face nothing but aircraft.
func (b *MustFightBattle) submergeSubsVsOnlyAir(br *Bridge) error {
	s := &b.State
	m := b.m
	if len(s.Attacking) > 0 && allUnits(m, s.Attacking, isAir) && anyUnit(m, s.Defending, isSub) {
		return b.submergeUnits(br, filterUnits(m, s.Defending, isSub), DefendingSide)
	}
	if len(s.Defending) > 0 && allUnits(m, s.Defending, isAir) && anyUnit(m, s.Attacking, isSub) {
		return b.submergeUnits(br, filterUnits(m, s.Attacking, isSub), AttackingSide)
	}
	return nil
}

// queryRetreat asks the player of side whether to retreat and carries out
// the answer. An empty answer means stay.
func (b *MustFightBattle) queryRetreat(ctx context.Context, br *Bridge, side Side, kind retreatKind, available []string) error {
	s := &b.State
	m := b.m
	submerge := kind == retreatSubs && b.rules.SubmersibleSubs
	if len(available) == 0 && !submerge {
		return nil
	}
	units := b.units(side)
	if side == AttackingSide {
		units = unionIDs(units, filterUnits(m, m.UnitsIn(s.Site), ownedBy(s.Attacker)))
	}
	switch kind {
	case retreatSubs:
		units = filterUnits(m, units, isSub)
	case retreatPlanes:
		units = filterUnits(m, units, isAir)
	case retreatPartialAmphib:
		units = filterUnits(m, units, not(wasAmphibious))
	}
	if anyUnit(m, units, isSea) {
		available = filterTerritories(available, m.IsWater)
	}
	if submerge || kind == retreatPlanes {
		available = []string{s.Site}
	}
	if len(units) == 0 {
		return nil
	}
	p := b.player(side)
	var text string
	switch kind {
	case retreatSubs:
		text = string(p) + " retreat subs?"
	case retreatPlanes:
		text = string(p) + " retreat planes?"
	case retreatPartialAmphib:
		text = string(p) + " retreat non-amphibious units?"
	default:
		text = string(p) + " retreat?"
	}
	step := stepAttackerWithdraw(p)
	if side == DefendingSide || kind == retreatSubs {
		step = stepSubsWithdraw(p)
		if b.rules.SubmersibleSubs {
			step = stepSubsSubmerge(p)
		}
	}
	br.display().GotoBattleStep(s.ID, step)
	to, err := br.Player(p).RetreatQuery(ctx, RetreatQuery{
		BattleID:     s.ID,
		Step:         step,
		Player:       p,
		Submerge:     submerge,
		Site:         s.Site,
		Destinations: available,
		Message:      text,
	})
	if err != nil {
		return remoteErr("retreat query", err)
	}
	if to == "" {
		return nil
	}
	if !containsString(available, to) {
		br.historyf(s.ID, fmt.Sprintf("%s: invalid retreat to %s ignored", p, to), nil)
		return nil
	}
	if side == AttackingSide && kind == retreatDefault {
		s.IsOver = true
	}
	switch {
	case kind == retreatSubs && submerge && to == s.Site:
		if err := b.submergeUnits(br, units, side); err != nil {
			return err
		}
		br.display().NotifyRetreat(s.ID, step, p, string(p)+" submerges subs")
	case kind == retreatPlanes:
		if err := b.retreatPlanes(br, units, side); err != nil {
			return err
		}
		br.display().NotifyRetreat(s.ID, step, p, string(p)+" retreats planes")
	case kind == retreatPartialAmphib:
		if err := b.retreatUnitsAndPlanes(br, filterUnits(m, units, not(wasAmphibious)), to, side); err != nil {
			return err
		}
		br.display().NotifyRetreat(s.ID, step, p, string(p)+" retreats non-amphibious units to "+to)
	default:
		if err := b.retreatUnits(br, units, to, side); err != nil {
			return err
		}
		what := "all units"
		if kind == retreatSubs {
			what = "subs"
		}
		br.display().NotifyRetreat(s.ID, step, p, fmt.Sprintf("%s retreats %s to %s", p, what, to))
	}
	return nil
}

func (b *MustFightBattle) setUnits(side Side, ids []UnitID) {
	if ids == nil {
		ids = []UnitID{}
	}
	if side == AttackingSide {
		b.State.Attacking = ids
	} else {
		b.State.Defending = ids
	}
}

func (b *MustFightBattle) addRetreated(side Side, ids []UnitID) {
	if side == AttackingSide {
		b.State.AttackingRetreated = unionIDs(b.State.AttackingRetreated, ids)
	} else {
		b.State.DefendingRetreated = unionIDs(b.State.DefendingRetreated, ids)
	}
}

// finishIfEmpty ends the battle for the other side when side has nothing
// left or the battle was already decided.
func (b *MustFightBattle) finishIfEmpty(br *Bridge, side Side) error {
	if len(b.units(side)) > 0 && !b.State.IsOver {
		return nil
	}
	if err := b.endBattle(br); err != nil {
		return err
	}
	if side == DefendingSide {
		return b.attackerWins(br)
	}
	return b.defenderWins(br)
}

func (b *MustFightBattle) submergeUnits(br *Bridge, subs []UnitID, side Side) error {
	if len(subs) == 0 {
		return nil
	}
	c := CompositeChange()
	for _, id := range subs {
		c.Add(UnitChange(b.m, id, func(u *Unit) { u.Submerged = true }))
	}
	if err := br.AddChange(c); err != nil {
		return err
	}
	b.setUnits(side, withoutIDs(b.units(side), subs))
	b.addRetreated(side, subs)
	br.historyf(b.State.ID, describeUnits(b.m, subs)+" submerged", subs)
	return nil
}

// retreatPlanes pulls planes out of the fight. They stay at the site and
// find a landing spot after combat.
func (b *MustFightBattle) retreatPlanes(br *Bridge, planes []UnitID, side Side) error {
	b.setUnits(side, withoutIDs(b.units(side), planes))
	b.addRetreated(side, planes)
	br.historyf(b.State.ID, describeUnits(b.m, planes)+" retreated", planes)
	return b.finishIfEmpty(br, side)
}

func (b *MustFightBattle) retreatUnits(br *Bridge, retreating []UnitID, to string, side Side) error {
	s := &b.State
	m := b.m
	retreating = unionIDs(retreating, s.Dependents.DependentsOf(retreating))
	retreating = filterUnits(m, retreating, func(u *Unit, t *UnitType) bool {
		return !t.IsAir || u.Owner != s.Attacker
	})
	if err := b.moveRetreating(br, retreating, to); err != nil {
		return err
	}
	b.setUnits(side, withoutIDs(b.units(side), retreating))
	b.addRetreated(side, retreating)
	return b.finishIfEmpty(br, side)
}

// retreatUnitsAndPlanes withdraws the non-amphibious units. Air leaves the
// fight but stays at the site, counted as retreated so it is queued to land.
func (b *MustFightBattle) retreatUnitsAndPlanes(br *Bridge, retreating []UnitID, to string, side Side) error {
	s := &b.State
	m := b.m
	remaining := filterUnits(m, b.units(side), not(isAir))
	b.addRetreated(side, withoutIDs(b.units(side), remaining))
	b.setUnits(side, remaining)
	retreating = unionIDs(retreating, s.Dependents.DependentsOf(remaining))
	moving := filterUnits(m, retreating, func(u *Unit, t *UnitType) bool {
		return !t.IsAir || u.Owner != s.Attacker
	})
	if err := b.moveRetreating(br, moving, to); err != nil {
		return err
	}
	b.setUnits(side, withoutIDs(b.units(side), moving))
	b.addRetreated(side, moving)
	return b.finishIfEmpty(br, side)
}

// moveRetreating moves units from the site to to. A finished battle also
// pulls back what its transports put ashore elsewhere.
func (b *MustFightBattle) moveRetreating(br *Bridge, units []UnitID, to string) error {
	s := &b.State
	if len(units) == 0 {
		return nil
	}
	br.historyf(s.ID, fmt.Sprintf("%s retreated to %s", describeUnits(b.m, units), to), units)
	if err := br.AddChange(MoveUnitsChange(s.Site, to, intersectIDs(units, b.m.UnitsIn(s.Site)))); err != nil {
		return err
	}
	if !s.IsOver {
		return nil
	}
	if blocked := b.sched.getBlocked(b); len(blocked) > 0 {
		return b.retreatFromDependents(br, units, to, blocked)
	}
	return b.retreatFromNonCombat(br, units, to)
}

// retreatFromDependents takes cargo back out of the battles it was landed
// into and puts it back aboard.
func (b *MustFightBattle) retreatFromDependents(br *Bridge, units []UnitID, to string, dependents []Battle) error {
	for _, dep := range dependents {
		cargo := dep.DependentUnits(units)
		if len(cargo) == 0 {
			continue
		}
		dep.RemoveAttack(NewRoute(b.State.Site, dep.Site()), cargo)
		if err := br.AddChange(reloadChange(b.m, units)); err != nil {
			return err
		}
		if err := br.AddChange(MoveUnitsChange(dep.Site(), to, intersectIDs(cargo, b.m.UnitsIn(dep.Site())))); err != nil {
			return err
		}
	}
	return nil
}

// retreatFromNonCombat brings back cargo that retreating transports
// unloaded into friendly territory this turn.
func (b *MustFightBattle) retreatFromNonCombat(br *Bridge, units []UnitID, to string) error {
	m := b.m
	for _, t := range filterUnits(m, units, func(_ *Unit, ut *UnitType) bool { return ut.IsTransport }) {
		from := m.Unit(t).UnloadedTo
		if from == "" {
			continue
		}
		cargo := intersectIDs(unloadedBy(m, t), m.UnitsIn(from))
		if len(cargo) == 0 {
			continue
		}
		if err := br.AddChange(reloadChange(m, []UnitID{t})); err != nil {
			return err
		}
		if err := br.AddChange(MoveUnitsChange(from, to, cargo)); err != nil {
			return err
		}
	}
	return nil
}

// reloadChange puts cargo unloaded this turn back aboard its transports.
func reloadChange(m *MapModel, units []UnitID) Change {
	c := CompositeChange()
	for _, t := range filterUnits(m, units, canTransport) {
		for _, id := range unloadedBy(m, t) {
			holder := t
			c.Add(UnitChange(m, id, func(u *Unit) {
				u.TransportedBy = holder
				u.UnloadedFrom = 0
				u.UnloadedTo = ""
				u.UnloadedInCombat = false
			}))
		}
		c.Add(UnitChange(m, t, func(u *Unit) { u.UnloadedTo = "" }))
	}
	return c
}
