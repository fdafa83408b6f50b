package battle

import (
	"fmt"
	"sort"
)

// endCheck decides at the end of a round whether the battle is over.
func (b *MustFightBattle) endCheck(br *Bridge) error {
	s := &b.State
	m := b.m
	if s.IsOver {
		return nil
	}
	attackers := filterUnits(m, s.Attacking, not(isInfrastructure))
	defenders := filterUnits(m, s.Defending, not(isInfrastructure))
	switch {
	case len(attackers) == 0:
		if b.rules.TransportCasualtiesRestricted && s.Round <= 1 && len(b.alliedTransports(s.Attacker)) > 0 {
			// the transports get one more round to be picked off
			s.Attacking = filterUnits(m, m.UnitsIn(s.Site), ownedBy(s.Attacker))
			return nil
		}
		if err := b.endBattle(br); err != nil {
			return err
		}
		return b.defenderWins(br)
	case len(defenders) == 0:
		if b.rules.TransportCasualtiesRestricted {
			if err := b.checkUndefendedTransports(br, s.Defender); err != nil {
				return err
			}
		}
		if err := b.checkForUnitsThatCanRollLeft(br, AttackingSide); err != nil {
			return err
		}
		if err := b.endBattle(br); err != nil {
			return err
		}
		return b.attackerWins(br)
	case b.maxRoundsReached() || b.neitherSideCanHit():
		if err := b.endBattle(br); err != nil {
			return err
		}
		return b.nobodyWins(br)
	}
	return nil
}

func (b *MustFightBattle) maxRoundsReached() bool {
	return b.State.MaxRounds > 0 && b.State.MaxRounds <= b.State.Round
}

// neitherSideCanHit covers both sides being unable to roll at all and sides
// whose only shooters cannot reach anything on the other side, such as subs
// against aircraft.
func (b *MustFightBattle) neitherSideCanHit() bool {
	s := &b.State
	if len(s.Attacking) == 0 || len(s.Defending) == 0 {
		return false
	}
	return !b.canHit(AttackingSide) && !b.canHit(DefendingSide)
}

func (b *MustFightBattle) canHit(side Side) bool {
	m := b.m
	own, enemy := b.units(side), b.units(side.Other())
	airBlind := b.rules.AirAttackSubRestricted && !b.canAirAttackSubs(enemy, own)
	for _, f := range filterUnits(m, own, hasStrength(side)) {
		ft := m.TypeOf(f)
		for _, e := range enemy {
			et := m.TypeOf(e)
			switch {
			case et.IsInfrastructure:
			case ft.IsSub && et.IsAir:
			case ft.IsAir && et.IsSub && airBlind:
			default:
				return true
			}
		}
	}
	return false
}

func (b *MustFightBattle) alliedTransports(p Player) []UnitID {
	m := b.m
	return filterUnits(m, m.UnitsIn(b.State.Site), func(u *Unit, t *UnitType) bool {
		return t.IsSea && t.IsTransport && t.Attack == 0 && m.IsAllied(p, u.Owner)
	})
}

// checkTransports sinks transports left without an escort and removes a
// side that has nothing left that can roll.
func (b *MustFightBattle) checkTransports(br *Bridge) error {
	s := &b.State
	if err := b.checkUndefendedTransports(br, s.Defender); err != nil {
		return err
	}
	if err := b.checkUndefendedTransports(br, s.Attacker); err != nil {
		return err
	}
	if err := b.checkForUnitsThatCanRollLeft(br, AttackingSide); err != nil {
		return err
	}
	return b.checkForUnitsThatCanRollLeft(br, DefendingSide)
}

// attackerCanEscape is true while the attacker could still retreat or has
// air in the fight.
func (b *MustFightBattle) attackerCanEscape() bool {
	return len(b.AttackerRetreatTerritories()) > 0 || anyUnit(b.m, b.State.Attacking, isAir)
}

func (b *MustFightBattle) checkUndefendedTransports(br *Bridge, p Player) error {
	s := &b.State
	m := b.m
	if p == s.Attacker && b.attackerCanEscape() {
		return nil
	}
	transports := b.alliedTransports(p)
	if len(transports) == 0 {
		return nil
	}
	here := m.UnitsIn(s.Site)
	allied := filterUnits(m, here, func(u *Unit, t *UnitType) bool {
		return m.IsAllied(p, u.Owner) && !t.IsLand() && !u.Submerged
	})
	if len(allied) != len(transports) {
		return nil
	}
	enemies := filterUnits(m, here, func(u *Unit, t *UnitType) bool {
		return m.IsEnemy(p, u.Owner) && !t.IsLand() && !u.Submerged && (t.Attack > 0 || t.Defense > 0)
	})
	if len(enemies) == 0 {
		return nil
	}
	if err := br.AddChange(markNoMovementChange(m, filterUnits(m, enemies, isSea))); err != nil {
		return err
	}
	side := AttackingSide
	if p == s.Defender {
		side = DefendingSide
	}
	return b.remove(br, transports, s.Site, side)
}

// checkForUnitsThatCanRollLeft removes side when nothing it has can roll
// and the enemy can.
func (b *MustFightBattle) checkForUnitsThatCanRollLeft(br *Bridge, side Side) error {
	s := &b.State
	m := b.m
	if side == AttackingSide && b.attackerCanEscape() {
		return nil
	}
	if len(s.Attacking) == 0 || len(s.Defending) == 0 {
		return nil
	}
	water := m.IsWater(s.Site)
	present := func(u *Unit, t *UnitType) bool {
		if u.Submerged {
			return false
		}
		if water {
			return !t.IsLand()
		}
		return !t.IsSea
	}
	canRollLeft := anyUnit(m, b.units(side), matchAll(present, canRoll(side)))
	enemyCanRoll := anyUnit(m, b.units(side.Other()), matchAll(present, canRoll(side.Other())))
	if canRollLeft || !enemyCanRoll {
		return nil
	}
	return b.remove(br, filterUnits(m, b.units(side), matchAll(present, not(isInfrastructure))), s.Site, side)
}

// endBattle drains the dead and takes the battle off the schedule.
func (b *MustFightBattle) endBattle(br *Bridge) error {
	s := &b.State
	if err := b.clearWaitingToDie(br); err != nil {
		return err
	}
	s.IsOver = true
	b.sched.removeBattle(b)
	if b.rules.AlliedAirIndependent {
		return nil
	}
	return br.AddChange(clearAlliedAirOnCarriers(b.m, unionIDs(s.Attacking, s.AttackingRetreated), s.Attacker))
}

// clearAlliedAirOnCarriers frees allied planes carried by the given
// carriers once the fight is over.
func clearAlliedAirOnCarriers(m *MapModel, units []UnitID, p Player) Change {
	c := CompositeChange()
	carried := transporting(m, filterUnits(m, units, isCarrier))
	for _, carrier := range sortedKeys(carried) {
		for _, id := range carried[carrier] {
			u, t := m.Unit(id), m.TypeOf(id)
			if t.IsAir && t.CanLandOnCarrier() && u.Owner != p && m.IsAllied(p, u.Owner) {
				c.Add(UnitChange(m, id, func(x *Unit) { x.TransportedBy = 0 }))
			}
		}
	}
	return c
}

func (b *MustFightBattle) defenderWins(br *Bridge) error {
	s := &b.State
	m := b.m
	s.WhoWon = WonDefender
	br.display().BattleEnd(s.ID, string(s.Defender)+" win")
	if b.rules.AbandonedTerritoriesMayBeTakenOverImmediately {
		if len(filterUnits(m, s.Defending, not(isInfrastructure))) == 0 {
			holders := filterUnits(m, m.UnitsIn(s.Site), not(isInfrastructure))
			if len(holders) > 0 {
				p := playerWithMostUnits(m, holders)
				br.historyf(s.ID, fmt.Sprintf("%s takes over %s as there are no defenders left", p, s.Site), holders)
				if err := b.sched.takeOver(br, s.Site, p, holders); err != nil {
					return err
				}
			}
		} else if err := b.sched.takeOver(br, s.Site, s.Defender, s.Defending); err != nil {
			return err
		}
	}
	br.historyf(s.ID, string(s.Defender)+" win", s.Defending)
	b.showCasualties(br)
	b.writeRecord(ResultLost)
	b.checkDefendingPlanesCanLand()
	b.queueAttackingAir()
	return nil
}

func (b *MustFightBattle) attackerWins(br *Bridge) error {
	s := &b.State
	m := b.m
	s.WhoWon = WonAttacker
	br.display().BattleEnd(s.ID, string(s.Attacker)+" win")
	result := ResultWonWithoutConquering
	if anyUnit(m, s.Attacking, not(isAir)) && !m.IsWater(s.Site) {
		if err := b.sched.takeOver(br, s.Site, s.Attacker, s.Attacking); err != nil {
			return err
		}
		result = ResultConquered
	}
	c := CompositeChange()
	for _, t := range filterUnits(m, s.Attacking, func(_ *Unit, ut *UnitType) bool { return ut.IsTransport }) {
		for _, id := range unloadedBy(m, t) {
			if m.Unit(id).TransportedBy != 0 {
				c.Add(UnitChange(m, id, func(u *Unit) { u.TransportedBy = 0 }))
			}
		}
	}
	if err := br.AddChange(c); err != nil {
		return err
	}
	br.historyf(s.ID, string(s.Attacker)+" win", s.Attacking)
	b.showCasualties(br)
	b.writeRecord(result)
	return nil
}

func (b *MustFightBattle) nobodyWins(br *Bridge) error {
	s := &b.State
	s.WhoWon = WonDraw
	br.display().BattleEnd(s.ID, "Stalemate")
	br.historyf(s.ID, fmt.Sprintf("%s and %s reach a stalemate", s.Defender, s.Attacker), nil)
	b.showCasualties(br)
	b.writeRecord(ResultStalemate)
	b.checkDefendingPlanesCanLand()
	b.queueAttackingAir()
	return nil
}

// checkDefendingPlanesCanLand queues defending planes at sea that the
// surviving carriers cannot hold.
func (b *MustFightBattle) checkDefendingPlanesCanLand() {
	s := &b.State
	m := b.m
	if !m.IsWater(s.Site) {
		return
	}
	air := filterUnits(m, s.Defending, isAir)
	if len(air) == 0 {
		return
	}
	capacity := carrierCapacity(m, s.Defending)
	carried := carrierCost(m, filterUnits(m, s.Dependents.DependentsOf(s.Defending), isAir))
	if capacity >= carrierCost(m, air)+carried {
		return
	}
	cost := carried
	var stranded []UnitID
	for _, id := range air {
		t := m.TypeOf(id)
		if !t.CanLandOnCarrier() {
			continue
		}
		cost += t.CarrierCost
		if capacity < cost {
			stranded = append(stranded, id)
		}
	}
	b.sched.addDefendingAirThatCanNotLand(s.ID, stranded, s.Site)
}

// queueAttackingAir hands attacking planes still at the site to the
// landing queue after a battle the attacker did not win.
func (b *MustFightBattle) queueAttackingAir() {
	s := &b.State
	m := b.m
	air := filterUnits(m, intersectIDs(b.RemainingAttackingUnits(), m.UnitsIn(s.Site)), isAir)
	b.sched.addAttackingAirToLand(s.ID, air, s.Site)
}

// showCasualties writes the TUV summary of the battle.
func (b *MustFightBattle) showCasualties(br *Bridge) {
	s := &b.State
	if len(s.Killed) == 0 {
		return
	}
	s.AttackerLostTUV = b.lostTUV(AttackingSide)
	s.DefenderLostTUV = b.lostTUV(DefendingSide)
	killed := make([]UnitID, len(s.Killed))
	for i, u := range s.Killed {
		killed[i] = u.ID
	}
	br.historyf(s.ID, fmt.Sprintf("Battle casualty summary: Battle score (TUV change) for attacker is %d",
		s.DefenderLostTUV-s.AttackerLostTUV), killed)
}

// lostTUV is the value of the killed units that fought for side.
func (b *MustFightBattle) lostTUV(side Side) int {
	p := b.player(side)
	total := 0
	for _, u := range b.State.Killed {
		if !b.m.IsAllied(p, u.Owner) {
			continue
		}
		if t := b.m.Catalog.Get(u.Type); t != nil {
			total += t.Cost
		}
	}
	return total
}

func (b *MustFightBattle) writeRecord(result BattleResult) {
	s := &b.State
	rounds := s.Round
	if !s.Started {
		rounds = 0
	}
	rec := &BattleRecord{
		BattleID:          s.ID,
		Site:              s.Site,
		Kind:              KindMustFight,
		Attacker:          s.Attacker,
		Defender:          s.Defender,
		Result:            result,
		WhoWon:            s.WhoWon,
		Rounds:            rounds,
		AttackerLostTUV:   s.AttackerLostTUV,
		DefenderLostTUV:   s.DefenderLostTUV,
		AttackerSurvivors: sortedIDs(b.RemainingAttackingUnits()),
		DefenderSurvivors: sortedIDs(b.RemainingDefendingUnits()),
		Killed:            append([]Unit(nil), s.Killed...),
	}
	s.Record = rec
	b.sched.addRecord(*rec)
}

// playerWithMostUnits breaks ties by name.
func playerWithMostUnits(m *MapModel, ids []UnitID) Player {
	count := make(map[Player]int)
	for _, id := range ids {
		count[m.Unit(id).Owner]++
	}
	players := make([]Player, 0, len(count))
	for p := range count {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i] < players[j] })
	best, n := NoPlayer, 0
	for _, p := range players {
		if count[p] > n {
			best, n = p, count[p]
		}
	}
	return best
}

// takeover hands a land territory to player. An ally's original territory
// goes back to that ally while it still holds its capital. Capturing a
// capital takes the former owner's PUs. Enemy infrastructure is captured
// or destroyed.
func takeover(br *Bridge, site string, player Player) error {
	m := br.Map
	t := m.Territory(site)
	if t == nil || t.Water || player == NoPlayer {
		return nil
	}
	owner := player
	if orig := t.OriginalOwner; orig != NoPlayer && orig != player && m.IsAllied(player, orig) && holdsCapital(m, orig) {
		owner = orig
	}
	c := CompositeChange()
	if prev := t.Owner; prev != owner {
		c.Add(OwnerChange(m, site, owner))
		if t.CapitalOf != NoPlayer && t.CapitalOf == prev && m.IsEnemy(player, prev) {
			if pu := m.Resources[prev]; pu > 0 {
				c.Add(ResourceChange(prev, -pu))
				c.Add(ResourceChange(player, pu))
			}
		}
	}
	var destroyed []UnitID
	for _, id := range m.UnitsIn(site) {
		u, ut := m.Unit(id), m.TypeOf(id)
		if !ut.IsInfrastructure || !m.IsEnemy(owner, u.Owner) {
			continue
		}
		if ut.CanBeCaptured {
			c.Add(UnitChange(m, id, func(x *Unit) { x.Owner = owner }))
		} else {
			destroyed = append(destroyed, id)
		}
	}
	c.Add(RemoveUnitsChange(m, site, destroyed))
	if c.IsEmpty() {
		return nil
	}
	br.historyf("", fmt.Sprintf("%s takes %s", owner, site), nil)
	return br.AddChange(c)
}

// holdsCapital is true when p owns its capital, or has none.
func holdsCapital(m *MapModel, p Player) bool {
	found := false
	for _, t := range m.Territories {
		if t.CapitalOf != p {
			continue
		}
		found = true
		if t.Owner == p {
			return true
		}
	}
	return !found
}
