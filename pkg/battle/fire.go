package battle

import (
	"context"
	"fmt"
)

// ReturnFire decides which casualties of a fire step may still shoot back
// before they are removed.
type ReturnFire int

const (
	ReturnFireAll ReturnFire = iota
	ReturnFireSubs
	ReturnFireNone
)

func (r ReturnFire) String() string {
	switch r {
	case ReturnFireAll:
		return "ALL"
	case ReturnFireSubs:
		return "SUBS"
	case ReturnFireNone:
		return "NONE"
	}
	return fmt.Sprintf("ReturnFire(%d)", int(r))
}

// FireMode selects how the firing units' dice are worked out.
type FireMode string

const (
	FireNormal  FireMode = ""
	FireAA      FireMode = "aa"
	FireBombard FireMode = "bombard"
)

func (b *MustFightBattle) defendingSubsSneakAttack3() bool {
	return b.rules.WW2V2 || b.rules.DefendingSubsSneakAttack
}

func (b *MustFightBattle) defendingSubsSneakAttack2() bool {
	return !anyUnit(b.m, b.State.Attacking, isDestroyer) && b.defendingSubsSneakAttack3()
}

// returnFireAgainstAttackingSubs is the return fire allowed to units hit by
// attacking subs. It holds for the whole round and is computed before any
// destroyer can die.
func (b *MustFightBattle) returnFireAgainstAttackingSubs() ReturnFire {
	switch {
	case anyUnit(b.m, b.State.Defending, isDestroyer):
		return ReturnFireAll
	case b.defendingSubsSneakAttack2() || b.rules.WW2V2:
		return ReturnFireSubs
	}
	return ReturnFireNone
}

func (b *MustFightBattle) returnFireAgainstDefendingSubs() ReturnFire {
	switch {
	case !b.defendingSubsSneakAttack2():
		return ReturnFireAll
	case !anyUnit(b.m, b.State.Defending, isDestroyer) || b.rules.WW2V2:
		return ReturnFireSubs
	}
	return ReturnFireNone
}

func (b *MustFightBattle) defenderSubsFireFirst() bool {
	return b.returnFireAgainstAttackingSubs() == ReturnFireAll && b.returnFireAgainstDefendingSubs() == ReturnFireNone
}

func (b *MustFightBattle) defendingSubsFireWithAllDefenders() bool {
	return !b.defenderSubsFireFirst() && !b.rules.WW2V2 && b.returnFireAgainstDefendingSubs() == ReturnFireAll
}

// canAirAttackSubs is false at sea when the fired-at units include a sub and
// the firing units have no destroyer to spot it.
func (b *MustFightBattle) canAirAttackSubs(firedAt, firing []UnitID) bool {
	return !(b.m.IsWater(b.State.Site) && anyUnit(b.m, firedAt, isSub) && !anyUnit(b.m, firing, isDestroyer))
}

// fire pushes the roll step of one fire phase. Nothing happens when either
// list is empty.
func (b *MustFightBattle) fire(side Side, firing, targets []UnitID, rf ReturnFire, name, text string) {
	if len(firing) == 0 || len(targets) == 0 {
		return
	}
	b.State.Stack.Push(Step{Kind: kindFireRoll, Side: side, Name: name, Text: text,
		Firing: firing, Targets: targets, Return: rf})
}

// fireAA pushes one fire chain per AA type of side, in stored type order.
func (b *MustFightBattle) fireAA(side Side) {
	s := &b.State
	m := b.m
	aa, types := s.OffensiveAA, s.OffensiveAATypes
	if side == DefendingSide {
		aa, types = s.DefensiveAA, s.DefensiveAATypes
	}
	hitSide := side.Other()
	var steps []Step
	for _, typ := range types {
		firing := filterUnits(m, aa, func(_ *Unit, t *UnitType) bool { return t.AAType == typ })
		var firingTypes []*UnitType
		for _, id := range firing {
			firingTypes = append(firingTypes, m.TypeOf(id))
		}
		targets := filterUnits(m, b.units(hitSide), func(_ *Unit, tt *UnitType) bool {
			for _, ft := range firingTypes {
				if ft.TargetsAA(tt) {
					return true
				}
			}
			return false
		})
		if len(firing) == 0 || len(targets) == 0 {
			continue
		}
		steps = append(steps, Step{
			Kind:    kindFireRoll,
			Side:    side,
			Name:    stepAAFire(b.player(side), typ),
			Text:    stepSelectAA(b.player(hitSide), typ),
			AAType:  typ,
			Mode:    FireAA,
			Firing:  firing,
			Targets: targets,
			Return:  ReturnFireAll,
		})
	}
	s.Stack.Push(steps...)
}

// fireNavalBombardment lets ships that came with an amphibious assault shell
// the defenders. The ships use up their movement.
func (b *MustFightBattle) fireNavalBombardment(br *Bridge) error {
	s := &b.State
	m := b.m
	if m.IsWater(s.Site) {
		return nil
	}
	ships := b.bombardingUnits()
	if len(ships) == 0 {
		return nil
	}
	if err := br.AddChange(markNoMovementChange(m, ships)); err != nil {
		return err
	}
	targets := filterUnits(m, s.Defending, not(isInfrastructure))
	if len(targets) == 0 {
		return nil
	}
	rf := ReturnFireNone
	if b.rules.NavalBombardCasualtiesReturnFire {
		rf = ReturnFireAll
	}
	br.historyf(s.ID, fmt.Sprintf("%s bombard with %s", s.Attacker, describeUnits(m, ships)), ships)
	s.Stack.Push(Step{Kind: kindFireRoll, Side: AttackingSide, Name: StepNavalBombardment,
		Text: StepSelectBombardCasualties, Mode: FireBombard, Firing: ships, Targets: targets, Return: rf})
	return nil
}

// fireSuicide fires the suicide units of side. They are removed afterwards
// by checkSuicideUnits.
func (b *MustFightBattle) fireSuicide(side Side) {
	m := b.m
	if side == DefendingSide && b.rules.DefendingSuicideAndMunitionUnitsDoNotFire {
		return
	}
	own := b.units(side)
	firing := filterUnits(m, own, isSuicide)
	if len(firing) == 0 {
		return
	}
	hitSide := side.Other()
	targets := filterUnits(m, b.units(hitSide), func(u *Unit, t *UnitType) bool {
		return !t.IsInfrastructure && !t.IsSuicide && u.TransportedBy == 0
	})
	if b.rules.AirAttackSubRestricted && !anyUnit(m, own, isDestroyer) {
		targets = filterUnits(m, targets, not(isSub))
	}
	if allUnits(m, firing, isSub) {
		targets = filterUnits(m, targets, not(isAir))
	}
	rf := ReturnFireAll
	if b.rules.SuicideAndMunitionCasualtiesRestricted {
		rf = ReturnFireNone
	}
	name := StepSuicideAttack
	if side == DefendingSide {
		name = StepSuicideDefend
	}
	b.fire(side, firing, targets, rf, name, stepSelectSuicide(b.player(hitSide)))
}

// checkSuicideUnits removes suicide units once they have had their shot.
func (b *MustFightBattle) checkSuicideUnits(br *Bridge) error {
	s := &b.State
	m := b.m
	dead := filterUnits(m, s.Attacking, isSuicide)
	sides := []Side{AttackingSide}
	if !b.rules.DefendingSuicideAndMunitionUnitsDoNotFire {
		dead = unionIDs(filterUnits(m, s.Defending, isSuicide), dead)
		sides = append(sides, DefendingSide)
	}
	if len(dead) == 0 {
		return nil
	}
	br.display().DeadUnitNotification(s.ID, s.Attacker, dead)
	return b.remove(br, dead, s.Site, sides...)
}

func (b *MustFightBattle) attackSubs(rf ReturnFire) {
	s := &b.State
	firing := filterUnits(b.m, s.Attacking, isSub)
	targets := filterUnits(b.m, s.Defending, not(isAir))
	b.fire(AttackingSide, firing, targets, rf, stepSubsFire(s.Attacker), stepSelectSubCasualties(s.Defender))
}

func (b *MustFightBattle) defendSubs(rf ReturnFire) {
	s := &b.State
	if len(s.Attacking) == 0 {
		return
	}
	firing := filterUnits(b.m, unionIDs(s.Defending, s.DefendingWaitingToDie), isSub)
	targets := filterUnits(b.m, s.Attacking, not(isAir))
	b.fire(DefendingSide, firing, targets, rf, stepSubsFire(s.Defender), stepSelectSubCasualties(s.Attacker))
}

// attackingFireUnits is everything on the attacking side that may still
// shoot this round. Allied air rides along unless it fights independently.
func (b *MustFightBattle) attackingFireUnits() []UnitID {
	s := &b.State
	units := unionIDs(s.Attacking, s.AttackingWaitingToDie)
	if !b.rules.AlliedAirIndependent {
		units = filterUnits(b.m, units, ownedBy(s.Attacker))
	}
	return units
}

// attackAirOnNonSubs fires attacking air at non-sub defenders when the air
// may not engage the subs present.
func (b *MustFightBattle) attackAirOnNonSubs() {
	s := &b.State
	if len(s.Defending) == 0 {
		return
	}
	units := b.attackingFireUnits()
	if b.canAirAttackSubs(s.Defending, units) {
		return
	}
	air := filterUnits(b.m, units, isAir)
	targets := filterUnits(b.m, s.Defending, not(isSub))
	b.fire(AttackingSide, air, targets, ReturnFireAll, StepAirAttackNonSubs, stepSelectCasualties(s.Defender))
}

func (b *MustFightBattle) attackNonSubs() {
	s := &b.State
	if len(s.Defending) == 0 {
		return
	}
	units := b.attackingFireUnits()
	firing := filterUnits(b.m, units, not(isSub))
	if b.rules.AirAttackSubRestricted && !b.canAirAttackSubs(s.Defending, units) {
		firing = filterUnits(b.m, firing, not(isAir))
	}
	b.fire(AttackingSide, firing, s.Defending, ReturnFireAll, stepFire(s.Attacker), stepSelectCasualties(s.Defender))
}

func (b *MustFightBattle) defendAirOnNonSubs() {
	s := &b.State
	if len(s.Attacking) == 0 {
		return
	}
	units := unionIDs(s.Defending, s.DefendingWaitingToDie)
	if b.canAirAttackSubs(s.Attacking, units) {
		return
	}
	air := filterUnits(b.m, units, isAir)
	targets := filterUnits(b.m, s.Attacking, not(isSub))
	b.fire(DefendingSide, air, targets, ReturnFireAll, StepAirDefendNonSubs, stepSelectCasualties(s.Attacker))
}

func (b *MustFightBattle) defendNonSubs() {
	s := &b.State
	if len(s.Attacking) == 0 {
		return
	}
	units := unionIDs(s.Defending, s.DefendingWaitingToDie)
	firing := filterUnits(b.m, units, not(isSub))
	if b.rules.AirAttackSubRestricted && !b.canAirAttackSubs(s.Attacking, units) {
		firing = filterUnits(b.m, firing, not(isAir))
	}
	b.fire(DefendingSide, firing, s.Attacking, ReturnFireAll, stepFire(s.Defender), stepSelectCasualties(s.Attacker))
}

// fireRoll rolls the dice of one fire step and pushes casualty selection.
// The roll travels with the pushed step so a retry never rolls again.
func (b *MustFightBattle) fireRoll(br *Bridge, st Step) error {
	s := &b.State
	m := b.m
	hitSide := st.Side.Other()
	firing := onMap(m, st.Firing)
	targets := intersectIDs(onMap(m, st.Targets), b.units(hitSide))
	if len(firing) == 0 || len(targets) == 0 {
		return nil
	}
	br.display().GotoBattleStep(s.ID, st.Name)

	var power map[UnitID]unitPower
	switch st.Mode {
	case FireAA:
		power = aaPower(m, b.rules, firing, len(targets))
	case FireBombard:
		power = make(map[UnitID]unitPower, len(firing))
		for _, id := range firing {
			t := m.TypeOf(id)
			power[id] = unitPower{Strength: clamp(t.Bombard, 0, b.rules.diceSides()), Rolls: t.Rolls(AttackingSide)}
		}
	default:
		var amphibious []UnitID
		if st.Side == AttackingSide && s.IsAmphibious {
			amphibious = s.AmphibiousLandAttackers
		}
		power = effectivePower(m, b.rules, s.Site, st.Side, firing, amphibious)
	}
	annotation := fmt.Sprintf("%s roll dice for %s in %s, round %d", b.player(st.Side), describeUnits(m, firing), s.Site, s.Round)
	if br.Dice == nil {
		return invariantf("fire", "battle %s has no random source", s.ID)
	}
	roll, err := rollDice(br.Dice, b.rules, b.player(st.Side), power, annotation)
	if err != nil {
		return err
	}
	next := st
	next.Kind = kindFireSelect
	next.Firing = firing
	next.Targets = targets
	next.Roll = &roll
	s.Stack.Push(next)
	return nil
}

// aaPower gives each AA gun its shots, never more in total than there are targets.
func aaPower(m *MapModel, rules Rules, firing []UnitID, targets int) map[UnitID]unitPower {
	out := make(map[UnitID]unitPower, len(firing))
	left := targets
	for _, id := range sortedIDs(firing) {
		t := m.TypeOf(id)
		shots := t.AAMaxShots
		if shots < 0 || shots > left {
			shots = left
		}
		if shots == 0 {
			continue
		}
		left -= shots
		out[id] = unitPower{Strength: clamp(t.AAStrength, 0, rules.diceSides()), Rolls: shots}
	}
	return out
}

func (b *MustFightBattle) fireSelect(ctx context.Context, br *Bridge, st Step) error {
	s := &b.State
	br.display().GotoBattleStep(s.ID, st.Text)
	br.display().NotifyDice(s.ID, st.Name, *st.Roll)
	details, err := b.selectCasualties(ctx, br, st)
	if err != nil {
		return err
	}
	next := st
	next.Kind = kindFireNotify
	next.Details = &details
	s.Stack.Push(next)
	return nil
}

func (b *MustFightBattle) fireNotify(br *Bridge, st Step) error {
	s := &b.State
	hitSide := st.Side.Other()
	d := st.Details
	if d == nil {
		return invariantf("fire", "no casualty details for %s", st.Name)
	}
	if err := b.markDamaged(br, d.Damaged); err != nil {
		return err
	}
	br.display().CasualtyNotification(s.ID, st.Text, b.player(hitSide), *st.Roll, d.Killed, d.Damaged)
	if err := b.removeCasualties(br, d.Killed, st.Return, hitSide); err != nil {
		return err
	}
	if len(d.Killed)+len(d.Damaged) > 0 {
		next := st
		next.Kind = kindFireConfirm
		s.Stack.Push(next)
	}
	return nil
}

func (b *MustFightBattle) fireConfirm(ctx context.Context, br *Bridge, st Step) error {
	s := &b.State
	hitPlayer := b.player(st.Side.Other())
	if err := br.Player(hitPlayer).ConfirmOwnCasualties(ctx, s.ID, st.Text); err != nil {
		return remoteErr("confirm own casualties", err)
	}
	if err := br.Player(b.player(st.Side)).ConfirmEnemyCasualties(ctx, s.ID, st.Text); err != nil {
		return remoteErr("confirm enemy casualties", err)
	}
	return nil
}

// markDamaged records one hit per entry of damaged.
func (b *MustFightBattle) markDamaged(br *Bridge, damaged []UnitID) error {
	if len(damaged) == 0 {
		return nil
	}
	count := make(map[UnitID]int)
	for _, id := range damaged {
		count[id]++
	}
	c := CompositeChange()
	for _, id := range sortedKeys(count) {
		n := count[id]
		c.Add(UnitChange(b.m, id, func(u *Unit) { u.Hits += n }))
	}
	br.historyf(b.State.ID, fmt.Sprintf("%s damaged", describeUnits(b.m, damaged)), damaged)
	return br.AddChange(c)
}

// removeCasualties takes the killed units out of the fight. Units that may
// still return fire wait to die until the end of the round.
func (b *MustFightBattle) removeCasualties(br *Bridge, killed []UnitID, rf ReturnFire, side Side) error {
	if len(killed) == 0 {
		return nil
	}
	s := &b.State
	var waiting, now []UnitID
	switch rf {
	case ReturnFireAll:
		waiting = killed
	case ReturnFireSubs:
		waiting = filterUnits(b.m, killed, isSub)
		now = withoutIDs(killed, waiting)
	default:
		now = killed
	}
	if side == AttackingSide {
		s.AttackingWaitingToDie = unionIDs(s.AttackingWaitingToDie, waiting)
	} else {
		s.DefendingWaitingToDie = unionIDs(s.DefendingWaitingToDie, waiting)
	}
	if err := b.remove(br, now, s.Site, side); err != nil {
		return err
	}
	if side == AttackingSide {
		s.Attacking = withoutIDs(s.Attacking, killed)
	} else {
		s.Defending = withoutIDs(s.Defending, killed)
	}
	return nil
}
