package battle

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// BattleState is the persisted state of a must-fight battle. Together with
// the map model it is all that is needed to resume a battle mid-round.
type BattleState struct {
	ID       string `json:"id"`
	Site     string `json:"site"`
	Attacker Player `json:"attacker"`
	Defender Player `json:"defender"`

	Attacking             []UnitID `json:"attacking"`
	Defending             []UnitID `json:"defending"`
	AttackingWaitingToDie []UnitID `json:"attackingWaitingToDie,omitempty"`
	DefendingWaitingToDie []UnitID `json:"defendingWaitingToDie,omitempty"`
	AttackingRetreated    []UnitID `json:"attackingRetreated,omitempty"`
	DefendingRetreated    []UnitID `json:"defendingRetreated,omitempty"`

	AttackingFrom           map[string][]UnitID `json:"attackingFrom,omitempty"`
	AmphibiousFrom          []string            `json:"amphibiousFrom,omitempty"`
	AmphibiousLandAttackers []UnitID            `json:"amphibiousLandAttackers,omitempty"`
	IsAmphibious            bool                `json:"isAmphibious,omitempty"`
	Bombarding              []UnitID            `json:"bombarding,omitempty"`
	Paratroopers            []UnitID            `json:"paratroopers,omitempty"`
	Dependents              *DependencyGraph    `json:"dependents"`

	OffensiveAA      []UnitID `json:"offensiveAA,omitempty"`
	DefensiveAA      []UnitID `json:"defensiveAA,omitempty"`
	OffensiveAATypes []string `json:"offensiveAATypes,omitempty"`
	DefensiveAATypes []string `json:"defensiveAATypes,omitempty"`

	Round       int      `json:"round"`
	MaxRounds   int      `json:"maxRounds"`
	Started     bool     `json:"started,omitempty"`
	IsOver      bool     `json:"isOver,omitempty"`
	WhoWon      WhoWon   `json:"whoWon,omitempty"`
	Killed      []Unit   `json:"killed,omitempty"`
	StepStrings []string `json:"stepStrings,omitempty"`

	AttackerLostTUV int           `json:"attackerLostTuv,omitempty"`
	DefenderLostTUV int           `json:"defenderLostTuv,omitempty"`
	Record          *BattleRecord `json:"record,omitempty"`

	Stack ExecutionStack `json:"stack"`
}

// Clone returns a deep copy of the state.
func (s *BattleState) Clone() BattleState {
	c := *s
	ids := func(in []UnitID) []UnitID {
		if in == nil {
			return nil
		}
		return append([]UnitID{}, in...)
	}
	c.Attacking = ids(s.Attacking)
	c.Defending = ids(s.Defending)
	c.AttackingWaitingToDie = ids(s.AttackingWaitingToDie)
	c.DefendingWaitingToDie = ids(s.DefendingWaitingToDie)
	c.AttackingRetreated = ids(s.AttackingRetreated)
	c.DefendingRetreated = ids(s.DefendingRetreated)
	c.AmphibiousLandAttackers = ids(s.AmphibiousLandAttackers)
	c.Bombarding = ids(s.Bombarding)
	c.Paratroopers = ids(s.Paratroopers)
	c.OffensiveAA = ids(s.OffensiveAA)
	c.DefensiveAA = ids(s.DefensiveAA)
	c.AmphibiousFrom = append([]string(nil), s.AmphibiousFrom...)
	c.OffensiveAATypes = append([]string(nil), s.OffensiveAATypes...)
	c.DefensiveAATypes = append([]string(nil), s.DefensiveAATypes...)
	c.StepStrings = append([]string(nil), s.StepStrings...)
	c.Killed = append([]Unit(nil), s.Killed...)
	if s.AttackingFrom != nil {
		c.AttackingFrom = make(map[string][]UnitID, len(s.AttackingFrom))
		for k, v := range s.AttackingFrom {
			c.AttackingFrom[k] = ids(v)
		}
	}
	if s.Dependents != nil {
		c.Dependents = s.Dependents.Clone()
	}
	if s.Record != nil {
		r := *s.Record
		c.Record = &r
	}
	c.Stack = s.Stack.Clone()
	return c
}

// MustFightBattle is a battle between units that have to fight it out round
// by round until one side is eliminated, retreats, or the round limit is hit.
type MustFightBattle struct {
	State BattleState

	m     *MapModel
	rules Rules
	sched *BattleScheduler
}

// NewMustFightBattle creates a battle at site against whatever enemy units
// are there now. sched may be nil for a stand-alone battle.
func NewMustFightBattle(id, site string, attacker Player, m *MapModel, rules Rules, sched *BattleScheduler) *MustFightBattle {
	b := &MustFightBattle{m: m, rules: rules, sched: sched}
	b.State = BattleState{
		ID:            id,
		Site:          site,
		Attacker:      attacker,
		Defender:      findDefender(m, site, attacker),
		Attacking:     []UnitID{},
		Defending:     m.EnemyUnitsIn(attacker, site),
		AttackingFrom: make(map[string][]UnitID),
		Dependents:    NewDependencyGraph(),
		Round:         1,
		MaxRounds:     rules.maxRounds(m.IsWater(site)),
	}
	return b
}

// RestoreMustFightBattle rebinds a persisted state to a map model.
func RestoreMustFightBattle(state BattleState, m *MapModel, rules Rules, sched *BattleScheduler) *MustFightBattle {
	b := &MustFightBattle{State: state.Clone(), m: m, rules: rules, sched: sched}
	if b.State.Dependents == nil {
		b.State.Dependents = NewDependencyGraph()
	}
	if b.State.AttackingFrom == nil {
		b.State.AttackingFrom = make(map[string][]UnitID)
	}
	return b
}

// Snapshot returns a deep copy of the battle state, stack included.
func (b *MustFightBattle) Snapshot() BattleState { return b.State.Clone() }

// findDefender is the land owner when at war with the attacker, otherwise the
// enemy with the most units at the site.
func findDefender(m *MapModel, site string, attacker Player) Player {
	if owner := m.Owner(site); !m.IsWater(site) && m.IsEnemy(attacker, owner) {
		return owner
	}
	count := make(map[Player]int)
	for _, id := range m.EnemyUnitsIn(attacker, site) {
		count[m.Unit(id).Owner]++
	}
	best, bestN := m.Owner(site), 0
	players := make([]Player, 0, len(count))
	for p := range count {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i] < players[j] })
	for _, p := range players {
		if count[p] > bestN {
			best, bestN = p, count[p]
		}
	}
	return best
}

func (b *MustFightBattle) ID() string            { return b.State.ID }
func (b *MustFightBattle) Kind() BattleKind      { return KindMustFight }
func (b *MustFightBattle) Site() string          { return b.State.Site }
func (b *MustFightBattle) Attacker() Player      { return b.State.Attacker }
func (b *MustFightBattle) Defender() Player      { return b.State.Defender }
func (b *MustFightBattle) IsOver() bool          { return b.State.IsOver }
func (b *MustFightBattle) WhoWon() WhoWon        { return b.State.WhoWon }
func (b *MustFightBattle) Record() *BattleRecord { return b.State.Record }
func (b *MustFightBattle) Round() int            { return b.State.Round }

func (b *MustFightBattle) IsEmpty() bool {
	return len(b.State.Attacking) == 0 && len(b.State.AttackingWaitingToDie) == 0
}

func (b *MustFightBattle) AttackingFrom() map[string][]UnitID { return b.State.AttackingFrom }

func (b *MustFightBattle) AmphibiousAttackTerritories() []string {
	return append([]string(nil), b.State.AmphibiousFrom...)
}

func (b *MustFightBattle) RemainingAttackingUnits() []UnitID {
	return unionIDs(b.State.Attacking, b.State.AttackingRetreated)
}

func (b *MustFightBattle) RemainingDefendingUnits() []UnitID {
	return unionIDs(b.State.Defending, b.State.DefendingRetreated)
}

// DependentUnits returns the cargo of the given holders, including cargo
// they already unloaded into the fight.
func (b *MustFightBattle) DependentUnits(units []UnitID) []UnitID {
	return unionIDs(b.State.Dependents.DependentsOf(units), unloadedFromAny(b.m, b.State.Attacking, units))
}

// AddBombardingUnits registers ships that shell the site on the first round
// of an amphibious assault.
func (b *MustFightBattle) AddBombardingUnits(ids []UnitID) {
	b.State.Bombarding = unionIDs(b.State.Bombarding, ids)
}

func (b *MustFightBattle) player(side Side) Player {
	if side == AttackingSide {
		return b.State.Attacker
	}
	return b.State.Defender
}

func (b *MustFightBattle) units(side Side) []UnitID {
	if side == AttackingSide {
		return b.State.Attacking
	}
	return b.State.Defending
}

func (b *MustFightBattle) waitingToDie(side Side) []UnitID {
	if side == AttackingSide {
		return b.State.AttackingWaitingToDie
	}
	return b.State.DefendingWaitingToDie
}

// AddAttack joins units moving along route to the battle. The returned change
// carries the unit updates the move implies; the caller applies it.
func (b *MustFightBattle) AddAttack(route Route, units []UnitID) (Change, error) {
	s := &b.State
	m := b.m
	if s.IsOver {
		return Change{}, ErrBattleOver
	}
	change := CompositeChange()
	attacking := units
	if b.rules.WW2V2 {
		attacking = filterUnits(m, units, ownedBy(s.Attacker))
	}
	from := route.TerritoryBeforeEnd()
	s.Attacking = unionIDs(s.Attacking, attacking)
	s.AttackingFrom[from] = unionIDs(s.AttackingFrom[from], attacking)

	if m.IsWater(route.Start) && !m.IsWater(route.End()) && anyUnit(m, attacking, isLand) {
		if !containsString(s.AmphibiousFrom, from) {
			s.AmphibiousFrom = append(s.AmphibiousFrom, from)
		}
		land := filterUnits(m, attacking, isLand)
		s.AmphibiousLandAttackers = unionIDs(s.AmphibiousLandAttackers, land)
		s.IsAmphibious = true
		for _, id := range land {
			change.Add(UnitChange(m, id, func(u *Unit) { u.WasAmphibious = true }))
		}
	}

	deps := transporting(m, units)
	if !b.rules.AlliedAirIndependent {
		for carrier, planes := range CarrierMustMoveWith(m, units, units, s.Attacker) {
			fighters := filterUnits(m, planes, isAir)
			for _, f := range fighters {
				c := carrier
				change.Add(UnitChange(m, f, func(u *Unit) { u.TransportedBy = c }))
			}
			deps[carrier] = unionIDs(deps[carrier], fighters)
			s.Attacking = withoutIDs(s.Attacking, fighters)
		}
	}
	if m.Tech(s.Attacker).AirTransportable {
		for bomber, troops := range mapParatroopers(m, units) {
			for _, id := range troops {
				bb := bomber
				change.Add(UnitChange(m, id, func(u *Unit) { u.TransportedBy = bb }))
			}
			deps[bomber] = unionIDs(deps[bomber], troops)
			s.Paratroopers = unionIDs(s.Paratroopers, troops)
		}
	}
	s.Dependents.AddAll(deps)

	if !b.onlyIgnoredUnitsOnPath(route) {
		stay := filterUnits(m, attacking, not(isAir))
		if m.IsWater(s.Site) {
			stay = filterUnits(m, stay, not(isLand))
		}
		change.Add(markNoMovementChange(m, stay))
	}
	return change, nil
}

// RemoveAttack undoes AddAttack for units taken back before the battle.
func (b *MustFightBattle) RemoveAttack(route Route, units []UnitID) {
	s := &b.State
	m := b.m
	s.Attacking = withoutIDs(s.Attacking, units)
	from := route.TerritoryBeforeEnd()
	left := withoutIDs(s.AttackingFrom[from], units)
	if len(left) == 0 {
		delete(s.AttackingFrom, from)
	} else {
		s.AttackingFrom[from] = left
	}
	if m.IsWater(from) {
		if !m.IsWater(route.End()) {
			s.AmphibiousLandAttackers = withoutIDs(s.AmphibiousLandAttackers, filterUnits(m, units, isLand))
		}
		if !anyUnit(m, left, isLand) {
			s.AmphibiousFrom = withoutStrings(s.AmphibiousFrom, from)
			s.IsAmphibious = len(s.AmphibiousFrom) > 0
		}
	}
	s.Paratroopers = withoutIDs(s.Paratroopers, units)
	s.Dependents.RemoveCargo(units)
}

// onlyIgnoredUnitsOnPath reports whether every enemy on the route's sea
// zones is a unit movement may ignore.
func (b *MustFightBattle) onlyIgnoredUnitsOnPath(route Route) bool {
	steps := route.Steps
	if len(steps) == 0 {
		steps = []string{route.Start}
	}
	return onlyIgnoredEnemies(b.m, b.rules, b.State.Attacker, steps)
}

// onlyIgnoredEnemies is true when at least one of steps is water and the
// only enemies on steps are ones movement may ignore. Enemies on land
// always count.
func onlyIgnoredEnemies(m *MapModel, rules Rules, player Player, steps []string) bool {
	ignoreSubs, ignoreTransports := rules.IgnoreSubInMovement, rules.IgnoreTransportInMovement
	if !ignoreSubs && !ignoreTransports {
		return false
	}
	ignorable := func(u *Unit, t *UnitType) bool {
		if t.IsInfrastructure || !m.IsEnemy(player, u.Owner) {
			return true
		}
		if ignoreSubs && t.IsSub {
			return true
		}
		return ignoreTransports && (t.IsLand() || (t.IsTransport && t.Attack == 0))
	}
	valid := false
	for _, name := range steps {
		if !m.IsWater(name) {
			if m.HasEnemyUnits(player, name) {
				return false
			}
			continue
		}
		if !allUnits(m, m.UnitsIn(name), ignorable) {
			return false
		}
		valid = true
	}
	return valid
}

// mapParatroopers loads air-transportable land units onto air transports,
// in id order, while capacity lasts.
func mapParatroopers(m *MapModel, units []UnitID) map[UnitID][]UnitID {
	out := make(map[UnitID][]UnitID)
	troops := filterUnits(m, sortedIDs(units), func(u *Unit, t *UnitType) bool { return t.IsAirTransportable })
	for _, bomber := range filterUnits(m, sortedIDs(units), isAirTransport) {
		room := m.TypeOf(bomber).TransportCapacity
		for _, id := range troops {
			cost := m.TypeOf(id).TransportCost
			if cost > room {
				continue
			}
			room -= cost
			out[bomber] = append(out[bomber], id)
		}
		troops = withoutIDs(troops, out[bomber])
	}
	return out
}

func markNoMovementChange(m *MapModel, ids []UnitID) Change {
	c := CompositeChange()
	for _, id := range ids {
		ut := m.TypeOf(id)
		if ut == nil {
			continue
		}
		c.Add(UnitChange(m, id, func(u *Unit) {
			if u.Moved < ut.Movement {
				u.Moved = ut.Movement
			}
		}))
	}
	return c
}

// Fight runs the battle until it ends or a step fails. After a failure the
// stack keeps the failed step and the next call resumes from it.
func (b *MustFightBattle) Fight(ctx context.Context, br *Bridge) error {
	s := &b.State
	m := b.m
	b.removeUnitsThatNoLongerExist()
	if s.Stack.IsExecuting() {
		b.showBattle(br)
		br.display().ListBattleSteps(s.ID, s.StepStrings)
		return b.execute(ctx, br)
	}
	if s.IsOver {
		return nil
	}
	if !s.Started {
		s.Defending = m.EnemyUnitsIn(s.Attacker, s.Site)
	}
	br.historyf(s.ID, fmt.Sprintf("Battle in %s", s.Site), nil)
	if err := b.markAttackingTransports(br); err != nil {
		return err
	}
	b.writeUnitsToHistory(br)

	if len(filterUnits(m, s.Attacking, not(isInfrastructure))) == 0 {
		if err := b.endBattle(br); err != nil {
			return err
		}
		return b.defenderWins(br)
	}
	if len(filterUnits(m, s.Defending, not(isInfrastructure))) == 0 {
		if err := b.endBattle(br); err != nil {
			return err
		}
		return b.attackerWins(br)
	}
	s.Dependents.AddAll(transporting(m, s.Defending))
	s.Dependents.AddAll(transporting(m, s.Attacking))
	b.updateAA()
	s.StepStrings = b.DetermineStepStrings(true)
	b.showBattle(br)
	br.display().ListBattleSteps(s.ID, s.StepStrings)
	s.Started = true
	b.pushFightLoop(true)
	return b.execute(ctx, br)
}

func (b *MustFightBattle) execute(ctx context.Context, br *Bridge) error {
	return b.State.Stack.Execute(ctx, func(ctx context.Context, st Step) error {
		return b.runStep(ctx, br, st)
	})
}

func (b *MustFightBattle) showBattle(br *Bridge) {
	s := &b.State
	br.display().ShowBattle(s.ID, s.Site, s.Attacker, s.Defender,
		b.combatants(s.Attacking, AttackingSide), b.combatants(s.Defending, DefendingSide))
}

func (b *MustFightBattle) writeUnitsToHistory(br *Bridge) {
	s := &b.State
	for _, side := range []Side{AttackingSide, DefendingSide} {
		units := b.units(side)
		if len(units) == 0 {
			continue
		}
		verb := "attack"
		if side == DefendingSide {
			verb = "defend"
		}
		br.historyf(s.ID, fmt.Sprintf("%s %s with %s", b.player(side), verb, describeUnits(b.m, units)), units)
	}
}

// markAttackingTransports flags attacking transports as having been in combat.
func (b *MustFightBattle) markAttackingTransports(br *Bridge) error {
	c := CompositeChange()
	for _, id := range filterUnits(b.m, b.State.Attacking, matchAll(canTransport, isSea)) {
		c.Add(UnitChange(b.m, id, func(u *Unit) { u.WasInCombat = true }))
	}
	return br.AddChange(c)
}

// removeUnitsThatNoLongerExist drops units that left the site or died
// outside this battle.
func (b *MustFightBattle) removeUnitsThatNoLongerExist() {
	s := &b.State
	here := b.m.UnitsIn(s.Site)
	s.Attacking = intersectIDs(s.Attacking, here)
	s.Defending = intersectIDs(s.Defending, here)
	s.AttackingWaitingToDie = intersectIDs(s.AttackingWaitingToDie, here)
	s.DefendingWaitingToDie = intersectIDs(s.DefendingWaitingToDie, here)
	if s.Attacking == nil {
		s.Attacking = []UnitID{}
	}
	if s.Defending == nil {
		s.Defending = []UnitID{}
	}
}

func (b *MustFightBattle) pushFightLoop(firstRun bool) {
	if b.State.IsOver {
		return
	}
	b.State.Stack.Push(b.battleSteps(firstRun)...)
}

// battleSteps builds one round of work in execution order.
func (b *MustFightBattle) battleSteps(firstRun bool) []Step {
	s := &b.State
	var steps []Step
	offAA, defAA := len(s.OffensiveAA) > 0, len(s.DefensiveAA) > 0
	if offAA {
		steps = append(steps, Step{Kind: kindFireAA, Side: AttackingSide})
	}
	if defAA {
		steps = append(steps, Step{Kind: kindFireAA, Side: DefendingSide})
	}
	if offAA || defAA {
		steps = append(steps, Step{Kind: kindClearWaitingToDie})
	}
	if s.Round > 1 {
		steps = append(steps, Step{Kind: kindRemoveNonCombatants})
	}
	if firstRun {
		steps = append(steps,
			Step{Kind: kindBombard},
			Step{Kind: kindSuicideAttack, Side: AttackingSide},
			Step{Kind: kindSuicideDefend, Side: DefendingSide},
			Step{Kind: kindRemoveNonCombatants},
			Step{Kind: kindLandParatroops},
			Step{Kind: kindMarkNoMovement},
		)
	}
	if b.rules.SubRetreatBeforeBattle {
		steps = append(steps,
			Step{Kind: kindSubRetreatBefore, Side: AttackingSide},
			Step{Kind: kindSubRetreatBefore, Side: DefendingSide})
	}
	steps = append(steps, Step{Kind: kindCheckSuicide})
	if b.rules.TransportCasualtiesRestricted {
		steps = append(steps, Step{Kind: kindCheckTransports})
	}
	if b.rules.AirAttackSubRestricted {
		steps = append(steps, Step{Kind: kindSubmergeVsAir})
	}

	rfAtt, rfDef := b.returnFireAgainstAttackingSubs(), b.returnFireAgainstDefendingSubs()
	dsff := b.defenderSubsFireFirst()
	sneak3 := b.defendingSubsSneakAttack3()
	withAll := b.defendingSubsFireWithAllDefenders()
	if dsff {
		steps = append(steps, Step{Kind: kindDefendSubs, Side: DefendingSide, Return: rfDef})
	}
	steps = append(steps, Step{Kind: kindAttackSubs, Side: AttackingSide, Return: rfAtt})
	if sneak3 && !dsff && !withAll {
		steps = append(steps, Step{Kind: kindDefendSubs, Side: DefendingSide, Return: rfDef})
	}
	if b.rules.AirAttackSubRestricted {
		steps = append(steps, Step{Kind: kindAttackAirNonSubs, Side: AttackingSide, Return: ReturnFireAll})
	}
	steps = append(steps, Step{Kind: kindAttackNonSubs, Side: AttackingSide, Return: ReturnFireAll})
	if !dsff && (!sneak3 || withAll) {
		steps = append(steps, Step{Kind: kindDefendSubs, Side: DefendingSide, Return: rfDef})
	}
	if b.rules.AirAttackSubRestricted {
		steps = append(steps, Step{Kind: kindDefendAirNonSubs, Side: DefendingSide, Return: ReturnFireAll})
	}
	steps = append(steps,
		Step{Kind: kindDefendNonSubs, Side: DefendingSide, Return: ReturnFireAll},
		Step{Kind: kindClearWaitingToDie},
		Step{Kind: kindCheckSuicide},
		Step{Kind: kindEndCheck},
		Step{Kind: kindAttackerSubRetreat, Side: AttackingSide},
		Step{Kind: kindDefenderSubRetreat, Side: DefendingSide},
		Step{Kind: kindPlanesRetreat, Side: AttackingSide},
		Step{Kind: kindPartialAmphibRetreat, Side: AttackingSide},
		Step{Kind: kindAttackerRetreat, Side: AttackingSide},
		Step{Kind: kindNextRound},
	)
	return steps
}

// runStep is the dispatch table of the execution stack.
func (b *MustFightBattle) runStep(ctx context.Context, br *Bridge, st Step) error {
	switch st.Kind {
	case kindFireAA:
		b.fireAA(st.Side)
	case kindClearWaitingToDie:
		return b.clearWaitingToDie(br)
	case kindRemoveNonCombatants:
		b.removeNonCombatants(br)
	case kindBombard:
		return b.fireNavalBombardment(br)
	case kindSuicideAttack, kindSuicideDefend:
		b.fireSuicide(st.Side)
	case kindLandParatroops:
		return b.landParatroops(br)
	case kindMarkNoMovement:
		return br.AddChange(markNoMovementChange(b.m, filterUnits(b.m, b.State.Attacking, not(isAir))))
	case kindSubRetreatBefore:
		return b.subRetreatBeforeBattle(ctx, br, st.Side)
	case kindCheckSuicide:
		return b.checkSuicideUnits(br)
	case kindCheckTransports:
		return b.checkTransports(br)
	case kindSubmergeVsAir:
		return b.submergeSubsVsOnlyAir(br)
	case kindAttackSubs:
		b.attackSubs(st.Return)
	case kindDefendSubs:
		b.defendSubs(st.Return)
	case kindAttackAirNonSubs:
		b.attackAirOnNonSubs()
	case kindAttackNonSubs:
		b.attackNonSubs()
	case kindDefendAirNonSubs:
		b.defendAirOnNonSubs()
	case kindDefendNonSubs:
		b.defendNonSubs()
	case kindEndCheck:
		return b.endCheck(br)
	case kindAttackerSubRetreat:
		return b.attackerSubRetreat(ctx, br)
	case kindDefenderSubRetreat:
		return b.defenderSubRetreat(ctx, br)
	case kindPlanesRetreat:
		return b.planesRetreat(ctx, br)
	case kindPartialAmphibRetreat:
		return b.partialAmphibiousRetreat(ctx, br)
	case kindAttackerRetreat:
		return b.attackerRetreat(ctx, br)
	case kindNextRound:
		return b.nextRound(br)
	case kindLoop:
		b.pushFightLoop(false)
	case kindFireRoll:
		return b.fireRoll(br, st)
	case kindFireSelect:
		return b.fireSelect(ctx, br, st)
	case kindFireNotify:
		return b.fireNotify(br, st)
	case kindFireConfirm:
		return b.fireConfirm(ctx, br, st)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStep, st.Kind)
	}
	return nil
}

func (b *MustFightBattle) nextRound(br *Bridge) error {
	s := &b.State
	if s.IsOver {
		return nil
	}
	s.Round++
	b.updateAA()
	s.StepStrings = b.DetermineStepStrings(false)
	br.display().ListBattleSteps(s.ID, s.StepStrings)
	if !s.Stack.IsEmpty() {
		return invariantf("next round", "stack not empty in battle %s round %d", s.ID, s.Round)
	}
	s.Stack.Push(Step{Kind: kindLoop})
	return nil
}

// updateAA works out which AA units may fire this round and their types.
// Types run in reverse alphabetical order.
func (b *MustFightBattle) updateAA() {
	s := &b.State
	s.OffensiveAA = b.aaThatCanFire(unionIDs(s.Attacking, s.AttackingWaitingToDie), s.Defending, true)
	s.OffensiveAATypes = aaTypes(b.m, s.OffensiveAA)
	s.DefensiveAA = b.aaThatCanFire(unionIDs(s.Defending, s.DefendingWaitingToDie), s.Attacking, false)
	s.DefensiveAATypes = aaTypes(b.m, s.DefensiveAA)
}

func (b *MustFightBattle) aaThatCanFire(units, targets []UnitID, offensive bool) []UnitID {
	round := b.State.Round
	return filterUnits(b.m, units, func(u *Unit, t *UnitType) bool {
		if !t.AAFiresInRound(round) || u.Disabled || (offensive && !t.AAOffensive) {
			return false
		}
		return anyUnit(b.m, targets, func(_ *Unit, tt *UnitType) bool { return t.TargetsAA(tt) })
	})
}

func aaTypes(m *MapModel, ids []UnitID) []string {
	var types []string
	for _, id := range ids {
		if t := m.TypeOf(id); t != nil && !containsString(types, t.AAType) {
			types = append(types, t.AAType)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(types)))
	return types
}

// combatants filters out units that take no part in the fighting: land units
// at sea, infrastructure that cannot fight, disabled units and allied air
// riding on carriers.
func (b *MustFightBattle) combatants(units []UnitID, side Side) []UnitID {
	m := b.m
	water := m.IsWater(b.State.Site)
	round := b.State.Round
	out := filterUnits(m, units, func(u *Unit, t *UnitType) bool {
		if water && t.IsLand() {
			return false
		}
		if u.Disabled {
			return false
		}
		if t.IsInfrastructure && t.Strength(side) == 0 && t.Support == 0 && !t.AAFiresInRound(round) {
			return false
		}
		return !(u.TransportedBy != 0 && t.IsAir && t.CanLandOnCarrier())
	})
	if out == nil {
		out = []UnitID{}
	}
	return out
}

func (b *MustFightBattle) removeNonCombatants(br *Bridge) {
	s := &b.State
	att := b.combatants(s.Attacking, AttackingSide)
	def := b.combatants(s.Defending, DefendingSide)
	goneAtt, goneDef := withoutIDs(s.Attacking, att), withoutIDs(s.Defending, def)
	s.Attacking, s.Defending = att, def
	if len(goneDef) > 0 {
		br.display().ChangedUnitsNotification(s.ID, s.Defender, goneDef, nil)
	}
	if len(goneAtt) > 0 {
		br.display().ChangedUnitsNotification(s.ID, s.Attacker, goneAtt, nil)
	}
}

// landParatroops unloads the paratroopers; from now on they fight on their own.
func (b *MustFightBattle) landParatroops(br *Bridge) error {
	s := &b.State
	m := b.m
	if !m.Tech(s.Attacker).AirTransportable {
		return nil
	}
	bombers := filterUnits(m, m.UnitsIn(s.Site), isAirTransport)
	troops := intersectIDs(s.Dependents.DependentsOf(bombers), m.UnitsIn(s.Site))
	if len(troops) == 0 {
		return nil
	}
	c := CompositeChange()
	for _, id := range troops {
		c.Add(UnitChange(m, id, func(u *Unit) {
			u.UnloadedFrom = u.TransportedBy
			u.UnloadedTo = s.Site
			u.UnloadedInCombat = true
			u.TransportedBy = 0
		}))
	}
	if err := br.AddChange(c); err != nil {
		return err
	}
	s.Dependents.Remove(bombers)
	s.Attacking = unionIDs(s.Attacking, intersectIDs(s.Paratroopers, troops))
	return nil
}

// paratroopers lists the units still riding air transports into this battle.
func (b *MustFightBattle) paratroopers() []UnitID {
	return filterUnits(b.m, intersectIDs(b.State.Paratroopers, b.m.UnitsIn(b.State.Site)), isBeingCarried)
}

// bombardingUnits lists registered bombarding ships that are still afloat in
// a sea zone the assault came from.
func (b *MustFightBattle) bombardingUnits() []UnitID {
	s := &b.State
	if !s.IsAmphibious {
		return nil
	}
	var out []UnitID
	for _, id := range s.Bombarding {
		if loc := b.m.Locate(id); loc != "" && b.m.IsWater(loc) && b.m.IsAdjacent(loc, s.Site) {
			out = append(out, id)
		}
	}
	return out
}

func (b *MustFightBattle) clearWaitingToDie(br *Bridge) error {
	s := &b.State
	dying := unionIDs(s.AttackingWaitingToDie, s.DefendingWaitingToDie)
	if err := b.remove(br, dying, s.Site, AttackingSide, DefendingSide); err != nil {
		return err
	}
	s.AttackingWaitingToDie, s.DefendingWaitingToDie = nil, nil
	return nil
}

// remove kills units and their cargo. The dead leave the lists of the given
// sides. Battles that depend on this one lose the cargo too.
func (b *MustFightBattle) remove(br *Bridge, killed []UnitID, site string, sides ...Side) error {
	if len(killed) == 0 {
		return nil
	}
	s := &b.State
	m := b.m
	killed = unionIDs(killed, s.Dependents.DependentsOf(killed))
	present := intersectIDs(killed, m.UnitsIn(site))
	for _, id := range present {
		s.Killed = append(s.Killed, *m.Unit(id))
	}
	if len(present) > 0 {
		br.historyf(s.ID, fmt.Sprintf("%s lost in %s", describeUnits(m, present), site), present)
		if err := br.AddChange(RemoveUnitsChange(m, site, present)); err != nil {
			return err
		}
	}
	if blocked := b.sched.getBlocked(b); len(blocked) > 0 {
		for _, dep := range blocked {
			if err := dep.UnitsLostInPrecedingBattle(br, killed, false); err != nil {
				return err
			}
		}
	} else if err := b.removeFromNonCombatLandings(br, killed); err != nil {
		return err
	}
	for _, side := range sides {
		if side == AttackingSide {
			s.Attacking = withoutIDs(s.Attacking, killed)
		} else {
			s.Defending = withoutIDs(s.Defending, killed)
		}
	}
	s.Dependents.Remove(killed)
	return nil
}

// removeFromNonCombatLandings kills cargo that dead transports already put
// ashore this turn.
func (b *MustFightBattle) removeFromNonCombatLandings(br *Bridge, dead []UnitID) error {
	m := b.m
	for _, t := range dead {
		if kt := b.killedType(t); kt == nil || !kt.IsTransport {
			continue
		}
		lost := transportingAndUnloaded(m, t)
		byPlace := make(map[string][]UnitID)
		for _, id := range lost {
			if loc := m.Locate(id); loc != "" {
				byPlace[loc] = append(byPlace[loc], id)
			}
		}
		places := make([]string, 0, len(byPlace))
		for p := range byPlace {
			places = append(places, p)
		}
		sort.Strings(places)
		for _, p := range places {
			if err := b.remove(br, byPlace[p], p, AttackingSide); err != nil {
				return err
			}
		}
	}
	return nil
}

// killedType finds the type of a unit that may already be off the map.
func (b *MustFightBattle) killedType(id UnitID) *UnitType {
	if t := b.m.TypeOf(id); t != nil {
		return t
	}
	for i := len(b.State.Killed) - 1; i >= 0; i-- {
		if b.State.Killed[i].ID == id {
			return b.m.Catalog.Get(b.State.Killed[i].Type)
		}
	}
	return nil
}

// UnitsLostInPrecedingBattle removes units that died, or withdrew, in a
// battle this one depends on.
func (b *MustFightBattle) UnitsLostInPrecedingBattle(br *Bridge, units []UnitID, withdrawn bool) error {
	s := &b.State
	m := b.m
	lost := unionIDs(s.Dependents.DependentsOf(units), intersectIDs(units, s.Attacking))
	lost = unionIDs(lost, unloadedFromAny(m, s.Attacking, units))
	s.AmphibiousLandAttackers = withoutIDs(s.AmphibiousLandAttackers, lost)
	if len(s.AmphibiousLandAttackers) == 0 {
		s.IsAmphibious = false
		s.Bombarding = nil
	}
	s.Attacking = withoutIDs(s.Attacking, lost)
	lost = intersectIDs(lost, m.UnitsIn(s.Site))
	if !withdrawn {
		if err := b.remove(br, lost, s.Site, AttackingSide); err != nil {
			return err
		}
	}
	if len(s.Attacking) == 0 && !s.IsOver {
		s.IsOver = true
		s.WhoWon = WonDefender
		s.AttackerLostTUV = b.lostTUV(AttackingSide)
		s.DefenderLostTUV = b.lostTUV(DefendingSide)
		b.writeRecord(ResultLost)
		b.sched.removeBattle(b)
	}
	return nil
}

// Cancel ends the battle as a draw without further fighting.
func (b *MustFightBattle) Cancel(br *Bridge) error {
	s := &b.State
	if s.IsOver {
		return nil
	}
	s.Stack = ExecutionStack{}
	if err := b.endBattle(br); err != nil {
		return err
	}
	s.WhoWon = WonDraw
	br.display().BattleEnd(s.ID, "Battle cancelled")
	b.writeRecord(ResultStalemate)
	return nil
}

// describeUnits renders units as "2 infantry, 1 armour" in type order.
func describeUnits(m *MapModel, ids []UnitID) string {
	count := make(map[string]int)
	for _, id := range ids {
		if u := m.Unit(id); u != nil {
			count[u.Type]++
		}
	}
	names := make([]string, 0, len(count))
	for n := range count {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%d %s", count[n], n)
	}
	return strings.Join(parts, ", ")
}
