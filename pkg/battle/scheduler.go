package battle

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// BattleScheduler holds the battles created by one player's combat move
// and fights them in dependency order. A land battle fed by an amphibious
// assault waits for the sea battle in the zone the cargo came from.
//
// Like the battles themselves it is owned by the game goroutine.
type BattleScheduler struct {
	m     *MapModel
	rules Rules
	newID func() string

	pending   []Battle
	finished  map[string]Battle
	deps      map[string][]string // battle id -> ids it waits for
	conquered map[string]bool
	blitzed   map[string]bool
	fought    map[string]bool
	records   []BattleRecord
	landing   []LandingEntry
}

type SchedulerOption func(*BattleScheduler)

// WithIDGenerator replaces the random battle ids, mostly for tests.
func WithIDGenerator(fn func() string) SchedulerOption {
	return func(s *BattleScheduler) { s.newID = fn }
}

func NewBattleScheduler(m *MapModel, rules Rules, opts ...SchedulerOption) *BattleScheduler {
	s := &BattleScheduler{
		m:         m,
		rules:     rules,
		newID:     uuid.NewString,
		finished:  make(map[string]Battle),
		deps:      make(map[string][]string),
		conquered: make(map[string]bool),
		blitzed:   make(map[string]bool),
		fought:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Battles returns the pending battles in the order they were created.
func (s *BattleScheduler) Battles() []Battle {
	return append([]Battle(nil), s.pending...)
}

// PendingBattle returns the unfought battle at site, or nil.
func (s *BattleScheduler) PendingBattle(site string) Battle {
	if s == nil {
		return nil
	}
	for _, b := range s.pending {
		if b.Site() == site {
			return b
		}
	}
	return nil
}

// Battle finds a pending or finished battle by id.
func (s *BattleScheduler) Battle(id string) Battle {
	for _, b := range s.pending {
		if b.ID() == id {
			return b
		}
	}
	return s.finished[id]
}

func (s *BattleScheduler) Records() []BattleRecord {
	return append([]BattleRecord(nil), s.records...)
}

func (s *BattleScheduler) LandingQueue() []LandingEntry {
	return append([]LandingEntry(nil), s.landing...)
}

func (s *BattleScheduler) WasConquered(site string) bool { return s != nil && s.conquered[site] }

func (s *BattleScheduler) WasBlitzed(site string) bool { return s != nil && s.blitzed[site] }

func (s *BattleScheduler) foughtOver(site string) bool { return s != nil && s.fought[site] }

// AddAttack joins units that moved along route to the battle at its end,
// creating the battle if the move needs one. The units must already be at
// the end of the route. Empty enemy land crossed on the way is taken at
// once. It returns the battle, or nil when the move causes none.
func (s *BattleScheduler) AddAttack(br *Bridge, route Route, units []UnitID, player Player) (Battle, error) {
	m := s.m
	site := route.End()
	if m.Territory(site) == nil {
		return nil, invariantf("AddAttack", "unknown territory %q", site)
	}
	if err := s.blitzThrough(br, route, units, player); err != nil {
		return nil, err
	}

	b := s.PendingBattle(site)
	if b == nil {
		var kind BattleKind
		switch enemies := filterUnits(m, m.EnemyUnitsIn(player, site), not(isInfrastructure)); {
		case len(enemies) > 0:
			kind = KindMustFight
		case m.IsEnemyTerritory(player, site) && anyUnit(m, units, not(isAir)):
			kind = KindNonFighting
		default:
			return nil, nil
		}
		b = s.newBattle(kind, site, player, route)
		s.pending = append(s.pending, b)
		if br.History != nil {
			br.History.Append(Event{Kind: EventBattleScheduled, BattleID: b.ID(), Site: site, Attacker: player, Defender: b.Defender()})
		}
	} else if b.Attacker() != player {
		return nil, invariantf("AddAttack", "%s already attacks %s", b.Attacker(), site)
	}

	change, err := b.AddAttack(route, units)
	if err != nil {
		return nil, err
	}
	if err := br.AddChange(change); err != nil {
		return nil, err
	}
	if from := route.TerritoryBeforeEnd(); m.IsWater(from) && !m.IsWater(site) {
		if sea := s.PendingBattle(from); sea != nil && sea != b {
			s.addDependency(b, sea)
		}
	}
	return b, nil
}

func (s *BattleScheduler) newBattle(kind BattleKind, site string, player Player, route Route) Battle {
	if kind == KindMustFight {
		return NewMustFightBattle(s.newID(), site, player, s.m, s.rules, s)
	}
	b := newNonFightingBattle(s.newID(), site, player, s.m, s)
	b.Blitz = route.AnyMiddle(s.WasBlitzed)
	return b
}

// blitzThrough takes the empty enemy land a land move passes through.
func (s *BattleScheduler) blitzThrough(br *Bridge, route Route, units []UnitID, player Player) error {
	m := s.m
	land := filterUnits(m, units, isLand)
	if len(land) == 0 {
		return nil
	}
	for _, name := range route.MiddleSteps() {
		if !m.IsEnemyTerritory(player, name) || anyUnit(m, m.EnemyUnitsIn(player, name), not(isInfrastructure)) {
			continue
		}
		s.blitzed[name] = true
		br.historyf("", fmt.Sprintf("%s blitzes through %s", player, name), land)
		if err := s.takeOver(br, name, player, land); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAttack takes units back out of the battle at the end of route. A
// battle left without attackers is dropped.
func (s *BattleScheduler) RemoveAttack(route Route, units []UnitID) {
	if b := s.PendingBattle(route.End()); b != nil {
		b.RemoveAttack(route, units)
		if b.IsEmpty() {
			s.removeBattle(b)
			delete(s.finished, b.ID())
		}
	}
	for _, name := range route.MiddleSteps() {
		delete(s.blitzed, name)
		delete(s.conquered, name)
	}
}

// Bombard assigns ships to shell the amphibious assault at site. Ships
// must be able to bombard and sit in a sea zone the assault came from.
func (s *BattleScheduler) Bombard(site string, ships []UnitID, player Player) error {
	b, ok := s.PendingBattle(site).(*MustFightBattle)
	if !ok {
		return fmt.Errorf("bombard %s: %w", site, ErrNoBattle)
	}
	if !b.State.IsAmphibious {
		return fmt.Errorf("bombard %s: %w: not an amphibious assault", site, ErrIllegalBombard)
	}
	from := b.AmphibiousAttackTerritories()
	for _, id := range ships {
		u, ut := s.m.Unit(id), s.m.TypeOf(id)
		switch {
		case u == nil || ut == nil:
			return fmt.Errorf("bombard %s: %w: unit %d does not exist", site, ErrIllegalBombard, id)
		case u.Owner != player:
			return fmt.Errorf("bombard %s: %w: unit %d is not owned by %s", site, ErrIllegalBombard, id, player)
		case ut.Bombard <= 0:
			return fmt.Errorf("bombard %s: %w: %s cannot bombard", site, ErrIllegalBombard, ut.Name)
		case !containsString(from, s.m.Locate(id)):
			return fmt.Errorf("bombard %s: %w: %s is not in a sea zone the assault came from", site, ErrIllegalBombard, ut.Name)
		}
	}
	b.AddBombardingUnits(ships)
	return nil
}

// Dependencies returns the pending battles b waits for.
func (s *BattleScheduler) Dependencies(b Battle) []Battle {
	var out []Battle
	for _, id := range s.deps[b.ID()] {
		if dep := s.pendingByID(id); dep != nil {
			out = append(out, dep)
		}
	}
	return out
}

// getBlocked returns the pending battles waiting for b.
func (s *BattleScheduler) getBlocked(b Battle) []Battle {
	if s == nil {
		return nil
	}
	var out []Battle
	for _, p := range s.pending {
		if containsString(s.deps[p.ID()], b.ID()) {
			out = append(out, p)
		}
	}
	return out
}

func (s *BattleScheduler) addDependency(blocked, blocking Battle) {
	if !containsString(s.deps[blocked.ID()], blocking.ID()) {
		s.deps[blocked.ID()] = append(s.deps[blocked.ID()], blocking.ID())
	}
}

func (s *BattleScheduler) pendingByID(id string) Battle {
	for _, b := range s.pending {
		if b.ID() == id {
			return b
		}
	}
	return nil
}

func (s *BattleScheduler) removeBattle(b Battle) {
	if s == nil {
		return
	}
	for i, p := range s.pending {
		if p.ID() == b.ID() {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			break
		}
	}
	delete(s.deps, b.ID())
	for id, waits := range s.deps {
		if left := withoutStrings(waits, b.ID()); len(left) > 0 {
			s.deps[id] = left
		} else {
			delete(s.deps, id)
		}
	}
	s.finished[b.ID()] = b
}

func (s *BattleScheduler) addRecord(rec BattleRecord) {
	if s == nil {
		return
	}
	s.records = append(s.records, rec)
	if rec.Kind == KindMustFight {
		s.fought[rec.Site] = true
	}
}

// takeOver gives site to player and remembers it was taken this turn.
func (s *BattleScheduler) takeOver(br *Bridge, site string, player Player, units []UnitID) error {
	if s != nil && br.Map.IsEnemyTerritory(player, site) {
		s.conquered[site] = true
	}
	return takeover(br, site, player)
}

func (s *BattleScheduler) addDefendingAirThatCanNotLand(battleID string, units []UnitID, site string) {
	if s == nil || len(units) == 0 {
		return
	}
	s.landing = append(s.landing, LandingEntry{BattleID: battleID, Site: site, Units: sortedIDs(units), Defending: true})
}

func (s *BattleScheduler) addAttackingAirToLand(battleID string, units []UnitID, site string) {
	if s == nil || len(units) == 0 {
		return
	}
	s.landing = append(s.landing, LandingEntry{BattleID: battleID, Site: site, Units: sortedIDs(units)})
}

// Fight fights one pending battle. It fails with ErrBattleBlocked while a
// battle it depends on is still pending. A remote error leaves the battle
// pending so a later call resumes it.
func (s *BattleScheduler) Fight(ctx context.Context, br *Bridge, id string) error {
	b := s.pendingByID(id)
	if b == nil {
		return fmt.Errorf("fight %s: %w", id, ErrNoBattle)
	}
	if deps := s.Dependencies(b); len(deps) > 0 {
		return fmt.Errorf("fight %s: %w by the battle in %s", b.Site(), ErrBattleBlocked, deps[0].Site())
	}
	if err := b.Fight(ctx, br); err != nil {
		return fmt.Errorf("fight %s: %w", b.Site(), err)
	}
	if !b.IsOver() {
		return invariantf("Fight", "battle in %s stopped without ending", b.Site())
	}
	s.removeBattle(b)
	return nil
}

// FightAll fights every pending battle, each once the battles it depends
// on are done, then settles the planes left looking for a place to land.
func (s *BattleScheduler) FightAll(ctx context.Context, br *Bridge) error {
	for {
		next := s.nextFightable()
		if next == nil {
			break
		}
		if err := s.Fight(ctx, br, next.ID()); err != nil {
			return err
		}
	}
	if len(s.pending) > 0 {
		sites := make([]string, len(s.pending))
		for i, b := range s.pending {
			sites[i] = b.Site()
		}
		return invariantf("FightAll", "battles in %v wait on each other", sites)
	}
	return s.ResolveLandings(br)
}

func (s *BattleScheduler) nextFightable() Battle {
	for _, b := range s.pending {
		if len(s.Dependencies(b)) == 0 {
			return b
		}
	}
	return nil
}

// Cancel ends the battle at site as a draw and cancels the battles that
// depend on it.
func (s *BattleScheduler) Cancel(br *Bridge, site string) error {
	b := s.PendingBattle(site)
	if b == nil {
		return fmt.Errorf("cancel %s: %w", site, ErrNoBattle)
	}
	return s.cancel(br, b)
}

func (s *BattleScheduler) cancel(br *Bridge, b Battle) error {
	blocked := s.getBlocked(b)
	if err := b.Cancel(br); err != nil {
		return fmt.Errorf("cancel %s: %w", b.Site(), err)
	}
	s.removeBattle(b)
	for _, dep := range blocked {
		if dep.IsOver() {
			continue
		}
		if err := s.cancel(br, dep); err != nil {
			return err
		}
	}
	return nil
}

// ResolveLandings finds a spot for every queued plane and flies it there,
// spending the distance. Defending planes fly to the nearest spot within
// one move; planes with nowhere to go are destroyed.
func (s *BattleScheduler) ResolveLandings(br *Bridge) error {
	m := s.m
	queue := s.landing
	s.landing = nil
	var queued []UnitID
	for _, e := range queue {
		queued = append(queued, e.Units...)
	}
	landers := make(map[Player]*airLanding)
	for _, e := range queue {
		moves := make(map[string][]UnitID)
		spent := make(map[UnitID]int)
		lost := make(map[Player][]UnitID)
		for _, id := range sortedIDs(intersectIDs(e.Units, m.UnitsIn(e.Site))) {
			p := m.Unit(id).Owner
			al := landers[p]
			if al == nil {
				al = newAirLanding(m, s.rules, p, queued)
				al.avoid = s.WasConquered
				landers[p] = al
			}
			spot, dist, ok := al.reserve(id, e.Site, landingReach(m, id, e.Defending))
			switch {
			case !ok:
				lost[p] = append(lost[p], id)
			case spot != e.Site:
				moves[spot] = append(moves[spot], id)
				spent[id] = dist
			}
		}
		for _, spot := range sortedStringKeys(moves) {
			ids := moves[spot]
			br.historyf(e.BattleID, fmt.Sprintf("%s land in %s", describeUnits(m, ids), spot), ids)
			c := CompositeChange()
			for _, id := range ids {
				dist := spent[id]
				c.Add(UnitChange(m, id, func(u *Unit) {
					u.Moved += dist
					u.TransportedBy = 0
				}))
			}
			c.Add(MoveUnitsChange(e.Site, spot, ids))
			if err := br.AddChange(c); err != nil {
				return err
			}
		}
		for _, p := range sortedPlayers(lost) {
			ids := lost[p]
			br.historyf(e.BattleID, fmt.Sprintf("%s could not land and were destroyed", describeUnits(m, ids)), ids)
			if err := br.AddChange(RemoveUnitsChange(m, e.Site, ids)); err != nil {
				return err
			}
			br.display().DeadUnitNotification(e.BattleID, p, ids)
		}
	}
	return nil
}

// EndTurn clears the per-turn unit flags of player and forgets this
// turn's conquests and records.
func (s *BattleScheduler) EndTurn(br *Bridge, player Player) error {
	if len(s.pending) > 0 {
		return invariantf("EndTurn", "%d battles still pending", len(s.pending))
	}
	if err := br.AddChange(EndTurnChange(s.m, player)); err != nil {
		return err
	}
	s.finished = make(map[string]Battle)
	s.conquered = make(map[string]bool)
	s.blitzed = make(map[string]bool)
	s.fought = make(map[string]bool)
	s.records = nil
	return nil
}

// EndTurnChange resets movement and transport bookkeeping of player's units
// and surfaces every submerged sub.
func EndTurnChange(m *MapModel, player Player) Change {
	c := CompositeChange()
	for _, id := range sortedKeys(m.Units) {
		u := m.Units[id]
		own := u.Owner == player
		if !own && !u.Submerged && !u.WasInCombat {
			continue
		}
		c.Add(UnitChange(m, id, func(x *Unit) {
			x.Submerged = false
			x.WasInCombat = false
			if !own {
				return
			}
			x.Moved = 0
			x.WasAmphibious = false
			x.UnloadedFrom = 0
			x.UnloadedTo = ""
			x.UnloadedInCombat = false
			x.LoadedThisTurn = false
			x.LaunchedThisTurn = false
		}))
	}
	return c
}

// SchedulerState is the persisted form of a scheduler between calls.
type SchedulerState struct {
	Pending      []BattleSnapshot    `json:"pending,omitempty"`
	Dependencies map[string][]string `json:"dependencies,omitempty"`
	Conquered    []string            `json:"conquered,omitempty"`
	Blitzed      []string            `json:"blitzed,omitempty"`
	FoughtOver   []string            `json:"foughtOver,omitempty"`
	Records      []BattleRecord      `json:"records,omitempty"`
	Landing      []LandingEntry      `json:"landing,omitempty"`
}

// BattleSnapshot holds exactly one of its battle fields, chosen by Kind.
type BattleSnapshot struct {
	Kind        BattleKind         `json:"kind"`
	MustFight   *BattleState       `json:"mustFight,omitempty"`
	NonFighting *NonFightingBattle `json:"nonFighting,omitempty"`
}

// Snapshot deep-copies the pending battles, stacks included, and the
// per-turn bookkeeping.
func (s *BattleScheduler) Snapshot() SchedulerState {
	st := SchedulerState{
		Dependencies: make(map[string][]string, len(s.deps)),
		Conquered:    sortedTrue(s.conquered),
		Blitzed:      sortedTrue(s.blitzed),
		FoughtOver:   sortedTrue(s.fought),
		Records:      s.Records(),
		Landing:      s.LandingQueue(),
	}
	for id, waits := range s.deps {
		st.Dependencies[id] = append([]string(nil), waits...)
	}
	for _, b := range s.pending {
		switch b := b.(type) {
		case *MustFightBattle:
			state := b.Snapshot()
			st.Pending = append(st.Pending, BattleSnapshot{Kind: KindMustFight, MustFight: &state})
		case *NonFightingBattle:
			st.Pending = append(st.Pending, BattleSnapshot{Kind: KindNonFighting, NonFighting: b.clone()})
		}
	}
	return st
}

// RestoreBattleScheduler rebuilds a scheduler and its battles over m.
func RestoreBattleScheduler(st SchedulerState, m *MapModel, rules Rules, opts ...SchedulerOption) (*BattleScheduler, error) {
	s := NewBattleScheduler(m, rules, opts...)
	for _, snap := range st.Pending {
		switch {
		case snap.Kind == KindMustFight && snap.MustFight != nil:
			s.pending = append(s.pending, RestoreMustFightBattle(*snap.MustFight, m, rules, s))
		case snap.Kind == KindNonFighting && snap.NonFighting != nil:
			b := snap.NonFighting.clone()
			b.m, b.sched = m, s
			s.pending = append(s.pending, b)
		default:
			return nil, invariantf("RestoreBattleScheduler", "bad battle snapshot of kind %q", snap.Kind)
		}
	}
	for id, waits := range st.Dependencies {
		s.deps[id] = append([]string(nil), waits...)
	}
	for _, name := range st.Conquered {
		s.conquered[name] = true
	}
	for _, name := range st.Blitzed {
		s.blitzed[name] = true
	}
	for _, name := range st.FoughtOver {
		s.fought[name] = true
	}
	s.records = append([]BattleRecord(nil), st.Records...)
	s.landing = append([]LandingEntry(nil), st.Landing...)
	return s, nil
}

func sortedTrue(set map[string]bool) []string {
	var out []string
	for k, v := range set {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func sortedStringKeys[V any](mp map[string]V) []string {
	keys := make([]string, 0, len(mp))
	for k := range mp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPlayers[V any](mp map[Player]V) []Player {
	keys := make([]Player, 0, len(mp))
	for k := range mp {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
