package battle

import (
	"context"
	"fmt"
	"sort"
)

// maxSelectionAttempts is how many invalid casualty selections a player may
// send before the default selection is used.
const maxSelectionAttempts = 3

// absorb is the number of hits a unit can still take, killing hit included.
func absorb(m *MapModel, id UnitID) int {
	u, t := m.Unit(id), m.TypeOf(id)
	if u == nil || t == nil {
		return 1
	}
	if left := t.HP() - u.Hits; left > 1 {
		return left
	}
	return 1
}

func totalAbsorb(m *MapModel, ids []UnitID) int {
	n := 0
	for _, id := range ids {
		n += absorb(m, id)
	}
	return n
}

// eligibleCasualties narrows targets to units that may be chosen as
// casualties of this kind of fire.
func (b *MustFightBattle) eligibleCasualties(targets []UnitID, mode FireMode) []UnitID {
	m := b.m
	out := filterUnits(m, targets, func(_ *Unit, t *UnitType) bool {
		if t.IsInfrastructure {
			return false
		}
		return mode == FireNormal || !t.IsAA()
	})
	if b.rules.TransportCasualtiesRestricted && m.IsWater(b.State.Site) {
		if others := filterUnits(m, out, not(isNonCombatTransport)); len(others) > 0 {
			out = others
		}
	}
	return out
}

// selectCasualties asks the owner of the hit units which of them take the
// hits. Invalid answers are logged and asked again; after
// maxSelectionAttempts the default selection is used.
func (b *MustFightBattle) selectCasualties(ctx context.Context, br *Bridge, st Step) (CasualtyDetails, error) {
	s := &b.State
	m := b.m
	hitSide := st.Side.Other()
	hitPlayer := b.player(hitSide)
	hits := st.Roll.Hits
	eligible := b.eligibleCasualties(intersectIDs(onMap(m, st.Targets), b.units(hitSide)), st.Mode)
	if hits == 0 || len(eligible) == 0 {
		return CasualtyDetails{}, nil
	}
	if hits >= totalAbsorb(m, eligible) {
		return CasualtyDetails{Killed: eligible, AutoCalculated: true}, nil
	}
	var preferred []UnitID
	if hitSide == AttackingSide && s.IsAmphibious {
		preferred = s.AmphibiousLandAttackers
	}
	def := defaultCasualties(m, eligible, hits, preferred)
	q := CasualtyQuery{
		BattleID: s.ID,
		Step:     st.Text,
		Player:   hitPlayer,
		Site:     s.Site,
		Eligible: eligible,
		Hits:     hits,
		Dice:     *st.Roll,
		Default:  def,
	}
	for _, id := range eligible {
		if cargo := s.Dependents.Dependents(id); len(cargo) > 0 {
			if q.Dependents == nil {
				q.Dependents = make(map[UnitID][]UnitID)
			}
			q.Dependents[id] = cargo
		}
	}
	rp := br.Player(hitPlayer)
	for attempt := 1; ; attempt++ {
		d, err := rp.SelectCasualties(ctx, q)
		if err != nil {
			return CasualtyDetails{}, remoteErr("select casualties", err)
		}
		verr := validateCasualties(m, eligible, hits, d)
		if verr == nil {
			return d, nil
		}
		br.historyf(s.ID, fmt.Sprintf("%s: %v", hitPlayer, verr), nil)
		if attempt >= maxSelectionAttempts {
			def.AutoCalculated = true
			return def, nil
		}
	}
}

// validateCasualties checks a selection against the eligible units and the
// number of hits to absorb.
func validateCasualties(m *MapModel, eligible []UnitID, hits int, d CasualtyDetails) error {
	in := idSet(eligible)
	killed := make(map[UnitID]bool, len(d.Killed))
	for _, id := range d.Killed {
		if !in[id] {
			return &CasualtySelectionError{Message: fmt.Sprintf("unit %d cannot be a casualty", id)}
		}
		if killed[id] {
			return &CasualtySelectionError{Message: fmt.Sprintf("unit %d selected twice", id)}
		}
		killed[id] = true
	}
	damage := make(map[UnitID]int)
	for _, id := range d.Damaged {
		if !in[id] {
			return &CasualtySelectionError{Message: fmt.Sprintf("unit %d cannot be damaged", id)}
		}
		if killed[id] {
			return &CasualtySelectionError{Message: fmt.Sprintf("unit %d is both killed and damaged", id)}
		}
		damage[id]++
	}
	for id, n := range damage {
		if n > absorb(m, id)-1 {
			return &CasualtySelectionError{Message: fmt.Sprintf("unit %d cannot take %d more hits without dying", id, n)}
		}
	}
	if got := totalAbsorb(m, d.Killed) + len(d.Damaged); got != hits {
		return &CasualtySelectionError{Message: fmt.Sprintf("selection absorbs %d hits, want %d", got, hits)}
	}
	if tuv, min := unitsTUV(m, d.Killed), minKilledTUV(m, eligible, hits); tuv < min {
		return &CasualtySelectionError{Message: fmt.Sprintf("selection loses %d TUV, less than the minimum %d", tuv, min)}
	}
	return nil
}

// minKilledTUV is the value lost by the cheapest valid selection.
func minKilledTUV(m *MapModel, eligible []UnitID, hits int) int {
	return unitsTUV(m, defaultCasualties(m, eligible, hits, nil).Killed)
}

// defaultCasualties damages multi-hit units first, then kills the cheapest
// units. Preferred units die before any other.
func defaultCasualties(m *MapModel, eligible []UnitID, hits int, preferred []UnitID) CasualtyDetails {
	var d CasualtyDetails
	left := hits
	for _, id := range sortedIDs(eligible) {
		for n := absorb(m, id) - 1; n > 0 && left > 0; n-- {
			d.Damaged = append(d.Damaged, id)
			left--
		}
	}
	if left == 0 {
		return d
	}
	pref := idSet(preferred)
	order := sortedIDs(eligible)
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if pref[a] != pref[b] {
			return pref[a]
		}
		return m.TypeOf(a).Cost < m.TypeOf(b).Cost
	})
	for _, id := range order {
		if left <= 0 {
			break
		}
		dmg := 0
		for _, x := range d.Damaged {
			if x == id {
				dmg++
			}
		}
		d.Killed = append(d.Killed, id)
		d.Damaged = withoutIDs(d.Damaged, []UnitID{id})
		left -= absorb(m, id) - dmg
	}
	return d
}
