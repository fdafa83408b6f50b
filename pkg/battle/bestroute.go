package battle

import "sort"

// BestRoute finds a shortest route from start to end for units, preferring
// routes that avoid enemies, enemy AA and neutrals as long as they are no
// longer than the plain shortest route. The end itself is never filtered
// by those preferences.
func BestRoute(m *MapModel, rules Rules, player Player, start, end string, units []UnitID) (Route, bool) {
	var found Route
	var ok bool
	m.ReadLocked(func() {
		found, ok = bestRoute(m, rules, player, start, end, units)
	})
	return found, ok
}

func bestRoute(m *MapModel, rules Rules, player Player, start, end string, units []UnitID) (Route, bool) {
	if m.Territory(start) == nil || m.Territory(end) == nil {
		return Route{}, false
	}
	if start == end {
		return NewRoute(start), true
	}
	allAir := len(units) > 0 && allUnits(m, units, isAir)
	passable := func(name string) bool {
		t := m.Territory(name)
		if t.Impassable {
			return false
		}
		if m.IsNeutral(name) && (rules.NeutralsImpassable || (allAir && !rules.NeutralFlyoverAllowed)) {
			return false
		}
		return true
	}
	best, ok := findRoute(m, start, end, passable)
	if !ok {
		return findRoute(m, start, end, func(string) bool { return true })
	}
	shorter := func(cond func(string) bool) bool {
		r, ok := findRoute(m, start, end, func(name string) bool { return passable(name) && cond(name) })
		if ok && r.Len() <= best.Len() {
			best = r
			return true
		}
		return false
	}
	land := func(name string) bool { return !m.IsWater(name) }
	switch {
	case land(start) && land(end):
		shorter(land)
	case m.IsWater(start) && m.IsWater(end):
		shorter(m.IsWater)
	}

	preferred := best
	exceptEnd := func(cond func(string) bool) func(string) bool {
		return func(name string) bool { return name == end || cond(name) }
	}
	noEnemy := func(name string) bool {
		return !m.IsEnemyTerritory(player, name) && !m.HasEnemyUnits(player, name)
	}
	noAA := func(name string) bool {
		return !anyUnit(m, m.EnemyUnitsIn(player, name), func(_ *Unit, t *UnitType) bool { return t.IsAA() })
	}
	noNeutral := func(name string) bool { return !m.IsNeutral(name) }
	both := func(a, b func(string) bool) func(string) bool {
		return func(name string) bool { return a(name) && b(name) }
	}
	for _, cond := range []func(string) bool{
		both(noEnemy, noNeutral),
		both(noAA, noNeutral),
		noEnemy,
		noAA,
		noNeutral,
	} {
		r, ok := findRoute(m, start, end, both(passable, exceptEnd(cond)))
		if ok && r.Len() <= preferred.Len() {
			return r, true
		}
	}
	return preferred, true
}

// findRoute is a breadth-first search over territories accepted by cond.
// Neighbours are visited in name order so equal-length routes resolve the
// same way every time.
func findRoute(m *MapModel, start, end string, cond func(string) bool) (Route, bool) {
	prev := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == end {
			break
		}
		next := append([]string(nil), m.Neighbors(cur)...)
		sort.Strings(next)
		for _, n := range next {
			if _, seen := prev[n]; seen || m.Territory(n) == nil || !cond(n) {
				continue
			}
			prev[n] = cur
			queue = append(queue, n)
		}
	}
	if _, ok := prev[end]; !ok {
		return Route{}, false
	}
	var steps []string
	for at := end; at != start; at = prev[at] {
		steps = append(steps, at)
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return NewRoute(start, steps...), true
}
