package battle

import "sort"

// airLanding hands out landing spots to planes one at a time. Carrier
// space taken by one plane is not offered to the next.
type airLanding struct {
	m      *MapModel
	rules  Rules
	player Player
	// avoid rules out land the planes may not use, such as territory
	// taken this turn.
	avoid   func(string) bool
	exclude map[UnitID]bool
	free    map[string]int
	extra   map[string]int
}

func newAirLanding(m *MapModel, rules Rules, player Player, planes []UnitID) *airLanding {
	return &airLanding{
		m:       m,
		rules:   rules,
		player:  player,
		exclude: idSet(planes),
		free:    make(map[string]int),
		extra:   make(map[string]int),
	}
}

// addCarriers counts carriers that will be in name but are not there yet.
func (a *airLanding) addCarriers(name string, carriers []UnitID) {
	a.extra[name] += carrierCapacity(a.m, filterUnits(a.m, carriers, isCarrier))
}

// freeCarrierSpace is what allied carriers in name can still take once
// the planes already there are aboard.
func (a *airLanding) freeCarrierSpace(name string) int {
	if n, ok := a.free[name]; ok {
		return n
	}
	m := a.m
	here := m.UnitsIn(name)
	allied := func(u *Unit, _ *UnitType) bool { return m.IsAllied(a.player, u.Owner) }
	capacity := carrierCapacity(m, filterUnits(m, here, matchAll(allied, isCarrier))) + a.extra[name]
	landed := filterUnits(m, here, func(u *Unit, t *UnitType) bool {
		return !a.exclude[u.ID] && t.IsAir && t.CanLandOnCarrier() && m.IsAllied(a.player, u.Owner)
	})
	free := capacity - carrierCost(m, landed)
	if free < 0 {
		free = 0
	}
	a.free[name] = free
	return free
}

func (a *airLanding) canLandOnLand(name string) bool {
	t := a.m.Territory(name)
	if t == nil || t.Water || t.Impassable {
		return false
	}
	if a.avoid != nil && a.avoid(name) {
		return false
	}
	return a.m.IsAllied(a.player, t.Owner) && !a.m.HasEnemyUnits(a.player, name)
}

// canOverfly reports whether air may pass over name on the way to a spot.
func (a *airLanding) canOverfly(name string) bool {
	t := a.m.Territory(name)
	if t == nil || t.Impassable {
		return false
	}
	return !a.m.IsNeutral(name) || a.rules.NeutralFlyoverAllowed
}

// reserve finds the nearest spot within reach of from where plane can land
// and, for a carrier, takes the space. Ties go to land, then by name. It
// also returns how far the spot is.
func (a *airLanding) reserve(plane UnitID, from string, reach int) (string, int, bool) {
	pt := a.m.TypeOf(plane)
	if pt == nil {
		return "", 0, false
	}
	for dist, ring := range a.rings(from, reach) {
		for _, name := range ring {
			if a.canLandOnLand(name) {
				return name, dist, true
			}
		}
		if !pt.CanLandOnCarrier() {
			continue
		}
		for _, name := range ring {
			if !a.m.IsWater(name) || a.m.HasEnemyUnits(a.player, name) {
				continue
			}
			if free := a.freeCarrierSpace(name); free >= pt.CarrierCost {
				a.free[name] = free - pt.CarrierCost
				return name, dist, true
			}
		}
	}
	return "", 0, false
}

// rings groups the territories reachable from start by distance, each
// group sorted by name.
func (a *airLanding) rings(start string, reach int) [][]string {
	if reach < 0 || a.m.Territory(start) == nil {
		return nil
	}
	seen := map[string]bool{start: true}
	rings := [][]string{{start}}
	frontier := []string{start}
	for d := 1; d <= reach && len(frontier) > 0; d++ {
		var next []string
		for _, name := range frontier {
			if name != start && !a.canOverfly(name) {
				continue
			}
			for _, n := range a.m.Neighbors(name) {
				if seen[n] || a.m.Territory(n) == nil || a.m.Territory(n).Impassable {
					continue
				}
				seen[n] = true
				next = append(next, n)
			}
		}
		sort.Strings(next)
		rings = append(rings, next)
		frontier = next
	}
	return rings
}

// LandingEntry is a group of planes that must find somewhere to land
// after a battle.
type LandingEntry struct {
	BattleID  string   `json:"battleId,omitempty"`
	Site      string   `json:"site"`
	Units     []UnitID `json:"units"`
	Defending bool     `json:"defending,omitempty"`
}

// landingReach is how far a queued plane may still fly. Defending planes
// get one move to the nearest spot.
func landingReach(m *MapModel, id UnitID, defending bool) int {
	if defending {
		return 1
	}
	return m.MovementLeft(id)
}
