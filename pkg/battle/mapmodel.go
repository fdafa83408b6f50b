package battle

import (
	"sort"
	"sync"
)

// Territory is a node of the game map and the roster of units present.
type Territory struct {
	Name  string `json:"name"`
	Water bool   `json:"water,omitempty"`
	Owner Player `json:"owner,omitempty"`
	// OriginalOwner gets the territory back when an ally liberates it.
	OriginalOwner Player         `json:"originalOwner,omitempty"`
	Impassable    bool           `json:"impassable,omitempty"`
	CapitalOf     Player         `json:"capitalOf,omitempty"`
	Neighbors     []string       `json:"neighbors,omitempty"`
	Units         []UnitID       `json:"units,omitempty"`
	Effects       map[string]int `json:"effects,omitempty"` // unit type -> strength modifier
}

// Canal joins two sea zones; passing between them requires controlling
// every listed land territory.
type Canal struct {
	Name     string    `json:"name"`
	SeaZones [2]string `json:"seaZones"`
	Land     []string  `json:"land"`
	Excluded []string  `json:"excluded,omitempty"`
}

// Tech holds a player's researched combat bonuses.
type Tech struct {
	AttackBonus      map[string]int `json:"attackBonus,omitempty"`
	DefenseBonus     map[string]int `json:"defenseBonus,omitempty"`
	ExtraRolls       map[string]int `json:"extraRolls,omitempty"`
	AirTransportable bool           `json:"airTransportable,omitempty"`
}

// MovementRestriction limits where a player may move when
// Rules.MovementByTerritoryRestricted is set.
type MovementRestriction struct {
	Allowed     bool     `json:"allowed"`
	Territories []string `json:"territories"`
}

// MapModel is the mutable game board. Only the game goroutine writes to it,
// and only through Apply; other goroutines read inside ReadLocked.
type MapModel struct {
	mu sync.RWMutex

	Territories  map[string]*Territory           `json:"territories"`
	Units        map[UnitID]*Unit                `json:"units"`
	Catalog      *UnitCatalog                    `json:"catalog"`
	Alliances    map[Player]string               `json:"alliances,omitempty"`
	Resources    map[Player]int                  `json:"resources,omitempty"`
	Techs        map[Player]*Tech                `json:"techs,omitempty"`
	Canals       []Canal                         `json:"canals,omitempty"`
	Restrictions map[Player]*MovementRestriction `json:"restrictions,omitempty"`
	NextUnitID   UnitID                          `json:"nextUnitId"`
}

func NewMapModel(catalog *UnitCatalog) *MapModel {
	return &MapModel{
		Territories: make(map[string]*Territory),
		Units:       make(map[UnitID]*Unit),
		Catalog:     catalog,
		Alliances:   make(map[Player]string),
		Resources:   make(map[Player]int),
		NextUnitID:  1,
	}
}

// AddTerritory creates an unconnected territory.
func (m *MapModel) AddTerritory(name string, water bool, owner Player) *Territory {
	t := &Territory{Name: name, Water: water, Owner: owner}
	m.Territories[name] = t
	return t
}

// Connect makes a and b adjacent.
func (m *MapModel) Connect(a, b string) {
	ta, tb := m.Territories[a], m.Territories[b]
	if ta == nil || tb == nil || a == b {
		return
	}
	if !containsString(ta.Neighbors, b) {
		ta.Neighbors = append(ta.Neighbors, b)
	}
	if !containsString(tb.Neighbors, a) {
		tb.Neighbors = append(tb.Neighbors, a)
	}
}

// Ally puts the players in the same alliance.
func (m *MapModel) Ally(alliance string, players ...Player) {
	for _, p := range players {
		m.Alliances[p] = alliance
	}
}

func (m *MapModel) Territory(name string) *Territory { return m.Territories[name] }

func (m *MapModel) Unit(id UnitID) *Unit { return m.Units[id] }

// TypeOf returns the static type of a unit, or nil for an unknown id.
func (m *MapModel) TypeOf(id UnitID) *UnitType {
	u := m.Units[id]
	if u == nil || m.Catalog == nil {
		return nil
	}
	return m.Catalog.Get(u.Type)
}

// UnitsIn returns a copy of the roster of a territory.
func (m *MapModel) UnitsIn(name string) []UnitID {
	t := m.Territories[name]
	if t == nil {
		return nil
	}
	return append([]UnitID(nil), t.Units...)
}

// Locate returns the territory holding a unit, or "" if it is not on the map.
func (m *MapModel) Locate(id UnitID) string {
	for name, t := range m.Territories {
		if containsID(t.Units, id) {
			return name
		}
	}
	return ""
}

func (m *MapModel) Neighbors(name string) []string {
	t := m.Territories[name]
	if t == nil {
		return nil
	}
	return t.Neighbors
}

func (m *MapModel) IsAdjacent(a, b string) bool {
	t := m.Territories[a]
	return t != nil && containsString(t.Neighbors, b)
}

func (m *MapModel) IsWater(name string) bool {
	t := m.Territories[name]
	return t != nil && t.Water
}

func (m *MapModel) Owner(name string) Player {
	if t := m.Territories[name]; t != nil {
		return t.Owner
	}
	return NoPlayer
}

func (m *MapModel) IsAllied(a, b Player) bool {
	if a == b {
		return true
	}
	if a == NoPlayer || b == NoPlayer {
		return false
	}
	al := m.Alliances[a]
	return al != "" && al == m.Alliances[b]
}

// IsEnemy reports whether two players are at war. Neutrals are never at war.
func (m *MapModel) IsEnemy(a, b Player) bool {
	return a != NoPlayer && b != NoPlayer && !m.IsAllied(a, b)
}

// IsNeutral reports whether name is unowned land.
func (m *MapModel) IsNeutral(name string) bool {
	t := m.Territories[name]
	return t != nil && !t.Water && t.Owner == NoPlayer
}

// IsEnemyTerritory reports whether name is land owned by an enemy of p.
func (m *MapModel) IsEnemyTerritory(p Player, name string) bool {
	t := m.Territories[name]
	return t != nil && !t.Water && m.IsEnemy(p, t.Owner)
}

// IsFriendlyTerritory reports whether p may treat name as its own ground.
func (m *MapModel) IsFriendlyTerritory(p Player, name string) bool {
	t := m.Territories[name]
	if t == nil {
		return false
	}
	if t.Water {
		return !m.HasEnemyUnits(p, name)
	}
	return m.IsAllied(p, t.Owner)
}

func (m *MapModel) IsEnemyUnit(p Player, id UnitID) bool {
	u := m.Units[id]
	return u != nil && m.IsEnemy(p, u.Owner)
}

// EnemyUnitsIn lists units in name whose owners are at war with p.
func (m *MapModel) EnemyUnitsIn(p Player, name string) []UnitID {
	var out []UnitID
	for _, id := range m.UnitsIn(name) {
		if m.IsEnemyUnit(p, id) {
			out = append(out, id)
		}
	}
	return out
}

func (m *MapModel) HasEnemyUnits(p Player, name string) bool {
	return len(m.EnemyUnitsIn(p, name)) > 0
}

// Tech returns the player's technology, never nil.
func (m *MapModel) Tech(p Player) *Tech {
	if t := m.Techs[p]; t != nil {
		return t
	}
	return &Tech{}
}

// MovementLeft returns the unit's remaining movement points.
func (m *MapModel) MovementLeft(id UnitID) int {
	u, ut := m.Units[id], m.TypeOf(id)
	if u == nil || ut == nil {
		return 0
	}
	if left := ut.Movement - u.Moved; left > 0 {
		return left
	}
	return 0
}

// NewUnits allocates fresh unit records. They are not on the map until an
// AddUnitsChange is applied.
func (m *MapModel) NewUnits(owner Player, unitType string, n int) []Unit {
	units := make([]Unit, n)
	for i := range units {
		units[i] = Unit{ID: m.NextUnitID, Type: unitType, Owner: owner}
		m.NextUnitID++
	}
	return units
}

// Place creates n units of a type in a territory and returns their ids.
func (m *MapModel) Place(territory string, owner Player, unitType string, n int) []UnitID {
	units := m.NewUnits(owner, unitType, n)
	if err := m.Apply(AddUnitsChange(territory, units)); err != nil {
		return nil
	}
	ids := make([]UnitID, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	return ids
}

// ReadLocked runs fn while holding the shared lock.
func (m *MapModel) ReadLocked(fn func()) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn()
}

// Apply performs one atomic change under the exclusive lock.
func (m *MapModel) Apply(c Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(c)
}

func (m *MapModel) applyLocked(c Change) error {
	switch c.Kind {
	case ChangeAddUnits:
		t := m.Territories[c.Territory]
		if t == nil {
			return invariantf("apply", "unknown territory %q", c.Territory)
		}
		for _, u := range c.Units {
			if _, exists := m.Units[u.ID]; exists {
				return invariantf("apply", "unit %d already exists", u.ID)
			}
			cp := u
			m.Units[u.ID] = &cp
			t.Units = insertSorted(t.Units, u.ID)
			if u.ID >= m.NextUnitID {
				m.NextUnitID = u.ID + 1
			}
		}
	case ChangeRemoveUnits:
		t := m.Territories[c.Territory]
		if t == nil {
			return invariantf("apply", "unknown territory %q", c.Territory)
		}
		for _, u := range c.Units {
			if !containsID(t.Units, u.ID) {
				return invariantf("apply", "unit %d is not in %s", u.ID, c.Territory)
			}
			delete(m.Units, u.ID)
			t.Units = withoutIDs(t.Units, []UnitID{u.ID})
		}
	case ChangeMoveUnits:
		from, to := m.Territories[c.Territory], m.Territories[c.To]
		if from == nil || to == nil {
			return invariantf("apply", "unknown territory in move %s -> %s", c.Territory, c.To)
		}
		for _, id := range c.UnitIDs {
			if !containsID(from.Units, id) {
				return invariantf("apply", "unit %d is not in %s", id, c.Territory)
			}
		}
		from.Units = withoutIDs(from.Units, c.UnitIDs)
		for _, id := range c.UnitIDs {
			to.Units = insertSorted(to.Units, id)
		}
	case ChangeOwner:
		t := m.Territories[c.Territory]
		if t == nil {
			return invariantf("apply", "unknown territory %q", c.Territory)
		}
		t.Owner = c.NewOwner
	case ChangeUnit:
		if c.After == nil {
			return nil
		}
		u := m.Units[c.After.ID]
		if u == nil {
			return invariantf("apply", "unit %d does not exist", c.After.ID)
		}
		*u = *c.After
	case ChangeResource:
		m.Resources[c.Player] += c.Delta
	case ChangeComposite:
		for _, ch := range c.Children {
			if err := m.applyLocked(ch); err != nil {
				return err
			}
		}
	default:
		return invariantf("apply", "unknown change kind %q", c.Kind)
	}
	return nil
}

// Clone returns a deep copy. The catalog is shared; it is never mutated.
func (m *MapModel) Clone() *MapModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := &MapModel{
		Territories: make(map[string]*Territory, len(m.Territories)),
		Units:       make(map[UnitID]*Unit, len(m.Units)),
		Catalog:     m.Catalog,
		Alliances:   make(map[Player]string, len(m.Alliances)),
		Resources:   make(map[Player]int, len(m.Resources)),
		Canals:      append([]Canal(nil), m.Canals...),
		NextUnitID:  m.NextUnitID,
	}
	for name, t := range m.Territories {
		ct := *t
		ct.Neighbors = append([]string(nil), t.Neighbors...)
		ct.Units = append([]UnitID(nil), t.Units...)
		if t.Effects != nil {
			ct.Effects = make(map[string]int, len(t.Effects))
			for k, v := range t.Effects {
				ct.Effects[k] = v
			}
		}
		c.Territories[name] = &ct
	}
	for id, u := range m.Units {
		cu := *u
		c.Units[id] = &cu
	}
	for k, v := range m.Alliances {
		c.Alliances[k] = v
	}
	for k, v := range m.Resources {
		c.Resources[k] = v
	}
	if m.Techs != nil {
		c.Techs = make(map[Player]*Tech, len(m.Techs))
		for k, v := range m.Techs {
			tv := *v
			c.Techs[k] = &tv
		}
	}
	if m.Restrictions != nil {
		c.Restrictions = make(map[Player]*MovementRestriction, len(m.Restrictions))
		for k, v := range m.Restrictions {
			rv := *v
			rv.Territories = append([]string(nil), v.Territories...)
			c.Restrictions[k] = &rv
		}
	}
	return c
}

func insertSorted(ids []UnitID, id UnitID) []UnitID {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
