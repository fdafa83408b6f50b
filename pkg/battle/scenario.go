package battle

import (
	"encoding/json"
	"fmt"
)

// ScenarioTerritory describes one territory of a scenario map.
type ScenarioTerritory struct {
	Name          string         `json:"name"`
	Water         bool           `json:"water,omitempty"`
	Owner         Player         `json:"owner,omitempty"`
	OriginalOwner Player         `json:"originalOwner,omitempty"`
	Impassable    bool           `json:"impassable,omitempty"`
	CapitalOf     Player         `json:"capitalOf,omitempty"`
	Neighbors     []string       `json:"neighbors,omitempty"`
	Effects       map[string]int `json:"effects,omitempty"`
}

// ScenarioUnit places Count units. On names the label of a unit placed
// earlier that carries them.
type ScenarioUnit struct {
	Label       string `json:"label,omitempty"`
	Territory   string `json:"territory"`
	Owner       Player `json:"owner"`
	Type        string `json:"type"`
	Count       int    `json:"count,omitempty"`
	On          string `json:"on,omitempty"`
	Moved       int    `json:"moved,omitempty"`
	Hits        int    `json:"hits,omitempty"`
	Submerged   bool   `json:"submerged,omitempty"`
	WasInCombat bool   `json:"wasInCombat,omitempty"`
}

// ScenarioAttack moves labelled units along Route (start first) and
// registers the attack at its end.
type ScenarioAttack struct {
	Player  Player   `json:"player"`
	Route   []string `json:"route"`
	Units   []string `json:"units"`
	Bombard []string `json:"bombard,omitempty"`
}

// Scenario is a self-contained battle setup: map, units, rules and the
// attacks to resolve.
type Scenario struct {
	Name          string                          `json:"name"`
	Rules         string                          `json:"rules,omitempty"`
	RuleOverrides json.RawMessage                 `json:"ruleOverrides,omitempty"`
	Seed          int64                           `json:"seed,omitempty"`
	Dice          []int                           `json:"dice,omitempty"`
	Alliances     map[string][]Player             `json:"alliances,omitempty"`
	Resources     map[Player]int                  `json:"resources,omitempty"`
	Techs         map[Player]*Tech                `json:"techs,omitempty"`
	Canals        []Canal                         `json:"canals,omitempty"`
	Restrictions  map[Player]*MovementRestriction `json:"restrictions,omitempty"`
	Territories   []ScenarioTerritory             `json:"territories"`
	Units         []ScenarioUnit                  `json:"units,omitempty"`
	Attacks       []ScenarioAttack                `json:"attacks,omitempty"`
}

// ScenarioBoard is a built scenario.
type ScenarioBoard struct {
	Map    *MapModel
	Rules  Rules
	Labels map[string][]UnitID

	scenario *Scenario
}

func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(s.Territories) == 0 {
		return nil, fmt.Errorf("parse scenario %q: no territories", s.Name)
	}
	return &s, nil
}

// ResolveRules applies the overrides on top of the named preset.
func (s *Scenario) ResolveRules() (Rules, error) {
	rules, err := RulesPreset(s.Rules)
	if err != nil {
		return Rules{}, err
	}
	if len(s.RuleOverrides) > 0 {
		if err := json.Unmarshal(s.RuleOverrides, &rules); err != nil {
			return Rules{}, fmt.Errorf("rule overrides: %w", err)
		}
	}
	return rules, nil
}

// DiceSource returns scripted dice when the scenario lists them, otherwise
// a source seeded with seed, or with the scenario seed when seed is 0.
func (s *Scenario) DiceSource(seed int64) RandomSource {
	if len(s.Dice) > 0 {
		return NewScriptedSource(s.Dice...)
	}
	if seed == 0 {
		seed = s.Seed
	}
	return NewSeededSource(seed)
}

// Build creates the map model with every unit placed.
func (s *Scenario) Build(catalog *UnitCatalog) (*ScenarioBoard, error) {
	if catalog == nil {
		catalog = StandardCatalog()
	}
	rules, err := s.ResolveRules()
	if err != nil {
		return nil, err
	}
	m := NewMapModel(catalog)
	for _, st := range s.Territories {
		if st.Name == "" {
			return nil, fmt.Errorf("scenario %q: territory without a name", s.Name)
		}
		t := m.AddTerritory(st.Name, st.Water, st.Owner)
		t.OriginalOwner = st.OriginalOwner
		if t.OriginalOwner == NoPlayer && !st.Water {
			t.OriginalOwner = st.Owner
		}
		t.Impassable = st.Impassable
		t.CapitalOf = st.CapitalOf
		t.Effects = st.Effects
	}
	for _, st := range s.Territories {
		for _, n := range st.Neighbors {
			if m.Territory(n) == nil {
				return nil, fmt.Errorf("scenario %q: %s borders unknown territory %q", s.Name, st.Name, n)
			}
			m.Connect(st.Name, n)
		}
	}
	for alliance, players := range s.Alliances {
		m.Ally(alliance, players...)
	}
	for p, pus := range s.Resources {
		m.Resources[p] = pus
	}
	if len(s.Techs) > 0 {
		m.Techs = s.Techs
	}
	m.Canals = s.Canals
	m.Restrictions = s.Restrictions

	labels := make(map[string][]UnitID)
	for i, su := range s.Units {
		if m.Territory(su.Territory) == nil {
			return nil, fmt.Errorf("scenario %q: unit %d in unknown territory %q", s.Name, i, su.Territory)
		}
		if catalog.Get(su.Type) == nil {
			return nil, fmt.Errorf("scenario %q: unknown unit type %q", s.Name, su.Type)
		}
		var holder UnitID
		if su.On != "" {
			held := labels[su.On]
			if len(held) == 0 {
				return nil, fmt.Errorf("scenario %q: unit %d rides unknown label %q", s.Name, i, su.On)
			}
			holder = held[0]
		}
		n := su.Count
		if n <= 0 {
			n = 1
		}
		units := m.NewUnits(su.Owner, su.Type, n)
		for j := range units {
			units[j].TransportedBy = holder
			units[j].Moved = su.Moved
			units[j].Hits = su.Hits
			units[j].Submerged = su.Submerged
			units[j].WasInCombat = su.WasInCombat
		}
		if err := m.Apply(AddUnitsChange(su.Territory, units)); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
		}
		if su.Label != "" {
			for _, u := range units {
				labels[su.Label] = append(labels[su.Label], u.ID)
			}
		}
	}
	return &ScenarioBoard{Map: m, Rules: rules, Labels: labels, scenario: s}, nil
}

// Units collects the ids behind labels.
func (b *ScenarioBoard) Units(labels ...string) []UnitID {
	var out []UnitID
	for _, l := range labels {
		out = unionIDs(out, b.Labels[l])
	}
	return out
}

// Setup performs the scenario's attacks. Moves are applied as given,
// without validation, so scenarios can stage positions freely.
func (b *ScenarioBoard) Setup(br *Bridge, sched *BattleScheduler) ([]Battle, error) {
	var out []Battle
	for i, a := range b.scenario.Attacks {
		if len(a.Route) == 0 {
			return nil, fmt.Errorf("attack %d: empty route", i)
		}
		req := MoveRequest{Units: b.Units(a.Units...), Route: NewRoute(a.Route[0], a.Route[1:]...)}
		if len(req.Units) == 0 {
			return nil, fmt.Errorf("attack %d: no units", i)
		}
		if err := br.AddChange(MoveChange(b.Map, b.Rules, req, a.Player)); err != nil {
			return nil, fmt.Errorf("attack %d: %w", i, err)
		}
		battle, err := sched.AddAttack(br, req.Route, req.Units, a.Player)
		if err != nil {
			return nil, fmt.Errorf("attack %d: %w", i, err)
		}
		if battle == nil {
			continue
		}
		if len(a.Bombard) > 0 {
			if err := sched.Bombard(battle.Site(), b.Units(a.Bombard...), a.Player); err != nil {
				return nil, fmt.Errorf("attack %d: %w", i, err)
			}
		}
		if !containsBattle(out, battle) {
			out = append(out, battle)
		}
	}
	return out, nil
}

func containsBattle(list []Battle, b Battle) bool {
	for _, x := range list {
		if x.ID() == b.ID() {
			return true
		}
	}
	return false
}
