package battle

import (
	"fmt"
	"sync"

	"golang.org/x/exp/rand"
)

// RandomSource supplies uniform integers in [0, max).
type RandomSource interface {
	RandomInts(max, count int, annotation string) ([]int, error)
}

// SeededSource is a deterministic PCG-backed RandomSource. Its state can be
// marshalled so a resumed battle continues the same stream.
type SeededSource struct {
	mu  sync.Mutex
	src *rand.PCGSource
	rng *rand.Rand
}

func NewSeededSource(seed int64) *SeededSource {
	src := &rand.PCGSource{}
	src.Seed(uint64(seed))
	return &SeededSource{src: src, rng: rand.New(src)}
}

func (s *SeededSource) RandomInts(max, count int, _ string) ([]int, error) {
	if max <= 0 {
		return nil, fmt.Errorf("random ints: max must be positive, got %d", max)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, count)
	for i := range out {
		out[i] = s.rng.Intn(max)
	}
	return out, nil
}

func (s *SeededSource) MarshalBinary() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.MarshalBinary()
}

func (s *SeededSource) UnmarshalBinary(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.UnmarshalBinary(data)
}

// ScriptedSource replays a fixed sequence of values. Used by tests and by
// scenarios that pin the dice.
type ScriptedSource struct {
	mu     sync.Mutex
	values []int
	pos    int
}

func NewScriptedSource(values ...int) *ScriptedSource {
	return &ScriptedSource{values: values}
}

// NewScriptedSourceAt resumes a script at a previously saved position.
func NewScriptedSourceAt(values []int, pos int) *ScriptedSource {
	return &ScriptedSource{values: values, pos: pos}
}

func (s *ScriptedSource) RandomInts(max, count int, annotation string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos+count > len(s.values) {
		return nil, fmt.Errorf("%s: need %d values, %d left: %w", annotation, count, len(s.values)-s.pos, ErrDiceExhausted)
	}
	out := make([]int, count)
	for i := range out {
		v := s.values[s.pos+i]
		if v < 0 || v >= max {
			return nil, fmt.Errorf("%s: scripted value %d outside [0,%d)", annotation, v, max)
		}
		out[i] = v
	}
	s.pos += count
	return out, nil
}

// Position is the index of the next value to be returned.
func (s *ScriptedSource) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Die is one rolled value and the strength it was rolled against.
type Die struct {
	Value    int    `json:"value"`
	Strength int    `json:"strength"`
	Hit      bool   `json:"hit"`
	Unit     UnitID `json:"unit"`
}

// DiceRoll is the result of one fire step.
type DiceRoll struct {
	Player     Player `json:"player"`
	Annotation string `json:"annotation"`
	Dice       []Die  `json:"dice"`
	Hits       int    `json:"hits"`
}

// unitPower is a unit's effective strength and number of dice for one fire step.
type unitPower struct {
	Strength int
	Rolls    int
}

// effectivePower computes strength and rolls for units firing from side at site.
// Supporters lend their bonus to one supportable unit each, in id order.
// Marines add their bonus when attacking amphibiously.
func effectivePower(m *MapModel, rules Rules, site string, side Side, units, amphibious []UnitID) map[UnitID]unitPower {
	sides := rules.diceSides()
	out := make(map[UnitID]unitPower, len(units))

	supportPool := 0
	if side == AttackingSide {
		for _, id := range units {
			if ut := m.TypeOf(id); ut != nil {
				supportPool += ut.Support
			}
		}
	}
	var effects map[string]int
	if t := m.Territory(site); t != nil {
		effects = t.Effects
	}
	amph := idSet(amphibious)

	for _, id := range sortedIDs(units) {
		u, ut := m.Unit(id), m.TypeOf(id)
		if u == nil || ut == nil {
			continue
		}
		tech := m.Tech(u.Owner)
		value := ut.Strength(side)
		rolls := ut.Rolls(side)
		if side == AttackingSide {
			value += tech.AttackBonus[ut.Name]
			if ut.Supportable && supportPool > 0 && ut.Attack > 0 {
				value++
				supportPool--
			}
			if ut.Marine != 0 && amph[id] {
				value += ut.Marine
			}
		} else {
			value += tech.DefenseBonus[ut.Name]
		}
		rolls += tech.ExtraRolls[ut.Name]
		if ut.Strength(side) > 0 {
			value += effects[ut.Name]
		}
		out[id] = unitPower{Strength: clamp(value, 0, sides), Rolls: rolls}
	}
	return out
}

// rollDice rolls for every unit with positive strength. Units that cannot hit
// consume no dice.
func rollDice(src RandomSource, rules Rules, player Player, power map[UnitID]unitPower, annotation string) (DiceRoll, error) {
	ids := make([]UnitID, 0, len(power))
	total := 0
	for id, p := range power {
		if p.Strength > 0 && p.Rolls > 0 {
			ids = append(ids, id)
			total += p.Rolls
		}
	}
	ids = sortedIDs(ids)
	roll := DiceRoll{Player: player, Annotation: annotation}
	if total == 0 {
		return roll, nil
	}
	values, err := src.RandomInts(rules.diceSides(), total, annotation)
	if err != nil {
		return DiceRoll{}, fmt.Errorf("roll %s: %w", annotation, err)
	}
	i := 0
	for _, id := range ids {
		p := power[id]
		for r := 0; r < p.Rolls; r++ {
			d := Die{Value: values[i], Strength: p.Strength, Hit: values[i] < p.Strength, Unit: id}
			if d.Hit {
				roll.Hits++
			}
			roll.Dice = append(roll.Dice, d)
			i++
		}
	}
	return roll, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
