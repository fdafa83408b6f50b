package battle

import "strings"

// Route is a path over adjacent territories. Start is not a step.
type Route struct {
	Start string   `json:"start"`
	Steps []string `json:"steps,omitempty"`
}

func NewRoute(start string, steps ...string) Route {
	return Route{Start: start, Steps: steps}
}

func (r Route) Len() int { return len(r.Steps) }

func (r Route) HasNoSteps() bool { return len(r.Steps) == 0 }

// End returns the last territory, or Start for an empty route.
func (r Route) End() string {
	if len(r.Steps) == 0 {
		return r.Start
	}
	return r.Steps[len(r.Steps)-1]
}

// TerritoryBeforeEnd is where units were immediately before entering End.
func (r Route) TerritoryBeforeEnd() string {
	if len(r.Steps) <= 1 {
		return r.Start
	}
	return r.Steps[len(r.Steps)-2]
}

// All returns Start followed by every step.
func (r Route) All() []string {
	out := make([]string, 0, len(r.Steps)+1)
	out = append(out, r.Start)
	return append(out, r.Steps...)
}

// MiddleSteps are the steps strictly between Start and End.
func (r Route) MiddleSteps() []string {
	if len(r.Steps) <= 1 {
		return nil
	}
	return r.Steps[:len(r.Steps)-1]
}

func (r Route) String() string {
	return strings.Join(r.All(), " -> ")
}

// Valid reports whether every territory exists and consecutive pairs are adjacent.
func (r Route) Valid(m *MapModel) bool {
	if m.Territory(r.Start) == nil {
		return false
	}
	prev := r.Start
	for _, s := range r.Steps {
		if m.Territory(s) == nil || !m.IsAdjacent(prev, s) {
			return false
		}
		prev = s
	}
	return true
}

func (r Route) HasWater(m *MapModel) bool {
	for _, t := range r.All() {
		if m.IsWater(t) {
			return true
		}
	}
	return false
}

func (r Route) HasLand(m *MapModel) bool {
	for _, t := range r.All() {
		if !m.IsWater(t) {
			return true
		}
	}
	return false
}

// HasWaterStep ignores Start.
func (r Route) HasWaterStep(m *MapModel) bool {
	for _, t := range r.Steps {
		if m.IsWater(t) {
			return true
		}
	}
	return false
}

// IsLoad reports a land start and a water end.
func (r Route) IsLoad(m *MapModel) bool {
	return !r.HasNoSteps() && !m.IsWater(r.Start) && m.IsWater(r.End())
}

// IsUnload reports a water start and a land end.
func (r Route) IsUnload(m *MapModel) bool {
	return !r.HasNoSteps() && m.IsWater(r.Start) && !m.IsWater(r.End())
}

// AnyMiddle reports whether a middle step satisfies fn.
func (r Route) AnyMiddle(fn func(string) bool) bool {
	for _, t := range r.MiddleSteps() {
		if fn(t) {
			return true
		}
	}
	return false
}

// AllSteps reports whether every step satisfies fn.
func (r Route) AllSteps(fn func(string) bool) bool {
	for _, t := range r.Steps {
		if !fn(t) {
			return false
		}
	}
	return true
}

// CountSteps counts the steps satisfying fn.
func (r Route) CountSteps(fn func(string) bool) int {
	n := 0
	for _, t := range r.Steps {
		if fn(t) {
			n++
		}
	}
	return n
}

// HasNeutralBeforeEnd reports an unowned land territory among the middle steps.
func (r Route) HasNeutralBeforeEnd(m *MapModel) bool {
	return r.AnyMiddle(m.IsNeutral)
}

// MovementCost is the number of steps; every border costs one point.
func (r Route) MovementCost() int { return len(r.Steps) }

// Contains reports whether the route visits name, Start included.
func (r Route) Contains(name string) bool {
	return r.Start == name || containsString(r.Steps, name)
}
