package battle

import "sort"

// UnitType is the immutable static descriptor of a kind of unit.
type UnitType struct {
	Name         string `json:"name"`
	Attack       int    `json:"attack"`
	Defense      int    `json:"defense"`
	AttackRolls  int    `json:"attackRolls,omitempty"`
	DefenseRolls int    `json:"defenseRolls,omitempty"`
	Movement     int    `json:"movement"`
	Cost         int    `json:"cost"`
	HitPoints    int    `json:"hitPoints,omitempty"`

	TransportCost     int `json:"transportCost,omitempty"`
	TransportCapacity int `json:"transportCapacity,omitempty"`
	CarrierCost       int `json:"carrierCost,omitempty"`
	CarrierCapacity   int `json:"carrierCapacity,omitempty"`

	IsAir              bool `json:"isAir,omitempty"`
	IsSea              bool `json:"isSea,omitempty"`
	IsSub              bool `json:"isSub,omitempty"`
	IsDestroyer        bool `json:"isDestroyer,omitempty"`
	IsTransport        bool `json:"isTransport,omitempty"`
	IsAirTransport     bool `json:"isAirTransport,omitempty"`
	IsAirTransportable bool `json:"isAirTransportable,omitempty"`
	IsInfrastructure   bool `json:"isInfrastructure,omitempty"`
	IsSuicide          bool `json:"isSuicide,omitempty"`
	CanBlitz           bool `json:"canBlitz,omitempty"`
	CanBeCaptured      bool `json:"canBeCaptured,omitempty"`

	// Bombard is the strength used in naval bombardment; zero cannot bombard.
	Bombard int `json:"bombard,omitempty"`
	// Marine is the attack bonus when the unit came ashore from a transport.
	Marine int `json:"marine,omitempty"`
	// Support is the bonus this unit lends to one supportable unit on attack.
	Support     int  `json:"support,omitempty"`
	Supportable bool `json:"supportable,omitempty"`

	AAType     string   `json:"aaType,omitempty"`
	AAStrength int      `json:"aaStrength,omitempty"`
	AAMaxShots int      `json:"aaMaxShots,omitempty"` // -1 is one shot per target
	AATargets  []string `json:"aaTargets,omitempty"`  // empty targets all air
	// AAMaxRounds is how many rounds the AA fires; zero means the first round only, -1 every round.
	AAMaxRounds int  `json:"aaMaxRounds,omitempty"`
	AAOffensive bool `json:"aaOffensive,omitempty"`

	CanNotMoveDuringCombatMove bool `json:"canNotMoveDuringCombatMove,omitempty"`
	FuelCost                   int  `json:"fuelCost,omitempty"`
	MovementLimit              int  `json:"movementLimit,omitempty"`
	AttackingLimit             int  `json:"attackingLimit,omitempty"`
}

func (t *UnitType) IsLand() bool { return !t.IsAir && !t.IsSea }

func (t *UnitType) IsCarrier() bool { return t.CarrierCapacity > 0 }

func (t *UnitType) CanLandOnCarrier() bool { return t.CarrierCost > 0 }

func (t *UnitType) CanTransport() bool { return t.TransportCapacity > 0 }

func (t *UnitType) CanBeTransported() bool { return t.TransportCost > 0 }

func (t *UnitType) IsAA() bool { return t.AAType != "" }

// HP returns the number of hits the unit absorbs before it dies.
func (t *UnitType) HP() int {
	if t.HitPoints < 1 {
		return 1
	}
	return t.HitPoints
}

// AAFiresInRound reports whether the unit's AA may fire in the given round.
func (t *UnitType) AAFiresInRound(round int) bool {
	if !t.IsAA() {
		return false
	}
	switch {
	case t.AAMaxRounds < 0:
		return true
	case t.AAMaxRounds == 0:
		return round <= 1
	}
	return round <= t.AAMaxRounds
}

// Rolls returns the dice the unit throws per fire step on the given side.
func (t *UnitType) Rolls(side Side) int {
	r := t.AttackRolls
	if side == DefendingSide {
		r = t.DefenseRolls
	}
	if r < 1 {
		return 1
	}
	return r
}

// Strength returns the base attack or defense value.
func (t *UnitType) Strength(side Side) int {
	if side == DefendingSide {
		return t.Defense
	}
	return t.Attack
}

// TargetsAA reports whether AA of this type fires at units of the target type.
func (t *UnitType) TargetsAA(target *UnitType) bool {
	if len(t.AATargets) == 0 {
		return target.IsAir
	}
	for _, name := range t.AATargets {
		if name == target.Name {
			return true
		}
	}
	return false
}

// UnitCatalog holds the unit types available in a scenario.
type UnitCatalog struct {
	Types map[string]*UnitType `json:"types"`
}

func NewUnitCatalog(types ...*UnitType) *UnitCatalog {
	c := &UnitCatalog{Types: make(map[string]*UnitType, len(types))}
	for _, t := range types {
		c.Add(t)
	}
	return c
}

func (c *UnitCatalog) Add(t *UnitType) {
	c.Types[t.Name] = t
}

// Get returns the named type, or nil if the catalog does not define it.
func (c *UnitCatalog) Get(name string) *UnitType {
	return c.Types[name]
}

// Names returns the type names in alphabetical order.
func (c *UnitCatalog) Names() []string {
	names := make([]string, 0, len(c.Types))
	for name := range c.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StandardCatalog returns the unit roster of the classic board game.
func StandardCatalog() *UnitCatalog {
	return NewUnitCatalog(
		&UnitType{Name: "infantry", Attack: 1, Defense: 2, Movement: 1, Cost: 3, TransportCost: 2,
			IsAirTransportable: true, Supportable: true},
		&UnitType{Name: "marine", Attack: 1, Defense: 2, Movement: 1, Cost: 4, TransportCost: 2,
			Marine: 1, Supportable: true},
		&UnitType{Name: "artillery", Attack: 2, Defense: 2, Movement: 1, Cost: 4, TransportCost: 3, Support: 1},
		&UnitType{Name: "armour", Attack: 3, Defense: 3, Movement: 2, Cost: 5, TransportCost: 3, CanBlitz: true},
		&UnitType{Name: "aagun", Movement: 1, Cost: 6, TransportCost: 3, IsInfrastructure: true, CanBeCaptured: true,
			AAType: "AA", AAStrength: 1, AAMaxShots: 3, CanNotMoveDuringCombatMove: true},
		&UnitType{Name: "factory", Cost: 15, IsInfrastructure: true, CanBeCaptured: true},
		&UnitType{Name: "fighter", Attack: 3, Defense: 4, Movement: 4, Cost: 10, IsAir: true, CarrierCost: 1,
			FuelCost: 1},
		&UnitType{Name: "bomber", Attack: 4, Defense: 1, Movement: 6, Cost: 15, IsAir: true, FuelCost: 2},
		&UnitType{Name: "airtransport", Defense: 1, Movement: 5, Cost: 7, IsAir: true, IsAirTransport: true,
			TransportCapacity: 4, FuelCost: 1},
		&UnitType{Name: "kamikaze", Attack: 2, Movement: 4, Cost: 5, IsAir: true, IsSuicide: true},
		&UnitType{Name: "submarine", Attack: 2, Defense: 1, Movement: 2, Cost: 6, IsSea: true, IsSub: true},
		&UnitType{Name: "destroyer", Attack: 2, Defense: 2, Movement: 2, Cost: 8, IsSea: true, IsDestroyer: true},
		&UnitType{Name: "cruiser", Attack: 3, Defense: 3, Movement: 2, Cost: 12, IsSea: true, Bombard: 3},
		&UnitType{Name: "battleship", Attack: 4, Defense: 4, Movement: 2, Cost: 20, IsSea: true, HitPoints: 2,
			Bombard: 4},
		&UnitType{Name: "carrier", Attack: 1, Defense: 2, Movement: 2, Cost: 14, IsSea: true, CarrierCapacity: 2},
		&UnitType{Name: "transport", Movement: 2, Cost: 7, IsSea: true, IsTransport: true, TransportCapacity: 5},
	)
}
