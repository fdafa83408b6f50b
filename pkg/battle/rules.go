package battle

import (
	"fmt"
	"strings"
)

// Rules gathers the rule options consumed by movement validation and combat.
// A Rules value is fixed for the lifetime of a battle.
type Rules struct {
	Name      string `json:"name"`
	DiceSides int    `json:"diceSides"`
	// Round limits; -1 fights until one side is eliminated or retreats.
	LandBattleRounds int `json:"landBattleRounds"`
	SeaBattleRounds  int `json:"seaBattleRounds"`

	WW2V2 bool `json:"ww2v2,omitempty"`
	WW2V3 bool `json:"ww2v3,omitempty"`

	DefendingSubsSneakAttack      bool `json:"defendingSubsSneakAttack,omitempty"`
	SubmersibleSubs               bool `json:"submersibleSubs,omitempty"`
	SubRetreatBeforeBattle        bool `json:"subRetreatBeforeBattle,omitempty"`
	AirAttackSubRestricted        bool `json:"airAttackSubRestricted,omitempty"`
	AlliedAirIndependent          bool `json:"alliedAirIndependent,omitempty"`
	PartialAmphibiousRetreat      bool `json:"partialAmphibiousRetreat,omitempty"`
	AttackerRetreatPlanes         bool `json:"attackerRetreatPlanes,omitempty"`
	TransportCasualtiesRestricted bool `json:"transportCasualtiesRestricted,omitempty"`

	DefendingSuicideAndMunitionUnitsDoNotFire bool `json:"defendingSuicideAndMunitionUnitsDoNotFire,omitempty"`
	SuicideAndMunitionCasualtiesRestricted    bool `json:"suicideAndMunitionCasualtiesRestricted,omitempty"`
	NavalBombardCasualtiesReturnFire          bool `json:"navalBombardCasualtiesReturnFire,omitempty"`

	NeutralsImpassable    bool `json:"neutralsImpassable,omitempty"`
	NeutralsBlitzable     bool `json:"neutralsBlitzable,omitempty"`
	NeutralFlyoverAllowed bool `json:"neutralFlyoverAllowed,omitempty"`
	NeutralCharge         int  `json:"neutralCharge,omitempty"`

	RetreatingUnitsRemainInPlace                  bool `json:"retreatingUnitsRemainInPlace,omitempty"`
	AbandonedTerritoriesMayBeTakenOverImmediately bool `json:"abandonedTerritoriesMayBeTakenOverImmediately,omitempty"`

	IgnoreSubInMovement       bool `json:"ignoreSubInMovement,omitempty"`
	IgnoreTransportInMovement bool `json:"ignoreTransportInMovement,omitempty"`
	// NavalMayNotNonCombatIntoControlled stops naval non-combat moves through
	// or into enemy-controlled sea zones.
	NavalMayNotNonCombatIntoControlled bool `json:"navalMayNotNonCombatIntoControlled,omitempty"`
	UseFuelCost                        bool `json:"useFuelCost,omitempty"`
	MovementByTerritoryRestricted      bool `json:"movementByTerritoryRestricted,omitempty"`
}

// ClassicRules is the original edition: subs fire with everyone and cannot submerge.
func ClassicRules() Rules {
	return Rules{
		Name:             "classic",
		DiceSides:        6,
		LandBattleRounds: -1,
		SeaBattleRounds:  -1,
	}
}

// WW2V2Rules is the revised edition: full sub sneak attack and submersible subs.
func WW2V2Rules() Rules {
	r := ClassicRules()
	r.Name = "ww2v2"
	r.WW2V2 = true
	r.SubmersibleSubs = true
	r.NavalMayNotNonCombatIntoControlled = true
	return r
}

// WW2V3Rules is the anniversary-style edition with restricted air-vs-sub combat
// and defenceless transports.
func WW2V3Rules() Rules {
	r := ClassicRules()
	r.Name = "ww2v3"
	r.WW2V3 = true
	r.DefendingSubsSneakAttack = true
	r.SubmersibleSubs = true
	r.AirAttackSubRestricted = true
	r.TransportCasualtiesRestricted = true
	r.PartialAmphibiousRetreat = true
	r.IgnoreSubInMovement = true
	r.IgnoreTransportInMovement = true
	return r
}

// RulesPreset resolves a preset by name.
func RulesPreset(name string) (Rules, error) {
	switch strings.ToLower(name) {
	case "", "classic":
		return ClassicRules(), nil
	case "ww2v2", "revised":
		return WW2V2Rules(), nil
	case "ww2v3":
		return WW2V3Rules(), nil
	}
	return Rules{}, fmt.Errorf("unknown rules preset %q", name)
}

func (r Rules) diceSides() int {
	if r.DiceSides <= 0 {
		return 6
	}
	return r.DiceSides
}

func (r Rules) maxRounds(water bool) int {
	if water {
		return r.SeaBattleRounds
	}
	return r.LandBattleRounds
}
