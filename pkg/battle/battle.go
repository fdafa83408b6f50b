package battle

import "context"

// BattleKind distinguishes the battle variants a scheduler can hold.
type BattleKind string

const (
	KindMustFight   BattleKind = "must_fight"
	KindNonFighting BattleKind = "non_fighting"
)

// WhoWon is the terminal verdict of a battle. The zero value means the
// battle has not ended.
type WhoWon string

const (
	WonNone     WhoWon = ""
	WonAttacker WhoWon = "attacker"
	WonDefender WhoWon = "defender"
	WonDraw     WhoWon = "draw"
)

func (w WhoWon) String() string {
	if w == WonNone {
		return "none"
	}
	return string(w)
}

// BattleResult describes a finished battle for the records.
type BattleResult string

const (
	ResultConquered            BattleResult = "CONQUERED"
	ResultWonWithoutConquering BattleResult = "WON_WITHOUT_CONQUERING"
	ResultLost                 BattleResult = "LOST"
	ResultStalemate            BattleResult = "STALEMATE"
	ResultBlitzed              BattleResult = "BLITZED"
	ResultNoBattle             BattleResult = "NO_BATTLE"
)

// BattleRecord is the summary written when a battle ends.
type BattleRecord struct {
	BattleID          string       `json:"battleId"`
	Site              string       `json:"site"`
	Kind              BattleKind   `json:"kind"`
	Attacker          Player       `json:"attacker"`
	Defender          Player       `json:"defender"`
	Result            BattleResult `json:"result"`
	WhoWon            WhoWon       `json:"whoWon"`
	Rounds            int          `json:"rounds"`
	AttackerLostTUV   int          `json:"attackerLostTuv"`
	DefenderLostTUV   int          `json:"defenderLostTuv"`
	AttackerSurvivors []UnitID     `json:"attackerSurvivors,omitempty"`
	DefenderSurvivors []UnitID     `json:"defenderSurvivors,omitempty"`
	Killed            []Unit       `json:"killed,omitempty"`
}

// Battle is the capability set shared by every battle kind.
type Battle interface {
	ID() string
	Kind() BattleKind
	Site() string
	Attacker() Player
	Defender() Player
	Fight(ctx context.Context, br *Bridge) error
	AddAttack(route Route, units []UnitID) (Change, error)
	RemoveAttack(route Route, units []UnitID)
	UnitsLostInPrecedingBattle(br *Bridge, units []UnitID, withdrawn bool) error
	IsEmpty() bool
	IsOver() bool
	WhoWon() WhoWon
	Cancel(br *Bridge) error
	DependentUnits(units []UnitID) []UnitID
	AttackingFrom() map[string][]UnitID
	RemainingAttackingUnits() []UnitID
	RemainingDefendingUnits() []UnitID
	AmphibiousAttackTerritories() []string
	Record() *BattleRecord
}

// NonFightingBattle takes an undefended territory. It is what a blitz or a
// move into an empty enemy territory creates.
type NonFightingBattle struct {
	BattleID       string              `json:"battleId"`
	SiteName       string              `json:"site"`
	AttackerPlayer Player              `json:"attacker"`
	DefenderPlayer Player              `json:"defender"`
	Attacking      []UnitID            `json:"attacking,omitempty"`
	From           map[string][]UnitID `json:"attackingFrom,omitempty"`
	Amphibious     []string            `json:"amphibious,omitempty"`
	Dependents     *DependencyGraph    `json:"dependents,omitempty"`
	Over           bool                `json:"over,omitempty"`
	Won            WhoWon              `json:"whoWon,omitempty"`
	Blitz          bool                `json:"blitz,omitempty"`
	Result         *BattleRecord       `json:"record,omitempty"`

	m     *MapModel
	sched *BattleScheduler
}

func newNonFightingBattle(id, site string, attacker Player, m *MapModel, sched *BattleScheduler) *NonFightingBattle {
	return &NonFightingBattle{
		BattleID:       id,
		SiteName:       site,
		AttackerPlayer: attacker,
		DefenderPlayer: m.Owner(site),
		From:           make(map[string][]UnitID),
		Dependents:     NewDependencyGraph(),
		m:              m,
		sched:          sched,
	}
}

func (b *NonFightingBattle) ID() string            { return b.BattleID }
func (b *NonFightingBattle) Kind() BattleKind      { return KindNonFighting }
func (b *NonFightingBattle) Site() string          { return b.SiteName }
func (b *NonFightingBattle) Attacker() Player      { return b.AttackerPlayer }
func (b *NonFightingBattle) Defender() Player      { return b.DefenderPlayer }
func (b *NonFightingBattle) IsOver() bool          { return b.Over }
func (b *NonFightingBattle) WhoWon() WhoWon        { return b.Won }
func (b *NonFightingBattle) IsEmpty() bool         { return len(b.Attacking) == 0 }
func (b *NonFightingBattle) Record() *BattleRecord { return b.Result }

func (b *NonFightingBattle) AddAttack(route Route, units []UnitID) (Change, error) {
	if b.Over {
		return Change{}, ErrBattleOver
	}
	from := route.TerritoryBeforeEnd()
	b.Attacking = unionIDs(b.Attacking, units)
	b.From[from] = unionIDs(b.From[from], units)
	if b.m.IsWater(from) && !b.m.IsWater(route.End()) && anyUnit(b.m, units, isLand) && !containsString(b.Amphibious, from) {
		b.Amphibious = append(b.Amphibious, from)
	}
	b.Dependents.AddAll(transporting(b.m, units))
	return Change{}, nil
}

func (b *NonFightingBattle) RemoveAttack(route Route, units []UnitID) {
	b.Attacking = withoutIDs(b.Attacking, units)
	from := route.TerritoryBeforeEnd()
	if left := withoutIDs(b.From[from], units); len(left) > 0 {
		b.From[from] = left
	} else {
		delete(b.From, from)
		b.Amphibious = withoutStrings(b.Amphibious, from)
	}
	b.Dependents.RemoveCargo(units)
}

func (b *NonFightingBattle) UnitsLostInPrecedingBattle(br *Bridge, units []UnitID, withdrawn bool) error {
	lost := unionIDs(b.Dependents.DependentsOf(units), intersectIDs(units, b.Attacking))
	lost = unionIDs(lost, unloadedFromAny(b.m, b.Attacking, units))
	b.Attacking = withoutIDs(b.Attacking, lost)
	if !withdrawn {
		here := intersectIDs(lost, b.m.UnitsIn(b.SiteName))
		if len(here) > 0 {
			if err := br.AddChange(RemoveUnitsChange(b.m, b.SiteName, here)); err != nil {
				return err
			}
		}
	}
	if len(b.Attacking) == 0 {
		b.Over = true
		b.Won = WonDefender
		b.Result = &BattleRecord{BattleID: b.BattleID, Site: b.SiteName, Kind: KindNonFighting,
			Attacker: b.AttackerPlayer, Defender: b.DefenderPlayer, Result: ResultLost, WhoWon: WonDefender}
		b.sched.removeBattle(b)
	}
	return nil
}

// Fight takes the territory if a land unit survived the preceding battles.
func (b *NonFightingBattle) Fight(_ context.Context, br *Bridge) error {
	if b.Over {
		return nil
	}
	b.Attacking = intersectIDs(b.Attacking, b.m.UnitsIn(b.SiteName))
	b.Over = true
	rec := &BattleRecord{BattleID: b.BattleID, Site: b.SiteName, Kind: KindNonFighting,
		Attacker: b.AttackerPlayer, Defender: b.DefenderPlayer, AttackerSurvivors: b.Attacking}
	if anyUnit(b.m, b.Attacking, not(isAir)) && !b.m.IsWater(b.SiteName) {
		b.Won = WonAttacker
		rec.Result = ResultConquered
		if b.Blitz {
			rec.Result = ResultBlitzed
		}
		if err := b.sched.takeOver(br, b.SiteName, b.AttackerPlayer, b.Attacking); err != nil {
			return err
		}
	} else {
		b.Won = WonDraw
		rec.Result = ResultNoBattle
	}
	rec.WhoWon = b.Won
	b.Result = rec
	br.historyf(b.BattleID, string(b.AttackerPlayer)+" takes "+b.SiteName, b.Attacking)
	br.display().BattleEnd(b.BattleID, string(rec.Result))
	b.sched.removeBattle(b)
	b.sched.addRecord(*rec)
	return nil
}

func (b *NonFightingBattle) Cancel(br *Bridge) error {
	if b.Over {
		return nil
	}
	b.Over = true
	b.Won = WonDraw
	b.Result = &BattleRecord{BattleID: b.BattleID, Site: b.SiteName, Kind: KindNonFighting,
		Attacker: b.AttackerPlayer, Defender: b.DefenderPlayer, Result: ResultNoBattle, WhoWon: WonDraw}
	br.display().BattleEnd(b.BattleID, "Cancelled")
	b.sched.removeBattle(b)
	b.sched.addRecord(*b.Result)
	return nil
}

func (b *NonFightingBattle) DependentUnits(units []UnitID) []UnitID {
	return unionIDs(b.Dependents.DependentsOf(units), unloadedFromAny(b.m, b.Attacking, units))
}

func (b *NonFightingBattle) clone() *NonFightingBattle {
	c := *b
	c.Attacking = append([]UnitID(nil), b.Attacking...)
	c.Amphibious = append([]string(nil), b.Amphibious...)
	c.From = make(map[string][]UnitID, len(b.From))
	for k, v := range b.From {
		c.From[k] = append([]UnitID(nil), v...)
	}
	if b.Dependents != nil {
		c.Dependents = b.Dependents.Clone()
	}
	if b.Result != nil {
		r := *b.Result
		c.Result = &r
	}
	return &c
}

func (b *NonFightingBattle) AttackingFrom() map[string][]UnitID { return b.From }

func (b *NonFightingBattle) RemainingAttackingUnits() []UnitID {
	return append([]UnitID(nil), b.Attacking...)
}

func (b *NonFightingBattle) RemainingDefendingUnits() []UnitID { return nil }

func (b *NonFightingBattle) AmphibiousAttackTerritories() []string {
	return append([]string(nil), b.Amphibious...)
}

// unloadedFromAny lists members of attackers that were unloaded from one of holders.
func unloadedFromAny(m *MapModel, attackers, holders []UnitID) []UnitID {
	hs := idSet(holders)
	var out []UnitID
	for _, id := range attackers {
		if u := m.Unit(id); u != nil && u.UnloadedFrom != 0 && hs[u.UnloadedFrom] {
			out = append(out, id)
		}
	}
	return out
}

func withoutStrings(list []string, drop ...string) []string {
	var out []string
	for _, s := range list {
		if !containsString(drop, s) {
			out = append(out, s)
		}
	}
	return out
}
