package battle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const subSneakAttackScenario = `{
	"name": "sub sneak attack",
	"rules": "ww2v2",
	"ruleOverrides": {"transportCasualtiesRestricted": true},
	"dice": [1, 5, 5, 5],
	"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
	"territories": [
		{"name": "sz0", "water": true, "neighbors": ["sz1"]},
		{"name": "sz1", "water": true}
	],
	"units": [
		{"label": "sub", "territory": "sz0", "owner": "Germans", "type": "submarine"},
		{"label": "bb", "territory": "sz1", "owner": "Russians", "type": "battleship"},
		{"label": "tr", "territory": "sz1", "owner": "Russians", "type": "transport"}
	],
	"attacks": [{"player": "Germans", "route": ["sz0", "sz1"], "units": ["sub"]}]
}`

func TestSubSneakAttackSinksBattleshipBeforeItFires(t *testing.T) {
	catalog := StandardCatalog()
	catalog.Get("battleship").HitPoints = 1
	f := newFixture(t, subSneakAttackScenario, catalog, nil)
	sub, bb, tr := f.unit(t, "sub"), f.unit(t, "bb"), f.unit(t, "tr")

	require.NoError(t, f.sched.FightAll(context.Background(), f.br))

	rec := f.onlyRecord(t)
	require.Equal(t, WonAttacker, rec.WhoWon)
	require.Equal(t, ResultWonWithoutConquering, rec.Result)
	require.Equal(t, 2, rec.Rounds)
	require.Equal(t, []UnitID{sub}, rec.AttackerSurvivors)
	require.Empty(t, rec.DefenderSurvivors)

	var killed []UnitID
	for _, u := range rec.Killed {
		killed = append(killed, u.ID)
	}
	require.Equal(t, []UnitID{bb, tr}, killed)
	require.Nil(t, f.board.Map.Unit(bb))
	require.Nil(t, f.board.Map.Unit(tr))
	require.NotNil(t, f.board.Map.Unit(sub))

	// the battleship never rolled and the lone transport rolls nothing
	require.Equal(t, 1, f.dice.(*ScriptedSource).Position())
}

func TestDestroyerFiresBackAtAttackingSub(t *testing.T) {
	doc := `{
		"name": "sub vs destroyer",
		"dice": [3, 1],
		"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
		"territories": [
			{"name": "sz0", "water": true, "neighbors": ["sz1"]},
			{"name": "sz1", "water": true}
		],
		"units": [
			{"label": "sub", "territory": "sz0", "owner": "Germans", "type": "submarine"},
			{"label": "dd", "territory": "sz1", "owner": "Russians", "type": "destroyer"}
		],
		"attacks": [{"player": "Germans", "route": ["sz0", "sz1"], "units": ["sub"]}]
	}`
	f := newFixture(t, doc, nil, nil)
	sub, dd := f.unit(t, "sub"), f.unit(t, "dd")

	require.NoError(t, f.sched.FightAll(context.Background(), f.br))

	rec := f.onlyRecord(t)
	require.Equal(t, WonDefender, rec.WhoWon)
	require.Equal(t, ResultLost, rec.Result)
	require.Equal(t, 1, rec.Rounds)
	require.Equal(t, []UnitID{dd}, rec.DefenderSurvivors)
	require.Nil(t, f.board.Map.Unit(sub))
	require.Equal(t, 2, f.dice.(*ScriptedSource).Position())
}

func TestPartialAmphibiousRetreat(t *testing.T) {
	doc := `{
		"name": "partial amphibious retreat",
		"ruleOverrides": {"partialAmphibiousRetreat": true},
		"dice": [5, 5, 5, 0, 5, 5, 5, 0, 5, 5],
		"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
		"territories": [
			{"name": "Finland", "owner": "Germans", "neighbors": ["Karelia", "sz1"]},
			{"name": "Karelia", "owner": "Russians", "neighbors": ["sz1"]},
			{"name": "sz1", "water": true}
		],
		"units": [
			{"label": "tr", "territory": "sz1", "owner": "Germans", "type": "transport"},
			{"label": "amph", "territory": "sz1", "owner": "Germans", "type": "infantry", "count": 2, "on": "tr"},
			{"label": "tank", "territory": "Finland", "owner": "Germans", "type": "armour"},
			{"label": "def", "territory": "Karelia", "owner": "Russians", "type": "infantry", "count": 3}
		],
		"attacks": [
			{"player": "Germans", "route": ["sz1", "Karelia"], "units": ["amph"]},
			{"player": "Germans", "route": ["Finland", "Karelia"], "units": ["tank"]}
		]
	}`
	attacker := &scriptedPlayer{retreats: []string{"Finland"}}
	f := newFixture(t, doc, nil, map[Player]RemotePlayer{germans: attacker})
	m := f.board.Map
	amph := f.board.Labels["amph"]
	tank := f.unit(t, "tank")

	b, ok := f.sched.PendingBattle("Karelia").(*MustFightBattle)
	require.True(t, ok)
	require.True(t, b.State.IsAmphibious)
	require.Equal(t, []string{"sz1"}, b.AmphibiousAttackTerritories())

	require.NoError(t, f.sched.FightAll(context.Background(), f.br))

	queries := attacker.retreatQueries()
	require.NotEmpty(t, queries)
	require.Equal(t, []string{"Finland"}, queries[0].Destinations)
	require.Contains(t, queries[0].Message, "retreat non-amphibious units?")

	rec := f.onlyRecord(t)
	require.Equal(t, WonDefender, rec.WhoWon)
	require.Equal(t, ResultLost, rec.Result)
	require.Equal(t, 2, rec.Rounds)
	require.Equal(t, "Finland", m.Locate(tank))
	require.Equal(t, russians, m.Owner("Karelia"))
	for _, id := range amph {
		require.Nil(t, m.Unit(id))
	}
}

const partialRetreatWithPlaneScenario = `{
	"name": "partial amphibious retreat with a fighter",
	"ruleOverrides": {"partialAmphibiousRetreat": true},
	"dice": [5, 5, 5, 5, 0, 5, 5, 5, 0, 5, 5],
	"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
	"territories": [
		{"name": "Finland", "owner": "Germans", "neighbors": ["Karelia", "sz1"]},
		{"name": "Karelia", "owner": "Russians", "neighbors": ["sz1"]},
		{"name": "sz1", "water": true}
	],
	"units": [
		{"label": "tr", "territory": "sz1", "owner": "Germans", "type": "transport"},
		{"label": "amph", "territory": "sz1", "owner": "Germans", "type": "infantry", "count": 2, "on": "tr"},
		{"label": "tank", "territory": "Finland", "owner": "Germans", "type": "armour"},
		{"label": "ftr", "territory": "Finland", "owner": "Germans", "type": "fighter"},
		{"label": "def", "territory": "Karelia", "owner": "Russians", "type": "infantry", "count": 3}
	],
	"attacks": [
		{"player": "Germans", "route": ["sz1", "Karelia"], "units": ["amph"]},
		{"player": "Germans", "route": ["Finland", "Karelia"], "units": ["tank", "ftr"]}
	]
}`

func TestPartialAmphibiousRetreatQueuesPlanes(t *testing.T) {
	ctx := context.Background()

	t.Run("lands next door", func(t *testing.T) {
		attacker := &scriptedPlayer{retreats: []string{"Finland"}}
		f := newFixture(t, partialRetreatWithPlaneScenario, nil, map[Player]RemotePlayer{germans: attacker})
		m := f.board.Map
		ftr := f.unit(t, "ftr")

		require.NoError(t, f.sched.Fight(ctx, f.br, "battle-1"))

		rec := f.onlyRecord(t)
		require.Equal(t, WonDefender, rec.WhoWon)
		require.Equal(t, "Finland", m.Locate(f.unit(t, "tank")))
		queue := f.sched.LandingQueue()
		require.Len(t, queue, 1)
		require.Equal(t, []UnitID{ftr}, queue[0].Units)
		require.False(t, queue[0].Defending)

		require.NoError(t, f.sched.ResolveLandings(f.br))
		require.Equal(t, "Finland", m.Locate(ftr))
		require.Equal(t, 2, m.Unit(ftr).Moved)
		require.Equal(t, russians, m.Owner("Karelia"))
		require.Empty(t, f.sched.LandingQueue())
	})

	t.Run("out of fuel", func(t *testing.T) {
		attacker := &scriptedPlayer{retreats: []string{"Finland"}}
		f := newFixture(t, partialRetreatWithPlaneScenario, nil, map[Player]RemotePlayer{germans: attacker})
		m := f.board.Map
		ftr := f.unit(t, "ftr")
		m.Unit(ftr).Moved = 4

		require.NoError(t, f.sched.FightAll(ctx, f.br))

		require.Nil(t, m.Unit(ftr))
		for _, id := range m.UnitsIn("Karelia") {
			require.Equal(t, russians, m.Unit(id).Owner)
		}
	})
}

const carrierSunkScenario = `{
	"name": "carrier sunk",
	"rules": "ww2v3",
	"dice": [0],
	"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
	"territories": [
		{"name": "sz0", "water": true, "neighbors": ["sz1"]},
		{"name": "sz1", "water": true}
	],
	"units": [
		{"label": "sub", "territory": "sz0", "owner": "Germans", "type": "submarine"},
		{"label": "cv", "territory": "sz1", "owner": "Russians", "type": "carrier"},
		{"label": "fighters", "territory": "sz1", "owner": "Russians", "type": "fighter", "count": 2}
	],
	"attacks": [{"player": "Germans", "route": ["sz0", "sz1"], "units": ["sub"]}]
}`

func TestDefendingPlanesLoseTheirCarrier(t *testing.T) {
	t.Run("nowhere to land", func(t *testing.T) {
		f := newFixture(t, carrierSunkScenario, nil, nil)
		fighters := f.board.Labels["fighters"]

		require.NoError(t, f.sched.Fight(context.Background(), f.br, "battle-1"))

		rec := f.onlyRecord(t)
		require.Equal(t, WonDraw, rec.WhoWon)
		require.Equal(t, ResultStalemate, rec.Result)
		require.Equal(t, 1, rec.Rounds)
		require.Nil(t, f.board.Map.Unit(f.unit(t, "cv")))

		queue := f.sched.LandingQueue()
		require.Len(t, queue, 1)
		require.True(t, queue[0].Defending)
		require.Equal(t, fighters, queue[0].Units)

		require.NoError(t, f.sched.ResolveLandings(f.br))
		for _, id := range fighters {
			require.Nil(t, f.board.Map.Unit(id))
		}
		require.Empty(t, f.sched.LandingQueue())
	})

	t.Run("friendly land next door", func(t *testing.T) {
		sc, err := ParseScenario([]byte(carrierSunkScenario))
		require.NoError(t, err)
		sc.Territories = append(sc.Territories, ScenarioTerritory{Name: "Karelia", Owner: russians, Neighbors: []string{"sz1"}})
		f := fixtureFor(t, sc, nil, nil)
		fighters := f.board.Labels["fighters"]

		require.NoError(t, f.sched.FightAll(context.Background(), f.br))

		for _, id := range fighters {
			require.Equal(t, "Karelia", f.board.Map.Locate(id))
			require.Equal(t, 1, f.board.Map.Unit(id).Moved)
		}
	})
}

func TestBattleStopsAtMaxRounds(t *testing.T) {
	sc, err := ParseScenario([]byte(`{
		"name": "stalemate",
		"ruleOverrides": {"landBattleRounds": 3},
		"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
		"territories": [
			{"name": "Poland", "owner": "Germans", "neighbors": ["Ukraine"]},
			{"name": "Ukraine", "owner": "Russians"}
		],
		"units": [
			{"label": "att", "territory": "Poland", "owner": "Germans", "type": "artillery", "count": 10},
			{"label": "def", "territory": "Ukraine", "owner": "Russians", "type": "artillery", "count": 10}
		],
		"attacks": [{"player": "Germans", "route": ["Poland", "Ukraine"], "units": ["att"]}]
	}`))
	require.NoError(t, err)
	sc.Dice = repeat(5, 60)
	attacker := &scriptedPlayer{}
	f := fixtureFor(t, sc, nil, map[Player]RemotePlayer{germans: attacker})

	require.NoError(t, f.sched.FightAll(context.Background(), f.br))

	rec := f.onlyRecord(t)
	require.Equal(t, WonDraw, rec.WhoWon)
	require.Equal(t, ResultStalemate, rec.Result)
	require.Equal(t, 3, rec.Rounds)
	require.Len(t, rec.AttackerSurvivors, 10)
	require.Len(t, rec.DefenderSurvivors, 10)
	require.Equal(t, russians, f.board.Map.Owner("Ukraine"))
	require.Equal(t, 60, f.dice.(*ScriptedSource).Position())
	// the last round ends before the attacker is offered a retreat
	require.Len(t, attacker.retreatQueries(), 2)
}

const resumeScenario = `{
	"name": "resume",
	"dice": [0, 5, 5, 0, 5, 0, 5, 5],
	"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
	"territories": [
		{"name": "Poland", "owner": "Germans", "neighbors": ["Ukraine"]},
		{"name": "Ukraine", "owner": "Russians"}
	],
	"units": [
		{"label": "att", "territory": "Poland", "owner": "Germans", "type": "infantry", "count": 3},
		{"label": "def", "territory": "Ukraine", "owner": "Russians", "type": "infantry", "count": 2}
	],
	"attacks": [{"player": "Germans", "route": ["Poland", "Ukraine"], "units": ["att"]}]
}`

func TestBattleResumesFromSnapshot(t *testing.T) {
	ctx := context.Background()

	baseline := newFixture(t, resumeScenario, nil, nil)
	require.NoError(t, baseline.sched.FightAll(ctx, baseline.br))
	want := baseline.onlyRecord(t)
	require.Equal(t, WonAttacker, want.WhoWon)
	require.Equal(t, 2, want.Rounds)
	require.Equal(t, []UnitID{2, 3}, want.AttackerSurvivors)

	flaky := &scriptedPlayer{failSelect: 1}
	f := newFixture(t, resumeScenario, nil, map[Player]RemotePlayer{russians: flaky})
	err := f.sched.FightAll(ctx, f.br)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRemote))
	require.True(t, errors.Is(err, errConnectionLost))
	require.Len(t, f.sched.Battles(), 1)
	require.Empty(t, f.sched.Records())

	pos := f.dice.(*ScriptedSource).Position()
	require.Equal(t, 3, pos)

	stateJSON, err := json.Marshal(f.sched.Snapshot())
	require.NoError(t, err)
	mapJSON, err := json.Marshal(f.board.Map)
	require.NoError(t, err)

	var st SchedulerState
	require.NoError(t, json.Unmarshal(stateJSON, &st))
	m := &MapModel{}
	require.NoError(t, json.Unmarshal(mapJSON, m))
	sched, err := RestoreBattleScheduler(st, m, f.board.Rules, sequentialIDs())
	require.NoError(t, err)

	sc, err := ParseScenario([]byte(resumeScenario))
	require.NoError(t, err)
	br := &Bridge{Map: m, Rules: f.board.Rules, Dice: NewScriptedSourceAt(sc.Dice, pos)}
	require.NoError(t, sched.FightAll(ctx, br))

	recs := sched.Records()
	require.Len(t, recs, 1)
	require.Equal(t, want, recs[0])
	require.Equal(t, germans, m.Owner("Ukraine"))
	require.Equal(t, baseline.board.Map.UnitsIn("Ukraine"), m.UnitsIn("Ukraine"))
}

func TestSeededBattlesAreDeterministic(t *testing.T) {
	doc := `{
		"name": "seeded",
		"seed": 42,
		"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
		"territories": [
			{"name": "Poland", "owner": "Germans", "neighbors": ["Ukraine"]},
			{"name": "Ukraine", "owner": "Russians"}
		],
		"units": [
			{"label": "inf", "territory": "Poland", "owner": "Germans", "type": "infantry", "count": 4},
			{"label": "art", "territory": "Poland", "owner": "Germans", "type": "artillery", "count": 2},
			{"label": "def", "territory": "Ukraine", "owner": "Russians", "type": "infantry", "count": 4}
		],
		"attacks": [{"player": "Germans", "route": ["Poland", "Ukraine"], "units": ["inf", "art"]}]
	}`
	run := func() ([]BattleRecord, []Change) {
		sc, err := ParseScenario([]byte(doc))
		require.NoError(t, err)
		board, err := sc.Build(nil)
		require.NoError(t, err)
		sched := NewBattleScheduler(board.Map, board.Rules, sequentialIDs())
		br := &Bridge{Map: board.Map, Rules: board.Rules, Dice: sc.DiceSource(0)}
		_, err = board.Setup(br, sched)
		require.NoError(t, err)
		require.NoError(t, sched.FightAll(context.Background(), br))
		return sched.Records(), br.Changes()
	}
	recs1, changes1 := run()
	recs2, changes2 := run()
	require.Equal(t, recs1, recs2)
	require.Equal(t, changes1, changes2)
	require.NotEqual(t, WonNone, recs1[0].WhoWon)
}

func TestDetermineStepStringsDoesNotMutate(t *testing.T) {
	catalog := StandardCatalog()
	catalog.Get("battleship").HitPoints = 1
	f := newFixture(t, subSneakAttackScenario, catalog, nil)
	b, ok := f.sched.PendingBattle("sz1").(*MustFightBattle)
	require.True(t, ok)

	before := b.Snapshot()
	first := b.DetermineStepStrings(true)
	require.NotEmpty(t, first)
	require.Equal(t, first, b.DetermineStepStrings(true))
	require.Equal(t, before, b.Snapshot())
}

func TestRollDice(t *testing.T) {
	power := map[UnitID]unitPower{
		1: {Strength: 2, Rolls: 1},
		2: {Strength: 0, Rolls: 1},
		3: {Strength: 3, Rolls: 2},
	}
	src := NewScriptedSource(1, 4, 2)
	roll, err := rollDice(src, ClassicRules(), germans, power, "test")
	require.NoError(t, err)
	require.Equal(t, 2, roll.Hits)
	require.Len(t, roll.Dice, 3)
	require.Equal(t, UnitID(1), roll.Dice[0].Unit)
	require.True(t, roll.Dice[0].Hit)
	require.False(t, roll.Dice[1].Hit)
	require.True(t, roll.Dice[2].Hit)
	require.Equal(t, 3, src.Position())

	t.Run("nobody can hit", func(t *testing.T) {
		src := NewScriptedSource()
		roll, err := rollDice(src, ClassicRules(), germans, map[UnitID]unitPower{4: {Strength: 0, Rolls: 1}}, "test")
		require.NoError(t, err)
		require.Zero(t, roll.Hits)
		require.Empty(t, roll.Dice)
	})

	t.Run("script runs out", func(t *testing.T) {
		_, err := rollDice(NewScriptedSource(0), ClassicRules(), germans, power, "test")
		require.ErrorIs(t, err, ErrDiceExhausted)
	})
}

func TestRuleOptionBattles(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		retreats []string
		check    func(t *testing.T, f *fixture, attacker *scriptedPlayer)
	}{
		{
			name: "defending AA shoots down a fighter in the first round",
			doc: `{
				"name": "aa fire",
				"ruleOverrides": {"landBattleRounds": 1},
				"dice": [0, 5, 5, 5],
				"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
				"territories": [
					{"name": "Poland", "owner": "Germans", "neighbors": ["Ukraine"]},
					{"name": "Ukraine", "owner": "Russians"}
				],
				"units": [
					{"label": "ftr", "territory": "Poland", "owner": "Germans", "type": "fighter", "count": 2},
					{"label": "aa", "territory": "Ukraine", "owner": "Russians", "type": "aagun"},
					{"label": "def", "territory": "Ukraine", "owner": "Russians", "type": "infantry"}
				],
				"attacks": [{"player": "Germans", "route": ["Poland", "Ukraine"], "units": ["ftr"]}]
			}`,
			check: func(t *testing.T, f *fixture, _ *scriptedPlayer) {
				m := f.board.Map
				rec := f.onlyRecord(t)
				require.Equal(t, ResultStalemate, rec.Result)
				require.Equal(t, 10, rec.AttackerLostTUV)
				var alive []UnitID
				for _, id := range f.board.Labels["ftr"] {
					if m.Unit(id) != nil {
						alive = append(alive, id)
					}
				}
				require.Len(t, alive, 1)
				require.Equal(t, "Poland", m.Locate(alive[0]))
				require.NotNil(t, m.Unit(f.unit(t, "aa")))
				require.Equal(t, 4, f.dice.(*ScriptedSource).Position())
			},
		},
		{
			name: "kamikaze casualties fire back",
			doc:  suicideScenario(""),
			check: func(t *testing.T, f *fixture, _ *scriptedPlayer) {
				rec := f.onlyRecord(t)
				require.Equal(t, ResultConquered, rec.Result)
				require.Nil(t, f.board.Map.Unit(f.unit(t, "kamikaze")))
				require.Equal(t, germans, f.board.Map.Owner("Ukraine"))
				require.Equal(t, 2, f.dice.(*ScriptedSource).Position())
			},
		},
		{
			name: "kamikaze casualties removed at once",
			doc:  suicideScenario(`"ruleOverrides": {"suicideAndMunitionCasualtiesRestricted": true},`),
			check: func(t *testing.T, f *fixture, _ *scriptedPlayer) {
				rec := f.onlyRecord(t)
				require.Equal(t, ResultConquered, rec.Result)
				require.Nil(t, f.board.Map.Unit(f.unit(t, "kamikaze")))
				require.Equal(t, 1, f.dice.(*ScriptedSource).Position())
			},
		},
		{
			name: "paratroopers land and take the territory",
			doc: `{
				"name": "paratroopers",
				"dice": [0, 5],
				"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
				"techs": {"Germans": {"airTransportable": true}},
				"territories": [
					{"name": "Poland", "owner": "Germans", "neighbors": ["Ukraine"]},
					{"name": "Ukraine", "owner": "Russians"}
				],
				"units": [
					{"label": "at", "territory": "Poland", "owner": "Germans", "type": "airtransport"},
					{"label": "para", "territory": "Poland", "owner": "Germans", "type": "infantry"},
					{"label": "def", "territory": "Ukraine", "owner": "Russians", "type": "infantry"}
				],
				"attacks": [{"player": "Germans", "route": ["Poland", "Ukraine"], "units": ["at", "para"]}]
			}`,
			check: func(t *testing.T, f *fixture, _ *scriptedPlayer) {
				m := f.board.Map
				para := f.unit(t, "para")
				rec := f.onlyRecord(t)
				require.Equal(t, WonAttacker, rec.WhoWon)
				require.Equal(t, ResultConquered, rec.Result)
				require.Equal(t, germans, m.Owner("Ukraine"))
				require.Equal(t, "Ukraine", m.Locate(para))
				u := m.Unit(para)
				require.Zero(t, u.TransportedBy)
				require.True(t, u.UnloadedInCombat)
				require.False(t, u.WasAmphibious)
			},
		},
		{
			name: "restricted air cannot find the sub",
			doc:  airVsSubScenario(`{"airAttackSubRestricted": true}`),
			check: func(t *testing.T, f *fixture, _ *scriptedPlayer) {
				m := f.board.Map
				rec := f.onlyRecord(t)
				require.Equal(t, WonAttacker, rec.WhoWon)
				require.Equal(t, ResultWonWithoutConquering, rec.Result)
				sub := m.Unit(f.unit(t, "sub"))
				require.NotNil(t, sub)
				require.True(t, sub.Submerged)
				require.Nil(t, m.Unit(f.unit(t, "dd")))
			},
		},
		{
			name: "unrestricted air sinks the cheaper sub",
			doc:  airVsSubScenario(`{"seaBattleRounds": 1}`),
			check: func(t *testing.T, f *fixture, _ *scriptedPlayer) {
				m := f.board.Map
				rec := f.onlyRecord(t)
				require.Equal(t, ResultStalemate, rec.Result)
				require.Nil(t, m.Unit(f.unit(t, "sub")))
				require.NotNil(t, m.Unit(f.unit(t, "dd")))
			},
		},
		{
			name: "sub retreats before the battle",
			doc: `{
				"name": "sub retreat before battle",
				"ruleOverrides": {"subRetreatBeforeBattle": true},
				"dice": [5, 5],
				"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
				"territories": [
					{"name": "sz0", "water": true, "neighbors": ["sz1"]},
					{"name": "sz1", "water": true}
				],
				"units": [
					{"label": "sub", "territory": "sz0", "owner": "Germans", "type": "submarine"},
					{"label": "ca", "territory": "sz1", "owner": "Russians", "type": "cruiser"}
				],
				"attacks": [{"player": "Germans", "route": ["sz0", "sz1"], "units": ["sub"]}]
			}`,
			retreats: []string{"sz0"},
			check: func(t *testing.T, f *fixture, attacker *scriptedPlayer) {
				queries := attacker.retreatQueries()
				require.Len(t, queries, 1)
				require.Equal(t, []string{"sz0"}, queries[0].Destinations)
				rec := f.onlyRecord(t)
				require.Equal(t, WonDefender, rec.WhoWon)
				require.Equal(t, "sz0", f.board.Map.Locate(f.unit(t, "sub")))
				require.Equal(t, 0, f.dice.(*ScriptedSource).Position())
			},
		},
		{
			name: "retreating units remain in place",
			doc: `{
				"name": "retreat in place",
				"ruleOverrides": {"retreatingUnitsRemainInPlace": true},
				"dice": [5, 5, 5, 5],
				"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
				"territories": [
					{"name": "Poland", "owner": "Germans", "neighbors": ["Ukraine"]},
					{"name": "Ukraine", "owner": "Russians"}
				],
				"units": [
					{"label": "att", "territory": "Poland", "owner": "Germans", "type": "infantry", "count": 2},
					{"label": "def", "territory": "Ukraine", "owner": "Russians", "type": "infantry", "count": 2}
				],
				"attacks": [{"player": "Germans", "route": ["Poland", "Ukraine"], "units": ["att"]}]
			}`,
			retreats: []string{"Ukraine"},
			check: func(t *testing.T, f *fixture, attacker *scriptedPlayer) {
				m := f.board.Map
				queries := attacker.retreatQueries()
				require.Len(t, queries, 1)
				require.Equal(t, []string{"Ukraine"}, queries[0].Destinations)
				rec := f.onlyRecord(t)
				require.Equal(t, WonDefender, rec.WhoWon)
				require.Equal(t, 1, rec.Rounds)
				require.Equal(t, russians, m.Owner("Ukraine"))
				for _, id := range f.board.Labels["att"] {
					require.Equal(t, "Ukraine", m.Locate(id))
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			attacker := &scriptedPlayer{retreats: tc.retreats}
			f := newFixture(t, tc.doc, nil, map[Player]RemotePlayer{germans: attacker})
			require.NoError(t, f.sched.FightAll(context.Background(), f.br))
			tc.check(t, f, attacker)
		})
	}
}

func suicideScenario(overrides string) string {
	return `{
		"name": "kamikaze",
		` + overrides + `
		"dice": [0, 5],
		"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
		"territories": [
			{"name": "Poland", "owner": "Germans", "neighbors": ["Ukraine"]},
			{"name": "Ukraine", "owner": "Russians"}
		],
		"units": [
			{"label": "kamikaze", "territory": "Poland", "owner": "Germans", "type": "kamikaze"},
			{"label": "inf", "territory": "Poland", "owner": "Germans", "type": "infantry"},
			{"label": "def", "territory": "Ukraine", "owner": "Russians", "type": "infantry"}
		],
		"attacks": [{"player": "Germans", "route": ["Poland", "Ukraine"], "units": ["kamikaze", "inf"]}]
	}`
}

func airVsSubScenario(overrides string) string {
	return `{
		"name": "air against subs",
		"ruleOverrides": ` + overrides + `,
		"dice": [0, 5],
		"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
		"territories": [
			{"name": "Norway", "owner": "Germans", "neighbors": ["sz1"]},
			{"name": "sz1", "water": true}
		],
		"units": [
			{"label": "ftr", "territory": "Norway", "owner": "Germans", "type": "fighter"},
			{"label": "sub", "territory": "sz1", "owner": "Russians", "type": "submarine"},
			{"label": "dd", "territory": "sz1", "owner": "Russians", "type": "destroyer"}
		],
		"attacks": [{"player": "Germans", "route": ["Norway", "sz1"], "units": ["ftr"]}]
	}`
}

func TestAbandonedTerritoryTakeover(t *testing.T) {
	for _, tc := range []struct {
		name  string
		rules string
		owner Player
	}{
		{"kept by the defender", `{"partialAmphibiousRetreat": true}`, russians},
		{"taken by the planes left over it", `{"partialAmphibiousRetreat": true, "abandonedTerritoriesMayBeTakenOverImmediately": true}`, germans},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sc, err := ParseScenario([]byte(partialRetreatWithPlaneScenario))
			require.NoError(t, err)
			sc.RuleOverrides = json.RawMessage(tc.rules)
			sc.Dice = []int{5, 5, 5, 5, 0, 0, 0}
			sc.Units[len(sc.Units)-1].Count = 1
			attacker := &scriptedPlayer{retreats: []string{"Finland"}}
			f := fixtureFor(t, sc, nil, map[Player]RemotePlayer{germans: attacker})
			m := f.board.Map

			require.NoError(t, f.sched.FightAll(context.Background(), f.br))

			rec := f.onlyRecord(t)
			require.Equal(t, WonDefender, rec.WhoWon)
			require.Equal(t, 2, rec.Rounds)
			require.Nil(t, m.Unit(f.unit(t, "def")))
			require.Equal(t, tc.owner, m.Owner("Karelia"))
			require.Equal(t, "Finland", m.Locate(f.unit(t, "ftr")))
			require.Equal(t, "Finland", m.Locate(f.unit(t, "tank")))
		})
	}
}
