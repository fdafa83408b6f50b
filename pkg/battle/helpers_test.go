package battle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	germans  Player = "Germans"
	russians Player = "Russians"
)

func sequentialIDs() SchedulerOption {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("battle-%d", n)
	})
}

// fixture is a built scenario with its attacks registered.
type fixture struct {
	board *ScenarioBoard
	sched *BattleScheduler
	br    *Bridge
	dice  RandomSource
}

func (f *fixture) unit(t *testing.T, label string) UnitID {
	t.Helper()
	ids := f.board.Labels[label]
	require.NotEmpty(t, ids, "label %s", label)
	return ids[0]
}

func (f *fixture) onlyRecord(t *testing.T) BattleRecord {
	t.Helper()
	recs := f.sched.Records()
	require.Len(t, recs, 1)
	return recs[0]
}

func newFixture(t *testing.T, doc string, catalog *UnitCatalog, players map[Player]RemotePlayer) *fixture {
	t.Helper()
	sc, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return fixtureFor(t, sc, catalog, players)
}

func fixtureFor(t *testing.T, sc *Scenario, catalog *UnitCatalog, players map[Player]RemotePlayer) *fixture {
	t.Helper()
	board, err := sc.Build(catalog)
	require.NoError(t, err)
	sched := NewBattleScheduler(board.Map, board.Rules, sequentialIDs())
	dice := sc.DiceSource(1)
	br := &Bridge{
		Map:     board.Map,
		Rules:   board.Rules,
		Dice:    dice,
		Players: players,
		History: &MemoryHistory{},
	}
	_, err = board.Setup(br, sched)
	require.NoError(t, err)
	return &fixture{board: board, sched: sched, br: br, dice: dice}
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// landBoard is two adjacent land territories and a few sea zones.
func landBoard() *MapModel {
	m := NewMapModel(StandardCatalog())
	m.AddTerritory("Poland", false, germans)
	m.AddTerritory("Ukraine", false, russians)
	m.AddTerritory("sz0", true, NoPlayer)
	m.AddTerritory("sz1", true, NoPlayer)
	m.Connect("Poland", "Ukraine")
	m.Connect("sz0", "sz1")
	m.Connect("Poland", "sz0")
	m.Ally("Axis", germans)
	m.Ally("Allies", russians)
	return m
}
