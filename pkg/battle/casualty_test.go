package battle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCasualties(t *testing.T) {
	m := landBoard()
	bb := m.Place("sz0", germans, "battleship", 1)[0]
	inf := m.Place("Poland", germans, "infantry", 1)[0]
	eligible := []UnitID{bb, inf}

	for _, tc := range []struct {
		hits    int
		killed  []UnitID
		damaged []UnitID
	}{
		{hits: 1, damaged: []UnitID{bb}},
		{hits: 2, killed: []UnitID{inf}, damaged: []UnitID{bb}},
		{hits: 3, killed: []UnitID{inf, bb}},
	} {
		d := defaultCasualties(m, eligible, tc.hits, nil)
		require.Equal(t, tc.killed, d.Killed, "hits %d", tc.hits)
		require.Equal(t, tc.damaged, d.Damaged, "hits %d", tc.hits)
		require.NoError(t, validateCasualties(m, eligible, tc.hits, d))
	}

	t.Run("preferred die first", func(t *testing.T) {
		m := landBoard()
		inf := m.Place("Poland", germans, "infantry", 2)
		art := m.Place("Poland", germans, "artillery", 1)
		d := defaultCasualties(m, append(inf, art...), 1, art)
		require.Equal(t, art, d.Killed)
	})
}

func TestValidateCasualties(t *testing.T) {
	m := landBoard()
	inf := m.Place("Poland", germans, "infantry", 2)
	bb := m.Place("sz0", germans, "battleship", 1)[0]
	eligible := append(append([]UnitID(nil), inf...), bb)
	var selErr *CasualtySelectionError

	for _, tc := range []struct {
		name string
		d    CasualtyDetails
		ok   bool
	}{
		{name: "cheapest", d: CasualtyDetails{Killed: inf[:1]}, ok: true},
		{name: "damage the battleship", d: CasualtyDetails{Damaged: []UnitID{bb}}, ok: true},
		{name: "too few", d: CasualtyDetails{}},
		{name: "too many", d: CasualtyDetails{Killed: inf}},
		{name: "not eligible", d: CasualtyDetails{Killed: []UnitID{99}}},
		{name: "twice", d: CasualtyDetails{Damaged: []UnitID{bb, bb}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := validateCasualties(m, eligible, 1, tc.d)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorAs(t, err, &selErr)
		})
	}
}

func TestInvalidSelectionFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	baseline := newFixture(t, resumeScenario, nil, nil)
	require.NoError(t, baseline.sched.FightAll(ctx, baseline.br))
	want := baseline.onlyRecord(t)

	cheat := &pickingPlayer{pick: CasualtyDetails{Killed: []UnitID{99}}}
	f := newFixture(t, resumeScenario, nil, map[Player]RemotePlayer{russians: cheat})
	require.NoError(t, f.sched.FightAll(ctx, f.br))

	require.Equal(t, maxSelectionAttempts, cheat.calls)
	got := f.onlyRecord(t)
	require.Equal(t, want.WhoWon, got.WhoWon)
	require.Equal(t, want.Rounds, got.Rounds)
	require.Equal(t, want.AttackerSurvivors, got.AttackerSurvivors)
	require.Equal(t, want.Killed, got.Killed)
}

func TestCasualtyQueryCarriesDefault(t *testing.T) {
	defender := &scriptedPlayer{}
	f := newFixture(t, resumeScenario, nil, map[Player]RemotePlayer{russians: defender})
	require.NoError(t, f.sched.FightAll(context.Background(), f.br))

	queries := defender.casualtyQueries()
	require.Len(t, queries, 1)
	q := queries[0]
	require.Equal(t, russians, q.Player)
	require.Equal(t, "Ukraine", q.Site)
	require.Equal(t, 1, q.Hits)
	require.Equal(t, []UnitID{4, 5}, q.Eligible)
	require.Equal(t, []UnitID{4}, q.Default.Killed)
}
