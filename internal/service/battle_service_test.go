package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/freeeve/axis-battle/api/pkg/battle"
)

// resumeScenario is three German infantry attacking two Russian infantry.
// The scripted dice make the attack win in two rounds, with one Russian
// casualty choice in the first.
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

const eastFrontScenario = `{
	"name": "east front",
	"alliances": {"Axis": ["Germans"], "Allies": ["Russians"]},
	"territories": [
		{"name": "Poland", "owner": "Germans", "neighbors": ["Belarus", "Ukraine"]},
		{"name": "Belarus", "owner": "Russians", "neighbors": ["Russia"]},
		{"name": "Ukraine", "owner": "Russians"},
		{"name": "Russia", "owner": "Russians"}
	],
	"units": [
		{"label": "inf", "territory": "Poland", "owner": "Germans", "type": "infantry"},
		{"label": "tank", "territory": "Poland", "owner": "Germans", "type": "armour"}
	]
}`

type testEnv struct {
	svc     *BattleService
	games   *mockGameRepo
	records *mockRecordRepo
	cache   *mockCache
	bc      *recordingBroadcaster
}

func newTestEnv(t *testing.T, timeout time.Duration, autoPickAfter int) *testEnv {
	t.Helper()
	env := &testEnv{
		games:   newMockGameRepo(),
		records: &mockRecordRepo{},
		cache:   newMockCache(),
		bc:      &recordingBroadcaster{},
	}
	broker := NewQueryBroker(env.cache, env.bc, timeout)
	env.svc = NewBattleService(env.games, env.records, env.cache, broker, env.bc, Options{
		RulesPreset:   "classic",
		AutoPickAfter: autoPickAfter,
	})
	t.Cleanup(env.svc.Shutdown)
	return env
}

func (e *testEnv) state(t *testing.T, gameID string) *GameState {
	t.Helper()
	st, err := e.svc.load(context.Background(), gameID)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	return st
}

func TestCreateGame(t *testing.T) {
	env := newTestEnv(t, time.Second, 3)
	ctx := context.Background()

	game, err := env.svc.CreateGame(ctx, "", "user-1", []byte(resumeScenario), map[string]string{"Russians": "user-2"})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if game.Name != "resume" {
		t.Errorf("expected scenario name, got %q", game.Name)
	}
	if game.Rules != "classic" {
		t.Errorf("expected default rules, got %q", game.Rules)
	}
	if game.Player != "Germans" {
		t.Errorf("expected Germans to move first, got %q", game.Player)
	}
	if len(game.PendingBattles) != 1 || game.PendingBattles[0].Site != "Ukraine" {
		t.Fatalf("expected one battle in Ukraine, got %+v", game.PendingBattles)
	}
	if !env.cache.active[game.ID] {
		t.Error("expected game to be marked active")
	}
	if n := env.bc.count(EventGameCreated); n != 1 {
		t.Errorf("expected one game_created event, got %d", n)
	} else if e := env.bc.events[len(env.bc.events)-1]; e.UserID != "user-2" || e.GameID != game.ID {
		t.Errorf("expected game_created for user-2, got %+v", e)
	}

	st := env.state(t, game.ID)
	if len(st.Dice.Script) != 8 || st.Dice.Pos != 0 {
		t.Errorf("expected unused scripted dice, got %+v", st.Dice)
	}
	if len(st.Order) != 2 {
		t.Errorf("expected two players, got %v", st.Order)
	}

	got, err := env.svc.GetGame(ctx, game.ID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if len(got.PendingBattles) != 1 || got.PendingBattles[0].Kind != string(battle.KindMustFight) {
		t.Errorf("expected a must-fight battle, got %+v", got.PendingBattles)
	}
}

func TestCreateGameErrors(t *testing.T) {
	env := newTestEnv(t, time.Second, 3)
	ctx := context.Background()

	tests := []struct {
		name     string
		scenario string
		seats    map[string]string
		want     error
	}{
		{"bad json", `{`, nil, ErrInvalidScenario},
		{"unknown preset", `{"name": "x", "rules": "nope", "territories": [{"name": "A", "owner": "Germans"}]}`, nil, ErrInvalidScenario},
		{"no players", `{"name": "x", "territories": [{"name": "A"}]}`, nil, ErrInvalidScenario},
		{"unknown seat", resumeScenario, map[string]string{"Japanese": "user-2"}, ErrUnknownPlayer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(tt.scenario), tt.seats)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(env.games.games) != 0 {
		t.Errorf("expected no game rows, got %d", len(env.games.games))
	}
}

func TestGetGameNotFound(t *testing.T) {
	env := newTestEnv(t, time.Second, 3)
	if _, err := env.svc.GetGame(context.Background(), "missing"); !errors.Is(err, ErrGameNotFound) {
		t.Errorf("expected ErrGameNotFound, got %v", err)
	}
}

func TestFightBattlesAutomatic(t *testing.T) {
	env := newTestEnv(t, time.Second, 3)
	ctx := context.Background()
	seats := map[string]string{"Germans": AutoSeat, "Russians": AutoSeat}
	game, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(resumeScenario), seats)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	if _, err := env.svc.FightBattles(ctx, game.ID, "user-2"); !errors.Is(err, ErrNotYourPlayer) {
		t.Errorf("expected ErrNotYourPlayer for a stranger, got %v", err)
	}

	res, err := env.svc.FightBattles(ctx, game.ID, "user-1")
	if err != nil {
		t.Fatalf("FightBattles: %v", err)
	}
	if res.Stopped {
		t.Error("expected the fight to finish")
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Records))
	}
	rec := res.Records[0]
	if rec.WhoWon != battle.WonAttacker || rec.Rounds != 2 {
		t.Errorf("expected attacker win in 2 rounds, got %s in %d", rec.WhoWon, rec.Rounds)
	}

	stored, _ := env.svc.ListRecords(ctx, game.ID)
	if len(stored) != 1 || stored[0].Result != string(battle.ResultConquered) {
		t.Fatalf("expected one stored conquest, got %+v", stored)
	}
	if stored[0].Turn != 1 || len(stored[0].Detail) == 0 {
		t.Errorf("expected turn 1 with detail, got turn %d", stored[0].Turn)
	}
	history, _ := env.svc.ListHistory(ctx, game.ID, 0)
	if len(history) == 0 {
		t.Error("expected history entries")
	}
	for i, e := range history {
		if e.Seq != int64(i+1) {
			t.Fatalf("expected contiguous history seqs, got %d at %d", e.Seq, i)
		}
	}

	st := env.state(t, game.ID)
	if st.Map.Owner("Ukraine") != "Germans" {
		t.Errorf("expected Germans to own Ukraine, got %s", st.Map.Owner("Ukraine"))
	}
	if st.Dice.Pos != 8 {
		t.Errorf("expected all 8 dice used, got %d", st.Dice.Pos)
	}
	if len(st.Scheduler.Pending) != 0 {
		t.Errorf("expected no pending battles, got %d", len(st.Scheduler.Pending))
	}
	if env.bc.count(EventBattlesResolved) != 1 {
		t.Error("expected a battles_resolved event")
	}
	if env.bc.count(EventBattleEvent) == 0 {
		t.Error("expected battle display events")
	}

	if _, err := env.svc.FightBattles(ctx, game.ID, "user-1"); !errors.Is(err, ErrNoBattles) {
		t.Errorf("expected ErrNoBattles, got %v", err)
	}
}

func TestFightStopsOnTimeoutAndResumesOnAnswer(t *testing.T) {
	env := newTestEnv(t, 20*time.Millisecond, 3)
	ctx := context.Background()
	seats := map[string]string{"Germans": AutoSeat, "Russians": "user-2"}
	game, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(resumeScenario), seats)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	res, err := env.svc.FightBattles(ctx, game.ID, "user-1")
	if err != nil {
		t.Fatalf("FightBattles: %v", err)
	}
	if !res.Stopped || len(res.Pending) != 1 {
		t.Fatalf("expected the battle to stop and stay pending, got %+v", res)
	}
	st := env.state(t, game.ID)
	if st.Misses["Russians"] != 1 {
		t.Errorf("expected one miss, got %d", st.Misses["Russians"])
	}
	if st.Dice.Pos != 3 {
		t.Errorf("expected the attack roll to be kept, got dice at %d", st.Dice.Pos)
	}
	if !st.Fighting {
		t.Error("expected the game to be fighting")
	}

	queries, _ := env.cache.GetQueries(ctx, game.ID)
	if len(queries) != 1 || queries[0].Kind != QueryCasualties || queries[0].Player != "Russians" {
		t.Fatalf("expected one Russian casualty query, got %+v", queries)
	}
	q := queries[0]

	answer := json.RawMessage(`{"killed": [4]}`)
	if err := env.svc.AnswerQuery(ctx, game.ID, "user-1", q.ID, answer); !errors.Is(err, ErrNotYourQuery) {
		t.Errorf("expected ErrNotYourQuery, got %v", err)
	}
	if err := env.svc.AnswerQuery(ctx, game.ID, "user-2", "nope", answer); !errors.Is(err, ErrQueryNotPending) {
		t.Errorf("expected ErrQueryNotPending, got %v", err)
	}
	if err := env.svc.AnswerQuery(ctx, game.ID, "user-2", q.ID, answer); err != nil {
		t.Fatalf("AnswerQuery: %v", err)
	}
	env.svc.wg.Wait()

	recs, _ := env.svc.ListRecords(ctx, game.ID)
	if len(recs) != 1 || recs[0].WhoWon != string(battle.WonAttacker) {
		t.Fatalf("expected the resumed battle to end in an attacker win, got %+v", recs)
	}
	st = env.state(t, game.ID)
	if st.Misses["Russians"] != 0 {
		t.Errorf("expected misses reset after an answer, got %d", st.Misses["Russians"])
	}
	if st.Map.Unit(4) != nil {
		t.Error("expected the chosen casualty to be dead")
	}
	if env.cache.queryCount(game.ID) != 0 {
		t.Errorf("expected no pending queries, got %d", env.cache.queryCount(game.ID))
	}
}

func TestAnswerWhileGameIsHeldResumesLater(t *testing.T) {
	env := newTestEnv(t, 20*time.Millisecond, 3)
	ctx := context.Background()
	seats := map[string]string{"Germans": AutoSeat, "Russians": "user-2"}
	game, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(resumeScenario), seats)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if res, err := env.svc.FightBattles(ctx, game.ID, "user-1"); err != nil || !res.Stopped {
		t.Fatalf("expected the battle to stop, got %+v, %v", res, err)
	}
	queries, _ := env.cache.GetQueries(ctx, game.ID)
	if len(queries) != 1 {
		t.Fatalf("expected one pending query, got %+v", queries)
	}

	// The fight that timed out has not let go of the game yet.
	unlock, err := env.svc.lock(ctx, game.ID)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := env.svc.AnswerQuery(ctx, game.ID, "user-2", queries[0].ID, json.RawMessage(`{"killed": [4]}`)); err != nil {
		unlock()
		t.Fatalf("AnswerQuery: %v", err)
	}
	time.Sleep(3 * resumeBackoff)
	if recs, _ := env.svc.ListRecords(ctx, game.ID); len(recs) != 0 {
		unlock()
		t.Fatalf("expected no battle fought while the game is held, got %+v", recs)
	}
	unlock()
	env.svc.wg.Wait()

	recs, _ := env.svc.ListRecords(ctx, game.ID)
	if len(recs) != 1 || recs[0].WhoWon != string(battle.WonAttacker) {
		t.Fatalf("expected the parked answer to finish the battle, got %+v", recs)
	}
	if st := env.state(t, game.ID); st.Map.Unit(4) != nil {
		t.Error("expected the chosen casualty to be dead")
	}
}

func TestAutoPickAfterMisses(t *testing.T) {
	env := newTestEnv(t, 10*time.Millisecond, 1)
	ctx := context.Background()
	seats := map[string]string{"Germans": AutoSeat, "Russians": "user-2"}
	game, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(resumeScenario), seats)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	res, err := env.svc.FightBattles(ctx, game.ID, "user-1")
	if err != nil || !res.Stopped {
		t.Fatalf("expected a stop on the first timeout, got %+v, %v", res, err)
	}

	res, err = env.svc.Resume(ctx, game.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Stopped || len(res.Records) != 1 {
		t.Fatalf("expected the absent player to be auto-picked, got %+v", res)
	}
}

func TestQueryDeadlineListenerResumes(t *testing.T) {
	env := newTestEnv(t, 10*time.Millisecond, 1)
	ctx := context.Background()
	seats := map[string]string{"Germans": AutoSeat, "Russians": "user-2"}
	game, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(resumeScenario), seats)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := env.svc.FightBattles(ctx, game.ID, "user-1"); err != nil {
		t.Fatalf("FightBattles: %v", err)
	}

	l := NewQueryDeadlineListener(nil, env.cache, env.svc)
	l.handleExpiry(ctx, "game:"+game.ID+":state")
	if env.cache.queryCount(game.ID) != 1 {
		t.Fatal("expected unrelated keys to be ignored")
	}

	l.now = func() time.Time { return time.Now().Add(time.Minute) }
	l.checkExpiredQueries(ctx)
	if env.cache.queryCount(game.ID) != 0 {
		t.Errorf("expected the expired query to be cleared")
	}
	recs, _ := env.svc.ListRecords(ctx, game.ID)
	if len(recs) != 1 {
		t.Errorf("expected the battle to finish after the deadline, got %d records", len(recs))
	}
}

func TestRecoverActiveGames(t *testing.T) {
	env := newTestEnv(t, 10*time.Millisecond, 1)
	ctx := context.Background()
	seats := map[string]string{"Germans": AutoSeat, "Russians": "user-2"}
	game, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(resumeScenario), seats)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := env.svc.FightBattles(ctx, game.ID, "user-1"); err != nil {
		t.Fatalf("FightBattles: %v", err)
	}
	delete(env.cache.active, game.ID)

	if err := env.svc.RecoverActiveGames(ctx); err != nil {
		t.Fatalf("RecoverActiveGames: %v", err)
	}
	env.svc.wg.Wait()
	if !env.cache.active[game.ID] {
		t.Error("expected the game to be marked active again")
	}
	recs, _ := env.svc.ListRecords(ctx, game.ID)
	if len(recs) != 1 {
		t.Errorf("expected the recovered battle to finish, got %d records", len(recs))
	}
}

func TestSubmitAndUndoMove(t *testing.T) {
	env := newTestEnv(t, time.Second, 3)
	ctx := context.Background()
	game, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(eastFrontScenario), map[string]string{"Russians": AutoSeat})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	tank := battle.UnitID(2)
	blitz := battle.MoveRequest{Units: []battle.UnitID{tank}, Route: battle.NewRoute("Poland", "Belarus", "Russia")}

	if _, err := env.svc.SubmitMove(ctx, game.ID, "user-1", "Russians", blitz); !errors.Is(err, ErrNotYourTurn) {
		t.Errorf("expected ErrNotYourTurn, got %v", err)
	}
	if _, err := env.svc.SubmitMove(ctx, game.ID, "user-2", "Germans", blitz); !errors.Is(err, ErrNotYourPlayer) {
		t.Errorf("expected ErrNotYourPlayer, got %v", err)
	}
	bad := battle.MoveRequest{Units: []battle.UnitID{tank}, Route: battle.NewRoute("Poland", "Russia")}
	res, err := env.svc.SubmitMove(ctx, game.ID, "user-1", "Germans", bad)
	if !errors.Is(err, ErrIllegalMove) || res == nil || res.IsMoveValid() {
		t.Fatalf("expected an illegal move result, got %v, %v", res, err)
	}

	res, err = env.svc.SubmitMove(ctx, game.ID, "user-1", "Germans", blitz)
	if err != nil {
		t.Fatalf("SubmitMove: %v (%s)", err, res)
	}
	st := env.state(t, game.ID)
	if st.Map.Locate(tank) != "Russia" {
		t.Errorf("expected tank in Russia, got %s", st.Map.Locate(tank))
	}
	if st.Map.Owner("Belarus") != "Germans" {
		t.Errorf("expected Belarus blitzed, owner %s", st.Map.Owner("Belarus"))
	}
	if len(st.Moves) != 1 || len(st.Scheduler.Pending) != 1 {
		t.Fatalf("expected one move and one battle, got %d and %d", len(st.Moves), len(st.Scheduler.Pending))
	}

	if err := env.svc.UndoMove(ctx, game.ID, "user-1", 3); !errors.Is(err, ErrCanOnlyUndoLast) {
		t.Errorf("expected ErrCanOnlyUndoLast, got %v", err)
	}
	if err := env.svc.UndoMove(ctx, game.ID, "user-1", 0); err != nil {
		t.Fatalf("UndoMove: %v", err)
	}
	st = env.state(t, game.ID)
	if st.Map.Locate(tank) != "Poland" {
		t.Errorf("expected tank back in Poland, got %s", st.Map.Locate(tank))
	}
	if st.Map.Owner("Belarus") != "Russians" {
		t.Errorf("expected Belarus returned, owner %s", st.Map.Owner("Belarus"))
	}
	if len(st.Moves) != 0 || len(st.Scheduler.Pending) != 0 {
		t.Errorf("expected a clean turn, got %d moves and %d battles", len(st.Moves), len(st.Scheduler.Pending))
	}
	if err := env.svc.UndoMove(ctx, game.ID, "user-1", 0); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("expected ErrNothingToUndo, got %v", err)
	}
	if env.bc.count(EventMoveMade) != 1 || env.bc.count(EventMoveUndone) != 1 {
		t.Error("expected one move_made and one move_undone event")
	}
}

func TestMovesLockedOnceFighting(t *testing.T) {
	env := newTestEnv(t, time.Second, 3)
	ctx := context.Background()
	game, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(eastFrontScenario), map[string]string{"Russians": AutoSeat})
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	inf := battle.MoveRequest{Units: []battle.UnitID{1}, Route: battle.NewRoute("Poland", "Ukraine")}
	if _, err := env.svc.SubmitMove(ctx, game.ID, "user-1", "Germans", inf); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}
	if _, err := env.svc.FightBattles(ctx, game.ID, "user-1"); err != nil {
		t.Fatalf("FightBattles: %v", err)
	}
	if err := env.svc.UndoMove(ctx, game.ID, "user-1", 0); !errors.Is(err, ErrMovesLocked) {
		t.Errorf("expected ErrMovesLocked, got %v", err)
	}
	tank := battle.MoveRequest{Units: []battle.UnitID{2}, Route: battle.NewRoute("Poland", "Belarus")}
	if _, err := env.svc.SubmitMove(ctx, game.ID, "user-1", "Germans", tank); !errors.Is(err, ErrMovesLocked) {
		t.Errorf("expected combat moves to be locked, got %v", err)
	}

	got, err := env.svc.EndTurn(ctx, game.ID, "user-1")
	if err != nil {
		t.Fatalf("EndTurn: %v", err)
	}
	if got.Player != "Russians" || got.Turn != 1 {
		t.Errorf("expected Russians on turn 1, got %s on %d", got.Player, got.Turn)
	}
	st := env.state(t, game.ID)
	if st.Fighting || len(st.Moves) != 0 {
		t.Error("expected the turn bookkeeping to be reset")
	}
	if st.Map.Owner("Ukraine") != "Germans" {
		t.Errorf("expected Ukraine conquered, owner %s", st.Map.Owner("Ukraine"))
	}
}

func TestEndTurnWithPendingBattles(t *testing.T) {
	env := newTestEnv(t, time.Second, 3)
	ctx := context.Background()
	game, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(resumeScenario), nil)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := env.svc.EndTurn(ctx, game.ID, "user-1"); !errors.Is(err, ErrBattlesPending) {
		t.Errorf("expected ErrBattlesPending, got %v", err)
	}
}

func TestCancelAndGetBattle(t *testing.T) {
	env := newTestEnv(t, time.Second, 3)
	ctx := context.Background()
	game, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(resumeScenario), nil)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}

	view, err := env.svc.GetBattle(ctx, game.ID, "Ukraine")
	if err != nil {
		t.Fatalf("GetBattle: %v", err)
	}
	if view.State == nil || len(view.State.Attacking) != 3 {
		t.Fatalf("expected a battle state with 3 attackers, got %+v", view)
	}
	if _, err := env.svc.GetBattle(ctx, game.ID, "Poland"); !errors.Is(err, ErrBattleNotFound) {
		t.Errorf("expected ErrBattleNotFound, got %v", err)
	}
	if err := env.svc.CancelBattle(ctx, game.ID, "user-1", "Poland"); !errors.Is(err, ErrBattleNotFound) {
		t.Errorf("expected ErrBattleNotFound, got %v", err)
	}
	if err := env.svc.CancelBattle(ctx, game.ID, "user-1", "Ukraine"); err != nil {
		t.Fatalf("CancelBattle: %v", err)
	}
	st := env.state(t, game.ID)
	if len(st.Scheduler.Pending) != 0 {
		t.Errorf("expected the battle to be gone, got %d pending", len(st.Scheduler.Pending))
	}
	if err := env.svc.Bombard(ctx, game.ID, "user-1", "Ukraine", []battle.UnitID{1}); !errors.Is(err, ErrBattleNotFound) {
		t.Errorf("expected ErrBattleNotFound, got %v", err)
	}
}

func TestFinishGame(t *testing.T) {
	env := newTestEnv(t, time.Second, 3)
	ctx := context.Background()
	game, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(eastFrontScenario), nil)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if err := env.svc.FinishGame(ctx, game.ID, "user-2"); !errors.Is(err, ErrNotYourPlayer) {
		t.Errorf("expected ErrNotYourPlayer, got %v", err)
	}
	if err := env.svc.FinishGame(ctx, game.ID, "user-1"); err != nil {
		t.Fatalf("FinishGame: %v", err)
	}
	got, err := env.svc.GetGame(ctx, game.ID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if got.Status != "finished" || len(got.PendingBattles) != 0 {
		t.Errorf("expected a finished game without live state, got %+v", got)
	}
	if env.cache.active[game.ID] {
		t.Error("expected the game to leave the active set")
	}
	if err := env.svc.FinishGame(ctx, game.ID, "user-1"); !errors.Is(err, ErrGameNotActive) {
		t.Errorf("expected ErrGameNotActive, got %v", err)
	}
}

func TestRoute(t *testing.T) {
	env := newTestEnv(t, time.Second, 3)
	ctx := context.Background()
	game, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(eastFrontScenario), nil)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	route, ok, err := env.svc.Route(ctx, game.ID, "Germans", "Poland", "Russia", []battle.UnitID{2})
	if err != nil || !ok {
		t.Fatalf("expected a route, got %v, %v", ok, err)
	}
	if route.End() != "Russia" || route.Len() != 2 {
		t.Errorf("expected Poland-Belarus-Russia, got %s", route)
	}
	if _, ok, _ := env.svc.Route(ctx, game.ID, "Germans", "Atlantis", "Russia", nil); ok {
		t.Error("expected no route from an unknown territory")
	}
}

func TestGameLockBusy(t *testing.T) {
	env := newTestEnv(t, time.Second, 3)
	ctx := context.Background()
	game, err := env.svc.CreateGame(ctx, "g", "user-1", []byte(eastFrontScenario), nil)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	unlock, err := env.svc.lock(ctx, game.ID)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := env.svc.EndTurn(ctx, game.ID, "user-1"); !errors.Is(err, ErrGameBusy) {
		t.Errorf("expected ErrGameBusy, got %v", err)
	}
	if res, err := env.svc.Resume(ctx, game.ID); err != nil || res != nil {
		t.Errorf("expected Resume to skip a busy game, got %v, %v", res, err)
	}
	unlock()
	if env.cache.locks[game.ID] != "" {
		t.Error("expected the cache lock to be released")
	}
}
