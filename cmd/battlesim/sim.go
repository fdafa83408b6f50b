package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/axis-battle/api/internal/model"
	"github.com/freeeve/axis-battle/api/pkg/battle"
)

// runResult is one pass of the scenario.
type runResult struct {
	Run     int                   `json:"run"`
	Seed    int64                 `json:"seed"`
	Records []battle.BattleRecord `json:"records"`
}

// siteStats aggregates the outcomes of one site over every run.
type siteStats struct {
	Site            string  `json:"site"`
	Battles         int     `json:"battles"`
	AttackerWins    int     `json:"attacker_wins"`
	DefenderWins    int     `json:"defender_wins"`
	Draws           int     `json:"draws"`
	AttackerWinRate float64 `json:"attacker_win_rate"`
	AvgRounds       float64 `json:"avg_rounds"`
	AvgAttackerLoss float64 `json:"avg_attacker_lost_tuv"`
	AvgDefenderLoss float64 `json:"avg_defender_lost_tuv"`
}

// runOnce builds a fresh board and fights every battle with automatic
// players.
func runOnce(ctx context.Context, sc *battle.Scenario, run int, seed int64) (*runResult, error) {
	board, err := sc.Build(nil)
	if err != nil {
		return nil, err
	}
	sched := battle.NewBattleScheduler(board.Map, board.Rules)
	br := &battle.Bridge{
		Map:   board.Map,
		Rules: board.Rules,
		Dice:  sc.DiceSource(seed),
	}
	if _, err := board.Setup(br, sched); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	if err := sched.FightAll(ctx, br); err != nil {
		return nil, fmt.Errorf("fight: %w", err)
	}
	return &runResult{Run: run, Seed: seed, Records: sched.Records()}, nil
}

// simulate runs the scenario runs times over workers goroutines. Run i
// uses seed+i, so a fixed seed repeats the whole series.
func simulate(ctx context.Context, sc *battle.Scenario, runs, workers int, seed int64) ([]*runResult, error) {
	if workers < 1 {
		workers = 1
	}
	if seed == 0 && sc.Seed == 0 && len(sc.Dice) == 0 {
		seed = time.Now().UnixNano()
	} else if seed == 0 {
		seed = sc.Seed
	}

	results := make([]*runResult, runs)
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	sem := make(chan struct{}, workers)
	for i := 0; i < runs; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := runOnce(ctx, sc, idx+1, seed+int64(idx))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error().Err(err).Int("run", idx+1).Msg("Run failed")
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			results[idx] = res
		}(i)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, ctx.Err()
}

func summarize(results []*runResult) []siteStats {
	bySite := make(map[string]*siteStats)
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, rec := range r.Records {
			st := bySite[rec.Site]
			if st == nil {
				st = &siteStats{Site: rec.Site}
				bySite[rec.Site] = st
			}
			st.Battles++
			switch rec.WhoWon {
			case battle.WonAttacker:
				st.AttackerWins++
			case battle.WonDefender:
				st.DefenderWins++
			default:
				st.Draws++
			}
			st.AvgRounds += float64(rec.Rounds)
			st.AvgAttackerLoss += float64(rec.AttackerLostTUV)
			st.AvgDefenderLoss += float64(rec.DefenderLostTUV)
		}
	}

	out := make([]siteStats, 0, len(bySite))
	for _, st := range bySite {
		n := float64(st.Battles)
		st.AttackerWinRate = float64(st.AttackerWins) / n
		st.AvgRounds /= n
		st.AvgAttackerLoss /= n
		st.AvgDefenderLoss /= n
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out
}

// storedRecords converts the records of every run for the record store.
// Each run is one turn of the game named gameID.
func storedRecords(gameID string, results []*runResult) ([]model.BattleRecord, error) {
	var out []model.BattleRecord
	now := time.Now().UTC()
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, rec := range r.Records {
			detail, err := json.Marshal(rec)
			if err != nil {
				return nil, err
			}
			out = append(out, model.BattleRecord{
				GameID:          gameID,
				Turn:            r.Run,
				BattleID:        rec.BattleID,
				Site:            rec.Site,
				Kind:            string(rec.Kind),
				Attacker:        string(rec.Attacker),
				Defender:        string(rec.Defender),
				Result:          string(rec.Result),
				WhoWon:          string(rec.WhoWon),
				Rounds:          rec.Rounds,
				AttackerLostTUV: rec.AttackerLostTUV,
				DefenderLostTUV: rec.DefenderLostTUV,
				Detail:          detail,
				CreatedAt:       now,
			})
		}
	}
	return out, nil
}
