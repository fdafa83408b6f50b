// Command battlesim fights the attacks of a scenario file with automatic
// players and reports how each battle went, over one or many runs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/axis-battle/api/internal/repository/sqlite"
	"github.com/freeeve/axis-battle/api/pkg/battle"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	var (
		scenarioPath string
		seed         int64
		runs         int
		workers      int
		sqlitePath   string
		gameID       string
		jsonOut      bool
		verbose      bool
	)
	flag.StringVar(&scenarioPath, "scenario", "", "Scenario JSON file (required)")
	flag.Int64Var(&seed, "seed", 0, "Base dice seed (0 = scenario seed or random)")
	flag.IntVar(&runs, "runs", 1, "Number of runs")
	flag.IntVar(&workers, "workers", 4, "Concurrent runs")
	flag.StringVar(&sqlitePath, "sqlite", "", "Store records in this SQLite file")
	flag.StringVar(&gameID, "game", "", "Game id for stored records (default battlesim-<scenario name>)")
	flag.BoolVar(&jsonOut, "json", false, "Output results as JSON")
	flag.BoolVar(&verbose, "v", false, "Log every battle")
	flag.Parse()

	if !verbose {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if scenarioPath == "" || runs < 1 {
		flag.Usage()
		os.Exit(2)
	}

	data, err := os.ReadFile(scenarioPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Read scenario failed")
	}
	sc, err := battle.ParseScenario(data)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid scenario")
	}
	if len(sc.Dice) > 0 && runs > 1 {
		log.Warn().Msg("Scenario has scripted dice; every run will be the same")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	results, err := simulate(ctx, sc, runs, workers, seed)
	if err != nil {
		log.Fatal().Err(err).Msg("Simulation failed")
	}
	for _, r := range results {
		for _, rec := range r.Records {
			log.Debug().Int("run", r.Run).Str("site", rec.Site).Str("result", string(rec.Result)).
				Str("whoWon", string(rec.WhoWon)).Int("rounds", rec.Rounds).Msg("Battle")
		}
	}
	stats := summarize(results)

	if sqlitePath != "" {
		if gameID == "" {
			gameID = "battlesim-" + sc.Name
		}
		if err := store(ctx, sqlitePath, gameID, results); err != nil {
			log.Fatal().Err(err).Str("path", sqlitePath).Msg("Storing records failed")
		}
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"scenario": sc.Name, "runs": runs, "sites": stats}); err != nil {
			log.Fatal().Err(err).Msg("Encode failed")
		}
		return
	}
	fmt.Printf("\n%s (%d runs):\n", sc.Name, runs)
	for _, st := range stats {
		fmt.Printf("  %-20s attacker %5.1f%%  defender %5.1f%%  draw %5.1f%%  rounds %.2f  TUV lost %.1f / %.1f\n",
			st.Site,
			100*st.AttackerWinRate,
			100*float64(st.DefenderWins)/float64(st.Battles),
			100*float64(st.Draws)/float64(st.Battles),
			st.AvgRounds, st.AvgAttackerLoss, st.AvgDefenderLoss)
	}
}

// store saves the records and prints what the store holds for gameID.
func store(ctx context.Context, path, gameID string, results []*runResult) error {
	db, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := storedRecords(gameID, results)
	if err != nil {
		return err
	}
	if err := db.SaveRecords(ctx, records); err != nil {
		return err
	}
	summary, err := db.Summary(ctx, gameID)
	if err != nil {
		return err
	}
	log.Info().Str("gameId", gameID).Int("saved", len(records)).Msg("Records stored")
	for _, rc := range summary {
		log.Info().Str("site", rc.Site).Str("result", rc.Result).Str("whoWon", rc.WhoWon).
			Int("count", rc.Count).Float64("avgRounds", rc.AvgRounds).Msg("Stored totals")
	}
	return nil
}
