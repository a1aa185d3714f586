package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/leatham22/Friend-convenient-meetup/internal/config"
	"github.com/leatham22/Friend-convenient-meetup/internal/graph"
	"github.com/leatham22/Friend-convenient-meetup/internal/logging"
	"github.com/leatham22/Friend-convenient-meetup/internal/models"
	"github.com/leatham22/Friend-convenient-meetup/internal/query"
	"github.com/leatham22/Friend-convenient-meetup/internal/tfl"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to an optional .env file")
	graphPath := flag.String("graph", "", "Path to final_graph.json (overrides GRAPH_PATH)")
	users := flag.StringArrayP("user", "u", nil, `One participant as "<hub name>:<walk minutes>" (repeatable, at least 2)`)
	verbose := flag.BoolP("verbose", "v", false, "Enable debug logging")
	flag.Parse()

	_ = godotenv.Load(*envFile)

	log := logging.New(*verbose)

	if len(*users) < 2 {
		fmt.Fprintln(os.Stderr, `Usage: meetup --user "Ladbroke Grove:4" --user "Canary Wharf:6" [--user ...]`)
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := config.LoadQueryFromEnv()
	if *graphPath != "" {
		cfg.GraphPath = *graphPath
	}
	if cfg.APIToken == "" {
		log.Error("TFL_API_TOKEN is required for the refinement stage")
		os.Exit(1)
	}

	g, err := graph.LoadFile(cfg.GraphPath)
	if err != nil {
		log.Error("failed to load graph", "path", cfg.GraphPath, "error", err)
		os.Exit(1)
	}
	log.Info("graph loaded", "hubs", g.HubCount(), "edges", g.EdgeCount())

	client := tfl.NewClient(tfl.DefaultConfig(cfg.APIToken), nil, log)
	engine := query.NewEngine(g, client, cfg, log)

	entries, err := parseUsers(engine, *users)
	if err != nil {
		log.Error("invalid user entry", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := engine.FindMeetup(ctx, entries)
	if err != nil {
		log.Error("query failed", "error", err)
		os.Exit(1)
	}

	printResult(result)
}

// parseUsers turns "<hub name>:<walk minutes>" entries into resolved users
func parseUsers(engine *query.Engine, raw []string) ([]models.MeetupUser, error) {
	users := make([]models.MeetupUser, 0, len(raw))
	for _, entry := range raw {
		idx := strings.LastIndex(entry, ":")
		if idx <= 0 {
			return nil, fmt.Errorf("%q is not of the form \"<hub name>:<walk minutes>\"", entry)
		}
		name := strings.TrimSpace(entry[:idx])
		minutes, err := strconv.Atoi(strings.TrimSpace(entry[idx+1:]))
		if err != nil || minutes < 0 {
			return nil, fmt.Errorf("%q has an invalid walk time", entry)
		}

		hub, err := engine.ResolveHub(name)
		if err != nil {
			return nil, err
		}
		users = append(users, models.MeetupUser{
			StartHub:    hub.ID,
			WalkMinutes: minutes,
		})
	}
	return users, nil
}

func printResult(result *models.MeetupResult) {
	fmt.Printf("Best meeting point: %s (avg %.1f min, total %.1f min)\n",
		result.Best.Name, result.Best.AverageMinutes, result.Best.TotalMinutes)
	for i, per := range result.Best.PerUserMinutes {
		fmt.Printf("  user %d: %.0f min\n", i+1, per)
	}

	if len(result.Alternatives) > 0 {
		fmt.Println("\nAlternatives:")
		for _, alt := range result.Alternatives {
			fmt.Printf("  %s (avg %.1f min, total %.1f min)\n",
				alt.Name, alt.AverageMinutes, alt.TotalMinutes)
		}
	}
}
