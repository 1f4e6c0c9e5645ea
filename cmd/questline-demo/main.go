package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	mem "questline/adapters/memory"
	"questline/analytics"
	"questline/api/httpapi"
	"questline/catalog"
	"questline/core"
	"questline/engine"
	"questline/gamify"
	"questline/realtime"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address for -serve")
	serve := flag.Bool("serve", false, "keep serving the API after the scripted run")
	user := flag.String("user", "demo", "user the script plays as")
	flag.Parse()

	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	log := slog.New(textHandler)
	slog.SetDefault(log)

	ctx := context.Background()
	store := mem.New()
	hub := realtime.NewHub()
	progress := analytics.NewProgressMetrics()

	svc, err := gamify.New(
		gamify.WithStorage(store),
		gamify.WithCatalog(catalog.Default()),
		gamify.WithRealtime(hub),
		gamify.WithDispatchMode(engine.DispatchSync),
		gamify.WithLogger(log),
		gamify.WithEventHook(analytics.Handler(progress)),
		gamify.WithEventHook(func(_ context.Context, e core.Event) {
			switch e.Type {
			case core.EventLevelUp:
				log.Info("level up", "user", e.UserID, "level", e.Level)
			case core.EventBadgeUnlocked:
				log.Info("badge unlocked", "user", e.UserID, "badge", e.Badge.ID, "rarity", e.Badge.Rarity)
			}
		}),
	)
	if err != nil {
		log.Error("build service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if err := run(ctx, log, svc, store, core.UserID(*user)); err != nil {
		log.Error("demo failed", "error", err)
		os.Exit(1)
	}

	summary := progress.Summarize(time.Now().UTC().Format("2006-01-02"), 3)
	log.Info("today",
		"quests_completed", summary.QuestsCompleted,
		"xp_awarded", summary.XPAwarded,
		"badges_unlocked", summary.BadgesUnlocked,
		"spins", summary.Spins)

	if !*serve {
		return
	}
	log.Info("starting demo server", "address", *addr)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           httpapi.NewMux(svc, hub, httpapi.Options{PathPrefix: "/api", AllowCORSOrigin: "*", Seeder: store, Logger: log}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

// run plays a newcomer's first day: the food track, a repeated completion,
// the daily spin twice and a look at the leaderboard.
func run(ctx context.Context, log *slog.Logger, svc *engine.ProgressionService, seeder engine.Seeder, user core.UserID) error {
	if _, _, err := seeder.PutProfile(ctx, core.Profile{ID: user, DisplayName: "Demo Newcomer"}); err != nil {
		return err
	}
	for _, rival := range []core.Profile{
		{ID: "aino", DisplayName: "Aino", TotalXP: 250, TotalPoints: 120},
		{ID: "mikko", DisplayName: "Mikko", TotalXP: 90, TotalPoints: 60},
	} {
		rival.Level = core.LevelFromXP(rival.TotalXP)
		if _, _, err := seeder.PutProfile(ctx, rival); err != nil {
			return err
		}
	}

	food, err := svc.ListQuests(ctx, engine.QuestFilter{Category: core.CategoryFood})
	if err != nil {
		return err
	}
	for _, q := range food {
		res, err := svc.CompleteQuest(ctx, user, q.ID, "")
		if err != nil {
			return err
		}
		log.Info("quest completed", "quest", q.ID, "xp", res.Profile.TotalXP, "points", res.Profile.TotalPoints, "level", res.Profile.Level)
	}

	again, err := svc.CompleteQuest(ctx, user, food[0].ID, "")
	if err != nil {
		return err
	}
	log.Info("repeat completion", "quest", food[0].ID, "applied", again.Applied)

	spin, err := svc.SpinWheel(ctx, user)
	if err != nil {
		return err
	}
	log.Info("daily spin", "reward", spin.Reward.Label, "date", spin.Date)
	if _, err := svc.SpinWheel(ctx, user); errors.Is(err, core.ErrAlreadySpunToday) {
		log.Info("second spin rejected", "error", err)
	} else if err != nil {
		return err
	}

	view, err := svc.GetProgress(ctx, user)
	if err != nil {
		return err
	}
	log.Info("progress",
		"level", view.Level.Level,
		"xp_in_level", view.Level.XPInLevel,
		"xp_needed", view.Level.XPNeeded,
		"completed", view.CompletedQuests,
		"total", view.TotalQuests,
		"badges", view.BadgeCount)

	rows, err := svc.GetLeaderboard(ctx, 5)
	if err != nil {
		return err
	}
	for _, r := range rows {
		log.Info("leaderboard", "rank", r.Rank, "user", r.UserID, "points", r.TotalPoints, "level", r.Level)
	}
	return nil
}
