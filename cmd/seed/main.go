// seed opens a demo session on the configured store, issues one token and
// redeems it twice, printing each step. It is a local smoke test.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"qr-attendance/backend/internal/config"
	"qr-attendance/backend/internal/engine"
	"qr-attendance/backend/internal/logger"
)

func main() {
	owner := flag.String("owner", "demo-teacher", "Session owner id")
	redeemer := flag.String("redeemer", "demo-student", "Redeemer id")
	window := flag.Duration("window", 5*time.Minute, "Session window length")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	if err := run(cfg, engine.Deps{Logger: log}, *owner, *redeemer, *window); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, deps engine.Deps, owner, redeemer string, window time.Duration) error {
	ctx := context.Background()
	eng, err := engine.New(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer eng.Close()

	now := time.Now()
	sess, err := eng.Registry.Create(ctx, owner, now, now.Add(window))
	if err != nil {
		return err
	}
	fmt.Printf("session   %s  window %s .. %s  backend %s\n",
		sess.ID, sess.WindowStart.Format(time.RFC3339), sess.WindowEnd.Format(time.RFC3339), eng.Stores.Backend)

	tok, expiresAt, err := eng.Issuance.Issue(ctx, sess.ID)
	if err != nil {
		return err
	}
	fmt.Printf("token     %s\n          expires %s\n", tok, expiresAt.Format(time.RFC3339))

	for i := 1; i <= 2; i++ {
		res, err := eng.Redemption.Redeem(ctx, tok, redeemer)
		if err != nil {
			return err
		}
		fmt.Printf("redeem #%d %s %s\n", i, res.Outcome, res.Reason)
	}
	return nil
}
