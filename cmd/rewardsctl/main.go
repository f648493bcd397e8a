package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/fx"

	"encoin-rewards/pkg/config"
	"encoin-rewards/pkg/db"
	"encoin-rewards/pkg/gen"
	"encoin-rewards/pkg/logger"
	"encoin-rewards/services/award"
	"encoin-rewards/services/catalog"
	"encoin-rewards/services/chain"
	"encoin-rewards/services/wallet"
)

// rewardsctl calls the reward service directly against the configured
// database and chain. It is meant for local runs and operator fixes.
//
//	rewardsctl award <uid> <event_id>
//	rewardsctl spend <uid> <amount>
//	rewardsctl awards <uid>
//	rewardsctl wallet <uid>
//	rewardsctl repair <journal_id>
var (
	timestamp = flag.String("timestamp", "", "event time for award (RFC3339)")
	source    = flag.String("source", "cli", "source recorded on award")
	label     = flag.String("label", "", "label recorded on spend")
	key       = flag.String("key", "", "idempotency key")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] award|spend|awards|wallet|repair args...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var svc *award.Service
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		catalog.Module,
		wallet.Module,
		chain.Module,
		award.Module,
		fx.Populate(&svc),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		log.Fatalf("init failed: %v", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		log.Fatalf("start failed: %v", err)
	}

	code := run(context.Background(), svc, flag.Args())

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	_ = app.Stop(stopCtx)

	os.Exit(code)
}

func run(ctx context.Context, svc *award.Service, args []string) int {
	var (
		out any
		err error
	)

	switch {
	case args[0] == "award" && len(args) == 3:
		out, err = svc.AwardEvent(ctx, args[1], args[2], award.AwardOptions{
			Timestamp:      *timestamp,
			Source:         *source,
			IdempotencyKey: *key,
		})
	case args[0] == "spend" && len(args) == 3:
		out, err = svc.Spend(ctx, args[1], args[2], award.SpendOptions{
			Label:          *label,
			IdempotencyKey: *key,
		})
	case args[0] == "awards" && len(args) == 2:
		out, err = svc.AvailableAwards(ctx, args[1])
	case args[0] == "wallet" && len(args) == 2:
		out, err = svc.WalletSnapshot(ctx, args[1])
	case args[0] == "repair" && len(args) == 2:
		var status award.JournalStatus
		status, err = svc.Repair(ctx, args[1])
		out = map[string]award.JournalStatus{"status": status}
	default:
		flag.Usage()
		return 2
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
	return 0
}
