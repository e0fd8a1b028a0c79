// The sweeper binary is the cron-side trigger for the subscription expiry
// sweep: run once, print the report as JSON, exit non-zero if any item
// failed.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sudo-init-do/skillhub/internal/cache"
	"github.com/sudo-init-do/skillhub/internal/config"
	"github.com/sudo-init-do/skillhub/internal/db"
	"github.com/sudo-init-do/skillhub/internal/notify"
	"github.com/sudo-init-do/skillhub/internal/sweeper"
)

// noPush satisfies notify.Pusher: the one-shot binary holds no live
// connections, the durable rows are the delivery guarantee.
type noPush struct{}

func (noPush) Send(string, any) error { return notify.ErrNotConnected }

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database unavailable", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	var inv cache.Invalidator = cache.Noop{}
	if cfg.RedisAddr != "" {
		inv = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), log)
	}

	dispatcher := notify.NewDispatcher(notify.NewPgStore(pool), noPush{}, log)
	sweep := sweeper.New(sweeper.NewPgStore(pool), dispatcher, inv, log, cfg.ExpiryWarnDays)

	report := sweep.Run(ctx, time.Now())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if len(report.Errors) > 0 {
		os.Exit(1)
	}
}
