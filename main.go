// Package main is the nextrequest-crawler entrypoint.
//
// Architecture overview:
//   - crawl lists the sources collection and hands each subdomain to a worker,
//     either in-process one after another or as staggered child processes
//     running the worker subcommand.
//   - worker checks completion and the lease, claims the source, walks the
//     listing pages newest first, fetches details through a bounded pool, and
//     finalizes the source once its count reaches the remote total.
//   - Every remote call goes through the rate-limited client: 429 responses
//     are retried after a jittered pause, 500 responses yield an empty result.
//   - Persistence is MongoDB, Postgres or memory; leases live on the source
//     record or, optionally, in Redis.
//
// Quick checklist:
//   - Configure via config.yaml, NEXTREQUEST_* env vars, a .env file, or a
//     credentials.json for MongoDB.
//   - Register sources: nextrequest-crawler sources add city.nextrequest.com
//   - Run: nextrequest-crawler crawl --mode process
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/JakeFAU/nextrequest-crawler/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cmd.Execute(ctx)
	stop()
	os.Exit(code)
}
