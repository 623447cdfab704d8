package main

/*
sales_coach analyses recorded sales conversations and scores the seller
against the coaching methodology.

Usage:
  go run ./cmd/sales_coach setup   --db out/sales_coach.db
  go run ./cmd/sales_coach analyze --segments data/call.json
  go run ./cmd/sales_coach serve
  go run ./cmd/sales_coach recover
  go run ./cmd/sales_coach report
  go run ./cmd/sales_coach export  --job <id> --out out/<id>.xlsx

Every command reads config.yaml (or --config), .env and SALES_COACH_*
environment variables. Commands that call the generation service need
OPENAI_API_KEY.
*/

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
