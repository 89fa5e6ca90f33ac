package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"OpenMCP-Triage/sdk/go/triage"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "triage API base URL")
	query := flag.String("query", "", "query to queue before listing runs")
	limit := flag.Int("limit", 10, "number of runs to list")
	flag.Parse()

	client, err := triage.NewClient(*addr, os.Getenv("TRIAGE_API_TOKEN"), nil)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *query != "" {
		if err := client.SubmitQuery(ctx, *query); err != nil {
			log.Fatalf("submit query: %v", err)
		}
		fmt.Printf("queued %q\n", *query)
	}

	runs, err := client.ListRuns(ctx, *limit)
	if err != nil {
		log.Fatalf("list runs: %v", err)
	}
	for _, run := range runs {
		fmt.Printf("%s  %-8s %-15s %s\n", time.Unix(run.CreatedAt, 0).Format(time.RFC3339), run.Route, run.Agent, run.Query)
	}
}
