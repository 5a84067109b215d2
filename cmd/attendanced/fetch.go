// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirius-college/attendance-monitoring/internal/config"
	attlog "github.com/sirius-college/attendance-monitoring/internal/log"
	"github.com/sirius-college/attendance-monitoring/internal/seqta"
)

// runFetchCLI does a one-shot feed pull and prints a summary, without
// touching the store. Used to verify credentials and connectivity.
func runFetchCLI(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	dateStr := fs.String("date", "", "window start date (YYYY-MM-DD), default per configured window")
	asJSON := fs.Bool("json", false, "print the full feed as JSON")
	_ = fs.Parse(args)

	attlog.Configure(attlog.Config{Level: "warn", Service: "attendanced", Version: version})

	cfg, err := config.NewLoader(*configPath, version).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	var startDate seqta.Date
	if *dateStr != "" {
		if err := startDate.UnmarshalText([]byte(*dateStr)); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -date: %v\n", err)
			return 2
		}
	} else {
		startDate = seqta.DateOf(time.Now().AddDate(0, 0, -cfg.WindowWeeks*7))
	}

	client := seqta.New(cfg.SEQTABase, seqta.Options{
		Username: cfg.SEQTAUsername,
		Password: cfg.SEQTAPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	feed, err := client.Attendance(ctx, startDate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(feed.Records); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 1
		}
		return 0
	}

	unresolved := 0
	for _, rec := range feed.Records {
		if !rec.Resolved {
			unresolved++
		}
	}
	fmt.Printf("fetched %d records since %s (%d unresolved), feed timestamp %s\n",
		len(feed.Records), startDate, unresolved, feed.Timestamp)
	return 0
}
