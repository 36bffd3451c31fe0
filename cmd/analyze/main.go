// Ringwatch - Graph-based money-laundering ring detection.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command analyze runs the detection pipeline over local CSV files and
// prints the ring summary table of each.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/opensource-finance/ringwatch/internal/analysis"
	"github.com/opensource-finance/ringwatch/internal/config"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/logging"
	"github.com/opensource-finance/ringwatch/internal/rules"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (detection and reason rules)")
	outDir := flag.String("out", "", "Directory to write <name>_analysis.json reports into")
	printJSON := flag.Bool("json", false, "Print the full JSON report of each file")
	printSummary := flag.Bool("summary", true, "Print the ring summary table")
	verbose := flag.Bool("verbose", false, "Log pipeline stage timings")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Println("Usage: analyze [-config ringwatch.yaml] [-out ./output] [-json] [-summary=false] file.csv [file.csv ...]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, syncLogs, err := logging.New(domain.LoggingConfig{Level: level, Format: "console"})
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	defer syncLogs() //nolint:errcheck

	engine, err := rules.NewEngine()
	if err != nil {
		fmt.Printf("ERROR: failed to initialize rule engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()
	if err := engine.LoadRules(cfg.ReasonRules); err != nil {
		fmt.Printf("ERROR: failed to load reason rules: %v\n", err)
		os.Exit(1)
	}

	svc := analysis.New(
		analysis.WithRules(engine),
		analysis.WithDetection(cfg.Detection),
		analysis.WithLogger(logger),
	)

	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	failed := 0
	for _, path := range flag.Args() {
		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			failed++
			continue
		}

		res, err := svc.Analyze(ctx, filepath.Base(path), content)
		if err != nil {
			fmt.Printf("ERROR: %s: %v\n", path, err)
			failed++
			continue
		}

		printResult(path, res, *printSummary)

		if *printJSON {
			out, _ := json.MarshalIndent(res.Report, "", "    ")
			fmt.Println(string(out))
		}

		if *outDir != "" {
			dest := filepath.Join(*outDir, analysis.ReportName(path)+".json")
			if err := writeReport(dest, res.Report); err != nil {
				fmt.Printf("ERROR: %v\n", err)
				failed++
				continue
			}
			fmt.Printf("  Saved to:   %s\n", dest)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func printResult(path string, res *domain.FileResult, table bool) {
	s := res.Report.Summary
	fmt.Printf("\n== %s ==\n", path)
	fmt.Printf("  Accounts:   %d\n", s.TotalAccountsAnalyzed)
	fmt.Printf("  Suspicious: %d\n", s.SuspiciousAccountsFlagged)
	fmt.Printf("  Rings:      %d\n", s.FraudRingsDetected)
	fmt.Printf("  Time:       %.3fs\n", s.ProcessingTimeSeconds)

	if m := res.Report.EvalMetrics; m != nil {
		fmt.Printf("  Precision:  %.4f\n", m.Precision)
		fmt.Printf("  Recall:     %.4f\n", m.Recall)
		fmt.Printf("  F1-Score:   %.4f\n", m.F1Score)
		fmt.Printf("  Accuracy:   %.4f\n", m.Accuracy)
		fmt.Printf("  Threshold:  %.4f (optimal)\n", m.OptimalThreshold)
	}

	if !table || len(res.Summary) == 0 {
		return
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  RING\tPATTERN\tMEMBERS\tRISK\tAVG\tMAX\tEDGES\tDENSITY\tCATEGORY")
	for _, r := range res.Summary {
		fmt.Fprintf(w, "  %s\t%s\t%d\t%.2f\t%.2f\t%.2f\t%d\t%.3f\t%s\n",
			r.RingID, r.PatternType, r.MemberCount, r.RiskScore,
			r.AvgMemberScore, r.MaxMemberScore, r.InternalEdgeCount, r.RingDensity, r.RiskCategory)
	}
	w.Flush()
}

func writeReport(path string, report *domain.Report) error {
	data, err := json.MarshalIndent(report, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
