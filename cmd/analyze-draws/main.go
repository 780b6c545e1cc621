// Command analyze-draws inspects the per-replicate draw archive: it
// recomputes distribution summaries from the archived coefficient samples
// and group means of one run, for post-hoc checks that never require
// re-running the bootstrap.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/mtvedt/qalyboot/internal/aggregate"
	"github.com/mtvedt/qalyboot/internal/storage"
)

var (
	archivePath = flag.String("archive", "./data/archive.db", "Path to the draw archive database")
	runID       = flag.String("run", "", "Run id to inspect (default: most recent)")
)

func main() {
	flag.Parse()

	archive, err := storage.OpenArchive(*archivePath)
	if err != nil {
		log.Fatalf("Failed to open archive: %v", err)
	}
	defer archive.Close()

	ctx := context.Background()

	ids, err := archive.RunIDs(ctx)
	if err != nil {
		log.Fatalf("Failed to list archived runs: %v", err)
	}
	if len(ids) == 0 {
		log.Fatalf("Archive %s holds no runs", *archivePath)
	}

	id := *runID
	if id == "" {
		id = ids[len(ids)-1]
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("ARCHIVED DRAW DISTRIBUTIONS: run %s\n", id)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("\nArchive: %s (%d runs total)\n", *archivePath, len(ids))

	printCoefficientDistributions(ctx, archive, id)
	printGroupDistributions(ctx, archive, id)
}

func printCoefficientDistributions(ctx context.Context, archive *storage.Archive, runID string) {
	names, err := archive.CoefficientNames(ctx, runID)
	if err != nil {
		log.Fatalf("Failed to list coefficients: %v", err)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("COEFFICIENT SAMPLES")
	fmt.Println(strings.Repeat("=", 80))
	if len(names) == 0 {
		fmt.Println("\nNo coefficient samples archived for this run.")
		return
	}

	fmt.Printf("\n%-28s %6s %9s %9s %9s %9s %6s\n",
		"Coefficient", "Draws", "Mean", "2.5%", "50%", "97.5%", "Pos%")
	fmt.Println(strings.Repeat("-", 80))

	for _, name := range names {
		samples, err := archive.CoefficientSamples(ctx, runID, name)
		if err != nil {
			log.Fatalf("Failed to load samples for %s: %v", name, err)
		}

		values := make([]float64, len(samples))
		positive := 0
		sum := 0.0
		for i, s := range samples {
			values[i] = s.Estimate
			sum += s.Estimate
			if s.Estimate > 0 {
				positive++
			}
		}

		summary, err := aggregate.Summary(values)
		if err != nil {
			fmt.Printf("%-28s %6d  (too few draws for quantiles)\n", truncate(name, 28), len(values))
			continue
		}

		mean := sum / float64(len(values))
		posPct := float64(positive) / float64(len(values)) * 100
		fmt.Printf("%-28s %6d %9.4f %9.4f %9.4f %9.4f %5.1f%%\n",
			truncate(name, 28), len(values), mean, summary.P025, summary.P50, summary.P975, posPct)
	}
	fmt.Println("\nPos% is the share of draws strictly above zero; values near 0% or 100%")
	fmt.Println("match coefficients the run reported as significant.")
}

func printGroupDistributions(ctx context.Context, archive *storage.Archive, runID string) {
	cells, err := archive.GroupCells(ctx, runID)
	if err != nil {
		log.Fatalf("Failed to list group cells: %v", err)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("GROUP MEAN DRAWS")
	fmt.Println(strings.Repeat("=", 80))
	if len(cells) == 0 {
		fmt.Println("\nNo group draws archived for this run.")
		return
	}

	fmt.Printf("\n%-12s %-16s %6s %9s %9s %9s %9s\n",
		"Age group", "Type", "Draws", "Mean", "2.5%", "50%", "97.5%")
	fmt.Println(strings.Repeat("-", 80))

	for _, cell := range cells {
		draws, err := archive.GroupDraws(ctx, runID, cell.AgeGroup, cell.Type)
		if err != nil {
			log.Fatalf("Failed to load draws for %s/%s: %v", cell.AgeGroup, cell.Type, err)
		}

		values := make([]float64, len(draws))
		sum := 0.0
		for i, d := range draws {
			values[i] = d.Value
			sum += d.Value
		}

		summary, err := aggregate.Summary(values)
		if err != nil {
			fmt.Printf("%-12s %-16s %6d  (too few draws for quantiles)\n",
				cell.AgeGroup, cell.Type, len(values))
			continue
		}

		mean := sum / float64(len(values))
		fmt.Printf("%-12s %-16s %6d %9.3f %9.3f %9.3f %9.3f\n",
			cell.AgeGroup, cell.Type, len(values), mean, summary.P025, summary.P50, summary.P975)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
