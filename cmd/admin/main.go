package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"claimhub/backend/internal/config"
	"claimhub/backend/internal/models"
	"claimhub/backend/internal/storage"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const listLimit = 50

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.DatabaseDSN == "" {
		log.Fatal("DATABASE_DSN is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	storageSvc := storage.NewStorageService(db, nil) // No redis needed for admin CLI
	ctx := context.Background()

	switch command := os.Args[1]; command {
	case "failed", "completed", "all":
		status := models.JobStatus(command)
		if command == "all" {
			status = ""
		}
		if err := listJobs(ctx, storageSvc, status); err != nil {
			log.Fatalf("Error listing jobs: %v", err)
		}
	case "show":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin show <job_id>")
			os.Exit(1)
		}
		id, err := models.ParseJobID(os.Args[2])
		if err != nil {
			fmt.Println("Invalid job ID. Please provide an integer.")
			os.Exit(1)
		}
		if err := showJob(ctx, storageSvc, id); err != nil {
			log.Fatalf("Error showing job: %v", err)
		}
	case "purge":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin purge <older_than_days>")
			os.Exit(1)
		}
		days, err := strconv.Atoi(os.Args[2])
		if err != nil || days < 0 {
			fmt.Println("Invalid number of days. Please provide a non-negative integer.")
			os.Exit(1)
		}
		cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
		n, err := storageSvc.PurgeArchivedJobs(ctx, cutoff)
		if err != nil {
			log.Fatalf("Error purging jobs: %v", err)
		}
		fmt.Printf("Purged %d archived jobs finished before %s.\n", n, cutoff.Format(time.RFC3339))
	default:
		fmt.Println("Unknown command")
		usage()
	}
}

func usage() {
	fmt.Println("Usage: admin <command> [args]")
	fmt.Println("  failed | completed | all   list archived jobs")
	fmt.Println("  show <job_id>              print one archived job")
	fmt.Println("  purge <older_than_days>    delete old archived jobs")
	os.Exit(1)
}

func listJobs(ctx context.Context, s storage.Storage, status models.JobStatus) error {
	recs, err := s.ListArchivedJobs(ctx, status, listLimit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tATTEMPTS\tFINISHED\tLAST ERROR")
	for _, r := range recs {
		lastErr := ""
		if len(r.Errors) > 0 {
			lastErr = r.Errors[len(r.Errors)-1]
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Type, r.Status, r.Attempts, r.FinishedAt.Format(time.RFC3339), lastErr)
	}
	return w.Flush()
}

func showJob(ctx context.Context, s storage.Storage, id models.JobID) error {
	rec, err := s.GetArchivedJob(ctx, id)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if len(rec.Errors) > 0 {
		fmt.Printf("\n%d recorded errors:\n  %s\n", len(rec.Errors), strings.Join(rec.Errors, "\n  "))
	}
	return nil
}
