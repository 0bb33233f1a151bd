package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store statistics and search health",
	Long: `Show store statistics: record and file counts, database size, which
embedding backend is active, and whether semantic search is up.

Examples:
  engram status`,
	RunE: func(cmd *cobra.Command, args []string) error { return runStatus() },
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Rebuild the vector index for the active backend",
	Long: `Rebuild the vector index at the active embedding backend's
dimensionality and re-embed every record. Run this after switching to a
backend with a different vector width; until then semantic search stays
off and keyword search keeps working.

Examples:
  engram migrate`,
	RunE: func(cmd *cobra.Command, args []string) error { return runMigrate() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("engram %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

func runStatus() error {
	engine, cleanup, err := openEngine()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer cleanup()

	status, err := engine.Status(context.Background())
	if err != nil {
		return err
	}

	fmt.Println("Engram Status:")
	fmt.Printf("  Memories: %d\n", status.Memories)
	fmt.Printf("  Files: %d (edges: %d)\n", status.Files, status.Edges)
	fmt.Printf("  Database: %s (%.1f KB)\n", status.DBPath, float64(status.DBSizeBytes)/1024)
	fmt.Printf("  Embedding backend: %s\n", status.Backend)
	if status.SemanticSearch {
		fmt.Printf("  Semantic search: ✅ on (%d dims, %d vectors)\n", status.Dimensions, status.Vectors)
	} else if status.StaleIndex {
		fmt.Println("  Semantic search: ⚠️  off — vector width changed, run 'engram migrate'")
	} else {
		fmt.Println("  Semantic search: ❌ off — keyword matching only")
	}
	return nil
}

func runMigrate() error {
	engine, cleanup, err := openEngine()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer cleanup()

	fmt.Println("Rebuilding vector index...")
	report, err := engine.MigrateEmbeddings(context.Background())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Printf("✅ Re-embedded %d/%d memories\n", report.Succeeded, report.Total)
	if report.Succeeded < report.Total {
		fmt.Println("   Some records could not be embedded; they remain keyword-searchable.")
	}
	return nil
}
