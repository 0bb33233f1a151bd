package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/memory"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories",
	Long: `Search memories. Uses semantic similarity when an embedding backend
is available and keyword matching otherwise. Pass --file to boost
memories connected to a file you are currently working in.

Examples:
  engram search "refresh tokens"
  engram search "cache invalidation" --project billing --file internal/cache/lru.go`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		file, _ := cmd.Flags().GetString("file")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		return runSearch(args[0], project, file, limit, asJSON)
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar <memory_id>",
	Short: "Find memories similar to a given one",
	Long: `Find memories similar to an existing record, excluding the record
itself.

Examples:
  engram similar 4f7c2a1e-...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return runSimilar(args[0], limit)
	},
}

var byFileCmd = &cobra.Command{
	Use:   "by-file <path>",
	Short: "Find memories connected to a file",
	Long: `Find memories connected to a file through the graph: direct links,
related files, and files that co-occur on the same memories.

Examples:
  engram by-file src/auth.py
  engram by-file tests/test_auth.py --project webapp`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		limit, _ := cmd.Flags().GetInt("limit")
		return runByFile(args[0], project, limit)
	},
}

func init() {
	searchCmd.Flags().String("project", "", "Filter by project")
	searchCmd.Flags().String("file", "", "Boost memories connected to this file")
	searchCmd.Flags().Int("limit", 10, "Maximum results")
	searchCmd.Flags().Bool("json", false, "Output as JSON")

	similarCmd.Flags().Int("limit", 10, "Maximum results")

	byFileCmd.Flags().String("project", "", "Filter by project")
	byFileCmd.Flags().Int("limit", 10, "Maximum results")
}

func runSearch(query, project, file string, limit int, asJSON bool) error {
	engine, cleanup, err := openEngine()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer cleanup()

	results, err := engine.Search(context.Background(), query, memory.SearchOptions{
		ProjectID:   project,
		CurrentFile: file,
		Limit:       limit,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No matching memories.")
		return nil
	}
	printResults(results)
	return nil
}

func runSimilar(id string, limit int) error {
	engine, cleanup, err := openEngine()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer cleanup()

	results, err := engine.FindSimilar(context.Background(), id, limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No similar memories.")
		return nil
	}
	printResults(results)
	return nil
}

func runByFile(path, project string, limit int) error {
	engine, cleanup, err := openEngine()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer cleanup()

	records, err := engine.SearchByFile(context.Background(), path, project, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No memories connected to %s.\n", path)
		return nil
	}
	for _, rec := range records {
		printRecordLine(rec)
	}
	return nil
}

func printResults(results []memory.SearchResult) {
	for _, r := range results {
		fmt.Printf("[%.2f] ", r.Score)
		printRecordLine(r.Record)
	}
}
