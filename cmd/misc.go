package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/memory"
)

var showCmd = &cobra.Command{
	Use:   "show <memory_id>",
	Short: "Show a memory record",
	Long: `Show a single memory record with its linked files.

Examples:
  engram show 4f7c2a1e-...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return runShow(args[0], asJSON)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories, newest first",
	Long: `List stored memories newest first, optionally filtered by project
and session.

Examples:
  engram list
  engram list --project billing --limit 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		session, _ := cmd.Flags().GetString("session")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		return runList(project, session, limit, asJSON)
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <memory_id>",
	Short: "Delete a memory record",
	Long: `Delete a memory record. Its file links go with it; tracked files
stay.

Examples:
  engram forget 4f7c2a1e-...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error { return runForget(args[0]) },
}

func init() {
	showCmd.Flags().Bool("json", false, "Output as JSON")
	listCmd.Flags().String("project", "", "Filter by project")
	listCmd.Flags().String("session", "", "Filter by session")
	listCmd.Flags().Int("limit", 20, "Maximum records to list")
	listCmd.Flags().Bool("json", false, "Output as JSON")
}

func runShow(id string, asJSON bool) error {
	engine, cleanup, err := openEngine()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer cleanup()

	ctx := context.Background()
	rec, err := engine.Store().Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Printf("Memory %s not found.\n", id)
		return nil
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	printRecord(rec)
	files, err := engine.Graph().FilesForMemory(ctx, id)
	if err != nil {
		return err
	}
	if len(files) > 0 {
		fmt.Printf("  Files: %s\n", strings.Join(files, ", "))
	}
	return nil
}

func runList(project, session string, limit int, asJSON bool) error {
	engine, cleanup, err := openEngine()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer cleanup()

	records, err := engine.Store().List(context.Background(),
		memory.ListFilter{ProjectID: project, SessionID: session}, limit)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println("No memories stored yet.")
		return nil
	}
	for _, rec := range records {
		printRecordLine(rec)
	}
	return nil
}

func runForget(id string) error {
	engine, cleanup, err := openEngine()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer cleanup()

	ok, err := engine.Delete(context.Background(), id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	if !ok {
		fmt.Printf("Memory %s not found.\n", id)
		return nil
	}
	fmt.Println("✅ Forgotten.")
	return nil
}

func printRecord(rec *memory.MemoryRecord) {
	fmt.Printf("Memory %s  (created %s)\n", rec.ID, rec.CreatedAt.Local().Format("2006-01-02 15:04"))
	if rec.Goal != "" {
		fmt.Printf("  Goal: %s\n", rec.Goal)
	}
	if rec.Context != "" {
		fmt.Printf("  Context: %s\n", rec.Context)
	}
	for _, t := range rec.ActiveTasks {
		fmt.Printf("  Task [%s]: %s\n", t.Status, t.Task)
	}
	for _, l := range rec.LessonsLearned {
		fmt.Printf("  Lesson: %s\n", l)
	}
	for _, d := range rec.Decisions {
		if d.Rationale != "" {
			fmt.Printf("  Decision: %s (%s)\n", d.Decision, d.Rationale)
		} else {
			fmt.Printf("  Decision: %s\n", d.Decision)
		}
	}
	for _, e := range rec.Entities {
		if e.Type != "" {
			fmt.Printf("  Entity: %s (%s)\n", e.Name, e.Type)
		} else {
			fmt.Printf("  Entity: %s\n", e.Name)
		}
	}
	if rec.ProjectID != "" {
		fmt.Printf("  Project: %s\n", rec.ProjectID)
	}
	if rec.SessionID != "" {
		fmt.Printf("  Session: %s\n", rec.SessionID)
	}
}

func printRecordLine(rec *memory.MemoryRecord) {
	summary := rec.Goal
	if summary == "" {
		summary = rec.Context
	}
	if summary == "" {
		summary = "(no goal)"
	}
	fmt.Printf("%s  %s  %s\n", rec.ID, rec.CreatedAt.Local().Format("2006-01-02 15:04"), summary)
}
