package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/memory"
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a new memory",
	Long: `Store a new memory record. All fields are optional but an empty
record is rarely useful.

Examples:
  engram add --goal "implement refresh tokens" --context "auth work"
  engram add --goal "fix flaky test" --lesson "mock the clock" --file internal/worker/pool.go
  engram add --goal "pick a queue" --decision "use NATS" --project billing`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdd(cmd)
	},
}

func init() {
	addCmd.Flags().String("context", "", "What you were doing")
	addCmd.Flags().String("goal", "", "What you were trying to achieve")
	addCmd.Flags().StringSlice("task", nil, "Active task (repeatable)")
	addCmd.Flags().StringSlice("lesson", nil, "Lesson learned (repeatable)")
	addCmd.Flags().StringSlice("decision", nil, "Decision made (repeatable)")
	addCmd.Flags().StringSlice("entity", nil, "Entity involved, as name or name:type (repeatable)")
	addCmd.Flags().String("project", "", "Project identifier")
	addCmd.Flags().String("session", "", "Session identifier")
	addCmd.Flags().StringSlice("file", nil, "File touched during this work (repeatable)")
}

func runAdd(cmd *cobra.Command) error {
	contextStr, _ := cmd.Flags().GetString("context")
	goal, _ := cmd.Flags().GetString("goal")
	tasks, _ := cmd.Flags().GetStringSlice("task")
	lessons, _ := cmd.Flags().GetStringSlice("lesson")
	decisions, _ := cmd.Flags().GetStringSlice("decision")
	entities, _ := cmd.Flags().GetStringSlice("entity")
	project, _ := cmd.Flags().GetString("project")
	session, _ := cmd.Flags().GetString("session")
	files, _ := cmd.Flags().GetStringSlice("file")

	rec := &memory.MemoryRecord{
		Context:   contextStr,
		Goal:      goal,
		ProjectID: project,
		SessionID: session,
	}
	for _, t := range tasks {
		rec.ActiveTasks = append(rec.ActiveTasks, memory.TaskItem{Task: t, Status: memory.TaskPending})
	}
	rec.LessonsLearned = lessons
	for _, d := range decisions {
		rec.Decisions = append(rec.Decisions, memory.Decision{Decision: d})
	}
	for _, e := range entities {
		name, typ, _ := strings.Cut(e, ":")
		rec.Entities = append(rec.Entities, memory.Entity{Name: name, Type: typ})
	}

	engine, cleanup, err := openEngine()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer cleanup()

	id, err := engine.Save(context.Background(), rec, files)
	if err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}

	fmt.Printf("✅ Saved memory %s\n", id)
	if len(files) > 0 {
		fmt.Printf("   Linked files: %s\n", strings.Join(files, ", "))
	}
	return nil
}
