package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var linkCmd = &cobra.Command{
	Use:   "link <memory_id> <path>...",
	Short: "Link files to a memory",
	Long: `Link one or more files to a memory. Files are tracked on first use.
Linking the same pair again is a no-op except that the relationship of
the latest call wins.

Examples:
  engram link 4f7c2a1e-... src/auth.py src/tokens.py
  engram link 4f7c2a1e-... src/auth.py --rel created`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rel, _ := cmd.Flags().GetString("rel")
		project, _ := cmd.Flags().GetString("project")
		return runLink(args[0], args[1:], project, rel)
	},
}

var relateCmd = &cobra.Command{
	Use:   "relate <source_path> <target_path> <relationship>",
	Short: "Relate two files",
	Long: `Record a relationship between two files, e.g. imports, tests,
extends. Relations are traversed in both directions by search.

Examples:
  engram relate src/auth.py src/tokens.py imports
  engram relate tests/test_auth.py src/auth.py tests`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		return runRelate(args[0], args[1], args[2], project)
	},
}

func init() {
	linkCmd.Flags().String("rel", "", "Relationship of the memory to the files (default modified)")
	linkCmd.Flags().String("project", "", "Project identifier")

	relateCmd.Flags().String("project", "", "Project identifier")
}

func runLink(memoryID string, paths []string, project, rel string) error {
	engine, cleanup, err := openEngine()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer cleanup()

	ctx := context.Background()
	rec, err := engine.Store().Get(ctx, memoryID)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Printf("Memory %s not found.\n", memoryID)
		return nil
	}

	if err := engine.Graph().Link(ctx, memoryID, paths, project, rel); err != nil {
		return fmt.Errorf("failed to link files: %w", err)
	}
	fmt.Printf("✅ Linked %s\n", strings.Join(paths, ", "))
	return nil
}

func runRelate(source, target, relationship, project string) error {
	engine, cleanup, err := openEngine()
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}
	defer cleanup()

	if err := engine.Graph().RelateFiles(context.Background(), source, target, project, relationship); err != nil {
		return fmt.Errorf("failed to relate files: %w", err)
	}
	fmt.Printf("✅ %s %s %s\n", source, relationship, target)
	return nil
}
