package cmd

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/engramdev/engram/internal/memory"
)

// Build-time variables
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// SetVersion sets the version info from main
func SetVersion(v, c, d string) {
	Version = v
	Commit = c
	Date = d
}

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Engram - persistent memory for coding agents",
	Long: `Engram keeps a local, durable memory of what you (or your agents)
were doing: goals, decisions, lessons, and the files they touched.
Memories are searchable semantically when an embedding backend is
available and by keyword otherwise.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the engram command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Flags like OPENAI_API_KEY can live in a local .env.
	godotenv.Load()

	if os.Getenv("ENGRAM_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}

	// add, show, list, forget (defined in add.go, misc.go)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(forgetCmd)

	// search, similar, by-file (defined in search.go)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(byFileCmd)

	// link, relate (defined in link.go)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(relateCmd)

	// status, migrate, version (defined in status.go)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

// openEngine opens the store and wires the full engine. The returned
// cleanup closes the database.
func openEngine() (*memory.Engine, func(), error) {
	store, err := memory.Open("")
	if err != nil {
		return nil, nil, err
	}
	graph := memory.NewGraph(store)
	engine := memory.NewEngine(store, graph, memory.Embedders())
	return engine, func() { store.Close() }, nil
}
