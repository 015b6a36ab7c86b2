package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status   *StatusCommand
	Search   *SearchCommand
	Open     *OpenCommand
	Add      *AddCommand
	Embed    *EmbedCommand
	Prune    *PruneCommand
	Purge    *PurgeCommand
	Migrate  *MigrateCommand
	Segments *SegmentsCommand
	Daemon   *DaemonCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "memento"
	parser.LongDescription = "Local screen history: recorded frames, their text, and searchable meaning."

	cmds := &commands{
		Status:   &StatusCommand{globals: &globals, version: version},
		Search:   &SearchCommand{globals: &globals, version: version},
		Open:     &OpenCommand{globals: &globals, version: version},
		Add:      &AddCommand{globals: &globals, version: version},
		Embed:    &EmbedCommand{globals: &globals, version: version},
		Prune:    &PruneCommand{globals: &globals, version: version},
		Purge:    &PurgeCommand{globals: &globals, version: version},
		Migrate:  &MigrateCommand{globals: &globals, version: version},
		Segments: &SegmentsCommand{globals: &globals, version: version},
		Daemon:   &DaemonCommand{globals: &globals, version: version},
	}

	parser.AddCommand("status", "Show store health and statistics", "Show frame counts, storage size, retention state and configuration summary.", cmds.Status)
	parser.AddCommand("search", "Search recorded frames", "Search recorded text by keyword, or by meaning with --semantic.", cmds.Search)
	parser.AddCommand("open", "Print a recorded frame", "Print a frame's window title, text blocks and video segment location.", cmds.Open)
	parser.AddCommand("add", "Manually record a frame", "Manually record a frame with a window title and text blocks.", cmds.Add)
	parser.AddCommand("embed", "Backfill missing embeddings", "Generate embeddings for frames that have text but no vector.", cmds.Embed)
	parser.AddCommand("prune", "Apply retention now", "Delete frames older than the retention period, with their unused segments.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL recorded data", "Delete ALL frames and segment files. Destructive operation with safety prompt.", cmds.Purge)
	parser.AddCommand("migrate", "Move the storage directory", "Move the database and segment files to a new directory and update the config.", cmds.Migrate)
	parser.AddCommand("segments", "List video segments", "List indexed video segment files and the frames they hold.", cmds.Segments)
	parser.AddCommand("daemon", "Run background retention", "Run periodic retention cleanup, reloading the config file on change.", cmds.Daemon)

	return parser, &globals, cmds
}

// Run is the main entry point for the Memento CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("memento %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
