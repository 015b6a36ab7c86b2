package cli

import (
	"io"
	"time"
)

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// StatusCommand shows store statistics, retention state and config summary.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// SearchCommand searches recorded text, or meaning with --semantic.
type SearchCommand struct {
	Since         string  `long:"since" description:"Only frames newer than duration (e.g., 7d, 24h, 2w)" default:"30d"`
	Until         string  `long:"until" description:"Only frames older than duration"`
	Semantic      bool    `long:"semantic" description:"Search by meaning through the embedding model"`
	Limit         int     `long:"limit" description:"Maximum results (0 uses search.limit or search.top_k)" default:"0"`
	Offset        int     `long:"offset" description:"Skip first N results" default:"0"`
	MinSimilarity float32 `long:"min-similarity" description:"Similarity floor for --semantic (-1 uses search.min_similarity)" default:"-1"`

	globals *GlobalFlags
	version string
}

// OpenCommand prints one frame with its text and segment location.
type OpenCommand struct {
	ID     int64  `long:"id" description:"Frame ID (required)" default:"-1"`
	Format string `long:"format" description:"Output format: full | text | json" default:"full"`

	globals *GlobalFlags
	version string
}

// AddCommand records a frame by hand.
type AddCommand struct {
	ID       int64    `long:"id" description:"Frame ID (default: next free id)" default:"-1"`
	Title    string   `long:"title" description:"Window title (required)"`
	Text     []string `long:"text" description:"Text block content (repeatable)"`
	TextFile string   `long:"text-file" description:"File whose lines become text blocks"`
	At       string   `long:"at" description:"Capture time, RFC3339 (default: now)"`
	Embed    bool     `long:"embed" description:"Generate embedding immediately"`

	globals *GlobalFlags
	version string
}

// EmbedCommand backfills embeddings for frames that have none.
type EmbedCommand struct {
	Limit int `long:"limit" description:"Maximum frames to embed" default:"100"`

	globals *GlobalFlags
	version string
}

// PruneCommand applies the retention window once.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override retention period (e.g., 30d)"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without deleting"`

	globals *GlobalFlags
	version string
}

// PurgeCommand deletes every frame and segment file after confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
	stdin   io.Reader // confirmation input; nil means os.Stdin
}

// MigrateCommand moves the storage root and updates the config file.
type MigrateCommand struct {
	To string `long:"to" description:"New storage directory (required)"`

	globals *GlobalFlags
	version string
}

// SegmentsCommand lists indexed video segments.
type SegmentsCommand struct {
	Frame int64 `long:"frame" description:"Only show the segment holding this frame ID" default:"-1"`

	globals *GlobalFlags
	version string
}

// DaemonCommand runs background retention until interrupted.
type DaemonCommand struct {
	Tick time.Duration `long:"tick" description:"How often to check whether cleanup is due" default:"15m"`

	globals *GlobalFlags
	version string
}
