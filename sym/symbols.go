// Package sym defines the glyphs tablescan prints in front of command
// output and log lines. They are stable across the CLI and documentation.
package sym

// Command glyphs. Each top-level command has one.
const (
	AM      = "≡" // am: configuration
	Catalog = "⊔" // catalog: metastore tables and partitions
	Plan    = "⋈" // plan: resolve a table scan into a descriptor
	Jobs    = "⨳" // jobs: queued and finished dispatch jobs
	Worker  = "꩜" // worker: split planning and partition reads
)

// Lifecycle glyphs used by the worker.
const (
	WorkerOpen  = "✿" // startup with orphaned job recovery
	WorkerClose = "❀" // graceful shutdown
	Partition   = "▤" // a single partition read
)

type entry struct {
	glyph       string
	command     string
	description string
}

var registry = []entry{
	{AM, "am", "Configuration: show, initialize and validate am.toml"},
	{Catalog, "catalog", "Metastore: seed and browse tables and partitions"},
	{Plan, "plan", "Planning: resolve a table scan into an input descriptor"},
	{Jobs, "jobs", "Dispatch: list split planning and partition read jobs"},
	{Worker, "worker", "Workers: plan splits and read partitions"},
}

// SymbolToCommand maps glyph strings to their command names.
var SymbolToCommand = make(map[string]string, len(registry))

// CommandToSymbol maps command names to their glyph strings.
var CommandToSymbol = make(map[string]string, len(registry))

// CommandDescriptions holds the one-line help for each command.
var CommandDescriptions = make(map[string]string, len(registry))

func init() {
	for _, e := range registry {
		SymbolToCommand[e.glyph] = e.command
		CommandToSymbol[e.command] = e.glyph
		CommandDescriptions[e.command] = e.description
	}
}

// ForCommand returns the glyph for a command, or "" when it has none.
func ForCommand(command string) string {
	return CommandToSymbol[command]
}
