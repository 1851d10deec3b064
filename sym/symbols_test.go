package sym

import (
	"testing"
	"unicode/utf8"
)

func TestSymbolToCommandAndCommandToSymbolAreBidirectional(t *testing.T) {
	for symbol, cmd := range SymbolToCommand {
		got, ok := CommandToSymbol[cmd]
		if !ok {
			t.Errorf("SymbolToCommand has %q → %q, but CommandToSymbol has no entry for %q", symbol, cmd, cmd)
			continue
		}
		if got != symbol {
			t.Errorf("bidirectional mismatch: SymbolToCommand[%q] = %q, but CommandToSymbol[%q] = %q", symbol, cmd, cmd, got)
		}
	}
}

func TestMapsHaveSameSize(t *testing.T) {
	if len(SymbolToCommand) != len(CommandToSymbol) {
		t.Errorf("map size mismatch: SymbolToCommand has %d entries, CommandToSymbol has %d",
			len(SymbolToCommand), len(CommandToSymbol))
	}
	if len(CommandDescriptions) != len(registry) {
		t.Errorf("CommandDescriptions has %d entries, registry has %d", len(CommandDescriptions), len(registry))
	}
}

func TestGlyphsAreSingleRunes(t *testing.T) {
	for _, g := range []string{AM, Catalog, Plan, Jobs, Worker, WorkerOpen, WorkerClose, Partition} {
		if n := utf8.RuneCountInString(g); n != 1 {
			t.Errorf("glyph %q has %d runes, want 1", g, n)
		}
	}
}

func TestForCommand(t *testing.T) {
	if got := ForCommand("worker"); got != Worker {
		t.Errorf("ForCommand(worker) = %q, want %q", got, Worker)
	}
	if got := ForCommand("version"); got != "" {
		t.Errorf("ForCommand(version) = %q, want empty", got)
	}
}
