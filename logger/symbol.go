package logger

import (
	"go.uber.org/zap"

	"github.com/teranos/tablescan/sym"
)

// FieldSymbol carries a glyph from the sym package. Messages never embed
// glyphs themselves.
const FieldSymbol = "symbol"

// WithSymbol returns the global logger with symbol as a field.
//
// Example:
//
//	logger.WithSymbol(sym.Catalog).Infow("Applied catalog seed", "tables", n)
func WithSymbol(symbol string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, symbol)
}

// AddSymbol wraps an instance logger with symbol
func AddSymbol(l *zap.SugaredLogger, symbol string) *zap.SugaredLogger {
	return OrNop(l).With(FieldSymbol, symbol)
}

// AddWorkerOpenSymbol marks worker startup and orphan recovery (✿)
func AddWorkerOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.WorkerOpen)
}

// AddWorkerCloseSymbol marks graceful worker shutdown (❀)
func AddWorkerCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.WorkerClose)
}
