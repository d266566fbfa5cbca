// Package logger builds the root *logharbour.Logger shared by every
// component, following alya's construction pattern (NewLoggerContext +
// NewLogger against an io.Writer) instead of each component building its
// own.
package logger

import (
	"io"
	"os"

	"github.com/remiges-tech/logharbour/logharbour"
)

// New builds a module-scoped logger writing to w (os.Stdout in production,
// a buffer in tests). module identifies the owning component in every log
// line (e.g. "worker", "api", "rategate").
func New(module string, w io.Writer) *logharbour.Logger {
	if w == nil {
		w = os.Stdout
	}
	lctx := logharbour.NewLoggerContext(logharbour.DefaultPriority)
	return logharbour.NewLogger(lctx, module, w)
}
