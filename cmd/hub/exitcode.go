package main

import (
	"errors"

	"github.com/biohub-dev/biohub/internal/huberrors"
)

// exitCodeFor classifies an error returned from a subcommand's RunE
// into the hub's process exit code vocabulary: 0 is never reached from
// here (Execute only calls this on error), 1 marks a plugin manifest
// validation failure or a resource conflict, 2 an unmet precondition,
// 3 a transient I/O failure, 4 a data-integrity failure, 5 a fatal
// invariant violation, and 70 everything else. Invalid command-line
// arguments are not classified here: cobra's argument-parsing errors
// carry no huberrors sentinel and therefore exit 70, not 1.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, huberrors.ErrPluginSpec):
		return 1
	case errors.Is(err, huberrors.ErrResourceConflict):
		return 1
	case errors.Is(err, huberrors.ErrNotReady):
		return 2
	case errors.Is(err, huberrors.ErrTransientIO):
		return 3
	case errors.Is(err, huberrors.ErrDataIntegrity):
		return 4
	case errors.Is(err, huberrors.ErrFatal):
		return 5
	default:
		// Unclassified errors include cobra's own argument-parsing
		// failures (unknown flag, wrong arg count) alongside genuinely
		// unexpected failures; both are "other non-zero" per the exit
		// code contract, distinguished only by their printed message.
		return 70
	}
}
