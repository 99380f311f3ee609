package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// printer lets a subcommand's result type render its own human-readable
// form; withApp falls back to a bare JSON dump, whatever the --json
// setting, for any result that doesn't implement it.
type printer interface {
	print()
}

// withApp opens the shared app, runs fn, records the invocation into
// HubDB's command history regardless of outcome, and either returns fn's
// error unprinted for main's exit-code classification or, on success,
// prints fn's result.
func withApp(cmd *cobra.Command, args []string, fn func(ctx context.Context, a *app) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	result, runErr := fn(ctx, a)
	a.recordCommand(ctx, cmd, args, runErr)
	if runErr != nil {
		return runErr
	}

	switch v := result.(type) {
	case nil:
	case printer:
		v.print()
	default:
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("hub: marshal result: %w", err)
		}
		fmt.Println(string(raw))
	}
	return nil
}
