package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
)

func (a *App) getStatus() string {
	if a.userID == "" {
		return ""
	}
	return fmt.Sprintf("(%s)", a.userID)
}

// Root restores a saved login, if any, and runs the REPL on stdin.
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, "Welcome to phrkeeper CLI (type 'help' for commands)")

	if err := a.restore(ctx); err != nil {
		a.log.Warn(ctx, "saved session not restored", "err", err)
		writeErr(a.out, err)
	}

	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
}
