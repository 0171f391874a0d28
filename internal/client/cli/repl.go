package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context, args []string) error
	Logout(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	Count(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	AddFile(ctx context.Context, args []string) error
	Download(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
}

// runREPL starts a simple read–eval–print loop for the phrkeeper CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command and passes the remaining tokens to it. Unknown commands are
// reported back to the user. The loop exits on scanner EOF or when the user
// types "exit" or "quit".
//
// Prompt & Commands
//
//	Not logged in:
//	  - help           show available commands
//	  - login          authenticate with an access token and key file
//	  - exit | quit    leave the program
//
//	Logged in:
//	  - list [filters] search records (type=, annotation=, tag=, limit=, offset=, from=, to=)
//	  - count [filters]
//	  - show <id>
//	  - addfile <path>
//	  - download <id> [size=full|medium|small]
//	  - delete <id>
//	  - logout
//
// Command errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("phr %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: (l)ist, count, show, addfile, download, delete, logout, exit")
			} else {
				printlnFn("Available commands: login, exit")
			}

		case "login":
			err = a.Login(ctx, args)

		case "logout":
			err = a.Logout(ctx, args)

		case "l", "list", "search":
			err = a.List(ctx, args)

		case "count":
			err = a.Count(ctx, args)

		case "show":
			err = a.Show(ctx, args)

		case "addfile":
			err = a.AddFile(ctx, args)

		case "download":
			err = a.Download(ctx, args)

		case "delete":
			err = a.Delete(ctx, args)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("error:", err)
		}
	}
}
