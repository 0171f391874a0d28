package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	loggedIn bool

	calls []string
	args  [][]string
	err   error
}

func (f *fakeExec) record(name string, args []string) error {
	f.calls = append(f.calls, name)
	f.args = append(f.args, args)
	return f.err
}

func (f *fakeExec) isLoggedIn() bool { return f.loggedIn }
func (f *fakeExec) Login(ctx context.Context, args []string) error {
	f.loggedIn = true
	return f.record("login", args)
}
func (f *fakeExec) Logout(ctx context.Context, args []string) error {
	f.loggedIn = false
	return f.record("logout", args)
}
func (f *fakeExec) List(ctx context.Context, args []string) error  { return f.record("list", args) }
func (f *fakeExec) Count(ctx context.Context, args []string) error { return f.record("count", args) }
func (f *fakeExec) Show(ctx context.Context, args []string) error  { return f.record("show", args) }
func (f *fakeExec) AddFile(ctx context.Context, args []string) error {
	return f.record("addfile", args)
}
func (f *fakeExec) Download(ctx context.Context, args []string) error {
	return f.record("download", args)
}
func (f *fakeExec) Delete(ctx context.Context, args []string) error {
	return f.record("delete", args)
}

func captureOutput(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	origPrint := printlnFn
	printlnFn = func(a ...any) (int, error) {
		lines = append(lines, strings.TrimSpace(fmt.Sprintln(a...)))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = origPrint })
	return &lines
}

func TestRunREPL_DispatchesCommandsWithArgs(t *testing.T) {
	out := captureOutput(t)

	input := strings.NewReader(strings.Join([]string{
		"help",
		"login",
		"list type=Patient limit=5",
		"count",
		"show r1",
		"addfile scan.png",
		"download r1 size=small",
		"delete r1",
		"logout",
		"foobar",
		"exit",
		"list",
	}, "\n"))

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "status" }, bufio.NewScanner(input))

	assert.Equal(t, []string{"login", "list", "count", "show", "addfile", "download", "delete", "logout"}, exec.calls)
	assert.Equal(t, []string{"type=Patient", "limit=5"}, exec.args[1])
	assert.Equal(t, []string{"r1", "size=small"}, exec.args[5])
	assert.Contains(t, *out, "Available commands: login, exit")
	assert.Contains(t, *out, "Unknown command: foobar")
	assert.Contains(t, *out, "Bye!")
}

func TestRunREPL_PrintsCommandErrors(t *testing.T) {
	out := captureOutput(t)

	exec := &fakeExec{loggedIn: true, err: errors.New("boom")}
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewScanner(strings.NewReader("help\nshow x\n")))

	assert.Equal(t, []string{"show"}, exec.calls)
	assert.Contains(t, *out, "error: boom")
	assert.Contains(t, *out, "Available commands: (l)ist, count, show, addfile, download, delete, logout, exit")
}
