// Package process launches the external editing tools.
//
// Two modes exist. LaunchAsync starts a process and reports its termination
// through a callback on a background goroutine; it serves the interactive
// editor, whose runtime is bounded only by the user. LaunchBlocking starts a
// process and waits for it; it serves the headless renderer, a short step
// that already runs off the host's calling path.
package process

import (
	"context"
	"strings"
	"time"
)

// Tool is a configured external executable with fixed leading arguments.
type Tool struct {
	Executable string   `json:"executable,omitempty" yaml:"executable,omitempty"`
	Args       []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// Command returns a Command running the tool with its fixed arguments
// followed by extra.
func (t Tool) Command(extra ...string) Command {
	args := make([]string, 0, len(t.Args)+len(extra))
	args = append(args, t.Args...)
	args = append(args, extra...)
	return Command{Path: t.Executable, Args: args}
}

// Merge applies non-zero values from source into t.
func (t *Tool) Merge(source *Tool) {
	if source.Executable != "" {
		t.Executable = source.Executable
	}
	if source.Args != nil {
		t.Args = source.Args
	}
}

// Command is a single process invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string // appended to the current environment
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Exit describes how a process ended.
type Exit struct {
	Code     int           // exit code; -1 when terminated by a signal
	State    string        // e.g. "exit status 3", "signal: killed"
	Stderr   string        // trailing stderr output, bounded by Config.StderrLimit
	Duration time.Duration // wall time from start to exit
	Err      error         // wait failure other than a non-zero exit, e.g. context expiry
}

// Success reports a clean zero exit.
func (e Exit) Success() bool {
	return e.Code == 0 && e.Err == nil
}

// Handle refers to a process started by LaunchAsync.
type Handle interface {
	// Pid returns the operating system process id.
	Pid() int
	// Terminate asks the process to exit and kills it if it has not exited
	// within the configured grace period. Terminating an exited process is
	// not an error.
	Terminate() error
	// Done is closed once the process has exited and its Exit is known.
	Done() <-chan struct{}
}

// Runner launches external processes.
type Runner interface {
	// LaunchAsync starts cmd and returns immediately. onExit is invoked exactly
	// once, on a background goroutine, when the process terminates. When an
	// error is returned the process did not start and onExit is never invoked.
	// ctx governs only the launch, not the lifetime of the process.
	LaunchAsync(ctx context.Context, cmd Command, onExit func(Exit)) (Handle, error)

	// LaunchBlocking starts cmd and waits for it to exit. A process that ran
	// returns its Exit with a nil error, whatever its exit code. Cancelling ctx
	// terminates the process.
	LaunchBlocking(ctx context.Context, cmd Command) (Exit, error)
}
