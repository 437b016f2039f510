package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/executor"

	"github.com/openmined/remotesync/internal/utils"
)

// CommandResult holds the captured output of a finished command.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner runs an external program to completion.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (*CommandResult, error)
}

type Command struct {
	Program string
	Args    []string
	Env     map[string]string
	Stdin   string
}

// ExecRunner runs commands through the executor package. A non-zero exit status is returned
// as *ExitError together with the captured output. Stderr is also streamed to the debug log
// line by line.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) (*CommandResult, error) {
	stderrLog := utils.NewLineLogger(slog.Default(), slog.LevelDebug, c.Program)
	defer stderrLog.Close()

	res, err := executor.New(c.Program, c.Args...).ExecuteWithInput(ctx, c.Stdin,
		executor.SilentMode(),
		executor.WithEnv(c.Env),
		executor.WithStderrWriter(stderrLog),
	)
	return toCommandResult(ctx, c.Program, res, err)
}

func toCommandResult(ctx context.Context, program string, res *executor.Result, err error) (*CommandResult, error) {
	result := &CommandResult{}
	if res != nil {
		result.Stdout = res.Stdout
		result.Stderr = res.Stderr
		result.ExitCode = res.ExitCode
	}
	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		return result, fmt.Errorf("command cancelled: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{Code: result.ExitCode, Stderr: strings.TrimSpace(result.Stderr)}
	}
	return result, fmt.Errorf("run %s: %w", program, err)
}
