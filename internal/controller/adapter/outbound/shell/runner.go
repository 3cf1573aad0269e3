package shell

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/gosdk/logger"
)

var ErrEmptyCommand = errors.New("empty command")

// maxOutput bounds how much command output ends up in errors.
const maxOutput = 512

// ExecFunc runs one command and returns its combined output.
type ExecFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Runner executes argv templates on the local machine.
type Runner struct {
	timeout time.Duration
	exec    ExecFunc
}

func NewRunner(timeout time.Duration) *Runner {
	return &Runner{timeout: timeout, exec: execCommand}
}

// SetExecFunc replaces command execution for testing purposes
func (r *Runner) SetExecFunc(f ExecFunc) {
	r.exec = f
}

// Run executes argv after substituting placeholders. A placeholder that fills a
// whole argument and maps to several values expands into several arguments.
func (r *Runner) Run(ctx context.Context, argv []string, vars map[string][]string) error {
	args := Expand(argv, vars)
	if len(args) == 0 {
		return ErrEmptyCommand
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := r.exec(ctx, args[0], args[1:]...)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", strings.Join(args, " "), err, truncate(out))
	}
	logger.Debugw("Command finished", "command", args[0], "elapsed", time.Since(start).String())
	return nil
}

// RoleHandler builds a dispatcher handler running start and stop for role.
// The {role} placeholder is available in both commands. A missing stop command
// makes stopping a no-op.
func (r *Runner) RoleHandler(role domain.Role, start, stop []string) port.RoleHandler {
	vars := map[string][]string{"role": {string(role)}}
	return port.RoleHandler{
		Start: func(ctx context.Context) error {
			return r.Run(ctx, start, vars)
		},
		Stop: func(ctx context.Context) error {
			if len(stop) == 0 {
				return nil
			}
			return r.Run(ctx, stop, vars)
		},
	}
}

// Expand substitutes {name} placeholders in argv.
func Expand(argv []string, vars map[string][]string) []string {
	out := make([]string, 0, len(argv))
	for _, arg := range argv {
		if name, ok := wholePlaceholder(arg); ok {
			if values, found := vars[name]; found {
				out = append(out, values...)
				continue
			}
		}
		for name, values := range vars {
			arg = strings.ReplaceAll(arg, "{"+name+"}", strings.Join(values, ","))
		}
		out = append(out, arg)
	}
	return out
}

func wholePlaceholder(arg string) (string, bool) {
	if len(arg) < 3 || arg[0] != '{' || arg[len(arg)-1] != '}' {
		return "", false
	}
	name := arg[1 : len(arg)-1]
	if strings.ContainsAny(name, "{}") {
		return "", false
	}
	return name, true
}

func truncate(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxOutput {
		return s[:maxOutput] + "..."
	}
	return s
}
