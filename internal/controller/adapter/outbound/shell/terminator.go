package shell

import (
	"context"
	"errors"

	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/gosdk/logger"
)

var ErrNoTerminateCommand = errors.New("no terminate command configured")

// Terminator destroys virtual machines through an operator supplied command.
// The template sees {cloud} and {instances}.
type Terminator struct {
	runner  *Runner
	command []string
}

// Ensure Terminator implements port.InstanceTerminator.
var _ port.InstanceTerminator = (*Terminator)(nil)

func NewTerminator(runner *Runner, command []string) *Terminator {
	return &Terminator{runner: runner, command: command}
}

func (t *Terminator) TerminateInstances(ctx context.Context, cloudID string, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	if len(t.command) == 0 {
		return ErrNoTerminateCommand
	}
	err := t.runner.Run(ctx, t.command, map[string][]string{
		"cloud":     {cloudID},
		"instances": instanceIDs,
	})
	if err != nil {
		return err
	}
	logger.Infow("Instances terminated", "cloud", cloudID, "instances", instanceIDs)
	return nil
}
