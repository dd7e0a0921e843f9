package nodeagent

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"
)

// Applier makes the proxy pick up a rewritten config
type Applier interface {
	Apply(ctx context.Context) error
}

// CommandApplier runs a restart command, by default systemctl
type CommandApplier struct {
	Command []string
	Timeout time.Duration
}

func (a *CommandApplier) Apply(ctx context.Context) error {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.Command[0], a.Command[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", strings.Join(a.Command, " "), err, strings.TrimSpace(string(out)))
	}
	log.Printf("[NodeAgent] Applied config: %s", strings.Join(a.Command, " "))
	return nil
}
