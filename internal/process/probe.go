package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// probeTimeout bounds the -help invocation.
const probeTimeout = 5 * time.Second

// ProbeMode runs `<binary> -help` and reports streaming mode when the usage
// text mentions -stdin. Go flag parsers print usage to stderr and exit 2 on
// -help, so the exit status is ignored as long as there is output.
func ProbeMode(ctx context.Context, binary string) (Mode, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, "-help")
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || len(out) == 0 {
			return "", fmt.Errorf("probe %s: %w", binary, err)
		}
	}
	if bytes.Contains(out, []byte("-stdin")) {
		return ModeStream, nil
	}
	return ModeArgs, nil
}

// ResolveMode returns requested unless it is ModeAuto, in which case the
// binary is probed.
func ResolveMode(ctx context.Context, binary string, requested Mode) (Mode, error) {
	if requested != ModeAuto && requested != "" {
		return requested, nil
	}
	return ProbeMode(ctx, binary)
}
