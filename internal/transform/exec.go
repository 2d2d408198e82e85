package transform

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/conneroisu/weft/internal/logging"
	"github.com/conneroisu/weft/internal/validation"
)

const defaultExecTimeout = 2 * time.Minute

// pathPlaceholder in an exec argument is replaced by the asset's path.
const pathPlaceholder = "[path]"

// DefaultAllowedCommands are the compilers exec may run without an explicit
// allow option.
var DefaultAllowedCommands = []string{"elm", "sass", "lessc", "tsc", "babel", "postcss"}

// Exec pipes content through an external command, stdin to stdout. Commands
// run in dir, the project context, so compilers find their project files.
type Exec struct {
	dir    string
	logger logging.Logger
}

// NewExec creates the exec transform running commands in dir. An empty dir
// means the process working directory.
func NewExec(dir string, logger logging.Logger) *Exec {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Exec{dir: dir, logger: logger.WithComponent("exec")}
}

func (*Exec) Name() string      { return "exec" }
func (*Exec) Options() []string { return []string{"command", "args", "allow", "timeout"} }

// ReadsExternalFiles is true: a compiler given [path] reads whatever the
// asset imports.
func (*Exec) ReadsExternalFiles() bool { return true }

func (e *Exec) Transform(ctx context.Context, in Input) (Output, error) {
	command, err := stringOption(in.Options, "command", "")
	if err != nil {
		return Output{}, err
	}
	args, err := stringsOption(in.Options, "args")
	if err != nil {
		return Output{}, err
	}
	extra, err := stringsOption(in.Options, "allow")
	if err != nil {
		return Output{}, err
	}
	timeout, err := durationOption(in.Options, "timeout", defaultExecTimeout)
	if err != nil {
		return Output{}, err
	}

	allowed := make(map[string]bool, len(DefaultAllowedCommands)+len(extra))
	for _, name := range DefaultAllowedCommands {
		allowed[name] = true
	}
	for _, name := range extra {
		allowed[name] = true
	}
	if err := validation.ValidateCommand(command, allowed); err != nil {
		return Output{}, err
	}

	argv := make([]string, len(args))
	for i, arg := range args {
		if err := validation.ValidateArgument(arg); err != nil {
			return Output{}, fmt.Errorf("argument %d: %w", i, err)
		}
		argv[i] = strings.ReplaceAll(arg, pathPlaceholder, in.ID.Path())
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, argv...)
	cmd.Dir = e.dir
	cmd.Stdin = bytes.NewReader(in.Content)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Output{}, fmt.Errorf("%s: %w: %s", command, err, msg)
		}
		return Output{}, fmt.Errorf("%s: %w", command, err)
	}

	e.logger.Debug(ctx, "Command finished",
		"command", command,
		"asset", in.ID.String(),
		"duration", time.Since(start))
	return Output{Content: stdout.Bytes()}, nil
}
