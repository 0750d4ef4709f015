// Package installer drives the external skills CLI and announces when each
// run finishes so the reconciliation engine can rescan.
package installer

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skilldeck/pkg/events"
	"github.com/jingkaihe/skilldeck/pkg/logger"
	"github.com/jingkaihe/skilldeck/pkg/osutil"
	"github.com/jingkaihe/skilldeck/pkg/telemetry"
)

// DefaultCommand is the skills CLI invocation used when none is configured.
const DefaultCommand = "npx -y skills"

// Request describes one CLI run.
type Request struct {
	Kind   events.OperationKind
	Source string
	Skill  string
	Global bool
	Agents []string
}

// Target is the name reported in the completion event.
func (r Request) Target() string {
	if r.Skill != "" {
		return r.Skill
	}
	return r.Source
}

// ValidateRepoName checks the "owner/repo" form.
func ValidateRepoName(repo string) error {
	if repo == "" {
		return errors.New("repository name cannot be empty")
	}
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 {
		return errors.Errorf("invalid repository format %q: expected 'owner/repo'", repo)
	}
	if parts[0] == "" || parts[1] == "" {
		return errors.Errorf("invalid repository format %q: owner and repo cannot be empty", repo)
	}
	return nil
}

// Args builds the CLI arguments for r.
func Args(r Request) ([]string, error) {
	var args []string
	switch r.Kind {
	case events.KindInstall:
		if err := ValidateRepoName(r.Source); err != nil {
			return nil, err
		}
		args = []string{"add", r.Source}
		if r.Skill != "" {
			args = append(args, "--skill", r.Skill)
		}
	case events.KindRemove:
		if r.Skill == "" {
			return nil, errors.New("skill name is required to remove")
		}
		args = []string{"remove", r.Skill}
	case events.KindUpdate:
		args = []string{"update"}
		if r.Skill != "" {
			args = append(args, r.Skill)
		}
	default:
		return nil, errors.Errorf("unsupported operation %q", r.Kind)
	}

	if r.Global {
		args = append(args, "--global")
	}
	for _, agent := range r.Agents {
		args = append(args, "--agent", agent)
	}
	return append(args, "--yes"), nil
}

// Runner runs the skills CLI.
type Runner struct {
	command []string
	bus     *events.Bus
	dir     string
	env     []string
	stdout  io.Writer
	stderr  io.Writer
}

// Option configures a Runner.
type Option func(*Runner) error

// WithCommand sets the CLI invocation, split on whitespace.
func WithCommand(command string) Option {
	return func(r *Runner) error {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return errors.New("installer command cannot be empty")
		}
		r.command = fields
		return nil
	}
}

// WithWorkDir runs the CLI from dir, which decides the project it targets.
func WithWorkDir(dir string) Option {
	return func(r *Runner) error {
		r.dir = dir
		return nil
	}
}

// WithEnv appends environment entries in KEY=VALUE form.
func WithEnv(env ...string) Option {
	return func(r *Runner) error {
		r.env = append(r.env, env...)
		return nil
	}
}

// WithOutput redirects the CLI's output streams.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) error {
		r.stdout = stdout
		r.stderr = stderr
		return nil
	}
}

// NewRunner creates a Runner that publishes completions on bus.
func NewRunner(bus *events.Bus, opts ...Option) (*Runner, error) {
	r := &Runner{
		command: strings.Fields(DefaultCommand),
		bus:     bus,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Command returns the argv that Run would execute for req.
func (r *Runner) Command(req Request) ([]string, error) {
	args, err := Args(req)
	if err != nil {
		return nil, err
	}
	return append(append([]string{}, r.command...), args...), nil
}

// Run executes req and waits for it. OperationCompleted is published once
// the process exits, whether or not it succeeded, since a failed run may
// still have changed the disk.
func (r *Runner) Run(ctx context.Context, req Request) error {
	argv, err := r.Command(req)
	if err != nil {
		return err
	}

	ctx = logger.WithFields(ctx, logrus.Fields{
		"operation": req.Kind,
		"target":    req.Target(),
	})
	log := logger.G(ctx).WithField("command", strings.Join(argv, " "))

	err = telemetry.WithSpan(ctx, "installer.run", func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = r.dir
		cmd.Stdout = r.stdout
		cmd.Stderr = r.stderr
		if len(r.env) > 0 {
			cmd.Env = append(os.Environ(), r.env...)
		}
		osutil.Supervise(cmd)

		log.Debug("running skills cli")
		if err := cmd.Run(); err != nil {
			return errors.Wrapf(err, "skills %s %s failed", req.Kind, req.Target())
		}
		return nil
	}, attribute.String("installer.operation", string(req.Kind)), attribute.String("installer.target", req.Target()))

	if err != nil {
		log.WithError(err).Warn("skills cli exited with an error")
	} else {
		log.Info("skills cli finished")
	}

	if r.bus != nil {
		r.bus.OperationCompleted.Publish(ctx, events.OperationCompleted{
			Kind:   req.Kind,
			Target: req.Target(),
			Err:    err,
			At:     time.Now(),
		})
	}
	return err
}
