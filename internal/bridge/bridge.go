package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rvrun/rvrun/internal/config"
	"github.com/rvrun/rvrun/internal/process"
	"github.com/rvrun/rvrun/internal/protocol"
	"github.com/rvrun/rvrun/internal/runtime"
	"github.com/rvrun/rvrun/internal/types"
	"github.com/rvrun/rvrun/internal/workspace"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Manager runs interpret requests against the configured interpreters
type Manager struct {
	runtimes   *runtime.Manager
	workspaces workspace.Allocator
	slots      *semaphore.Weighted
	runTimeout time.Duration
	logger     *logrus.Entry
}

// NewManager creates a new bridge manager
func NewManager(cfg *config.Config, runtimes *runtime.Manager, workspaces workspace.Allocator) *Manager {
	return &Manager{
		runtimes:   runtimes,
		workspaces: workspaces,
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		runTimeout: cfg.RunTimeout,
		logger:     logrus.WithField("component", "bridge"),
	}
}

// NewAllocator returns the workspace allocator selected by configuration
func NewAllocator(cfg *config.Config) workspace.Allocator {
	if cfg.WorkspaceMode == config.WorkspaceSerialized {
		return workspace.NewSerialized(cfg.SharedProgramPath())
	}
	return workspace.NewIsolated(cfg.WorkspaceDirectory())
}

// Job is one interpret request
type Job struct {
	ID      string
	Code    []string
	Runtime *types.Runtime
	State   types.JobState
	logger  *logrus.Entry
	manager *Manager
}

// NewJob validates a request and binds it to an interpreter
func (m *Manager) NewJob(request *types.InterpretRequest) (*Job, error) {
	if err := workspace.ValidateProgram(request.Code); err != nil {
		return nil, newError(KindInvalidRequest, err.Error(), nil)
	}

	rt, err := m.runtimes.Resolve(request.Version)
	if err != nil {
		return nil, newError(KindInvalidRequest, err.Error(), nil)
	}

	jobID := uuid.New().String()
	return &Job{
		ID:      jobID,
		Code:    request.Code,
		Runtime: rt,
		State:   types.JobStateReady,
		logger:  m.logger.WithField("job_id", jobID),
		manager: m,
	}, nil
}

// Interpret runs one program through the interpreter and returns its parsed output
func (m *Manager) Interpret(ctx context.Context, request *types.InterpretRequest) (*types.ParsedResult, error) {
	job, err := m.NewJob(request)
	if err != nil {
		return nil, err
	}
	return job.Execute(ctx)
}

// Execute runs the job. Every failure is returned as *Error.
func (j *Job) Execute(ctx context.Context) (*types.ParsedResult, error) {
	// Wait for available slot
	if err := j.manager.slots.Acquire(ctx, 1); err != nil {
		return nil, contextError("no interpreter slot became available", err)
	}
	defer j.manager.slots.Release(1)

	j.logger.WithField("runtime", j.Runtime.Version.String()).Info("Executing job")

	ws, err := j.prime(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := ws.Release(); err != nil {
			j.logger.WithError(err).Warn("Failed to release workspace")
		}
	}()

	args := append(append([]string{}, j.Runtime.Args...), ws.ProgramPath)
	res, err := process.Run(ctx, process.Command{
		Path:    j.Runtime.Path,
		Args:    args,
		Dir:     ws.Dir,
		Timeout: j.manager.runTimeout,
	})
	if err != nil {
		j.logger.WithError(err).Warn("Interpreter run failed")
		return nil, classifyRunError(err)
	}
	j.State = types.JobStateExecuted

	logger := j.logger.WithFields(logrus.Fields{
		"exit_code": res.ExitCode,
		"elapsed":   res.WallTime,
	})

	// A failed run's stdout is not guaranteed to follow the protocol
	if res.ExitCode != 0 {
		logger.Info("Interpreter reported an error")
		return nil, &Error{
			Kind:     KindInterpreter,
			Message:  fmt.Sprintf("interpreter exited with code %d", res.ExitCode),
			Stderr:   res.Stderr,
			ExitCode: res.ExitCode,
		}
	}

	result, err := protocol.Parse(res.Stdout)
	if err != nil {
		logger.WithError(err).Error("Failed to parse interpreter output")
		return nil, classifyParseError(err)
	}

	logger.Debug("Job completed")
	return result, nil
}

// prime acquires a workspace and writes the program into it
func (j *Job) prime(ctx context.Context) (*workspace.Workspace, error) {
	ws, err := j.manager.workspaces.Acquire(ctx, j.ID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextError("no workspace became available", ctxErr)
		}
		return nil, newError(KindIO, "failed to create workspace", err)
	}

	if err := ws.Write(j.Code); err != nil {
		ws.Release()
		return nil, newError(KindIO, "failed to write program file", err)
	}

	j.State = types.JobStatePrimed
	j.logger.Debug("Job primed successfully")
	return ws, nil
}
