// Package jobs runs archive generations asynchronously and keeps a registry
// of their runs until the produced archives are cleaned up.
package jobs

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/plugin-quickstart/internal/jobqueue"
	"github.com/cuongbtq/plugin-quickstart/internal/jobs/domain"
	"github.com/oklog/ulid/v2"
)

const (
	// DefaultCleanupDelay is how long a completed run and its archive are kept
	DefaultCleanupDelay = time.Minute

	idTimeLayout  = "20060102-150405"
	archiveSuffix = "-src.zip"
	nameToken     = "name"
	defaultName   = "Plugin"
)

// Generator produces the archive for a set of tokens at target
type Generator interface {
	GenerateArchive(target string, tokens map[string]string) (string, error)
}

// Config holds manager configuration
type Config struct {
	Logger    *slog.Logger
	Generator Generator

	// Workers is the number of parallel generations, GOMAXPROCS when 0
	Workers int

	CleanupDelay time.Duration

	// TempDir is where per-job directories are created, os.TempDir() when empty
	TempDir string

	Now     func() time.Time
	Metrics *Metrics
}

type job struct {
	id     string
	tokens map[string]string
}

// Manager owns the job queue and the registry of job runs
type Manager struct {
	logger       *slog.Logger
	generator    Generator
	cleanupDelay time.Duration
	tempDir      string
	now          func() time.Time
	metrics      *Metrics

	queue *jobqueue.Queue[job, string]

	mx        sync.Mutex
	runs      map[string]domain.JobRun
	timers    map[string]*time.Timer
	entropy   *ulid.MonotonicEntropy
	destroyed bool
}

// NewManager creates a manager and starts its workers
func NewManager(cfg *Config) *Manager {
	m := &Manager{
		logger:       cfg.Logger,
		generator:    cfg.Generator,
		cleanupDelay: cfg.CleanupDelay,
		tempDir:      cfg.TempDir,
		now:          cfg.Now,
		metrics:      cfg.Metrics,
		runs:         make(map[string]domain.JobRun),
		timers:       make(map[string]*time.Timer),
		entropy:      ulid.Monotonic(rand.Reader, 0),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.cleanupDelay <= 0 {
		m.cleanupDelay = DefaultCleanupDelay
	}
	if m.tempDir == "" {
		m.tempDir = os.TempDir()
	}
	if m.now == nil {
		m.now = time.Now
	}

	m.queue = jobqueue.New(m.execute, jobqueue.Options[job, string]{
		Workers:  cfg.Workers,
		OnResult: m.onResult,
		OnError:  m.onError,
		Logger:   m.logger,
	})

	m.logger.Info("Jobs manager started",
		slog.Int("workers", cfg.Workers),
		slog.Duration("cleanup_delay", m.cleanupDelay),
		slog.String("temp_dir", m.tempDir),
	)

	return m
}

// Enqueue registers a new run for tokens and submits it for generation
func (m *Manager) Enqueue(tokens map[string]string) (domain.JobRun, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	if m.destroyed {
		m.metrics.jobRejected()
		return domain.JobRun{}, fmt.Errorf("%w: %w", domain.ErrAdmissionRejected, jobqueue.ErrShutdown)
	}

	now := m.now()
	id, err := m.newID(now)
	if err != nil {
		return domain.JobRun{}, fmt.Errorf("failed to generate job id: %w", err)
	}

	run := domain.NewJobRun(id, now.UnixMilli())
	m.runs[id] = run

	if err := m.queue.Submit(job{id: id, tokens: maps.Clone(tokens)}); err != nil {
		delete(m.runs, id)
		m.metrics.jobRejected()
		return domain.JobRun{}, fmt.Errorf("%w: %w", domain.ErrAdmissionRejected, err)
	}
	m.metrics.jobSubmitted()

	m.logger.Info("Job enqueued",
		slog.String("job_id", id),
		slog.String("name", tokens[nameToken]),
	)

	return run, nil
}

// FindJobRun returns the current state of a run
func (m *Manager) FindJobRun(id string) (domain.JobRun, bool) {
	m.mx.Lock()
	defer m.mx.Unlock()

	run, ok := m.runs[id]
	return run, ok
}

// Size returns the number of jobs whose outcome has not been published yet
func (m *Manager) Size() int {
	return m.queue.Size()
}

// Destroy stops accepting jobs, cancels pending cleanups and deletes every
// archive still held by the registry. Jobs still executing delete their own
// archive when they finish.
func (m *Manager) Destroy() {
	m.mx.Lock()
	if m.destroyed {
		m.mx.Unlock()
		return
	}
	m.destroyed = true
	runs, timers := m.runs, m.timers
	m.runs = make(map[string]domain.JobRun)
	m.timers = make(map[string]*time.Timer)
	m.mx.Unlock()

	m.logger.Info("Destroying jobs manager", slog.Int("job_count", len(runs)))

	m.queue.Shutdown()

	for _, timer := range timers {
		timer.Stop()
	}
	for _, run := range runs {
		if run.Result != "" {
			m.removeArchive(run.ID, run.Result)
		}
	}

	m.logger.Info("Jobs manager destroyed")
}

// Wait blocks until every submitted job has been published after Destroy
func (m *Manager) Wait(ctx context.Context) error {
	return m.queue.WaitForShutdown(ctx)
}

// newID must be called with mx held
func (m *Manager) newID(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), m.entropy)
	if err != nil {
		return "", err
	}
	return now.Format(idTimeLayout) + "-" + id.String(), nil
}

// execute runs on a worker goroutine
func (m *Manager) execute(j job) (string, error) {
	m.update(j.id, func(run domain.JobRun) domain.JobRun {
		return run.Started(m.now().UnixMilli())
	})

	m.logger.Debug("Job started", slog.String("job_id", j.id))

	name := j.tokens[nameToken]
	if name == "" {
		name = defaultName
	}
	if name == "." || name == ".." || strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return "", domain.NewGenerationError(j.id, fmt.Errorf("%w: %q", domain.ErrInvalidName, name))
	}

	dir, err := os.MkdirTemp(m.tempDir, j.id+"-")
	if err != nil {
		return "", domain.NewGenerationError(j.id, fmt.Errorf("failed to create job directory: %w", err))
	}

	archive, err := m.generate(filepath.Join(dir, name+archiveSuffix), j.tokens)
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			m.logger.Warn("Failed to remove job directory",
				slog.String("job_id", j.id),
				slog.String("error", rmErr.Error()),
			)
		}
		return "", domain.NewGenerationError(j.id, err)
	}

	return archive, nil
}

func (m *Manager) generate(target string, tokens map[string]string) (archive string, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("generator panicked: %v", v)
		}
	}()
	return m.generator.GenerateArchive(target, tokens)
}

// onResult runs on the dispatcher goroutine
func (m *Manager) onResult(j job, archive string) {
	m.mx.Lock()
	if m.destroyed {
		m.mx.Unlock()
		m.metrics.jobDiscarded()
		m.logger.Info("Job finished after destroy, discarding archive", slog.String("job_id", j.id))
		m.removeArchive(j.id, archive)
		return
	}
	run := m.complete(j.id, func(run domain.JobRun) domain.JobRun {
		return run.Succeeded(m.now().UnixMilli(), archive)
	})
	m.mx.Unlock()

	m.metrics.jobCompleted(run)
	m.logger.Info("Job completed successfully",
		slog.String("job_id", j.id),
		slog.String("archive", archive),
		slog.Int64("duration_ms", run.LastUpdatedTime-run.StartedTime),
	)
}

// onError runs on the dispatcher goroutine
func (m *Manager) onError(j job, err error) {
	m.mx.Lock()
	if m.destroyed {
		m.mx.Unlock()
		m.metrics.jobDiscarded()
		return
	}
	run := m.complete(j.id, func(run domain.JobRun) domain.JobRun {
		return run.Failed(m.now().UnixMilli(), err)
	})
	m.mx.Unlock()

	m.metrics.jobCompleted(run)
	m.logger.Error("Job failed",
		slog.String("job_id", j.id),
		slog.String("error", err.Error()),
	)
}

// complete must be called with mx held. It stores the completed run and
// schedules its cleanup.
func (m *Manager) complete(id string, transition func(domain.JobRun) domain.JobRun) domain.JobRun {
	run := transition(m.runs[id])
	m.runs[id] = run
	m.timers[id] = time.AfterFunc(m.cleanupDelay, func() {
		m.cleanup(id)
	})
	return run
}

func (m *Manager) update(id string, transition func(domain.JobRun) domain.JobRun) {
	m.mx.Lock()
	defer m.mx.Unlock()

	if run, ok := m.runs[id]; ok {
		m.runs[id] = transition(run)
	}
}

func (m *Manager) cleanup(id string) {
	m.mx.Lock()
	run, ok := m.runs[id]
	delete(m.runs, id)
	delete(m.timers, id)
	m.mx.Unlock()

	if !ok {
		return
	}

	if run.Result != "" {
		m.removeArchive(id, run.Result)
	}
	m.metrics.jobCleaned()

	m.logger.Info("Job cleaned up", slog.String("job_id", id))
}

// removeArchive deletes the archive and its per-job directory
func (m *Manager) removeArchive(id, archive string) {
	for _, path := range []string{archive, filepath.Dir(archive)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("Failed to clean up job artifact",
				slog.String("job_id", id),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
}
