package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/cuongbtq/plugin-quickstart/internal/jobqueue"
	"github.com/cuongbtq/plugin-quickstart/internal/jobs/domain"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	fixedNow  = time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC)
	idPattern = regexp.MustCompile(`^\d{8}-\d{6}-[0-9A-HJKMNP-TV-Z]{26}$`)
)

// fakeGenerator writes the plugin name to target unless generate is set
type fakeGenerator struct {
	generate func(target string, tokens map[string]string) (string, error)
}

func (f *fakeGenerator) GenerateArchive(target string, tokens map[string]string) (string, error) {
	if f.generate != nil {
		return f.generate(target, tokens)
	}
	if err := os.WriteFile(target, []byte(tokens["name"]), 0o644); err != nil {
		return "", err
	}
	return target, nil
}

func newTestManager(t *testing.T, g Generator, mutate func(*Config)) *Manager {
	t.Helper()

	cfg := &Config{
		Logger:    slog.New(slog.DiscardHandler),
		Generator: g,
		Workers:   4,
		TempDir:   t.TempDir(),
	}
	if mutate != nil {
		mutate(cfg)
	}

	return NewManager(cfg)
}

func destroyAndWait(t *testing.T, m *Manager) {
	t.Helper()

	m.Destroy()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
}

func waitCompleted(t *testing.T, m *Manager, id string) domain.JobRun {
	t.Helper()

	var run domain.JobRun
	require.Eventually(t, func() bool {
		var ok bool
		run, ok = m.FindJobRun(id)
		return ok && run.Completed()
	}, 5*time.Second, 5*time.Millisecond)

	return run
}

func TestManager_Enqueue(t *testing.T) {
	m := newTestManager(t, &fakeGenerator{}, func(cfg *Config) {
		cfg.Now = func() time.Time { return fixedNow }
	})

	run, err := m.Enqueue(map[string]string{"name": "Reverb"})
	require.NoError(t, err)

	assert.Regexp(t, idPattern, run.ID)
	assert.True(t, strings.HasPrefix(run.ID, "20240314-150926-"), run.ID)
	assert.Equal(t, domain.JobStatusNotStarted, run.Status)
	assert.Equal(t, fixedNow.UnixMilli(), run.CreatedTime)
	assert.Zero(t, run.StartedTime)

	done := waitCompleted(t, m, run.ID)
	assert.Equal(t, domain.CompletionOK, done.CompletionStatus())
	assert.Equal(t, "Reverb-src.zip", filepath.Base(done.Result))
	assert.True(t, strings.HasPrefix(filepath.Base(filepath.Dir(done.Result)), run.ID+"-"))
	assert.Equal(t, fixedNow.UnixMilli(), done.StartedTime)

	content, err := os.ReadFile(done.Result)
	require.NoError(t, err)
	assert.Equal(t, "Reverb", string(content))

	destroyAndWait(t, m)
}

func TestManager_DefaultName(t *testing.T) {
	m := newTestManager(t, &fakeGenerator{}, nil)

	run, err := m.Enqueue(nil)
	require.NoError(t, err)

	done := waitCompleted(t, m, run.ID)
	assert.Equal(t, "Plugin-src.zip", filepath.Base(done.Result))

	destroyAndWait(t, m)
}

func TestManager_ConcurrentJobs(t *testing.T) {
	const count = 50

	m := newTestManager(t, &fakeGenerator{}, func(cfg *Config) {
		cfg.Now = func() time.Time { return fixedNow }
	})

	var (
		wg  sync.WaitGroup
		mx  sync.Mutex
		ids = make(map[string]bool)
	)
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run, err := m.Enqueue(map[string]string{"name": fmt.Sprintf("Plug%d", i)})
			if !assert.NoError(t, err) {
				return
			}
			mx.Lock()
			ids[run.ID] = true
			mx.Unlock()
		}(i)
	}
	wg.Wait()

	// same clock instant, ids still unique
	require.Len(t, ids, count)

	require.Eventually(t, func() bool { return m.Size() == 0 }, 5*time.Second, 5*time.Millisecond)

	for id := range ids {
		run, ok := m.FindJobRun(id)
		require.True(t, ok, id)
		assert.Equal(t, domain.CompletionOK, run.CompletionStatus(), id)
		assert.FileExists(t, run.Result)
	}

	destroyAndWait(t, m)
}

func TestManager_FindJobRunUnknown(t *testing.T) {
	m := newTestManager(t, &fakeGenerator{}, nil)

	_, ok := m.FindJobRun("20240314-150926-unknown")
	assert.False(t, ok)

	destroyAndWait(t, m)
}

func TestManager_Failures(t *testing.T) {
	errDisk := errors.New("disk full")

	tests := []struct {
		name     string
		tokens   map[string]string
		generate func(string, map[string]string) (string, error)
		check    func(t *testing.T, err error)
	}{
		{
			name:   "generator error",
			tokens: map[string]string{"name": "Reverb"},
			generate: func(target string, _ map[string]string) (string, error) {
				// a partial file must not survive the failure
				_ = os.WriteFile(target, []byte("partial"), 0o644)
				return "", errDisk
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, errDisk)
			},
		},
		{
			name:   "generator panic",
			tokens: map[string]string{"name": "Reverb"},
			generate: func(string, map[string]string) (string, error) {
				panic("template exploded")
			},
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "template exploded")
			},
		},
		{
			name:   "parent directory name",
			tokens: map[string]string{"name": ".."},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidName)
			},
		},
		{
			name:   "current directory name",
			tokens: map[string]string{"name": "."},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidName)
			},
		},
		{
			name:   "name with path separator",
			tokens: map[string]string{"name": "../escape"},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidName)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			m := newTestManager(t, &fakeGenerator{generate: tt.generate}, func(cfg *Config) {
				cfg.TempDir = tempDir
			})

			run, err := m.Enqueue(tt.tokens)
			require.NoError(t, err)

			done := waitCompleted(t, m, run.ID)
			assert.Equal(t, domain.CompletionError, done.CompletionStatus())
			assert.Empty(t, done.Result)
			assert.NotEmpty(t, done.ErrorMessage())

			var genErr *domain.GenerationError
			require.ErrorAs(t, done.Err, &genErr)
			assert.Equal(t, run.ID, genErr.JobID)
			tt.check(t, done.Err)

			entries, err := os.ReadDir(tempDir)
			require.NoError(t, err)
			assert.Empty(t, entries, "failed jobs leave nothing behind")

			destroyAndWait(t, m)
		})
	}
}

func TestManager_AdmissionRejectedAfterDestroy(t *testing.T) {
	m := newTestManager(t, &fakeGenerator{}, nil)
	destroyAndWait(t, m)

	_, err := m.Enqueue(map[string]string{"name": "Late"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAdmissionRejected)
	assert.ErrorIs(t, err, jobqueue.ErrShutdown)

	// idempotent
	m.Destroy()
	assert.Equal(t, 0, m.Size())
}

func TestManager_DestroyRemovesArchives(t *testing.T) {
	tempDir := t.TempDir()
	m := newTestManager(t, &fakeGenerator{}, func(cfg *Config) {
		cfg.TempDir = tempDir
	})

	var archives []string
	for _, name := range []string{"A", "B", "C"} {
		run, err := m.Enqueue(map[string]string{"name": name})
		require.NoError(t, err)
		archives = append(archives, waitCompleted(t, m, run.ID).Result)
	}

	destroyAndWait(t, m)

	for _, archive := range archives {
		assert.NoFileExists(t, archive)
		assert.NoDirExists(t, filepath.Dir(archive))
	}
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_DestroyWhileRunning(t *testing.T) {
	tempDir := t.TempDir()
	started := make(chan string, 1)
	release := make(chan struct{})

	m := newTestManager(t, &fakeGenerator{
		generate: func(target string, _ map[string]string) (string, error) {
			if err := os.WriteFile(target, []byte("zip"), 0o644); err != nil {
				return "", err
			}
			started <- target
			<-release
			return target, nil
		},
	}, func(cfg *Config) {
		cfg.TempDir = tempDir
	})

	run, err := m.Enqueue(map[string]string{"name": "Slow"})
	require.NoError(t, err)

	archive := <-started
	running, ok := m.FindJobRun(run.ID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusRunning, running.Status)

	m.Destroy()
	_, ok = m.FindJobRun(run.ID)
	assert.False(t, ok)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))

	assert.NoFileExists(t, archive)
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_Cleanup(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		const delay = time.Minute

		m := newTestManager(t, &fakeGenerator{}, func(cfg *Config) {
			cfg.CleanupDelay = delay
		})

		kept, err := m.Enqueue(map[string]string{"name": "Kept"})
		require.NoError(t, err)
		failed, err := m.Enqueue(map[string]string{"name": "bad/name"})
		require.NoError(t, err)

		synctest.Wait()

		run, found := m.FindJobRun(kept.ID)
		require.True(t, found)
		require.Equal(t, domain.CompletionOK, run.CompletionStatus())
		archive := run.Result

		_, found = m.FindJobRun(failed.ID)
		require.True(t, found)

		time.Sleep(delay - time.Second)
		synctest.Wait()

		_, found = m.FindJobRun(kept.ID)
		assert.True(t, found, "run kept until the delay elapses")
		assert.FileExists(t, archive)

		time.Sleep(2 * time.Second)
		synctest.Wait()

		_, found = m.FindJobRun(kept.ID)
		assert.False(t, found)
		_, found = m.FindJobRun(failed.ID)
		assert.False(t, found)
		assert.NoFileExists(t, archive)
		assert.NoDirExists(t, filepath.Dir(archive))

		m.Destroy()
		require.NoError(t, m.Wait(context.Background()))
	})
}

func TestManager_CleanupCanceledByDestroy(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())
		m := newTestManager(t, &fakeGenerator{}, func(cfg *Config) {
			cfg.Metrics = metrics
		})

		run, err := m.Enqueue(map[string]string{"name": "Gone"})
		require.NoError(t, err)
		synctest.Wait()

		done, found := m.FindJobRun(run.ID)
		require.True(t, found)

		m.Destroy()
		require.NoError(t, m.Wait(context.Background()))
		assert.NoFileExists(t, done.Result)

		time.Sleep(2 * DefaultCleanupDelay)
		synctest.Wait()

		assert.Zero(t, testutil.ToFloat64(metrics.cleaned), "stopped timers never fire")
	})
}

func TestJobIDProperties(t *testing.T) {
	m := newTestManager(t, &fakeGenerator{}, nil)
	defer destroyAndWait(t, m)

	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)

	properties := gopter.NewProperties(parameters)

	properties.Property("id starts with the creation time", prop.ForAll(
		func(seconds int64) bool {
			now := time.Unix(seconds, 0).UTC()

			m.mx.Lock()
			id, err := m.newID(now)
			m.mx.Unlock()

			return err == nil &&
				idPattern.MatchString(id) &&
				strings.HasPrefix(id, now.Format("20060102-150405")+"-")
		},
		gen.Int64Range(0, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC).Unix()),
	))

	properties.TestingRun(t)
}
