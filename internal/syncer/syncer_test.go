package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/openmined/remotesync/internal/config"
	"github.com/openmined/remotesync/internal/reconcile"
	"github.com/openmined/remotesync/internal/remote"
	"github.com/openmined/remotesync/internal/remote/remotetest"
	"github.com/openmined/remotesync/internal/watermark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0     = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	old    = t0.Add(-24 * time.Hour)
	runAt  = t0.Add(time.Hour)
	srcEp  = remote.Endpoint{Protocol: config.ProtocolLocal, Path: "/src"}
	destEp = remote.Endpoint{Protocol: config.ProtocolLocal, Path: "/dst"}
)

type fixture struct {
	cfg    *config.Config
	fake   *remotetest.Fake
	store  *watermark.MemoryStore
	runner *Runner
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Source = config.EndpointConfig{Type: config.ProtocolLocal, Path: "/src"}
	cfg.Dest = config.EndpointConfig{Type: config.ProtocolLocal, Path: "/dst"}
	cfg.StateDir = t.TempDir()
	cfg.Watermark.Backend = config.WatermarkMemory
	for _, m := range mutate {
		m(cfg)
	}
	require.NoError(t, cfg.Validate())

	f := &fixture{cfg: cfg, fake: remotetest.New(), store: watermark.NewMemoryStore()}
	runner, err := New(cfg, f.fake, f.store,
		WithClock(func() time.Time { return runAt }),
		WithRunID(func() string { return "test-run" }),
	)
	require.NoError(t, err)
	f.runner = runner
	return f
}

func (f *fixture) setWatermark(t *testing.T, ts time.Time) {
	t.Helper()
	require.NoError(t, f.store.Write(context.Background(), f.cfg.Watermark.Key, ts))
}

func (f *fixture) watermark(t *testing.T) (time.Time, bool) {
	t.Helper()
	ts, err := f.store.Read(context.Background(), f.cfg.Watermark.Key)
	if errors.Is(err, watermark.ErrNotFound) {
		return time.Time{}, false
	}
	require.NoError(t, err)
	return ts, true
}

func TestRun_FirstRunCopiesBothWays(t *testing.T) {
	f := newFixture(t)
	f.fake.Put(srcEp, "a.txt", 20, old)
	f.fake.Put(destEp, "docs/b.txt", 30, old)

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Watermark.Valid)
	assert.Equal(t, reconcile.Added, report.Diff["a.txt"].Type)
	assert.Equal(t, reconcile.Added, report.Diff["docs/b.txt"].Type)
	assert.Empty(t, report.Plan.Deletes)

	assert.Contains(t, f.fake.Tree(destEp), "a.txt")
	assert.Contains(t, f.fake.Tree(srcEp), "docs/b.txt")

	ts, ok := f.watermark(t)
	require.True(t, ok)
	assert.True(t, ts.Equal(runAt))
	assert.True(t, report.WatermarkWritten)
}

func TestRun_RoundTripYieldsEmptyDiff(t *testing.T) {
	f := newFixture(t)
	f.fake.Put(srcEp, "a.txt", 20, old)
	f.fake.Put(srcEp, "shared.bin", 100, old)
	f.fake.Put(destEp, "shared.bin", 200, old)
	f.fake.Put(destEp, "b.txt", 30, old)

	_, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	copies := len(f.fake.Copies)

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Diff)
	assert.True(t, report.Watermark.Valid)
	assert.False(t, report.WatermarkWritten)
	assert.Len(t, f.fake.Copies, copies)
}

func TestRun_MatchSourceDeletesStaleDestFile(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.DeleteStrategy = config.StrategyMatchSource })
	f.setWatermark(t, t0)
	f.fake.Put(destEp, "b.txt", 50, old)

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, reconcile.DeletedFromSource, report.Diff["b.txt"].Type)
	assert.Equal(t, []string{"b.txt"}, report.Deleted)
	assert.NotContains(t, f.fake.Tree(destEp), "b.txt")
	assert.Empty(t, f.fake.Copies)
}

func TestRun_MatchDestRestoresStaleDestFile(t *testing.T) {
	f := newFixture(t)
	f.setWatermark(t, t0)
	f.fake.Put(destEp, "b.txt", 50, old)

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Deleted)
	assert.Contains(t, f.fake.Tree(srcEp), "b.txt")
}

func TestRun_NewerOneSidedFileIsAdded(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.DeleteStrategy = config.StrategyMatchSource })
	f.setWatermark(t, t0)
	f.fake.Put(destEp, "fresh.txt", 50, t0.Add(time.Minute))

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, reconcile.Added, report.Diff["fresh.txt"].Type)
	assert.Contains(t, f.fake.Tree(srcEp), "fresh.txt")
}

func TestRun_SizeMismatchFollowsStrategy(t *testing.T) {
	tests := []struct {
		strategy config.Strategy
		wantSize int64
	}{
		{config.StrategyMatchSource, 100},
		{config.StrategyMatchDest, 200},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			f := newFixture(t, func(c *config.Config) { c.SizeStrategy = tt.strategy })
			f.fake.Put(srcEp, "c.txt", 100, old)
			f.fake.Put(destEp, "c.txt", 200, old)

			_, err := f.runner.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tt.wantSize, f.fake.Tree(srcEp)["c.txt"].Size)
			assert.Equal(t, tt.wantSize, f.fake.Tree(destEp)["c.txt"].Size)

			require.Len(t, f.fake.Copies, 2)
			assert.Equal(t, "/src", f.fake.Copies[0].From)
			assert.Equal(t, tt.strategy == config.StrategyMatchSource, f.fake.Copies[0].Overwrite)
			assert.Equal(t, "/dst", f.fake.Copies[1].From)
			assert.Equal(t, tt.strategy == config.StrategyMatchDest, f.fake.Copies[1].Overwrite)
		})
	}
}

func TestRun_ScopesLimitTransfers(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Scopes = []string{"reports"} })
	f.fake.Put(srcEp, "reports/x.txt", 20, old)
	f.fake.Put(srcEp, "other/y.txt", 20, old)
	f.fake.Put(srcEp, "reports-old/z.txt", 20, old)

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Batches, 1)
	assert.Equal(t, "reports", report.Batches[0].Scope)
	assert.Equal(t, 2, report.Batches[0].Passes)

	dst := f.fake.Tree(destEp)
	assert.Contains(t, dst, "reports/x.txt")
	assert.NotContains(t, dst, "other/y.txt")
	assert.NotContains(t, dst, "reports-old/z.txt")
}

func TestRun_ScopeWithGlobCharacters(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Scopes = []string{"data[1]"} })
	f.fake.Put(srcEp, "data[1]/x.txt", 20, old)
	f.fake.Put(srcEp, "data1/y.txt", 20, old)

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Batches, 1)
	assert.Equal(t, "data[1]", report.Batches[0].Scope)

	dst := f.fake.Tree(destEp)
	assert.Contains(t, dst, "data[1]/x.txt")
	assert.NotContains(t, dst, "data1/y.txt")
}

func TestRun_SmallFilesAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.fake.Put(srcEp, "placeholder", 11, old)

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Diff)
}

func TestRun_IgnorePatterns(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Ignore = []string{"*.tmp"} })
	f.fake.Put(srcEp, "keep.txt", 20, old)
	f.fake.Put(srcEp, "skip.tmp", 20, old)

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.txt"}, report.Diff.Paths())
}

func TestRun_CopyFailureKeepsWatermark(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Scopes = []string{"a", "b"}
		c.BatchConcurrency = 2
	})
	f.setWatermark(t, t0)
	f.fake.Put(srcEp, "a/1.txt", 20, t0.Add(time.Minute))
	f.fake.Put(srcEp, "b/2.txt", 20, t0.Add(time.Minute))

	boom := errors.New("boom")
	f.fake.CopyErr = func(from, to string, allow []string) error {
		if from == "/src" && allow[0] == "a/1.txt" {
			return boom
		}
		return nil
	}

	report, err := f.runner.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var terr *remote.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "copy", terr.Op)
	assert.Equal(t, "a", terr.Scope)

	assert.True(t, report.Failed())
	assert.False(t, report.WatermarkWritten)
	assert.Contains(t, f.fake.Tree(destEp), "b/2.txt")

	ts, _ := f.watermark(t)
	assert.True(t, ts.Equal(t0))
}

func TestRun_DeleteFailureContinues(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.DeleteStrategy = config.StrategyMatchSource })
	f.setWatermark(t, t0)
	f.fake.Put(destEp, "x.txt", 20, old)
	f.fake.Put(destEp, "y.txt", 20, old)
	f.fake.DeleteErr["x.txt"] = errors.New("permission denied")

	report, err := f.runner.Run(context.Background())
	require.Error(t, err)

	var terr *remote.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "delete", terr.Op)
	assert.Equal(t, "x.txt", terr.Path)

	assert.Equal(t, []string{"y.txt"}, report.Deleted)
	assert.True(t, report.Failed())
	assert.False(t, report.WatermarkWritten)

	ts, _ := f.watermark(t)
	assert.True(t, ts.Equal(t0))
}

func TestRun_ListingErrorAborts(t *testing.T) {
	f := newFixture(t)
	f.fake.Put(srcEp, "a.txt", 20, old)
	f.fake.ListErr["/dst"] = errors.New("connection refused")

	_, err := f.runner.Run(context.Background())

	var lerr *remote.ListingError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "/dst", lerr.Endpoint)
	assert.Empty(t, f.fake.Copies)
	assert.Empty(t, f.fake.Deletes)

	_, ok := f.watermark(t)
	assert.False(t, ok)
}

func TestRun_RequireWatermark(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Watermark.Require = true })
	f.fake.Put(srcEp, "a.txt", 20, old)

	_, err := f.runner.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoWatermark)
	assert.Empty(t, f.fake.Copies)
}

func TestRun_Locked(t *testing.T) {
	f := newFixture(t)

	other := flock.New(filepath.Join(f.cfg.StateDir, lockFile))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	_, err = f.runner.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunLocked)
}

func TestPlan_IsReadOnly(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Watermark.Require = true })
	f.fake.Put(srcEp, "a.txt", 20, old)

	report, err := f.runner.Plan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt"}, report.Diff.Paths())
	assert.Len(t, report.Plan.Batches, 1)
	assert.Empty(t, f.fake.Copies)
	assert.Empty(t, f.fake.Deletes)
	_, ok := f.watermark(t)
	assert.False(t, ok)
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.DeleteStrategy = config.StrategyMatchSource })
	f.fake.Put(destEp, "stale.txt", 20, old)

	ts, err := f.runner.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.True(t, ts.Equal(runAt))
	assert.Empty(t, f.fake.Copies)

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcile.DeletedFromSource, report.Diff["stale.txt"].Type)
	assert.NotContains(t, f.fake.Tree(destEp), "stale.txt")
}
