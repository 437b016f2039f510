// Package syncer runs one reconciliation of the source and destination trees: it lists both
// sides, classifies the differences against the watermark, applies the deletes and copies the
// plan calls for, and advances the watermark when every transfer succeeded.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/openmined/remotesync/internal/config"
	"github.com/openmined/remotesync/internal/plan"
	"github.com/openmined/remotesync/internal/reconcile"
	"github.com/openmined/remotesync/internal/remote"
	"github.com/openmined/remotesync/internal/watermark"
	"golang.org/x/sync/errgroup"
)

var ErrNoWatermark = errors.New("no watermark found and watermark.require is set")

type Runner struct {
	cfg    *config.Config
	remote remote.Remote
	store  watermark.Store
	src    remote.Endpoint
	dst    remote.Endpoint
	filter *reconcile.Filter
	lock   *runLock

	now   func() time.Time
	runID func() string
}

type Option func(*Runner)

// WithClock replaces time.Now. The clock decides the watermark value written by a run.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

func WithRunID(fn func() string) Option {
	return func(r *Runner) {
		r.runID = fn
	}
}

// New prepares a runner. cfg must already be validated.
func New(cfg *config.Config, rem remote.Remote, store watermark.Store, opts ...Option) (*Runner, error) {
	src, err := remote.NewEndpoint(cfg, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("source endpoint: %w", err)
	}
	dst, err := remote.NewEndpoint(cfg, cfg.Dest)
	if err != nil {
		return nil, fmt.Errorf("dest endpoint: %w", err)
	}

	filter, err := reconcile.NewFilter(cfg.Ignore, reconcile.ScopeIncludes(cfg.Scopes))
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}

	r := &Runner{
		cfg:    cfg,
		remote: rem,
		store:  store,
		src:    src,
		dst:    dst,
		filter: filter,
		lock:   newRunLock(cfg.StateDir),
		now:    time.Now,
		runID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run performs one full sync. The returned report is non-nil whenever listing succeeded, even
// if the run also returns an error. Transfer failures are joined into the returned error and
// keep the watermark where it was.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if err := r.lock.Lock(); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.lock.Unlock(); err != nil {
			slog.Warn("release run lock", "error", err)
		}
	}()

	report, err := r.prepare(ctx, true)
	if err != nil {
		return report, err
	}
	log := slog.With("run", report.RunID)

	if len(report.Diff) == 0 {
		log.Info("sync complete, trees already match", "tsTotal", time.Since(report.StartedAt))
		report.Duration = time.Since(report.StartedAt)
		return report, nil
	}

	r.executeDeletes(ctx, log, report)
	r.executeBatches(ctx, log, report)

	errs := report.Errors()
	if report.Failed() {
		log.Warn("watermark not advanced, transfers failed", "failures", len(errs))
	} else {
		wctx := watermark.WithRunID(ctx, report.RunID)
		if err := r.store.Write(wctx, r.cfg.Watermark.Key, report.StartedAt); err != nil {
			return report, fmt.Errorf("write watermark: %w", err)
		}
		report.WatermarkWritten = true
	}
	report.Duration = time.Since(report.StartedAt)

	counts := report.Diff.Counts()
	log.Info("sync complete",
		"added", counts[reconcile.Added],
		"deletedFromSource", counts[reconcile.DeletedFromSource],
		"deletedFromDest", counts[reconcile.DeletedFromDest],
		"sizeDifferent", counts[reconcile.SizeDifferent],
		"deleted", len(report.Deleted),
		"batches", len(report.Batches),
		"bytes", humanize.Bytes(uint64(report.Diff.Bytes())),
		"failures", len(errs),
		"watermark", report.WatermarkWritten,
		"tsTotal", report.Duration,
	)

	return report, errors.Join(errs...)
}

// Plan lists and reconciles both trees and returns the plan without executing it.
func (r *Runner) Plan(ctx context.Context) (*Report, error) {
	report, err := r.prepare(ctx, false)
	if report != nil {
		report.Duration = time.Since(report.StartedAt)
	}
	return report, err
}

// Bootstrap records the current time as the watermark without touching either tree.
func (r *Runner) Bootstrap(ctx context.Context) (time.Time, error) {
	if err := r.lock.Lock(); err != nil {
		return time.Time{}, err
	}
	defer r.lock.Unlock() //nolint:errcheck

	now := r.now()
	id := r.runID()
	if err := r.store.Write(watermark.WithRunID(ctx, id), r.cfg.Watermark.Key, now); err != nil {
		return time.Time{}, fmt.Errorf("write watermark: %w", err)
	}
	slog.Info("watermark bootstrapped", "run", id, "key", r.cfg.Watermark.Key, "watermark", now)
	return now, nil
}

// prepare loads the watermark, lists both sides and builds the diff and the plan.
func (r *Runner) prepare(ctx context.Context, enforceRequire bool) (*Report, error) {
	report := &Report{RunID: r.runID(), StartedAt: r.now()}
	log := slog.With("run", report.RunID)
	log.Info("sync start", "source", r.src.String(), "dest", r.dst.String(), "scopes", r.cfg.Scopes)

	wm, err := r.loadWatermark(ctx)
	if err != nil {
		return nil, err
	}
	if !wm.Valid {
		if enforceRequire && r.cfg.Watermark.Require {
			return nil, ErrNoWatermark
		}
		log.Warn("no watermark found, every one-sided file counts as added and is copied to the other side",
			"key", r.cfg.Watermark.Key)
	}
	report.Watermark = wm

	tList := time.Now()
	srcListing, dstListing, err := r.listBoth(ctx)
	if err != nil {
		return nil, err
	}
	tsList := time.Since(tList)

	report.Diff = reconcile.Reconcile(srcListing, dstListing, wm)
	report.Plan = plan.Build(report.Diff, r.cfg)

	log.Debug("reconciled",
		"sourceFiles", len(srcListing),
		"destFiles", len(dstListing),
		"diff", len(report.Diff),
		"deletes", len(report.Plan.Deletes),
		"batches", len(report.Plan.Batches),
		"tsList", tsList,
	)
	return report, nil
}

func (r *Runner) loadWatermark(ctx context.Context) (reconcile.Watermark, error) {
	key := r.cfg.Watermark.Key
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return reconcile.Watermark{}, fmt.Errorf("check watermark: %w", err)
	}
	if !exists {
		return reconcile.Watermark{}, nil
	}

	t, err := r.store.Read(ctx, key)
	if errors.Is(err, watermark.ErrNotFound) {
		return reconcile.Watermark{}, nil
	} else if err != nil {
		return reconcile.Watermark{}, fmt.Errorf("read watermark: %w", err)
	}
	return reconcile.Watermark{Time: t, Valid: true}, nil
}

// listBoth lists the two endpoints concurrently. Either failure aborts the run.
func (r *Runner) listBoth(ctx context.Context) (reconcile.Listing, reconcile.Listing, error) {
	opts := remote.ListOptions{
		MinSize: r.cfg.Rclone.MinSize,
		Include: scopePatterns(r.cfg.Scopes),
	}

	var srcListing, dstListing reconcile.Listing
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		srcListing, err = r.list(egCtx, r.src, opts)
		return err
	})
	eg.Go(func() error {
		var err error
		dstListing, err = r.list(egCtx, r.dst, opts)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return srcListing, dstListing, nil
}

func (r *Runner) list(ctx context.Context, ep remote.Endpoint, opts remote.ListOptions) (reconcile.Listing, error) {
	entries, err := r.remote.List(ctx, ep, opts)
	if err != nil {
		return nil, err
	}
	listing, err := reconcile.Normalize(entries, r.filter)
	if err != nil {
		return nil, &remote.ListingError{Endpoint: ep.String(), Err: err}
	}
	return listing, nil
}

// executeDeletes removes files one at a time in path order. A failed delete is recorded and
// the remaining deletes still run.
func (r *Runner) executeDeletes(ctx context.Context, log *slog.Logger, report *Report) {
	for _, path := range report.Plan.DeletePaths() {
		if err := ctx.Err(); err != nil {
			report.DeleteErrors = append(report.DeleteErrors, err)
			return
		}

		ep := r.endpoint(report.Plan.Deletes[path])
		if err := r.remote.Delete(ctx, ep, path); err != nil {
			terr := &remote.TransferError{Op: "delete", Endpoint: ep.String(), Path: path, Err: err}
			log.Error("delete failed", "path", path, "endpoint", ep.String(), "error", err)
			report.DeleteErrors = append(report.DeleteErrors, terr)
			continue
		}
		log.Debug("deleted", "path", path, "endpoint", ep.String())
		report.Deleted = append(report.Deleted, path)
	}
}

// executeBatches copies every batch in both directions, at most BatchConcurrency batches at a
// time. A failed pass does not stop the other batches.
func (r *Runner) executeBatches(ctx context.Context, log *slog.Logger, report *Report) {
	batches := report.Plan.Batches
	results := make([]BatchResult, len(batches))
	passes := plan.Passes(r.cfg.SizeStrategy)

	var eg errgroup.Group
	eg.SetLimit(r.cfg.BatchConcurrency)
	for i, batch := range batches {
		eg.Go(func() error {
			results[i] = r.copyBatch(ctx, log, batch, passes)
			return nil
		})
	}
	eg.Wait() //nolint:errcheck

	report.Batches = results
}

func (r *Runner) copyBatch(ctx context.Context, log *slog.Logger, batch plan.Batch, passes []plan.CopyPass) BatchResult {
	res := BatchResult{Scope: batch.Scope, Files: len(batch.Paths)}
	var errs []error
	for _, pass := range passes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		from, to := r.endpoint(pass.From), r.endpoint(pass.To)
		tStart := time.Now()
		err := r.remote.Copy(ctx, from, to, batch.Paths, pass.Overwrite)
		if err != nil {
			log.Error("copy failed", "scope", batch.Scope, "from", from.String(), "to", to.String(), "error", err)
			errs = append(errs, &remote.TransferError{
				Op:       "copy",
				Endpoint: from.String() + " -> " + to.String(),
				Scope:    batch.Scope,
				Err:      err,
			})
			continue
		}
		res.Passes++
		log.Debug("copied", "scope", batch.Scope, "from", pass.From, "to", pass.To,
			"files", len(batch.Paths), "overwrite", pass.Overwrite, "tsCopy", time.Since(tStart))
	}
	res.Err = errors.Join(errs...)
	return res
}

func (r *Runner) endpoint(side plan.Side) remote.Endpoint {
	if side == plan.SideSource {
		return r.src
	}
	return r.dst
}

func scopePatterns(scopes []string) []string {
	patterns := make([]string, 0, len(scopes))
	for _, s := range scopes {
		patterns = append(patterns, remote.ScopePattern(s))
	}
	return patterns
}
