// Package runner implements C6: the range planner and dispatcher that
// drives the Archive and RPC Hot Sources, invokes the user handler inside
// a store transaction, and commits progress (spec.md §4.6).
package runner

import (
	"context"
	"time"

	"github.com/ledgerwatch/log/v3"

	"github.com/indexkit/evmindex/archive"
	"github.com/indexkit/evmindex/changelog"
	"github.com/indexkit/evmindex/errs"
	"github.com/indexkit/evmindex/fields"
	"github.com/indexkit/evmindex/gateway"
	"github.com/indexkit/evmindex/hotsource"
	"github.com/indexkit/evmindex/internal/ixmetrics"
	"github.com/indexkit/evmindex/request"
	"github.com/indexkit/evmindex/rollback"
	"github.com/indexkit/evmindex/store"
)

// phase is the Runner's internal state (spec.md §4.6).
type phase int

const (
	phaseArchive phase = iota
	phaseHot
	phaseReorg
)

func (p phase) String() string {
	switch p {
	case phaseArchive:
		return "archive"
	case phaseHot:
		return "hot"
	case phaseReorg:
		return "reorg"
	default:
		return "unknown"
	}
}

// Handler is the user-supplied callback invoked once per batch. blocks are
// in strictly ascending height order (spec.md §5 ordering guarantee 1);
// isHead reports whether the batch's last block is the observed chain tip.
type Handler func(ctx context.Context, blocks []gateway.FullBlockData, isHead bool, rows store.RowOps, log log.Logger) error

// RetryPolicy decides whether a handler error should be retried. Returning
// true retries the same batch once more; false fails the batch (spec.md
// §7: "default policy is retry-then-fail").
type RetryPolicy func(attempt int, err error) bool

// RetryOnce retries a handler error exactly one time before failing.
func RetryOnce(attempt int, err error) bool { return attempt < 1 }

// Config wires the Runner's collaborators (spec.md §9's lazy-init
// singletons are constructed by the caller before Run; the Runner only
// holds the resulting handles).
type Config struct {
	Store       store.Store
	Archive     *archive.Source // nil disables the ARCHIVE phase entirely
	Hot         *hotsource.Source
	Requests    []request.BatchRequest
	Fields      fields.Resolved
	BlockRange  gateway.Range
	SafetyDepth uint64 // archive/hot handoff margin (spec.md §4.6 INIT)
	Handler     Handler
	Retry       RetryPolicy
	Log         log.Logger
}

// Runner drives the state machine to completion or fatal error.
type Runner struct {
	cfg   Config
	phase phase
}

// New constructs a Runner from cfg, defaulting Retry to RetryOnce if unset.
func New(cfg Config) *Runner {
	if cfg.Retry == nil {
		cfg.Retry = RetryOnce
	}
	return &Runner{cfg: cfg, phase: phaseArchive}
}

// Run drives the state machine until the configured block range is
// exhausted or ctx is cancelled, returning nil on graceful completion
// (spec.md §4.6 termination, §8 scenario S1).
func (r *Runner) Run(ctx context.Context) error {
	lastHeight, _, ok, err := r.cfg.Store.LastCommitted(ctx)
	if err != nil {
		return errs.Store("last-committed", err)
	}

	start := r.cfg.BlockRange.From
	if ok && lastHeight+1 > start {
		start = lastHeight + 1
	}
	if r.cfg.BlockRange.To != nil && start > *r.cfg.BlockRange.To {
		r.cfg.Log.Info("block range already satisfied, exiting", "start", start)
		return nil
	}

	r.phase = phaseHot
	if r.cfg.Archive != nil {
		archiveHeight, err := r.cfg.Archive.GetFinalizedHeight(ctx)
		if err != nil {
			return err
		}
		if start+r.cfg.SafetyDepth <= archiveHeight {
			r.phase = phaseArchive
		}
	}
	ixmetrics.SetPhase(r.phase.String())

	cursor := start
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if r.cfg.BlockRange.To != nil && cursor > *r.cfg.BlockRange.To {
			return nil
		}

		var next uint64
		var err error
		switch r.phase {
		case phaseArchive:
			next, err = r.stepArchive(ctx, cursor)
		case phaseHot:
			next, err = r.stepHot(ctx, cursor)
		default:
			return errs.Invariant("runner entered unreachable phase", map[string]interface{}{"phase": r.phase.String()})
		}
		if err != nil {
			return err
		}
		cursor = next
	}
}

// stepArchive processes one archive batch and returns the next cursor
// height, switching to HOT once the archive reports itself near tip
// (spec.md §4.6 ARCHIVE state).
func (r *Runner) stepArchive(ctx context.Context, from uint64) (uint64, error) {
	var to *uint64
	if r.cfg.BlockRange.To != nil {
		v := *r.cfg.BlockRange.To
		to = &v
	}
	br := request.BatchRequest{Range: gateway.Range{From: from, To: to}, Request: mergedRequestFor(r.cfg.Requests)}

	fetchStart := time.Now()
	resp, err := r.cfg.Archive.GetFinalizedBatch(ctx, br, r.cfg.Fields)
	ixmetrics.BatchFetchSeconds.WithLabelValues("archive").Observe(time.Since(fetchStart).Seconds())
	if err != nil {
		return 0, err
	}
	ixmetrics.ChainHeight.Set(float64(resp.ChainHeight))

	if err := r.runBatch(ctx, resp.Blocks, resp.RangeTo == resp.ChainHeight); err != nil {
		return 0, err
	}

	if resp.ChainHeight > 0 && resp.RangeTo+r.cfg.SafetyDepth >= resp.ChainHeight {
		r.phase = phaseHot
		ixmetrics.SetPhase(r.phase.String())
	}
	return resp.RangeTo + 1, nil
}

// stepHot polls the hot source for one confirmed block range, handling a
// detected fork by entering REORG before resuming (spec.md §4.6 HOT/REORG
// states).
func (r *Runner) stepHot(ctx context.Context, from uint64) (uint64, error) {
	chainHeight, err := r.cfg.Hot.ChainHeight(ctx)
	if err != nil {
		return 0, err
	}
	ixmetrics.ChainHeight.Set(float64(chainHeight))
	if from > chainHeight {
		return from, nil
	}

	to := chainHeight
	if r.cfg.BlockRange.To != nil && *r.cfg.BlockRange.To < to {
		to = *r.cfg.BlockRange.To
	}

	br := request.BatchRequest{Range: gateway.Range{From: from, To: &to}, Request: mergedRequestFor(r.cfg.Requests)}
	fetchStart := time.Now()
	resp, fork, err := r.cfg.Hot.Poll(ctx, from, to, br, r.cfg.Fields)
	ixmetrics.BatchFetchSeconds.WithLabelValues("hot").Observe(time.Since(fetchStart).Seconds())
	if err != nil {
		return 0, err
	}

	for _, block := range resp.Blocks {
		isHead := block.Header.Height == chainHeight
		if err := r.runHotBlock(ctx, block, isHead); err != nil {
			return 0, err
		}
	}

	if fork == nil {
		if err := r.finalizeHot(ctx, chainHeight); err != nil {
			return 0, err
		}
		return resp.RangeTo + 1, nil
	}

	ixmetrics.ReorgTotal.Inc()
	r.phase = phaseReorg
	ixmetrics.SetPhase(r.phase.String())
	ancestor, err := r.reorg(ctx, fork.Height)
	if err != nil {
		return 0, err
	}
	r.phase = phaseHot
	ixmetrics.SetPhase(r.phase.String())
	r.cfg.Hot.Forget(ancestor + 1)
	return ancestor + 1, nil
}

// reorg walks hot_block descending from forkedHeight (the diverged stored
// height, per Poll's ForkEvent), comparing each row's stored hash against
// the live canonical chain. A row whose hash still matches is the
// surviving ancestor; a row that disagrees is rolled back via the
// Rollback Engine and the walk continues further back (spec.md §4.6 REORG
// state: "until the surviving ancestor is found, matching hash at some
// height"). A single-height assumption would stop at the first previously
// stored height without checking it, which loops forever whenever the
// reorg is deeper than one block.
func (r *Runner) reorg(ctx context.Context, forkedHeight uint64) (uint64, error) {
	hotBlocks, err := r.cfg.Store.HotBlocksDescending(ctx, forkedHeight)
	if err != nil {
		return 0, errs.Store("hot-blocks-descending", err)
	}

	for _, hb := range hotBlocks {
		canonicalHash, err := r.cfg.Hot.CanonicalHash(ctx, hb.Height)
		if err != nil {
			return 0, err
		}
		if hb.Hash == canonicalHash {
			return hb.Height, nil
		}

		tx, err := r.cfg.Store.Begin(ctx)
		if err != nil {
			return 0, errs.Store("reorg-begin", err)
		}
		if err := rollback.Apply(ctx, r.cfg.Store, tx, hb.Height); err != nil {
			_ = tx.Rollback(ctx)
			return 0, err
		}
		// Pull status back in lockstep so a crash mid-reorg resumes from
		// the rolled-back point instead of the just-undone height.
		if hb.Height > 0 {
			prevHash, err := r.cfg.Hot.CanonicalHash(ctx, hb.Height-1)
			if err != nil {
				_ = tx.Rollback(ctx)
				return 0, err
			}
			if err := r.cfg.Store.CommitProgress(ctx, tx, hb.Height-1, prevHash); err != nil {
				_ = tx.Rollback(ctx)
				return 0, errs.Store("reorg-commit-progress", err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, errs.Store("reorg-commit", err)
		}
	}

	// Every tracked hot_block row diverged: the surviving ancestor lies
	// below the hot window, in the finalized range the Archive Source
	// already committed (spec.md §5's safety-depth guarantee that
	// finalized heights cannot reorg).
	height, _, ok, err := r.cfg.Store.LastCommitted(ctx)
	if err != nil {
		return 0, errs.Store("last-committed", err)
	}
	if !ok {
		return 0, errs.Invariant("reorg rolled back past genesis with no surviving ancestor", nil)
	}
	return height, nil
}

// finalizeHot purges hot_block/hot_change_log rows that have passed beyond
// the safety margin and can no longer reorg, keeping the side log scoped
// to genuinely unfinalized heights (spec.md §3: "the side log contains no
// records for finalized heights"). The finalization boundary is the
// Archive Source's reported finalized height when one is configured
// (falling back to the live chain tip for a hot-only deployment), minus
// SafetyDepth.
func (r *Runner) finalizeHot(ctx context.Context, chainHeight uint64) error {
	boundary := chainHeight
	if r.cfg.Archive != nil {
		archiveHeight, err := r.cfg.Archive.GetFinalizedHeight(ctx)
		if err != nil {
			return err
		}
		boundary = archiveHeight
	}
	if boundary <= r.cfg.SafetyDepth {
		return nil
	}
	finalizedBelow := boundary - r.cfg.SafetyDepth

	hotBlocks, err := r.cfg.Store.HotBlocksDescending(ctx, finalizedBelow)
	if err != nil {
		return errs.Store("hot-blocks-descending", err)
	}
	for _, hb := range hotBlocks {
		tx, err := r.cfg.Store.Begin(ctx)
		if err != nil {
			return errs.Store("finalize-begin", err)
		}
		if err := r.cfg.Store.PurgeHot(ctx, tx, hb.Height); err != nil {
			_ = tx.Rollback(ctx)
			return errs.Store("finalize-purge", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return errs.Store("finalize-commit", err)
		}
	}
	return nil
}

// runBatch invokes the handler over an archive batch in a single
// transaction with no change tracking — finalized blocks cannot reorg
// (spec.md §4.6 ARCHIVE state).
func (r *Runner) runBatch(ctx context.Context, blocks []gateway.FullBlockData, isHead bool) error {
	if len(blocks) == 0 {
		return nil
	}
	return r.invokeWithRetry(ctx, blocks, isHead, nil)
}

// runHotBlock invokes the handler for a single unfinalized block wrapped
// by a Change Tracker, marks it hot, and commits progress (spec.md §4.6
// HOT state, §4.7).
func (r *Runner) runHotBlock(ctx context.Context, block gateway.FullBlockData, isHead bool) error {
	height := block.Header.Height
	return r.invokeWithRetry(ctx, []gateway.FullBlockData{block}, isHead, &height)
}

func (r *Runner) invokeWithRetry(ctx context.Context, blocks []gateway.FullBlockData, isHead bool, trackHeight *uint64) error {
	for attempt := 0; ; attempt++ {
		err := r.invokeOnce(ctx, blocks, isHead, trackHeight)
		if err == nil {
			return nil
		}
		herr, ok := err.(*errs.Error)
		if !ok || herr.Fatal() {
			// Only handler errors are retry-eligible. Store failures
			// (begin/mark-hot/commit-progress/commit) are fatal per spec §7:
			// retrying one risks re-running the handler against a
			// transaction that never committed, double-applying writes.
			return err
		}
		if !r.cfg.Retry(attempt, err) {
			return err
		}
		r.cfg.Log.Warn("retrying batch after handler error", "from", blocks[0].Header.Height, "attempt", attempt, "err", err)
	}
}

func (r *Runner) invokeOnce(ctx context.Context, blocks []gateway.FullBlockData, isHead bool, trackHeight *uint64) error {
	tx, err := r.cfg.Store.Begin(ctx)
	if err != nil {
		return errs.Store("begin", err)
	}

	var rows store.RowOps = tx
	if trackHeight != nil {
		rows = changelog.New(tx, r.cfg.Store, *trackHeight)
	}

	handlerStart := time.Now()
	handlerErr := r.cfg.Handler(ctx, blocks, isHead, rows, r.cfg.Log)
	ixmetrics.HandlerSeconds.Observe(time.Since(handlerStart).Seconds())
	if handlerErr != nil {
		_ = tx.Rollback(ctx)
		first, last := blocks[0].Header.Height, blocks[len(blocks)-1].Header.Height
		return errs.Handler(first, last, handlerErr)
	}

	if trackHeight != nil {
		last := blocks[len(blocks)-1]
		if err := r.cfg.Store.MarkHot(ctx, tx, last.Header.Height, last.Header.Hash); err != nil {
			_ = tx.Rollback(ctx)
			return errs.Store("mark-hot", err)
		}
	}

	last := blocks[len(blocks)-1]
	if err := r.cfg.Store.CommitProgress(ctx, tx, last.Header.Height, last.Header.Hash); err != nil {
		_ = tx.Rollback(ctx)
		return errs.Store("commit-progress", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.Store("commit", err)
	}
	ixmetrics.SetCommittedHeight(last.Header.Height)
	return nil
}

// mergedRequestFor collapses the configured per-range requests into a
// single DataRequest, since the Runner issues one range at a time and C2
// has already merged overlapping declarations at configuration time.
func mergedRequestFor(reqs []request.BatchRequest) request.DataRequest {
	var out request.DataRequest
	for _, br := range reqs {
		out.IncludeAllBlocks = out.IncludeAllBlocks || br.Request.IncludeAllBlocks
		out.Logs = append(out.Logs, br.Request.Logs...)
		out.Transactions = append(out.Transactions, br.Request.Transactions...)
	}
	return out
}
