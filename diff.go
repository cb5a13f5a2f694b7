package aetree

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Consistency classifies a range compared across two trees.
type Consistency int

const (
	// Complete means the digests of both trees match over the range.
	Complete Consistency = iota
	// Partial means one half of the range matched and the other didn't.
	Partial
	// None means neither half could be shown to match.
	None
)

func (c Consistency) String() string {
	switch c {
	case Complete:
		return "complete"
	case Partial:
		return "partial"
	case None:
		return "none"
	}
	return fmt.Sprintf("Consistency(%d)", int(c))
}

// Difference is the package-level form of (*MerkleTree).Difference.
func Difference(ctx context.Context, a, b *MerkleTree) ([]Range, error) {
	if a == nil || b == nil {
		return nil, ErrUnbuiltTree
	}
	return a.Difference(ctx, b)
}

// Difference returns the smallest set of ranges, in order, that covers every
// key whose content differs between t and other. An empty result means the
// trees are identical over the compared range; a failure to compare is always
// reported as an error, never as an empty result.
//
// The trees must use the same Hasher and Partitioner. When one tree's range
// contains the other's, the comparison is over the smaller range, which must
// exist as a node in the larger tree. The trees may be built to different
// depths; ranges that only one tree resolves further are reported whole.
// Trees split differently fail with ErrIncompatibleTrees where the split is
// first seen, and a sub-range that neither tree holds fails with
// ErrRangeNotFound; neither is reported as an empty result.
func (t *MerkleTree) Difference(ctx context.Context, other *MerkleTree) (diffs []Range, err error) {
	began := time.Now()
	defer func() {
		t.metrics.diffed(time.Since(began), diffs, err)
	}()
	if t.root == nil || other == nil || other.root == nil {
		return nil, ErrUnbuiltTree
	}
	if t.hasher.Name() != other.hasher.Name() {
		return nil, fmt.Errorf("%w: hashed with %s and %s", ErrIncompatibleTrees, t.hasher.Name(), other.hasher.Name())
	}
	var rng Range
	switch {
	case t.rng.Covers(other.rng):
		rng = other.rng
	case other.rng.Covers(t.rng):
		rng = t.rng
	default:
		return nil, fmt.Errorf("%w: ranges %v and %v don't nest", ErrIncompatibleTrees, t.rng, other.rng)
	}
	a, b := t.root.search(rng), other.root.search(rng)
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: %v", ErrRangeNotFound, rng)
	}
	t.metrics.compared()
	if a.hash.Equal(b.hash) {
		return nil, nil
	}
	d := differ{
		partitioner:   t.partitioner,
		parallelDepth: t.parallelDepth(),
		log:           t.log,
		metrics:       t.metrics,
	}
	c, diffs, err := d.compare(ctx, a, b, 0)
	if err != nil {
		return nil, err
	}
	if c == None && len(diffs) == 0 {
		diffs = []Range{rng}
	}
	d.log.Debug("difference", zap.Stringer("range", rng), zap.Int("ranges", len(diffs)))
	return diffs, nil
}

type differ struct {
	partitioner   Partitioner
	parallelDepth int
	log           *zap.Logger
	metrics       *Metrics
}

// compare classifies a range whose digests are known to differ, returning
// the sub-ranges to report. A range neither tree can split further is None,
// and reporting it is left to the caller.
func (d *differ) compare(ctx context.Context, a, b *treeNode, depth int) (Consistency, []Range, error) {
	if err := ctx.Err(); err != nil {
		return None, nil, err
	}
	if a.isLeaf() || b.isLeaf() {
		return None, nil, nil
	}
	if !a.left.rng.Equal(b.left.rng) {
		return None, nil, fmt.Errorf("%w: %v split as %v and %v", ErrIncompatibleTrees, a.rng, a.left.rng, b.left.rng)
	}
	left, right, ok := d.partitioner.Partition(a.rng)
	if !ok {
		return None, nil, nil
	}

	var (
		lc, rc         Consistency
		lDiffs, rDiffs []Range
	)
	if depth < d.parallelDepth {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			lc, lDiffs, err = d.sub(gctx, a, b, left, depth)
			return err
		})
		g.Go(func() error {
			var err error
			rc, rDiffs, err = d.sub(gctx, a, b, right, depth)
			return err
		})
		if err := g.Wait(); err != nil {
			return None, nil, err
		}
	} else {
		var err error
		lc, lDiffs, err = d.sub(ctx, a, b, left, depth)
		if err != nil {
			return None, nil, err
		}
		rc, rDiffs, err = d.sub(ctx, a, b, right, depth)
		if err != nil {
			return None, nil, err
		}
	}

	var c Consistency
	var diffs []Range
	switch {
	case lc == Complete && rc == Complete:
		c = Complete
	case lc == None && rc == None:
		c = None
	default:
		c = Partial
		if lc == None {
			lDiffs = []Range{left}
		}
		if rc == None {
			rDiffs = []Range{right}
		}
		diffs = append(lDiffs, rDiffs...)
	}
	if ce := d.log.Check(zap.DebugLevel, "compared"); ce != nil {
		ce.Write(zap.Stringer("range", a.rng), zap.Int("depth", depth), zap.Stringer("consistency", c))
	}
	return c, diffs, nil
}

// sub looks up sub in both trees. A sub-range present on one side only can't
// be compared and is None; absent from both means the trees were split by a
// different rule than the partitioner.
func (d *differ) sub(ctx context.Context, a, b *treeNode, sub Range, depth int) (Consistency, []Range, error) {
	x, y := a.search(sub), b.search(sub)
	switch {
	case x != nil && y != nil:
		d.metrics.compared()
		if x.hash.Equal(y.hash) {
			return Complete, nil, nil
		}
		return d.compare(ctx, x, y, depth+1)
	case x == nil && y == nil:
		return None, nil, fmt.Errorf("%w: %v in either tree", ErrRangeNotFound, sub)
	}
	return None, nil, nil
}
