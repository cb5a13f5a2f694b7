package aetree

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/bits"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is how many goroutines Build and Difference use when
// Config.Concurrency is unset.
const DefaultConcurrency = 1

// MerkleTree is a binary Merkle tree over a Range. Its shape depends only on
// the range, the Partitioner and MaxDepth, never on the rows inserted.
//
// A MerkleTree is not safe for concurrent mutation. Reads (RootDigest,
// Difference, ...) may run concurrently with each other but not with
// Insert or Remove; use Clone to take a snapshot to compare while writing.
type MerkleTree struct {
	rng         Range
	root        *treeNode
	hasher      Hasher
	partitioner Partitioner
	maxDepth    int
	concurrency int
	empty       Digest
	log         *zap.Logger
	metrics     *Metrics
}

// treeNode is a leaf when left and right are nil. For an inner node, hash
// is kept equal to hasher.Combine(left.hash, right.hash) by recomputing it
// on the way back up from every leaf update.
//
// A unit leaf's hash is the digest of its one row's value. A coarse leaf
// keeps the value digest of each of its rows in rows, and its hash folds
// them in key order, so it doesn't depend on the order of writes.
type treeNode struct {
	rng   Range
	hash  Digest
	rows  map[int64]Digest
	left  *treeNode
	right *treeNode
}

func (n *treeNode) isLeaf() bool {
	return n.left == nil
}

// parallelDepth is how many levels fan out to separate goroutines so that
// about concurrency goroutines run at once.
func (t *MerkleTree) parallelDepth() int {
	if t.concurrency <= 1 {
		return 0
	}
	return bits.Len(uint(t.concurrency - 1))
}

func (t *MerkleTree) partition(rng Range, depth int) (Range, Range, bool, error) {
	if t.maxDepth > 0 && depth >= t.maxDepth {
		return Range{}, Range{}, false, nil
	}
	left, right, ok := t.partitioner.Partition(rng)
	if !ok {
		return Range{}, Range{}, false, nil
	}
	if left.Start.Order(rng.Start) != 0 ||
		right.End.Order(rng.End) != 0 ||
		left.End.Order(rng.End) >= 0 ||
		left.End.Next().Order(right.Start) != 0 {
		return Range{}, Range{}, false, fmt.Errorf("%w: partition of %v gave %v and %v", ErrInvalidRange, rng, left, right)
	}
	return left, right, true, nil
}

func (t *MerkleTree) buildNode(ctx context.Context, rng Range, depth int) (*treeNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	left, right, ok, err := t.partition(rng, depth)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &treeNode{rng: rng, hash: t.empty}, nil
	}
	node := &treeNode{rng: rng}
	if depth < t.parallelDepth() {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			node.left, err = t.buildNode(gctx, left, depth+1)
			return err
		})
		g.Go(func() error {
			var err error
			node.right, err = t.buildNode(gctx, right, depth+1)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		node.left, err = t.buildNode(ctx, left, depth+1)
		if err != nil {
			return nil, err
		}
		node.right, err = t.buildNode(ctx, right, depth+1)
		if err != nil {
			return nil, err
		}
	}
	node.hash = t.hasher.Combine(node.left.hash, node.right.hash)
	return node, nil
}

// update installs digest for key at the leaf holding it, or drops key's
// row when digest is nil, and refreshes the inner digests along the path.
// The caller has checked that n.rng holds key.
func (n *treeNode) update(h Hasher, empty Digest, key Token, digest Digest) {
	if n.isLeaf() {
		n.set(h, empty, key, digest)
		return
	}
	if n.left.rng.Contains(key) {
		n.left.update(h, empty, key, digest)
	} else {
		n.right.update(h, empty, key, digest)
	}
	n.hash = h.Combine(n.left.hash, n.right.hash)
}

func (n *treeNode) set(h Hasher, empty Digest, key Token, digest Digest) {
	if n.rng.IsUnit() {
		if digest == nil {
			digest = empty
		}
		n.hash = digest
		return
	}
	if digest == nil {
		delete(n.rows, key.Value())
	} else {
		if n.rows == nil {
			n.rows = map[int64]Digest{}
		}
		n.rows[key.Value()] = digest
	}
	n.hash = foldRows(h, empty, n.rows)
}

// foldRows digests the rows of a coarse leaf as
// Combine(...Combine(empty, k1||d1)..., kn||dn) over keys in ascending order.
func foldRows(h Hasher, empty Digest, rows map[int64]Digest) Digest {
	if len(rows) == 0 {
		return empty
	}
	keys := make([]int64, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	acc := empty
	for _, k := range keys {
		entry := binary.BigEndian.AppendUint64(make([]byte, 0, 8+len(rows[k])), uint64(k))
		acc = h.Combine(acc, append(entry, rows[k]...))
	}
	return acc
}

// search finds the node spanning exactly r, descending only while the
// current node strictly contains r.
func (n *treeNode) search(r Range) *treeNode {
	switch n.rng.coverOf(r) {
	case coverFull:
		return n
	case coverPartial:
		if n.isLeaf() {
			return nil
		}
		if found := n.left.search(r); found != nil {
			return found
		}
		return n.right.search(r)
	}
	return nil
}

func (n *treeNode) leaf(key Token) *treeNode {
	for !n.isLeaf() {
		if n.left.rng.Contains(key) {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n
}

func (n *treeNode) height() int {
	if n.isLeaf() {
		return 0
	}
	return 1 + max(n.left.height(), n.right.height())
}

func (n *treeNode) leafCount() uint64 {
	if n.isLeaf() {
		return 1
	}
	return n.left.leafCount() + n.right.leafCount()
}

func (n *treeNode) iter(f func(Range, Digest) error) error {
	if n.isLeaf() {
		return f(n.rng, n.hash)
	}
	if err := n.left.iter(f); err != nil {
		return err
	}
	return n.right.iter(f)
}

func (n *treeNode) xcopy() *treeNode {
	c := &treeNode{rng: n.rng, hash: n.hash}
	if n.rows != nil {
		c.rows = make(map[int64]Digest, len(n.rows))
		for k, d := range n.rows {
			c.rows[k] = d
		}
	}
	if !n.isLeaf() {
		c.left = n.left.xcopy()
		c.right = n.right.xcopy()
	}
	return c
}

func (n *treeNode) string(sb *strings.Builder, indent string) {
	fmt.Fprintf(sb, "%s%v %v", indent, n.rng, n.hash)
	if n.isLeaf() {
		sb.WriteString("\n")
		return
	}
	sb.WriteString(" {\n")
	n.left.string(sb, indent+"   ")
	n.right.string(sb, indent+"   ")
	sb.WriteString(indent + "}\n")
}
