package aetree

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrInvalidRange is returned for a range whose start is after its end or
	// whose span does not fit an int64.
	ErrInvalidRange = errors.New("invalid range")
	// ErrOutOfRange is returned when a key falls outside the tree's range.
	ErrOutOfRange = errors.New("key out of range")
	// ErrRangeNotFound is returned when a range being compared has no node
	// of exactly that range in one of the trees.
	ErrRangeNotFound = errors.New("range not found in tree")
	// ErrIncompatibleTrees is returned when two trees can't be compared,
	// e.g. their ranges don't nest or they use different hashers.
	ErrIncompatibleTrees = errors.New("incompatible trees")
	// ErrUnbuiltTree is returned by operations that need Build() first.
	ErrUnbuiltTree = errors.New("tree not built")
	// ErrAlreadyBuilt is returned by a second Build().
	ErrAlreadyBuilt = errors.New("tree already built")
)

// Config sets the parameters of a tree. Trees to be compared need the same
// Hasher and Partitioner; they may differ in MaxDepth.
type Config struct {
	// Hasher digests rows and combines child digests. Defaults to Blake2b256.
	Hasher Hasher

	// Partitioner splits ranges. Defaults to Bisect.
	Partitioner Partitioner

	// MaxDepth caps the depth of the tree; 0 partitions all the way down to
	// unit ranges. Leaves above unit size digest all of their rows, and
	// differences inside one are reported as the whole leaf range.
	MaxDepth int

	// Concurrency bounds the goroutines used by Build and Difference. 0 means
	// DefaultConcurrency.
	Concurrency int

	// Logger receives debug output. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics, if set, is updated by inserts and diffs.
	Metrics *Metrics
}

// Row is a keyed value to be summarized by a tree.
type Row struct {
	Key   Token
	Value []byte
}

// New returns an unbuilt tree over rng.
func New(rng Range, config *Config) (*MerkleTree, error) {
	if rng.Start == nil || rng.End == nil {
		return nil, fmt.Errorf("%w: nil token", ErrInvalidRange)
	}
	if _, err := NewRange(rng.Start, rng.End); err != nil {
		return nil, err
	}
	if config == nil {
		config = &Config{}
	}
	t := &MerkleTree{
		rng:         rng,
		hasher:      config.Hasher,
		partitioner: config.Partitioner,
		maxDepth:    config.MaxDepth,
		concurrency: config.Concurrency,
		log:         config.Logger,
		metrics:     config.Metrics,
	}
	if t.hasher == nil {
		t.hasher = Blake2b256
	}
	if t.partitioner == nil {
		t.partitioner = Bisect
	}
	if t.maxDepth < 0 {
		return nil, fmt.Errorf("negative MaxDepth %d", t.maxDepth)
	}
	if t.concurrency <= 0 {
		t.concurrency = DefaultConcurrency
	}
	if t.log == nil {
		t.log = zap.NewNop()
	}
	t.empty = emptyDigest(t.hasher)
	return t, nil
}

// Build materializes every node of the tree, with every leaf holding the
// digest of an empty value. It can be called once.
func (t *MerkleTree) Build(ctx context.Context) error {
	if t.root != nil {
		return ErrAlreadyBuilt
	}
	root, err := t.buildNode(ctx, t.rng, 0)
	if err != nil {
		return fmt.Errorf("build %v: %w", t.rng, err)
	}
	t.root = root
	t.log.Debug("built tree",
		zap.Stringer("range", t.rng),
		zap.Int("height", root.height()),
		zap.String("hasher", t.hasher.Name()))
	return nil
}

// Insert sets the value for the given key, replacing any earlier value for
// it in the leaf holding it.
func (t *MerkleTree) Insert(key Token, value []byte) error {
	return t.set(key, t.hasher.Hash(value))
}

// Remove drops the row for key from the leaf holding it.
func (t *MerkleTree) Remove(key Token) error {
	return t.set(key, nil)
}

func (t *MerkleTree) set(key Token, digest Digest) error {
	if t.root == nil {
		return ErrUnbuiltTree
	}
	if key == nil || !t.rng.Contains(key) {
		return fmt.Errorf("%w: %v not in %v", ErrOutOfRange, key, t.rng)
	}
	t.root.update(t.hasher, t.empty, key, digest)
	t.metrics.inserted()
	if ce := t.log.Check(zap.DebugLevel, "set leaf"); ce != nil {
		ce.Write(zap.Stringer("key", tokenStringer{key}), zap.Stringer("digest", digest))
	}
	return nil
}

// InsertAll inserts every row, stopping at the first error.
func (t *MerkleTree) InsertAll(rows []Row) error {
	for _, row := range rows {
		if err := t.Insert(row.Key, row.Value); err != nil {
			return err
		}
	}
	return nil
}

// InsertFrom inserts every row yielded by the given source.
func (t *MerkleTree) InsertFrom(ctx context.Context, src RowSource) error {
	if t.root == nil {
		return ErrUnbuiltTree
	}
	return src.Rows(ctx, func(row Row) error {
		return t.Insert(row.Key, row.Value)
	})
}

// RootDigest returns the digest summarizing the whole tree.
func (t *MerkleTree) RootDigest() (Digest, error) {
	if t.root == nil {
		return nil, ErrUnbuiltTree
	}
	return t.root.hash, nil
}

// DigestOf returns the digest of the node spanning exactly r.
func (t *MerkleTree) DigestOf(r Range) (Digest, error) {
	if t.root == nil {
		return nil, ErrUnbuiltTree
	}
	n := t.root.search(r)
	if n == nil {
		return nil, fmt.Errorf("%w: %v", ErrRangeNotFound, r)
	}
	return n.hash, nil
}

// LeafRange returns the range of the leaf that holds key.
func (t *MerkleTree) LeafRange(key Token) (Range, error) {
	if t.root == nil {
		return Range{}, ErrUnbuiltTree
	}
	if key == nil || !t.rng.Contains(key) {
		return Range{}, fmt.Errorf("%w: %v not in %v", ErrOutOfRange, key, t.rng)
	}
	return t.root.leaf(key).rng, nil
}

// Leaves invokes f with the range and digest of every leaf, in order.
func (t *MerkleTree) Leaves(f func(Range, Digest) error) error {
	if t.root == nil {
		return ErrUnbuiltTree
	}
	return t.root.iter(f)
}

// Range returns the range the tree was created over.
func (t *MerkleTree) Range() Range {
	return t.rng
}

// Hasher returns the hasher the tree digests with.
func (t *MerkleTree) Hasher() Hasher {
	return t.hasher
}

// IsBuilt reports whether Build has completed.
func (t *MerkleTree) IsBuilt() bool {
	return t.root != nil
}

// Height returns the number of levels between the root and the deepest leaf.
func (t *MerkleTree) Height() (int, error) {
	if t.root == nil {
		return 0, ErrUnbuiltTree
	}
	return t.root.height(), nil
}

// LeafCount returns the number of leaves.
func (t *MerkleTree) LeafCount() (uint64, error) {
	if t.root == nil {
		return 0, ErrUnbuiltTree
	}
	return t.root.leafCount(), nil
}

// Clone returns an independent copy that can be read while the original
// keeps changing.
func (t *MerkleTree) Clone() *MerkleTree {
	t2 := *t
	if t.root != nil {
		t2.root = t.root.xcopy()
	}
	return &t2
}

func (t *MerkleTree) String() string {
	if t.root == nil {
		return "NIL\n"
	}
	var sb strings.Builder
	t.root.string(&sb, "")
	return sb.String()
}

type tokenStringer struct{ Token }

func (s tokenStringer) String() string {
	return fmt.Sprint(s.Token)
}
