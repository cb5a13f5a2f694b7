package aetree

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultLoadConcurrency is how many row values PersistRows loads at once.
const DefaultLoadConcurrency = 40

// A RowSource yields the rows of a replica, in any order.
type RowSource interface {
	// Rows invokes f for every row, stopping at the first error.
	Rows(ctx context.Context, f func(Row) error) error
}

// RowSlice is a RowSource over rows held in memory.
type RowSlice []Row

func (rs RowSlice) Rows(ctx context.Context, f func(Row) error) error {
	for _, row := range rs {
		if err := f(row); err != nil {
			return err
		}
	}
	return nil
}

// Persist is the interface for the store holding a replica's rows, one
// named value per row.
type Persist interface {
	// Store makes the given bytes accessible by the given name.
	Store(context.Context, string, []byte) error
	// Load retrieves the previously-stored bytes by the given name.
	Load(context.Context, string) ([]byte, error)
	// Delete removes the named bytes; deleting a missing name is not an error.
	Delete(context.Context, string) error
	// List invokes f with every stored name.
	List(context.Context, func(string) error) error
}

// KeyFunc maps a row's name in a Persist to its token.
type KeyFunc func(name string) (Token, error)

// HashedKey places names on the token ring with Murmur3Token.
func HashedKey(name string) (Token, error) {
	return Murmur3Token([]byte(name)), nil
}

var _ KeyFunc = ParseIntToken

type persistRows struct {
	persist     Persist
	keyOf       KeyFunc
	concurrency int
}

// PersistRows returns a RowSource over every value in p, keyed by keyOf
// (ParseIntToken if nil). Values are loaded concurrently.
func PersistRows(p Persist, keyOf KeyFunc) RowSource {
	if keyOf == nil {
		keyOf = ParseIntToken
	}
	return persistRows{p, keyOf, DefaultLoadConcurrency}
}

func (s persistRows) Rows(ctx context.Context, f func(Row) error) error {
	var names []string
	err := s.persist.List(ctx, func(name string) error {
		names = append(names, name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	rows := make(chan Row)
	var loadErr error
	go func() {
		for _, name := range names {
			if gctx.Err() != nil {
				break
			}
			name := name
			g.Go(func() error {
				key, err := s.keyOf(name)
				if err != nil {
					return fmt.Errorf("key for %s: %w", name, err)
				}
				value, err := s.persist.Load(gctx, name)
				if err != nil {
					return fmt.Errorf("load %s: %w", name, err)
				}
				select {
				case rows <- Row{key, value}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		loadErr = g.Wait()
		close(rows)
	}()

	var firstErr error
	for row := range rows {
		if firstErr != nil {
			continue
		}
		if err := f(row); err != nil {
			firstErr = err
			cancel()
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return loadErr
}

// RepairStats counts the changes made by Repair.
type RepairStats struct {
	Copied  int
	Deleted int
}

// Repair makes the rows of to match the rows of from over the given ranges,
// as returned by Difference: rows present in from are copied, rows present
// only in to are deleted. If tree summarizes to, it is updated to match.
func Repair(ctx context.Context, ranges []Range, from, to Persist, keyOf KeyFunc, tree *MerkleTree) (RepairStats, error) {
	var stats RepairStats
	if len(ranges) == 0 {
		return stats, nil
	}
	if keyOf == nil {
		keyOf = ParseIntToken
	}
	inRanges := func(name string) (Token, bool, error) {
		key, err := keyOf(name)
		if err != nil {
			return nil, false, fmt.Errorf("key for %s: %w", name, err)
		}
		for _, r := range ranges {
			if r.Contains(key) {
				return key, true, nil
			}
		}
		return key, false, nil
	}

	source := map[string]Token{}
	err := from.List(ctx, func(name string) error {
		key, ok, err := inRanges(name)
		if ok {
			source[name] = key
		}
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("list source: %w", err)
	}
	stale := map[string]Token{}
	err = to.List(ctx, func(name string) error {
		key, ok, err := inRanges(name)
		if _, present := source[name]; ok && !present {
			stale[name] = key
		}
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("list target: %w", err)
	}

	for name, key := range stale {
		if err := to.Delete(ctx, name); err != nil {
			return stats, fmt.Errorf("delete %s: %w", name, err)
		}
		if tree != nil {
			if err := tree.Remove(key); err != nil {
				return stats, fmt.Errorf("remove %s: %w", name, err)
			}
		}
		stats.Deleted++
	}
	for name, key := range source {
		value, err := from.Load(ctx, name)
		if err != nil {
			return stats, fmt.Errorf("load %s: %w", name, err)
		}
		if err := to.Store(ctx, name, value); err != nil {
			return stats, fmt.Errorf("store %s: %w", name, err)
		}
		if tree != nil {
			if err := tree.Insert(key, value); err != nil {
				return stats, fmt.Errorf("insert %s: %w", name, err)
			}
		}
		stats.Copied++
	}
	return stats, nil
}
