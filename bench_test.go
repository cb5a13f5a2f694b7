package aetree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func benchmarkBuild(size int64, concurrency int, b *testing.B) {
	for n := 0; n < b.N; n++ {
		tree, err := New(Range{IntToken(0), IntToken(size - 1)}, &Config{Concurrency: concurrency})
		require.NoError(b, err)
		require.NoError(b, tree.Build(ctx))
	}
}

func BenchmarkBuild1k(b *testing.B)          { benchmarkBuild(1_000, 1, b) }
func BenchmarkBuild64k(b *testing.B)         { benchmarkBuild(1<<16, 1, b) }
func BenchmarkBuild64kParallel8(b *testing.B) { benchmarkBuild(1<<16, 8, b) }

func benchmarkInsert(size int64, b *testing.B) {
	tree := newTestTree(b, 0, size-1, nil)
	value := []byte("value")
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		require.NoError(b, tree.Insert(IntToken(int64(n)%size), value))
	}
}

func BenchmarkInsert1k(b *testing.B)  { benchmarkInsert(1_000, b) }
func BenchmarkInsert64k(b *testing.B) { benchmarkInsert(1<<16, b) }
func BenchmarkInsert1m(b *testing.B)  { benchmarkInsert(1<<20, b) }

// benchmarkDifference compares trees that differ in every stride'th key.
func benchmarkDifference(size int64, stride int64, concurrency int, b *testing.B) {
	config := &Config{Concurrency: concurrency}
	t1 := newTestTree(b, 0, size-1, config)
	t2 := newTestTree(b, 0, size-1, config)
	for k := int64(0); k < size; k += stride {
		require.NoError(b, t2.Insert(IntToken(k), []byte("changed")))
	}
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		_, err := t1.Difference(ctx, t2)
		require.NoError(b, err)
	}
}

func BenchmarkDifferenceOneKey64k(b *testing.B)   { benchmarkDifference(1<<16, 1<<16, 1, b) }
func BenchmarkDifferenceSparse64k(b *testing.B)   { benchmarkDifference(1<<16, 1_000, 1, b) }
func BenchmarkDifferenceDense64k(b *testing.B)    { benchmarkDifference(1<<16, 3, 1, b) }
func BenchmarkDifferenceDense64kPar8(b *testing.B) { benchmarkDifference(1<<16, 3, 8, b) }
