/*
Package aetree provides range-partitioned Merkle trees for anti-entropy
between replicas of a keyed data set. Each replica summarizes the rows it
holds for a token range in a MerkleTree; comparing two trees yields the
smallest set of sub-ranges whose contents differ, so that only those
ranges need to be streamed between replicas to repair them.

Shape

A tree's shape is fixed by its range, its Partitioner (Bisect by default)
and its optional MaxDepth, never by the data. Build materializes every
node up front with every leaf holding the digest of an empty value; Insert
then replaces the digest of the leaf holding a key and refreshes the
digests on the path to the root. Two replicas holding the same rows
therefore produce the same root digest, whatever order the rows arrived in.

Comparing

Difference walks both trees from the root of the smaller range, pruning
every subtree whose digests match. A range is Complete when its digests
match, Partial when one half matches, and None otherwise; each None range
below a Partial one is reported whole. Trees must use the same Hasher and
Partitioner, and may be built to different depths.

Repairing

Rows live in a Persist, one value per name (see the persist/ packages for
file, CSV and S3 stores). PersistRows feeds a store into a tree, and Repair
copies the rows in the reported ranges from one store to another, keeping
the target's tree up to date.

Concurrency

Reads of a built tree may run concurrently. Build and Difference can fan
out over Config.Concurrency goroutines. Clone takes an independent copy
for comparing while the original keeps taking writes.
*/
package aetree
