package aetree

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"hash"

	"github.com/minio/blake2b-simd"
	sha256 "github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"
)

// Digest is the fixed-size output of a Hasher. Two nodes are considered
// equal when their digests are equal, which holds only up to the collision
// resistance of the Hasher.
type Digest []byte

func (d Digest) Equal(o Digest) bool {
	return bytes.Equal(d, o)
}

func (d Digest) String() string {
	return base64.RawURLEncoding.EncodeToString(d)
}

// A Hasher summarizes row values and combines child digests.
type Hasher interface {
	// Name identifies the hash; trees hashed differently can't be compared.
	Name() string
	// Hash digests a row value.
	Hash([]byte) Digest
	// Combine digests the concatenation left||right, so swapping children
	// changes the result.
	Combine(left, right Digest) Digest
}

type streamHasher struct {
	name string
	new  func() hash.Hash
}

func (h streamHasher) Name() string { return h.name }

func (h streamHasher) Hash(b []byte) Digest {
	s := h.new()
	s.Write(b)
	return s.Sum(nil)
}

func (h streamHasher) Combine(left, right Digest) Digest {
	s := h.new()
	s.Write(left)
	s.Write(right)
	return s.Sum(nil)
}

var (
	// Blake2b256 is the default Hasher.
	Blake2b256 Hasher = streamHasher{"blake2b-256", blake2b.New256}
	SHA256     Hasher = streamHasher{"sha256", sha256.New}
	Blake3     Hasher = streamHasher{"blake3", func() hash.Hash { return blake3.New() }}
	// SHA1 is kept for interoperating with existing SHA-1 trees.
	SHA1 Hasher = streamHasher{"sha1", sha1.New}
)

// HasherByName looks up one of the built-in hashers.
func HasherByName(name string) (Hasher, bool) {
	for _, h := range []Hasher{Blake2b256, SHA256, Blake3, SHA1} {
		if h.Name() == name {
			return h, true
		}
	}
	return nil, false
}

func emptyDigest(h Hasher) Digest {
	return h.Hash(nil)
}
