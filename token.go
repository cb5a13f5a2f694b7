package aetree

import (
	"fmt"
	"strconv"

	"github.com/spaolacci/murmur3"
)

// A Token is an ordered key that can be projected onto an int64 scalar.
// Order must agree with the order of Value().
type Token interface {
	// Order returns -1 if this token sorts before the argument, 1 if after, and 0 if equal.
	Order(Token) int
	// Midpoint returns a token between this one and the argument, inclusive.
	Midpoint(Token) Token
	// Next returns the token immediately following this one.
	Next() Token
	// Value projects the token onto a scalar.
	Value() int64
}

// IntToken is a Token over the signed 64-bit integers.
type IntToken int64

func (t IntToken) Order(o Token) int {
	v, ov := int64(t), o.Value()
	if v < ov {
		return -1
	} else if v > ov {
		return 1
	}
	return 0
}

// Midpoint rounds toward t and never overflows for t <= o.
func (t IntToken) Midpoint(o Token) Token {
	lo, hi := int64(t), o.Value()
	if lo > hi {
		lo, hi = hi, lo
	}
	return IntToken(lo + int64(uint64(hi-lo)/2))
}

func (t IntToken) Next() Token {
	return t + 1
}

func (t IntToken) Value() int64 {
	return int64(t)
}

func (t IntToken) String() string {
	return strconv.FormatInt(int64(t), 10)
}

// ParseIntToken parses a decimal token, as used for row names in a Persist.
func ParseIntToken(s string) (Token, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse token %q: %w", s, err)
	}
	return IntToken(v), nil
}

// Murmur3Token places an arbitrary key on the int64 token ring, the same
// way a Murmur3 partitioner spreads row keys across replicas.
func Murmur3Token(key []byte) IntToken {
	return IntToken(int64(murmur3.Sum64(key)))
}
