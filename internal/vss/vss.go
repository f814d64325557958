// Package vss implements Pedersen verifiable secret sharing over
// Ristretto255, splitting a 128-bit file key into shares that can be
// checked against a public commitment vector and reconstructed by
// Lagrange interpolation at x=0.
package vss

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"sync"

	"github.com/gtank/ristretto255"
)

const FileKeySize = 16

// Share is one dealer-issued point on both secret polynomials.
type Share struct {
	Index uint32
	S, T  *ristretto255.Scalar
}

var (
	generatorsOnce sync.Once
	genG, genH     *ristretto255.Element
)

func generators() (g, h *ristretto255.Element) {
	generatorsOnce.Do(func() {
		genG = hashToCurve("age-threshold pedersen generator G")
		genH = hashToCurve("age-threshold pedersen generator H")
	})
	return genG, genH
}

func hashToCurve(domain string) *ristretto255.Element {
	digest := sha512.Sum512([]byte(domain))
	return ristretto255.NewElement().FromUniformBytes(digest[:])
}

// Commit computes s·G + t·H.
func Commit(s, t *ristretto255.Scalar) *ristretto255.Element {
	g, h := generators()
	sg := ristretto255.NewElement().ScalarMult(s, g)
	th := ristretto255.NewElement().ScalarMult(t, h)
	return ristretto255.NewElement().Add(sg, th)
}

func randomScalar() (*ristretto255.Scalar, error) {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("vss: reading randomness: %w", err)
	}
	return ristretto255.NewScalar().FromUniformBytes(buf[:]), nil
}

func encodeFileKey(fk [FileKeySize]byte) *ristretto255.Scalar {
	var buf [32]byte
	copy(buf[:FileKeySize], fk[:])
	s := ristretto255.NewScalar()
	if err := s.Decode(buf[:]); err != nil {
		// fk is 16 bytes zero-extended into the low half of a 32-byte
		// little-endian scalar, which is always below the group order.
		panic("vss: internal error: zero-extended file key is not canonical: " + err.Error())
	}
	return s
}

func decodeFileKey(s *ristretto255.Scalar) [FileKeySize]byte {
	var fk [FileKeySize]byte
	enc := s.Encode(nil)
	copy(fk[:], enc[:FileKeySize])
	return fk
}

// uintScalar encodes a small non-negative integer as a scalar, used for
// share indices and polynomial-evaluation powers.
func uintScalar(v uint32) *ristretto255.Scalar {
	var buf [32]byte
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
	s := ristretto255.NewScalar()
	if err := s.Decode(buf[:]); err != nil {
		panic("vss: internal error: uint32 is not a canonical scalar: " + err.Error())
	}
	return s
}

// polyEval evaluates a polynomial given by its coefficients (constant term
// first) at x via Horner's method.
func polyEval(coeffs []*ristretto255.Scalar, x *ristretto255.Scalar) *ristretto255.Scalar {
	acc := ristretto255.NewScalar()
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc = ristretto255.NewScalar().Multiply(acc, x)
		acc = ristretto255.NewScalar().Add(acc, coeffs[i])
	}
	return acc
}

// Split divides fk into n shares recoverable by any k of them, returning
// the shares and the degree-(k-1) commitment vector.
func Split(fk [FileKeySize]byte, k, n int) ([]Share, []*ristretto255.Element, error) {
	if k <= 0 {
		return nil, nil, fmt.Errorf("vss: threshold must be at least 1")
	}
	if n < k {
		return nil, nil, fmt.Errorf("vss: cannot split into %d shares with threshold %d", n, k)
	}

	sCoeffs := make([]*ristretto255.Scalar, k)
	tCoeffs := make([]*ristretto255.Scalar, k)
	sCoeffs[0] = encodeFileKey(fk)
	var err error
	if tCoeffs[0], err = randomScalar(); err != nil {
		return nil, nil, err
	}
	for j := 1; j < k; j++ {
		if sCoeffs[j], err = randomScalar(); err != nil {
			return nil, nil, err
		}
		if tCoeffs[j], err = randomScalar(); err != nil {
			return nil, nil, err
		}
	}

	shares := make([]Share, n)
	for i := 1; i <= n; i++ {
		x := uintScalar(uint32(i))
		shares[i-1] = Share{
			Index: uint32(i),
			S:     polyEval(sCoeffs, x),
			T:     polyEval(tCoeffs, x),
		}
	}

	commitments := make([]*ristretto255.Element, k)
	for j := 0; j < k; j++ {
		commitments[j] = Commit(sCoeffs[j], tCoeffs[j])
	}

	return shares, commitments, nil
}

// Verify checks share against the commitment vector.
func Verify(share Share, commitments []*ristretto255.Element) bool {
	if share.Index == 0 {
		return false
	}
	lhs := Commit(share.S, share.T)

	rhs := ristretto255.NewElement().Zero()
	xPow := uintScalar(1)
	x := uintScalar(share.Index)
	for _, c := range commitments {
		term := ristretto255.NewElement().ScalarMult(xPow, c)
		rhs = ristretto255.NewElement().Add(rhs, term)
		xPow = ristretto255.NewScalar().Multiply(xPow, x)
	}

	return lhs.Equal(rhs) == 1
}

// Reconstruct recovers the file key from k or more verified shares via
// Lagrange interpolation at x=0. Shares MUST already be verified; indices
// MUST be distinct.
func Reconstruct(shares []Share) ([FileKeySize]byte, error) {
	if len(shares) == 0 {
		return [FileKeySize]byte{}, fmt.Errorf("vss: no shares to reconstruct from")
	}
	seen := make(map[uint32]bool, len(shares))
	for _, sh := range shares {
		if seen[sh.Index] {
			return [FileKeySize]byte{}, fmt.Errorf("vss: duplicate share index %d", sh.Index)
		}
		seen[sh.Index] = true
	}

	acc := ristretto255.NewScalar()
	for i, share := range shares {
		coeff := lagrangeCoefficientAtZero(i, shares)
		term := ristretto255.NewScalar().Multiply(share.S, coeff)
		acc = ristretto255.NewScalar().Add(acc, term)
	}

	return decodeFileKey(acc), nil
}

// lagrangeCoefficientAtZero computes L_i(0) = Π_{j≠i} x_j / (x_j - x_i)
// for shares[i] against every other share in shares.
func lagrangeCoefficientAtZero(i int, shares []Share) *ristretto255.Scalar {
	xi := uintScalar(shares[i].Index)

	num := uintScalar(1)
	den := uintScalar(1)
	for j, other := range shares {
		if j == i {
			continue
		}
		xj := uintScalar(other.Index)
		num = ristretto255.NewScalar().Multiply(num, xj)
		diff := ristretto255.NewScalar().Subtract(xj, xi)
		den = ristretto255.NewScalar().Multiply(den, diff)
	}

	denInv := ristretto255.NewScalar().Invert(den)
	return ristretto255.NewScalar().Multiply(num, denInv)
}
