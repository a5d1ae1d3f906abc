package srp

import (
	"crypto/sha1" //nolint:gosec // required by RFC 5054 transcript hashes, not used for anything security-critical on its own
	"math/big"

	"golang.org/x/crypto/sha3"
)

// computeK computes the SRP-6a multiplier k = SHA1(N | PAD(g, |N|)).
func computeK(n, g *big.Int) *big.Int {
	nLen := byteLen(n)
	h := sha1.New()
	h.Write(n.Bytes())
	h.Write(pad(g, nLen))
	return new(big.Int).SetBytes(h.Sum(nil))
}

// byteLen returns the number of bytes needed to hold n's modulus, |N|.
func byteLen(n *big.Int) int {
	return (n.BitLen() + 7) / 8
}

// pad left-pads x's big-endian encoding to n bytes.
func pad(x *big.Int, n int) []byte {
	b := x.Bytes()
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

// modExp computes a^b mod N using the group's modulus.
func (g *Group) modExp(a, b *big.Int) *big.Int {
	return new(big.Int).Exp(a, b, g.N)
}

// ComputeVerifier computes the password verifier v = g^x mod N, stored by
// the user store at account-creation time. x itself is computed entirely
// client-side and never transmitted; the server only ever sees v.
func (g *Group) ComputeVerifier(x *big.Int) *big.Int {
	return g.modExp(g.G, x)
}

// ComputeServerPublicValue computes B = (k*v + g^b) mod N. If b is nil, a
// fresh random exponent in [1, 2^256) is drawn; when the caller supplies b
// (as the RFC 5054 test vectors do) it is used verbatim, enabling
// deterministic testing.
func (g *Group) ComputeServerPublicValue(v, b *big.Int) (secretB, publicB *big.Int, err error) {
	if b == nil {
		b, err = g.RandomExponent()
		if err != nil {
			return nil, nil, err
		}
	}

	kv := new(big.Int).Mul(g.K(), v)
	gb := g.modExp(g.G, b)
	sum := new(big.Int).Add(kv, gb)
	publicB = new(big.Int).Mod(sum, g.N)
	return b, publicB, nil
}

// ComputeClientPublicValue computes A = g^a mod N. Included for completeness
// and for driving test vectors and in-process handshake simulations; the
// real client computes this value, not the server.
func (g *Group) ComputeClientPublicValue(a *big.Int) *big.Int {
	return g.modExp(g.G, a)
}

// ComputeU computes u = SHA1(PAD(A,|N|) | PAD(B,|N|)) as an integer.
func (g *Group) ComputeU(a, b *big.Int) *big.Int {
	nLen := byteLen(g.N)
	h := sha1.New()
	h.Write(pad(a, nLen))
	h.Write(pad(b, nLen))
	return new(big.Int).SetBytes(h.Sum(nil))
}

// ComputePremaster computes the server-side SRP premaster secret
// S = (A * v^u)^b mod N.
func (g *Group) ComputePremaster(a, b, u, v *big.Int) *big.Int {
	vu := g.modExp(v, u)
	av := new(big.Int).Mul(a, vu)
	av.Mod(av, g.N)
	return g.modExp(av, b)
}

// ComputeClientPremaster computes the client-side SRP premaster secret
// S = (B - k*g^x)^(a + u*x) mod N, included for test-vector verification and
// in-process handshake simulation.
func (g *Group) ComputeClientPremaster(b, a, x, u *big.Int) *big.Int {
	kgx := new(big.Int).Mul(g.K(), g.modExp(g.G, x))
	base := new(big.Int).Sub(b, kgx)
	base.Mod(base, g.N)
	exp := new(big.Int).Add(a, new(big.Int).Mul(u, x))
	return g.modExp(base, exp)
}

// PremasterToMaster derives the 32-byte master key from the premaster
// secret: SHA3-256(PAD(S, |N|)).
func (g *Group) PremasterToMaster(s *big.Int) [32]byte {
	return sha3.Sum256(pad(s, byteLen(g.N)))
}

// GenerateM1 computes the client confirmation hash:
//
//	SHA3-256( (H(N) xor H(g)) | salt | A | B | master )
//
// where H is SHA3-256 and the XOR is taken over N and g's hashes as
// integers, then re-serialized minimal big-endian (matching
// long_to_bytes(bytes_to_long(hN) ^ bytes_to_long(hg))). username is
// accepted so call sites mirror GenerateM2's, but it is not part of the
// hash input.
func (g *Group) GenerateM1(username string, salt, a, b []byte, master [32]byte) [32]byte {
	_ = username

	hn := sha3.Sum256(g.N.Bytes())
	hg := sha3.Sum256(g.G.Bytes())
	xorred := new(big.Int).Xor(new(big.Int).SetBytes(hn[:]), new(big.Int).SetBytes(hg[:]))

	h := sha3.New256()
	h.Write(xorred.Bytes())
	h.Write(salt)
	h.Write(a)
	h.Write(b)
	h.Write(master[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// GenerateM2 computes the server confirmation hash: SHA3-256(A | m1 | master).
func (g *Group) GenerateM2(a []byte, m1, master [32]byte) [32]byte {
	h := sha3.New256()
	h.Write(a)
	h.Write(m1[:])
	h.Write(master[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
