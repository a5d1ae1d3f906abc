// Package srp implements the SRP-6a augmented password-authenticated key
// exchange (RFC 5054) used to establish a session without the server ever
// seeing the client's plaintext password.
//
// Engine functions are plain functions over a *Group, not a stateful object,
// following the shape of the reference SRP engine this package is grounded
// on: N, g and k are fixed per group, and every other value (a/A, b/B, u, S,
// K, M1, M2) is computed fresh for each handshake.
package srp

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Group holds the parameters of an SRP-6a group: a safe prime N, a
// generator g, and the derived multiplier k = H(N | PAD(g)).
type Group struct {
	Name string
	Bits int
	N    *big.Int
	G    *big.Int
	k    *big.Int
}

const hex1024 = "EEAF0AB9ADB38DD69C33F80AFA8FC5E86072618775FF3C0B9EA2314C9C25657" +
	"6D674DF7496EA81D3383B4813D692C6E0E0D5D8E250B98BE48E495C1D6089DAD1" +
	"5DC7D7B46154D6B6CE8EF4AD69B15D4982559B297BCF1885C529F566660E57EC6" +
	"8EDBC3C05726CC02FD4CBF4976EAA9AFD5138FE8376435B9FC61D2FC0EB06E3"

const hex1536 = "9DEF3CAFB939277AB1F12A8617A47BBBDBA51DF499AC4C80BEEEA9614B19CC4" +
	"D5F4F5F556E27CBDE51C6A94BE4607A291558903BA0D0F84380B655BB9A22E8DC" +
	"DF028A7CEC67F0D08134B1C8B97989149B609E0BE3BAB63D47548381DBC5B1FC7" +
	"64E3F4B53DD9DA1158BFD3E2B9C8CF56EDF019539349627DB2FD53D24B7C48665" +
	"772E437D6C7F8CE442734AF7CCB7AE837C264AE3A9BEB87F8A2FE9B8B5292E5A0" +
	"21FFF5E91479E8CE7A28C2442C6F315180F93499A234DCF76E3FED135F9BB"

const hex2048 = "AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB5605" +
	"0A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50" +
	"E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B85" +
	"5F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773BCA" +
	"97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748544" +
	"523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6AF87" +
	"4E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB694B5C" +
	"803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73"

var (
	// SmallGroup is the RFC 5054 1024-bit group. Offered for low-power
	// clients only; Medium or Large should be preferred for new accounts.
	SmallGroup = mustGroup("1024", 1024, hex1024)

	// MediumGroup is the RFC 5054 1536-bit group, the default.
	MediumGroup = mustGroup("1536", 1536, hex1536)

	// LargeGroup is the RFC 5054 2048-bit group.
	LargeGroup = mustGroup("2048", 2048, hex2048)

	groupsByName = map[string]*Group{
		"1024": SmallGroup,
		"1536": MediumGroup,
		"2048": LargeGroup,
	}
)

func mustGroup(name string, bits int, nHex string) *Group {
	n, ok := new(big.Int).SetString(nHex, 16)
	if !ok {
		panic(fmt.Sprintf("srp: invalid group modulus for %s", name))
	}
	g := big.NewInt(2)
	grp := &Group{Name: name, Bits: bits, N: n, G: g}
	grp.k = computeK(n, g)
	return grp
}

// ByName looks up one of the three RFC 5054 groups this server offers by
// its configuration name ("1024", "1536", "2048"). A common alias set
// ("small"/"medium"/"large") is also accepted.
func ByName(name string) (*Group, error) {
	switch name {
	case "small":
		name = "1024"
	case "medium":
		name = "1536"
	case "large":
		name = "2048"
	}
	g, ok := groupsByName[name]
	if !ok {
		return nil, fmt.Errorf("srp: unknown group %q", name)
	}
	return g, nil
}

// K returns the group's multiplier parameter.
func (g *Group) K() *big.Int {
	return g.k
}

// RandomExponent returns a cryptographically random exponent suitable for
// use as an ephemeral secret (a or b), drawn uniformly from [1, 2^256).
func (g *Group) RandomExponent() (*big.Int, error) {
	// 256 bits, matching common SRP implementations, but never more bits
	// than N itself.
	bits := g.Bits
	if bits > 256 {
		bits = 256
	}
	max := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	max.Sub(max, big.NewInt(1))
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, fmt.Errorf("srp: generate random exponent: %w", err)
	}
	return n.Add(n, big.NewInt(1)), nil
}
