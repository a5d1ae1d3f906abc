package session

import (
	"testing"
	"time"
)

func TestNewIDUnique(t *testing.T) {
	id1, err := NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Error("two generated IDs are identical")
	}
}

func TestIDRoundtripText(t *testing.T) {
	id, _ := NewID()
	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}

	var got ID
	if err := got.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if got != id {
		t.Error("round-tripped ID does not match original")
	}
}

func TestParseID_Invalid(t *testing.T) {
	if _, err := ParseID("not-hex"); err == nil {
		t.Error("ParseID with non-hex input should fail")
	}
	if _, err := ParseID("ab"); err == nil {
		t.Error("ParseID with short input should fail")
	}
}

func TestCache_PutGetEvict(t *testing.T) {
	c := NewCache(10, time.Hour)
	id, _ := NewID()
	key := []byte("master-key-material-32-bytes!!!")

	c.Put(id, key)

	got, ok := c.Get(id)
	if !ok {
		t.Fatal("expected session to be present")
	}
	if string(got) != string(key) {
		t.Error("retrieved master key does not match")
	}

	c.Evict(id)
	if _, ok := c.Get(id); ok {
		t.Error("session should not be present after eviction")
	}
}

func TestCache_Expiry(t *testing.T) {
	c := NewCache(10, 20*time.Millisecond)
	id, _ := NewID()
	c.Put(id, []byte("key"))

	if _, ok := c.Get(id); !ok {
		t.Fatal("expected session to be present immediately after Put")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get(id); ok {
		t.Error("session should have expired")
	}
}

func TestCache_EvictsNearestToExpiryWhenFull(t *testing.T) {
	c := NewCache(2, time.Hour)

	idOld, _ := NewID()
	c.Put(idOld, []byte("old"))

	// Ensure idOld is strictly older so it is the eviction candidate.
	time.Sleep(5 * time.Millisecond)

	idNew, _ := NewID()
	c.Put(idNew, []byte("new"))

	idThird, _ := NewID()
	c.Put(idThird, []byte("third")) // cache at capacity 2, must evict idOld

	if _, ok := c.Get(idOld); ok {
		t.Error("oldest session should have been evicted")
	}
	if _, ok := c.Get(idNew); !ok {
		t.Error("newer session should still be present")
	}
	if _, ok := c.Get(idThird); !ok {
		t.Error("just-inserted session should be present")
	}
}

func TestNonceCache_RejectsReplay(t *testing.T) {
	c := NewNonceCache(10, time.Hour)

	var nonce [16]byte
	nonce[0] = 0x42

	if !c.CheckAndSet(nonce) {
		t.Error("first use of a nonce should be accepted")
	}
	if c.CheckAndSet(nonce) {
		t.Error("second use of the same nonce should be rejected as a replay")
	}
}

func TestNonceCache_ExpiresWindow(t *testing.T) {
	c := NewNonceCache(10, 20*time.Millisecond)

	var nonce [16]byte
	nonce[1] = 0x7

	if !c.CheckAndSet(nonce) {
		t.Fatal("first use should be accepted")
	}

	time.Sleep(60 * time.Millisecond)

	if !c.CheckAndSet(nonce) {
		t.Error("nonce use after the validity window has passed should be accepted again")
	}
}
