package exef

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
)

// StreamEncryptor frames an arbitrarily-chunked plaintext stream of known
// total length into an ExEF container. SetParams must be called once,
// before any Update, because the 28-byte header cannot be emitted without
// knowing ct_len. Update accepts plaintext in any partition; Get drains
// whatever output bytes are ready so far, in order: the header first, then
// ciphertext, then the 16-byte tag once the declared length has been fully
// consumed.
//
// AES-GCM's ciphertext length always equals its plaintext length, so the
// header — which only needs the key size, nonce and ct_len — can be emitted
// the moment SetParams is called. The ciphertext and tag, however, are
// produced by a single call to the AEAD's Seal once all plaintext has
// arrived: crypto/cipher.AEAD exposes one-shot sealing only, not a
// chunk-at-a-time GCM primitive, and hand-rolling AES-CTR plus GHASH to get
// true incremental sealing would reimplement a security-critical primitive
// the standard library already gets right. Plaintext is therefore buffered
// until SetParams' length has been reached; the emitted bytes still respect
// the ordering and cumulative-length invariants the container guarantees.
type StreamEncryptor struct {
	key   []byte
	nonce [NonceSize]byte

	length    uint64
	haveLen   bool
	plaintext bytes.Buffer
	pending   bytes.Buffer
	fully     bool
}

// NewStreamEncryptor creates a streaming encryptor for key. If nonce is
// nil, 12 random bytes are drawn from crypto/rand.
func NewStreamEncryptor(key []byte, nonce []byte) (*StreamEncryptor, error) {
	if _, err := newAEAD(key); err != nil {
		return nil, err
	}

	e := &StreamEncryptor{key: key}
	if nonce == nil {
		if _, err := io.ReadFull(rand.Reader, e.nonce[:]); err != nil {
			return nil, fmt.Errorf("exef: generate nonce: %w", err)
		}
	} else {
		if len(nonce) != NonceSize {
			return nil, fmt.Errorf("exef: nonce must be %d bytes", NonceSize)
		}
		copy(e.nonce[:], nonce)
	}
	return e, nil
}

// SetParams declares the total plaintext length and emits the header into
// the pending output buffer. Must be called exactly once, before Update.
func (e *StreamEncryptor) SetParams(length uint64) error {
	if e.haveLen {
		return fmt.Errorf("exef: SetParams already called")
	}
	e.length = length
	e.haveLen = true
	e.pending.Write(appendHeader(nil, uint16(len(e.key)*8), e.nonce, length))

	if length == 0 {
		aead, err := newAEAD(e.key)
		if err != nil {
			return err
		}
		e.pending.Write(aead.Seal(nil, e.nonce[:], nil, nil))
		e.fully = true
	}
	return nil
}

// Update feeds the next chunk of plaintext. Chunks may be any size; once
// the cumulative length reaches the value declared to SetParams, the
// ciphertext and tag are sealed and appended to the pending output.
func (e *StreamEncryptor) Update(chunk []byte) error {
	if !e.haveLen {
		return fmt.Errorf("exef: SetParams must be called before Update")
	}
	if e.fully {
		return fmt.Errorf("exef: all declared plaintext already consumed")
	}

	remaining := e.length - uint64(e.plaintext.Len())
	if uint64(len(chunk)) > remaining {
		return fmt.Errorf("exef: Update exceeds declared length")
	}
	e.plaintext.Write(chunk)

	if uint64(e.plaintext.Len()) == e.length {
		aead, err := newAEAD(e.key)
		if err != nil {
			return err
		}
		sealed := aead.Seal(nil, e.nonce[:], e.plaintext.Bytes(), nil)
		e.pending.Write(sealed)
		e.fully = true
	}
	return nil
}

// Get drains and returns whatever output bytes are currently ready.
func (e *StreamEncryptor) Get() []byte {
	out := make([]byte, e.pending.Len())
	copy(out, e.pending.Bytes())
	e.pending.Reset()
	return out
}

// FullyProcessed reports whether all declared plaintext bytes have been
// consumed and sealed.
func (e *StreamEncryptor) FullyProcessed() bool {
	return e.fully
}

// StreamDecryptor parses and verifies an ExEF container fed in arbitrary
// chunks. Write buffers bytes until the 28-byte header is complete, then
// buffers ciphertext up to ct_len plus the trailing 16-byte tag. Verify
// must be called once all input has been written; it checks the GCM tag
// and returns the plaintext only on success, so no unauthenticated
// plaintext is ever exposed.
type StreamDecryptor struct {
	key []byte

	headerBuf bytes.Buffer
	header    *Header
	body      bytes.Buffer
}

// NewStreamDecryptor creates a streaming decryptor for key.
func NewStreamDecryptor(key []byte) *StreamDecryptor {
	return &StreamDecryptor{key: key}
}

// Write feeds the next chunk of container bytes, in order.
func (d *StreamDecryptor) Write(chunk []byte) error {
	if d.header == nil {
		d.headerBuf.Write(chunk)
		if d.headerBuf.Len() < HeaderSize {
			return nil
		}

		hdr, rest, err := ParseHeader(d.headerBuf.Bytes())
		if err != nil {
			return err
		}
		if int(hdr.Keysize) != len(d.key)*8 {
			return ErrBadKeysize
		}
		d.header = &hdr
		d.body.Write(rest)
		return nil
	}

	d.body.Write(chunk)
	return nil
}

// Verify checks the GCM tag over all buffered ciphertext and returns the
// plaintext. Must be called after all container bytes have been written.
func (d *StreamDecryptor) Verify() ([]byte, error) {
	if d.header == nil {
		return nil, ErrShortBuffer
	}

	expected := d.header.CTLen + TagSize
	if uint64(d.body.Len()) != expected {
		return nil, ErrShortBuffer
	}

	aead, err := newAEAD(d.key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, d.header.Nonce[:], d.body.Bytes(), nil)
	if err != nil {
		return nil, ErrTagMismatch
	}
	return plaintext, nil
}
