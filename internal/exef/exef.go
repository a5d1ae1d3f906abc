// Package exef implements the ExEF binary container: a self-delimiting
// AES-GCM authenticated-encryption frame used to wrap every encrypted HTTP
// request and response body, and every file stored at rest in the vault.
//
// Wire format (big-endian):
//
//	offset  size  field
//	0       4     magic    "ExEF"
//	4       2     version  = 0x0002
//	6       2     keysize  in bits (128, 192 or 256)
//	8       12    nonce    (AES-GCM IV)
//	20      8     ct_len   ciphertext length in bytes
//	28      ct_len ciphertext
//	28+ct_len 16  tag      AES-GCM authentication tag
package exef

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic identifies an ExEF container.
	Magic = "ExEF"

	// Version is the only container version this codec understands.
	Version uint16 = 2

	// NonceSize is the AES-GCM nonce length in bytes.
	NonceSize = 12

	// TagSize is the AES-GCM authentication tag length in bytes.
	TagSize = 16

	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 4 + 2 + 2 + NonceSize + 8

	// FooterSize is the trailing tag length in bytes.
	FooterSize = TagSize

	// Overhead is the total non-plaintext framing overhead.
	Overhead = HeaderSize + FooterSize
)

var (
	// ErrBadMagic is returned when the container does not start with "ExEF".
	ErrBadMagic = errors.New("exef: bad magic")

	// ErrBadVersion is returned when the container version is not supported.
	ErrBadVersion = errors.New("exef: unsupported version")

	// ErrBadKeysize is returned when the header's declared key size does not
	// match the key supplied to Decrypt.
	ErrBadKeysize = errors.New("exef: key size mismatch")

	// ErrShortBuffer is returned when the input is too small to hold a
	// complete header, or when the bytes after the header are not exactly
	// ct_len plus the tag.
	ErrShortBuffer = errors.New("exef: buffer too short")

	// ErrTagMismatch is returned when GCM authentication fails.
	ErrTagMismatch = errors.New("exef: authentication tag mismatch")
)

// Header is the parsed, fixed-size prefix of an ExEF container.
type Header struct {
	Version uint16
	Keysize uint16
	Nonce   [NonceSize]byte
	CTLen   uint64
}

// Encrypt seals plaintext under key using AES-GCM and returns a complete
// ExEF container: header || ciphertext || tag. If nonce is nil, 12 random
// bytes are drawn from crypto/rand; callers that supply a nonce are
// responsible for never reusing a (key, nonce) pair.
func Encrypt(key []byte, nonce []byte, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	var n [NonceSize]byte
	if nonce == nil {
		if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
			return nil, fmt.Errorf("exef: generate nonce: %w", err)
		}
	} else {
		if len(nonce) != NonceSize {
			return nil, fmt.Errorf("exef: nonce must be %d bytes", NonceSize)
		}
		copy(n[:], nonce)
	}

	sealed := aead.Seal(nil, n[:], plaintext, nil)
	ctLen := len(sealed) - TagSize

	out := make([]byte, 0, HeaderSize+len(sealed))
	out = appendHeader(out, uint16(len(key)*8), n, uint64(ctLen))
	out = append(out, sealed...)
	return out, nil
}

// Decrypt parses and verifies an ExEF container produced by Encrypt,
// returning the plaintext.
func Decrypt(key []byte, data []byte) ([]byte, error) {
	hdr, ciphertextAndTag, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	if int(hdr.Keysize) != len(key)*8 {
		return nil, ErrBadKeysize
	}

	if uint64(len(ciphertextAndTag)) != hdr.CTLen+TagSize {
		return nil, ErrShortBuffer
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, hdr.Nonce[:], ciphertextAndTag, nil)
	if err != nil {
		return nil, ErrTagMismatch
	}
	return plaintext, nil
}

// ParseHeader validates and parses the fixed ExEF header, returning the
// header and the remaining bytes (ciphertext followed by tag).
func ParseHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, ErrShortBuffer
	}
	if !bytes.Equal(data[0:4], []byte(Magic)) {
		return Header{}, nil, ErrBadMagic
	}

	version := binary.BigEndian.Uint16(data[4:6])
	if version != Version {
		return Header{}, nil, ErrBadVersion
	}

	var hdr Header
	hdr.Version = version
	hdr.Keysize = binary.BigEndian.Uint16(data[6:8])
	copy(hdr.Nonce[:], data[8:20])
	hdr.CTLen = binary.BigEndian.Uint64(data[20:28])

	return hdr, data[HeaderSize:], nil
}

func appendHeader(buf []byte, keysizeBits uint16, nonce [NonceSize]byte, ctLen uint64) []byte {
	buf = append(buf, []byte(Magic)...)
	var versionBuf, keysizeBuf, ctLenBuf [8]byte
	binary.BigEndian.PutUint16(versionBuf[:2], Version)
	binary.BigEndian.PutUint16(keysizeBuf[:2], keysizeBits)
	binary.BigEndian.PutUint64(ctLenBuf[:8], ctLen)

	buf = append(buf, versionBuf[:2]...)
	buf = append(buf, keysizeBuf[:2]...)
	buf = append(buf, nonce[:]...)
	buf = append(buf, ctLenBuf[:8]...)
	return buf
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("exef: invalid key length %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("exef: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("exef: new gcm: %w", err)
	}
	return aead, nil
}
