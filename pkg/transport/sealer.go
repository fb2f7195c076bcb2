// Package transport carries encoded pod messages between the controller and
// a pod: a websocket link to a pod simulator or bridge, optionally sealed
// with AES-CCM under the session key.
package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	aesccm "github.com/pschlump/AesCCM"
	log "github.com/sirupsen/logrus"
)

const (
	// KeySize is the session key size.
	KeySize = 16
	// NoncePrefixSize is the fixed part of the CCM nonce agreed at pairing.
	NoncePrefixSize = 8
	// TagSize is the CCM authentication tag appended to every sealed frame.
	TagSize = 8

	// frame bytes authenticated but sent in the clear: address and
	// sequence/length word
	clearHeaderSize = 6

	counterMask = 1<<39 - 1
)

// Direction selects the nonce space of a frame.
type Direction bool

const (
	ToPod   Direction = true
	FromPod Direction = false
)

// Sealer encrypts and authenticates frames. The CCM nonce is the prefix
// followed by a 39 bit message counter; the top bit of the counter bytes
// is clear for frames sent to the pod.
type Sealer struct {
	prefix []byte
	ccm    cipher.AEAD
}

// NewSealer returns a sealer for the session key ck and nonce prefix.
func NewSealer(ck, noncePrefix []byte) (*Sealer, error) {
	if len(ck) != KeySize {
		return nil, fmt.Errorf("session key has %d bytes, want %d", len(ck), KeySize)
	}
	if len(noncePrefix) != NoncePrefixSize {
		return nil, fmt.Errorf("nonce prefix has %d bytes, want %d", len(noncePrefix), NoncePrefixSize)
	}
	block, err := aes.NewCipher(ck)
	if err != nil {
		return nil, fmt.Errorf("could not create aes: %w", err)
	}
	ccm, err := aesccm.NewCCM(block, TagSize, NoncePrefixSize+5)
	if err != nil {
		return nil, fmt.Errorf("could not create aes-ccm: %w", err)
	}
	return &Sealer{prefix: append([]byte(nil), noncePrefix...), ccm: ccm}, nil
}

func (s *Sealer) nonce(counter uint64, dir Direction) []byte {
	counter &= counterMask
	b := []byte{
		byte(counter >> 32),
		byte(counter >> 24),
		byte(counter >> 16),
		byte(counter >> 8),
		byte(counter),
	}
	if dir == ToPod {
		b[0] &= 0x7f
	} else {
		b[0] |= 0x80
	}
	return append(append([]byte(nil), s.prefix...), b...)
}

// Seal encrypts everything after the clear header of frame.
func (s *Sealer) Seal(counter uint64, frame []byte, dir Direction) ([]byte, error) {
	if len(frame) < clearHeaderSize {
		return nil, fmt.Errorf("frame too short to seal: %x", frame)
	}
	nonce := s.nonce(counter, dir)
	log.Tracef("seal: using nonce: %x", nonce)
	header := frame[:clearHeaderSize]
	sealed := s.ccm.Seal(nil, nonce, frame[clearHeaderSize:], header)
	return append(append([]byte(nil), header...), sealed...), nil
}

// Open authenticates and decrypts a sealed frame.
func (s *Sealer) Open(counter uint64, sealed []byte, dir Direction) ([]byte, error) {
	if len(sealed) < clearHeaderSize+TagSize {
		return nil, fmt.Errorf("sealed frame too short: %x", sealed)
	}
	nonce := s.nonce(counter, dir)
	log.Tracef("open: using nonce: %x", nonce)
	header := sealed[:clearHeaderSize]
	plain, err := s.ccm.Open(nil, nonce, sealed[clearHeaderSize:], header)
	if err != nil {
		return nil, fmt.Errorf("could not decrypt: %w", err)
	}
	return append(append([]byte(nil), header...), plain...), nil
}
