// Package crypto implements the authenticated encryption envelope and
// the symmetric key provider of the memory governance engine.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// Scheme is the versioned envelope scheme name.
	Scheme = "bartholomew.enc.v1"
	// Algorithm is the only cipher the codec currently speaks.
	Algorithm = "AES-GCM"
)

// Sentinel errors for envelope operations.
var (
	// ErrAuthFailure indicates ciphertext, AAD or key mismatch on decrypt.
	ErrAuthFailure = errors.New("crypto: authentication failure")
	// ErrUnsupportedScheme indicates the envelope scheme is not recognized.
	ErrUnsupportedScheme = errors.New("crypto: unsupported envelope scheme")
	// ErrInvalidEnvelope indicates malformed envelope JSON.
	ErrInvalidEnvelope = errors.New("crypto: invalid envelope")
)

// Envelope is the self-describing on-disk wire format for an encrypted
// value. Binary fields are base64url-encoded strings so the whole value
// marshals as plain JSON.
type Envelope struct {
	Scheme string `json:"scheme"`
	Alg    string `json:"alg"`
	KID    string `json:"kid"`
	Nonce  string `json:"nonce"`
	AAD    string `json:"aad"`
	CT     string `json:"ct"`
}

// Key is a resolved symmetric key: 32 raw bytes plus the stable id recorded
// in envelopes so that decryption failures across key rotation or process
// restarts are unambiguous.
type Key struct {
	KID   string
	Bytes [32]byte
}

// Encrypt seals plaintext under key with aad bound into the ciphertext via
// AES-256-GCM. The nonce is fresh random bytes on every call.
func Encrypt(key Key, plaintext, aad []byte) (*Envelope, error) {
	block, err := aes.NewCipher(key.Bytes[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ct := gcm.Seal(nil, nonce, plaintext, aad)

	return &Envelope{
		Scheme: Scheme,
		Alg:    Algorithm,
		KID:    key.KID,
		Nonce:  base64.URLEncoding.EncodeToString(nonce),
		AAD:    base64.URLEncoding.EncodeToString(aad),
		CT:     base64.URLEncoding.EncodeToString(ct),
	}, nil
}

// Decrypt opens env with key, verifying the AAD embedded in the envelope
// matches the ciphertext's authentication tag. Any tamper of aad, nonce,
// ct or a key/kid mismatch surfaces as ErrAuthFailure.
func Decrypt(key Key, env *Envelope) ([]byte, error) {
	if env.Scheme != Scheme {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, env.Scheme)
	}
	if env.KID != key.KID {
		return nil, fmt.Errorf("%w: key id mismatch", ErrAuthFailure)
	}

	nonce, err := base64.URLEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: bad nonce encoding", ErrInvalidEnvelope)
	}
	aad, err := base64.URLEncoding.DecodeString(env.AAD)
	if err != nil {
		return nil, fmt.Errorf("%w: bad aad encoding", ErrInvalidEnvelope)
	}
	ct, err := base64.URLEncoding.DecodeString(env.CT)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", ErrInvalidEnvelope)
	}

	block, err := aes.NewCipher(key.Bytes[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	return plaintext, nil
}

// Marshal serializes an envelope to its JSON wire form.
func Marshal(env *Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshaling envelope: %w", err)
	}
	return b, nil
}

// Unmarshal parses an envelope from its JSON wire form.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Scheme != Scheme {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, env.Scheme)
	}
	return &env, nil
}

// CanonicalAAD builds the canonical AAD byte string for a value per spec
// §6.2: kind + "\0" + key + "\0" + ts, with an optional "\0summary" suffix
// binding the encryption to the summary slot of the same record.
func CanonicalAAD(kind, key, ts string, summary bool) []byte {
	s := kind + "\x00" + key + "\x00" + ts
	if summary {
		s += "\x00summary"
	}
	return []byte(s)
}
