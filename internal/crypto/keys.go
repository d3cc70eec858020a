package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/go-logr/logr"
)

// Strength names the two key tiers the engine resolves keys for.
type Strength string

const (
	// Standard is the default encryption tier.
	Standard Strength = "standard"
	// Strong is the heightened encryption tier (e.g. for safety.audit-adjacent
	// content the indexing policy treats specially).
	Strong Strength = "strong"
)

// KeyProvider resolves symmetric keys by strength tag. Implementations are
// process-local; spec.md treats the provider as an injected collaborator,
// not a networked KMS.
type KeyProvider interface {
	Resolve(strength Strength) (Key, error)
}

// StaticKeyProvider resolves two fixed keys, loaded once at construction
// (e.g. from environment variables) or synthesized on first use.
type StaticKeyProvider struct {
	keys map[Strength]Key
	log  logr.Logger
}

// NewStaticKeyProvider builds a provider from the given raw 32-byte keys.
// A nil or short entry for a strength is synthesized: a random key is
// generated and a single warning is logged, so that decryption failures
// across a restart (where the synthetic key is naturally lost) are
// unambiguous rather than silently returning garbage plaintext.
func NewStaticKeyProvider(log logr.Logger, standard, strong []byte, standardKID, strongKID string) (*StaticKeyProvider, error) {
	p := &StaticKeyProvider{keys: make(map[Strength]Key, 2), log: log}

	stdKey, err := resolveOrSynthesize(log, Standard, standard, standardKID)
	if err != nil {
		return nil, err
	}
	p.keys[Standard] = stdKey

	strongKey, err := resolveOrSynthesize(log, Strong, strong, strongKID)
	if err != nil {
		return nil, err
	}
	p.keys[Strong] = strongKey

	return p, nil
}

func resolveOrSynthesize(log logr.Logger, strength Strength, raw []byte, kid string) (Key, error) {
	if len(raw) == 32 {
		var k Key
		copy(k.Bytes[:], raw)
		k.KID = kid
		return k, nil
	}

	var k Key
	if _, err := rand.Read(k.Bytes[:]); err != nil {
		return Key{}, fmt.Errorf("crypto: synthesizing %s key: %w", strength, err)
	}
	if kid == "" {
		kid = "synthetic-" + string(strength)
	}
	k.KID = kid
	log.Info("synthesized ephemeral key; no environment key configured for this strength",
		"strength", strength, "kid", kid)
	return k, nil
}

// Resolve returns the key for the given strength tag.
func (p *StaticKeyProvider) Resolve(strength Strength) (Key, error) {
	k, ok := p.keys[strength]
	if !ok {
		return Key{}, fmt.Errorf("crypto: no key configured for strength %q", strength)
	}
	return k, nil
}
