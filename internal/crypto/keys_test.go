package crypto

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func TestStaticKeyProviderResolvesConfiguredKeys(t *testing.T) {
	std := make([]byte, 32)
	strong := make([]byte, 32)
	for i := range std {
		std[i] = byte(i)
		strong[i] = byte(255 - i)
	}

	p, err := NewStaticKeyProvider(logr.Discard(), std, strong, "std-kid", "strong-kid")
	require.NoError(t, err)

	k, err := p.Resolve(Standard)
	require.NoError(t, err)
	require.Equal(t, "std-kid", k.KID)
	require.Equal(t, std, k.Bytes[:])

	k, err = p.Resolve(Strong)
	require.NoError(t, err)
	require.Equal(t, "strong-kid", k.KID)
}

func TestStaticKeyProviderSynthesizesMissingKeys(t *testing.T) {
	p, err := NewStaticKeyProvider(logr.Discard(), nil, nil, "", "")
	require.NoError(t, err)

	std, err := p.Resolve(Standard)
	require.NoError(t, err)
	require.NotEmpty(t, std.KID)

	strong, err := p.Resolve(Strong)
	require.NoError(t, err)
	require.NotEqual(t, std.Bytes, strong.Bytes)
}

func TestStaticKeyProviderUnknownStrength(t *testing.T) {
	p, err := NewStaticKeyProvider(logr.Discard(), nil, nil, "", "")
	require.NoError(t, err)

	_, err = p.Resolve(Strength("exotic"))
	require.Error(t, err)
}
