package service

import (
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Valid words only; TON phrases use the BIP-39 english wordlist.
const testMnemonic = "abandon ability able about above absent absorb abstract absurd abuse access accident " +
	"account accuse achieve acid acoustic acquire across act action actor actress actual"

func TestNewSignerDeterministic(t *testing.T) {
	a, err := NewSigner(testMnemonic)
	require.NoError(t, err)
	b, err := NewSigner(testMnemonic)
	require.NoError(t, err)
	require.Equal(t, a.PublicKey(), b.PublicKey(), "same phrase must derive the same wallet key")
}

func TestNewSignerNormalizesWhitespaceAndCase(t *testing.T) {
	a, err := NewSigner(testMnemonic)
	require.NoError(t, err)
	b, err := NewSigner("  " + strings.ToUpper(strings.ReplaceAll(testMnemonic, " ", "   ")) + "\n")
	require.NoError(t, err)
	require.Equal(t, a.PublicKey(), b.PublicKey())
}

func TestNewSignerDistinctPhrases(t *testing.T) {
	a, err := NewSigner(testMnemonic)
	require.NoError(t, err)

	other := strings.Split(testMnemonic, " ")
	other[23] = "zoo"
	b, err := NewSigner(strings.Join(other, " "))
	require.NoError(t, err)
	require.NotEqual(t, a.PublicKey(), b.PublicKey())
}

func TestNewSignerRejectsBadMaterial(t *testing.T) {
	cases := []struct {
		name     string
		mnemonic string
	}{
		{"empty", ""},
		{"too short", "abandon ability able"},
		{"unknown word", strings.Replace(testMnemonic, "actual", "notaword", 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSigner(tc.mnemonic)
			require.Error(t, err)
			require.Equal(t, CodeInvalidSigningMaterial, CodeOf(err, ""))
		})
	}
}

func TestSignVerifies(t *testing.T) {
	s, err := NewSigner(testMnemonic)
	require.NoError(t, err)

	msg := []byte("cell hash stand-in")
	sig := s.Sign(msg)
	require.Len(t, sig, ed25519.SignatureSize)
	require.True(t, ed25519.Verify(s.PublicKey(), msg, sig))
}
