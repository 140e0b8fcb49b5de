package service

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"strings"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
)

const (
	mnemonicWords = 24
	tonSeedSalt   = "TON default seed"
	tonSeedRounds = 100000
)

var bip39Words = func() map[string]struct{} {
	words := bip39.GetWordList()
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Signer holds the custodial hot wallet's signing key, derived from its seed
// phrase. The phrase itself is not retained.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner derives the hot wallet's ed25519 keypair from a 24-word TON
// mnemonic: HMAC-SHA512 over the phrase, then PBKDF2-SHA512 with the TON
// seed salt. Deterministic, so the same phrase always yields the same wallet.
func NewSigner(mnemonic string) (*Signer, error) {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(mnemonic)))
	if len(words) != mnemonicWords {
		return nil, E(CodeInvalidSigningMaterial, "signing material must be a 24-word phrase")
	}
	for _, w := range words {
		if _, ok := bip39Words[w]; !ok {
			return nil, E(CodeInvalidSigningMaterial, "signing material contains an unknown word")
		}
	}

	phrase := strings.Join(words, " ")
	mac := hmac.New(sha512.New, []byte(phrase))
	entropy := mac.Sum(nil)
	seed := pbkdf2.Key(entropy, []byte(tonSeedSalt), tonSeedRounds, ed25519.SeedSize, sha512.New)

	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}, nil
}

// Sign produces a detached ed25519 signature over data (a cell hash).
func (s *Signer) Sign(data []byte) []byte {
	return ed25519.Sign(s.priv, data)
}

func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}
