// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestKeyPairRoundTrip(t *testing.T) {
	for _, algorithm := range []Algorithm{Ed25519, Secp256k1} {
		t.Run(algorithm.String(), func(t *testing.T) {
			require := require.New(t)

			key, err := GenerateKeyPair(algorithm, nil)
			require.NoError(err)

			path := filepath.Join(t.TempDir(), "secret_key.pem")
			require.NoError(key.WritePEMFile(path))

			loaded, err := ReadPEMFile(path)
			require.NoError(err)
			require.True(key.Equal(loaded))
			require.Equal(key.PublicKeyHex(), loaded.PublicKeyHex())
		})
	}
}

func TestPublicKeyHexTag(t *testing.T) {
	require := require.New(t)

	edKey, err := GenerateKeyPair(Ed25519, nil)
	require.NoError(err)
	require.True(strings.HasPrefix(edKey.PublicKeyHex(), "01"))
	require.Len(edKey.PublicKeyBytes(), 32)

	secKey, err := GenerateKeyPair(Secp256k1, nil)
	require.NoError(err)
	require.True(strings.HasPrefix(secKey.PublicKeyHex(), "02"))
	require.Len(secKey.PublicKeyBytes(), 33)
}

func TestSignVerify(t *testing.T) {
	digest := blake2b.Sum256([]byte("a deploy hash"))

	for _, algorithm := range []Algorithm{Ed25519, Secp256k1} {
		t.Run(algorithm.String(), func(t *testing.T) {
			require := require.New(t)

			key, err := GenerateKeyPair(algorithm, nil)
			require.NoError(err)

			sig, err := key.Sign(digest[:])
			require.NoError(err)
			require.Equal(byte(algorithm), sig[0])
			require.True(key.Verify(digest[:], sig))

			other, err := GenerateKeyPair(algorithm, nil)
			require.NoError(err)
			require.False(other.Verify(digest[:], sig))
		})
	}
}

func TestDeterministicRand(t *testing.T) {
	require := require.New(t)

	keyA, err := GenerateKeyPair(Ed25519, NewDeterministicRand([]byte("seed")))
	require.NoError(err)
	keyB, err := GenerateKeyPair(Ed25519, NewDeterministicRand([]byte("seed")))
	require.NoError(err)
	require.True(keyA.Equal(keyB))

	keyC, err := GenerateKeyPair(Ed25519, NewDeterministicRand([]byte("other seed")))
	require.NoError(err)
	require.False(keyA.Equal(keyC))
}

func TestAccountHash(t *testing.T) {
	require := require.New(t)

	key, err := GenerateKeyPair(Ed25519, nil)
	require.NoError(err)
	require.Len(key.AccountHash(), 32)
	require.True(strings.HasPrefix(key.AccountHashHex(), "account-hash-"))
}
