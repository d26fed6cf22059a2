// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/blake2b"

	"github.com/Boiethios/cnut/utils/perms"
)

// Algorithm identifies a supported signature scheme. The values double as
// the tag byte prefixed to serialized public keys and signatures.
type Algorithm byte

const (
	Ed25519   Algorithm = 0x01
	Secp256k1 Algorithm = 0x02
)

var (
	errUnknownAlgorithm = errors.New("unknown key algorithm")

	// secp256k1 curve identifier, see SEC 2 section A.2
	oidSecp256k1 = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

func (a Algorithm) String() string {
	switch a {
	case Ed25519:
		return "ed25519"
	case Secp256k1:
		return "secp256k1"
	default:
		return fmt.Sprintf("unknown(%d)", byte(a))
	}
}

// KeyPair is an asymmetric signing key bound to a node or account identity.
// It is generated once and never mutated.
type KeyPair struct {
	algorithm Algorithm

	ed  ed25519.PrivateKey
	sec *secp256k1.PrivateKey
}

// GenerateKeyPair creates a new keypair of the given scheme, drawing
// randomness from source. Pass nil to use crypto/rand.
func GenerateKeyPair(algorithm Algorithm, source io.Reader) (*KeyPair, error) {
	if source == nil {
		source = rand.Reader
	}
	switch algorithm {
	case Ed25519:
		_, key, err := ed25519.GenerateKey(source)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
		}
		return &KeyPair{algorithm: Ed25519, ed: key}, nil
	case Secp256k1:
		key, err := secp256k1.GeneratePrivateKeyFromRand(source)
		if err != nil {
			return nil, fmt.Errorf("failed to generate secp256k1 key: %w", err)
		}
		return &KeyPair{algorithm: Secp256k1, sec: key}, nil
	default:
		return nil, fmt.Errorf("%w: %d", errUnknownAlgorithm, byte(algorithm))
	}
}

func (k *KeyPair) Algorithm() Algorithm {
	return k.algorithm
}

// PublicKeyBytes returns the raw public key without the algorithm tag.
func (k *KeyPair) PublicKeyBytes() []byte {
	switch k.algorithm {
	case Ed25519:
		return k.ed.Public().(ed25519.PublicKey)
	case Secp256k1:
		return k.sec.PubKey().SerializeCompressed()
	default:
		return nil
	}
}

// PublicKeyHex returns the tagged hex representation used on the wire and
// in the accounts ledger, e.g. "01ab...".
func (k *KeyPair) PublicKeyHex() string {
	return fmt.Sprintf("%02x%s", byte(k.algorithm), hex.EncodeToString(k.PublicKeyBytes()))
}

// AccountHash derives the 32-byte account identity from the public key:
// blake2b-256 over the lowercase algorithm name, a zero byte, and the raw
// public key bytes.
func (k *KeyPair) AccountHash() []byte {
	preimage := append([]byte(k.algorithm.String()), 0x00)
	preimage = append(preimage, k.PublicKeyBytes()...)
	sum := blake2b.Sum256(preimage)
	return sum[:]
}

// AccountHashHex returns the account hash formatted with its standard prefix.
func (k *KeyPair) AccountHashHex() string {
	return "account-hash-" + hex.EncodeToString(k.AccountHash())
}

// Sign produces a tagged signature over msg. For ed25519 the message is
// signed directly; for secp256k1 the message is expected to already be a
// 32-byte digest.
func (k *KeyPair) Sign(msg []byte) ([]byte, error) {
	switch k.algorithm {
	case Ed25519:
		sig := ed25519.Sign(k.ed, msg)
		return append([]byte{byte(Ed25519)}, sig...), nil
	case Secp256k1:
		if len(msg) != blake2b.Size256 {
			return nil, fmt.Errorf("secp256k1 signs a %d-byte digest, got %d bytes", blake2b.Size256, len(msg))
		}
		sig := secpecdsa.Sign(k.sec, msg)
		return append([]byte{byte(Secp256k1)}, sig.Serialize()...), nil
	default:
		return nil, errUnknownAlgorithm
	}
}

// Verify checks a tagged signature produced by Sign.
func (k *KeyPair) Verify(msg, taggedSig []byte) bool {
	if len(taggedSig) < 2 || Algorithm(taggedSig[0]) != k.algorithm {
		return false
	}
	sig := taggedSig[1:]
	switch k.algorithm {
	case Ed25519:
		return ed25519.Verify(k.ed.Public().(ed25519.PublicKey), msg, sig)
	case Secp256k1:
		parsed, err := secpecdsa.ParseDERSignature(sig)
		if err != nil {
			return false
		}
		return parsed.Verify(msg, k.sec.PubKey())
	default:
		return false
	}
}

// Equal reports whether both keypairs hold the same secret material.
func (k *KeyPair) Equal(other *KeyPair) bool {
	if other == nil || k.algorithm != other.algorithm {
		return false
	}
	switch k.algorithm {
	case Ed25519:
		return k.ed.Equal(other.ed)
	case Secp256k1:
		return bytes.Equal(k.sec.Serialize(), other.sec.Serialize())
	default:
		return false
	}
}

// SEC 1 ASN.1 structure for EC private keys, see SEC 1 appendix C.4.
type ecPrivateKey struct {
	Version       int
	PrivateKey    []byte
	NamedCurveOID asn1.ObjectIdentifier `asn1:"optional,explicit,tag:0"`
}

// MarshalPEM serializes the secret key in the format the node expects:
// PKCS#8 for ed25519, SEC 1 for secp256k1.
func (k *KeyPair) MarshalPEM() ([]byte, error) {
	switch k.algorithm {
	case Ed25519:
		der, err := x509.MarshalPKCS8PrivateKey(k.ed)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ed25519 key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
	case Secp256k1:
		der, err := asn1.Marshal(ecPrivateKey{
			Version:       1,
			PrivateKey:    k.sec.Serialize(),
			NamedCurveOID: oidSecp256k1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal secp256k1 key: %w", err)
		}
		return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
	default:
		return nil, errUnknownAlgorithm
	}
}

// UnmarshalPEM parses a secret key previously written by MarshalPEM.
func UnmarshalPEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in key data")
	}
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ed25519 key: %w", err)
		}
		key, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unexpected PKCS#8 key type %T", parsed)
		}
		return &KeyPair{algorithm: Ed25519, ed: key}, nil
	case "EC PRIVATE KEY":
		var ec ecPrivateKey
		if _, err := asn1.Unmarshal(block.Bytes, &ec); err != nil {
			return nil, fmt.Errorf("failed to parse secp256k1 key: %w", err)
		}
		return &KeyPair{
			algorithm: Secp256k1,
			sec:       secp256k1.PrivKeyFromBytes(ec.PrivateKey),
		}, nil
	default:
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}
}

// WritePEMFile writes the secret key to path with owner-only permissions.
func (k *KeyPair) WritePEMFile(path string) error {
	data, err := k.MarshalPEM()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, perms.ReadWrite); err != nil {
		return fmt.Errorf("failed to write key file %s: %w", path, err)
	}
	return nil
}

// ReadPEMFile loads a secret key previously written with WritePEMFile.
func ReadPEMFile(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
	}
	return UnmarshalPEM(data)
}

// NewDeterministicRand returns a reader yielding a reproducible byte stream
// derived from seed. Intended only for reproducible test runs; production
// key generation uses crypto/rand.
func NewDeterministicRand(seed []byte) io.Reader {
	xof, err := blake2b.NewXOF(blake2b.OutputLengthUnknown, nil)
	if err != nil {
		panic(err) // only fails on invalid key length
	}
	if _, err := xof.Write(seed); err != nil {
		panic(err)
	}
	return xof
}
