// Package nostrcrypto implements the secp256k1 key handling and NIP-04 /
// NIP-44 encryption this bridge needs to speak NWC over Nostr relays.
package nostrcrypto

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
)

// GeneratePrivateKey returns a new random 32-byte secp256k1 secret.
func GeneratePrivateKey() ([]byte, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return privKey.Serialize(), nil
}

// PublicKey derives the x-only (BIP-340) public key from a secret.
func PublicKey(secret []byte) ([]byte, error) {
	privKey, pub := btcec.PrivKeyFromBytes(secret)
	if privKey == nil || pub == nil {
		return nil, errors.New("nostrcrypto: invalid secret key")
	}
	return pub.SerializeCompressed()[1:], nil
}

// ConversationKey derives the NIP-44 v2 conversation key via ECDH + HKDF
// extract, salted with "nip44-v2".
func ConversationKey(secret, peerPubKey []byte) ([]byte, error) {
	privKey, _ := btcec.PrivKeyFromBytes(secret)
	if privKey == nil {
		return nil, errors.New("nostrcrypto: invalid secret key")
	}
	pub, err := parseXOnlyPubKey(peerPubKey)
	if err != nil {
		return nil, err
	}

	sharedX, _ := pub.ToECDSA().Curve.ScalarMult(pub.X(), pub.Y(), privKey.Serialize())
	sharedXBytes := make([]byte, 32)
	raw := sharedX.Bytes()
	copy(sharedXBytes[32-len(raw):], raw)

	return hkdfExtract(sharedXBytes, []byte(nip44Salt)), nil
}

// Nip04SharedSecret computes the shared secret NIP-04 uses directly as an
// AES-256 key (the raw ECDH X coordinate, no HKDF).
func Nip04SharedSecret(secret, peerPubKey []byte) ([]byte, error) {
	privKey, _ := btcec.PrivKeyFromBytes(secret)
	if privKey == nil {
		return nil, errors.New("nostrcrypto: invalid secret key")
	}
	pub, err := parseXOnlyPubKey(peerPubKey)
	if err != nil {
		return nil, err
	}

	sharedX := btcec.GenerateSharedSecret(privKey, pub)
	if len(sharedX) < 32 {
		padded := make([]byte, 32)
		copy(padded[32-len(sharedX):], sharedX)
		return padded, nil
	}
	return sharedX, nil
}

// parseXOnlyPubKey parses a 32-byte x-only pubkey, trying both possible
// y-coordinate parities (a BIP-340 x-only key does not encode parity).
func parseXOnlyPubKey(xOnly []byte) (*btcec.PublicKey, error) {
	if len(xOnly) != 32 {
		return nil, errors.New("nostrcrypto: public key must be 32 bytes")
	}
	withPrefix := append([]byte{0x02}, xOnly...)
	pub, err := btcec.ParsePubKey(withPrefix)
	if err == nil {
		return pub, nil
	}
	withPrefix[0] = 0x03
	pub, err = btcec.ParsePubKey(withPrefix)
	if err != nil {
		return nil, errors.New("nostrcrypto: invalid public key")
	}
	return pub, nil
}

// sha256Sum is a small convenience wrapper around sha256.Sum256.
func sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}
