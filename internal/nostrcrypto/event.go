package nostrcrypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrwire"
)

// EventID computes the NIP-01 event id: sha256 of the canonical
// [0, pubkey, created_at, kind, tags, content] serialization.
func EventID(evt *nostrwire.Event) string {
	tags := evt.Tags
	if tags == nil {
		tags = [][]string{}
	}
	serialized := fmt.Sprintf(`[0,"%s",%d,%d,%s,"%s"]`,
		evt.PubKey,
		evt.CreatedAt,
		evt.Kind,
		mustJSON(tags),
		escapeJSONString(evt.Content),
	)
	sum := sha256.Sum256([]byte(serialized))
	return hex.EncodeToString(sum[:])
}

// SignEvent signs an event id (hex) with a secret key, returning a hex
// Schnorr signature (BIP-340).
func SignEvent(secret []byte, eventID string) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("nostrcrypto: empty secret key")
	}
	privKey, _ := btcec.PrivKeyFromBytes(secret)
	if privKey == nil {
		return "", errors.New("nostrcrypto: invalid secret key")
	}
	idBytes, err := hex.DecodeString(eventID)
	if err != nil {
		return "", fmt.Errorf("nostrcrypto: invalid event id hex: %w", err)
	}
	sig, err := schnorr.Sign(privKey, idBytes)
	if err != nil {
		return "", fmt.Errorf("nostrcrypto: sign event: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// SignAndStamp computes the id and signature for evt and fills them in.
func SignAndStamp(evt *nostrwire.Event, secret []byte) error {
	evt.ID = EventID(evt)
	sig, err := SignEvent(secret, evt.ID)
	if err != nil {
		return err
	}
	evt.Sig = sig
	return nil
}

// VerifyEventSignature checks the Schnorr signature and recomputes the id to
// guard against id/content mismatch, i.e. full NIP-01 validation.
func VerifyEventSignature(evt *nostrwire.Event) bool {
	if len(evt.Sig) != 128 || len(evt.PubKey) != 64 || len(evt.ID) != 64 {
		return false
	}
	if EventID(evt) != evt.ID {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}
	return sig.Verify(idBytes, pubKey)
}

func mustJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// escapeJSONString returns s JSON-escaped without the surrounding quotes,
// matching the NIP-01 canonical serialization rule for the content field.
func escapeJSONString(s string) string {
	b, err := json.Marshal(s)
	if err != nil || len(b) < 2 {
		return s
	}
	return string(b[1 : len(b)-1])
}
