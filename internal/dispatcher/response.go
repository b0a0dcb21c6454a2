package dispatcher

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrcrypto"
	"github.com/nip47bridge/cln-nwc-bridge/internal/nostrwire"
)

// Scheme identifies which NIP-04/NIP-44 encryption a request arrived
// with; the response is always encrypted back with the same scheme
// (NIP-47 requires symmetry).
type Scheme int

const (
	SchemeNip04 Scheme = iota
	SchemeNip44
)

const responseKind = 23195

// decryptRequest tries NIP-44 first, then falls back to NIP-04, matching
// the dual-scheme support NIP-47 wallets must offer during the NIP-44
// migration window.
func decryptRequest(content string, walletSecret, clientPubKey []byte) (plaintext string, scheme Scheme, err error) {
	convKey, ckErr := nostrcrypto.ConversationKey(walletSecret, clientPubKey)
	if ckErr == nil {
		if pt, derr := nostrcrypto.Nip44Decrypt(content, convKey); derr == nil {
			return pt, SchemeNip44, nil
		}
	}

	shared, ssErr := nostrcrypto.Nip04SharedSecret(walletSecret, clientPubKey)
	if ssErr != nil {
		return "", 0, fmt.Errorf("dispatcher: deriving nip04 shared secret: %w", ssErr)
	}
	pt, derr := nostrcrypto.Nip04Decrypt(content, shared)
	if derr != nil {
		return "", 0, fmt.Errorf("dispatcher: request did not decrypt under nip44 or nip04: %w", derr)
	}
	return pt, SchemeNip04, nil
}

func encryptResponse(plaintext string, scheme Scheme, walletSecret, clientPubKey []byte) (string, error) {
	switch scheme {
	case SchemeNip44:
		convKey, err := nostrcrypto.ConversationKey(walletSecret, clientPubKey)
		if err != nil {
			return "", err
		}
		return nostrcrypto.Nip44Encrypt(plaintext, convKey)
	default:
		shared, err := nostrcrypto.Nip04SharedSecret(walletSecret, clientPubKey)
		if err != nil {
			return "", err
		}
		return nostrcrypto.Nip04Encrypt(plaintext, shared)
	}
}

// buildResponseEvent constructs and signs the kind-23195 response event
// for a given request event, following nwc.go's NWCResponse shape,
// inverted: the wallet produces this instead of consuming it.
func buildResponseEvent(reqEvent *nostrwire.Event, resp Response, scheme Scheme, walletSecret []byte) (*nostrwire.Event, error) {
	return buildTaggedResponseEvent(reqEvent, resp, scheme, walletSecret, "")
}

// buildTaggedResponseEvent additionally stamps a "d" tag carrying a
// sub-request id, for multi_pay_* methods that emit one response event
// per sub-request.
func buildTaggedResponseEvent(reqEvent *nostrwire.Event, resp Response, scheme Scheme, walletSecret []byte, dTag string) (*nostrwire.Event, error) {
	clientPubKeyBytes, err := decodeHex32(reqEvent.PubKey)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: request pubkey: %w", err)
	}
	walletPub, err := nostrcrypto.PublicKey(walletSecret)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: marshaling response: %w", err)
	}

	encrypted, err := encryptResponse(string(body), scheme, walletSecret, clientPubKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: encrypting response: %w", err)
	}

	tags := [][]string{
		{"p", reqEvent.PubKey},
		{"e", reqEvent.ID},
	}
	if scheme == SchemeNip44 {
		tags = append(tags, []string{"encryption", "nip44_v2"})
	}
	if dTag != "" {
		tags = append(tags, []string{"d", dTag})
	}

	evt := &nostrwire.Event{
		PubKey:  hex.EncodeToString(walletPub),
		Kind:    responseKind,
		Tags:    tags,
		Content: encrypted,
	}
	if err := nostrcrypto.SignAndStamp(evt, walletSecret); err != nil {
		return nil, fmt.Errorf("dispatcher: signing response: %w", err)
	}
	return evt, nil
}

func decodeHex32(s string) ([]byte, error) {
	if len(s) != 64 {
		return nil, fmt.Errorf("dispatcher: expected 64 hex chars, got %d", len(s))
	}
	return hex.DecodeString(s)
}

func errorResponse(nerr *NWCError) Response {
	return Response{Error: nerr}
}

func resultResponse(resultType string, result interface{}) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	return Response{ResultType: resultType, Result: raw}, nil
}
