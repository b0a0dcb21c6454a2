package nostrwire

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// PairingURI holds the fields of a decoded nostr+walletconnect:// URI.
// WalletPubKey and ClientSecret are
// 32-byte values; Relays preserves the order the URI listed them in, with
// index 0 as primary.
type PairingURI struct {
	WalletPubKey []byte
	Relays       []string
	ClientSecret []byte
	Lud16        string
}

// ParsePairingURI parses a "nostr+walletconnect://<wallet-pubkey-hex>?relay=...&secret=...&lud16=..." URI.
func ParsePairingURI(raw string) (*PairingURI, error) {
	const scheme = "nostr+walletconnect://"
	if !strings.HasPrefix(raw, scheme) {
		return nil, errors.New("nostrwire: URI must start with nostr+walletconnect://")
	}

	u, err := url.Parse("https://" + strings.TrimPrefix(raw, scheme))
	if err != nil {
		return nil, fmt.Errorf("nostrwire: invalid URI: %w", err)
	}

	walletPubKey, err := decodeHexKey(u.Host, "wallet pubkey")
	if err != nil {
		return nil, err
	}

	relays := u.Query()["relay"]
	if len(relays) == 0 {
		return nil, errors.New("nostrwire: URI must include at least one relay parameter")
	}
	for _, r := range relays {
		if !strings.HasPrefix(r, "wss://") && !strings.HasPrefix(r, "ws://") {
			return nil, fmt.Errorf("nostrwire: invalid relay URL %q: must start with ws:// or wss://", r)
		}
	}

	secretHex := u.Query().Get("secret")
	if secretHex == "" {
		return nil, errors.New("nostrwire: URI must include a secret parameter")
	}
	secret, err := decodeHexKey(secretHex, "secret")
	if err != nil {
		return nil, err
	}

	return &PairingURI{
		WalletPubKey: walletPubKey,
		Relays:       relays,
		ClientSecret: secret,
		Lud16:        u.Query().Get("lud16"),
	}, nil
}

// BuildPairingURI renders a PairingURI back into its wire form. This is the
// wallet side operation: the bridge mints a fresh client secret on
// connection creation and hands the resulting URI to the operator.
func BuildPairingURI(p *PairingURI) (string, error) {
	if len(p.WalletPubKey) != 32 {
		return "", errors.New("nostrwire: wallet pubkey must be 32 bytes")
	}
	if len(p.ClientSecret) != 32 {
		return "", errors.New("nostrwire: client secret must be 32 bytes")
	}
	if len(p.Relays) == 0 {
		return "", errors.New("nostrwire: at least one relay is required")
	}

	q := url.Values{}
	for _, r := range p.Relays {
		q.Add("relay", r)
	}
	q.Set("secret", hex.EncodeToString(p.ClientSecret))
	if p.Lud16 != "" {
		q.Set("lud16", p.Lud16)
	}

	return fmt.Sprintf("nostr+walletconnect://%s?%s", hex.EncodeToString(p.WalletPubKey), q.Encode()), nil
}

func decodeHexKey(s, label string) ([]byte, error) {
	if len(s) != 64 {
		return nil, fmt.Errorf("nostrwire: invalid %s: must be 64 hex characters", label)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("nostrwire: invalid %s: not valid hex", label)
	}
	return b, nil
}
