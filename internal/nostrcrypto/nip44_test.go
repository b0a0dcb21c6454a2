package nostrcrypto

import "testing"

func TestNip44RoundTrip(t *testing.T) {
	aliceSecret, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	bobSecret, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}

	alicePub, err := PublicKey(aliceSecret)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	bobPub, err := PublicKey(bobSecret)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}

	aliceKey, err := ConversationKey(aliceSecret, bobPub)
	if err != nil {
		t.Fatalf("ConversationKey (alice): %v", err)
	}
	bobKey, err := ConversationKey(bobSecret, alicePub)
	if err != nil {
		t.Fatalf("ConversationKey (bob): %v", err)
	}

	plaintext := `{"method":"pay_invoice","params":{"invoice":"lnbc1..."}}`
	encrypted, err := Nip44Encrypt(plaintext, aliceKey)
	if err != nil {
		t.Fatalf("Nip44Encrypt: %v", err)
	}

	decrypted, err := Nip44Decrypt(encrypted, bobKey)
	if err != nil {
		t.Fatalf("Nip44Decrypt: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("round trip mismatch: got %q want %q", decrypted, plaintext)
	}
}

func TestNip44DecryptRejectsBadMAC(t *testing.T) {
	secret, _ := GeneratePrivateKey()
	pub, _ := PublicKey(secret)
	key, _ := ConversationKey(secret, pub)

	encrypted, err := Nip44Encrypt("hello", key)
	if err != nil {
		t.Fatalf("Nip44Encrypt: %v", err)
	}

	tampered := encrypted[:len(encrypted)-4] + "AAAA"
	if _, err := Nip44Decrypt(tampered, key); err == nil {
		t.Fatal("expected MAC verification to fail on tampered payload")
	}
}

func TestCalcPaddedLen(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{1, 32},
		{32, 32},
		{33, 64},
		{250, 256},
		{257, 320},
	}
	for _, c := range cases {
		if got := calcPaddedLen(c.in); got != c.want {
			t.Errorf("calcPaddedLen(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
