package crypto

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testOrder() OrderPayload {
	return OrderPayload{
		Salt:          "12345",
		Maker:         "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
		Signer:        "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "4800000",
		TakerAmount:   "10000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          SideBuy,
		SignatureType: 0,
	}
}

func TestSignOrderRecoversSigner(t *testing.T) {
	s, err := NewSigner("0x"+testKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	for _, negRisk := range []bool{false, true} {
		sig, err := s.SignOrder(testOrder(), negRisk)
		if err != nil {
			t.Fatalf("SignOrder(negRisk=%v): %v", negRisk, err)
		}
		if len(sig) != 2+130 {
			t.Fatalf("signature length = %d", len(sig))
		}
		digest, _ := s.OrderDigest(testOrder(), negRisk)
		addr, err := RecoverAddress(digest, sig)
		if err != nil {
			t.Fatalf("RecoverAddress: %v", err)
		}
		if addr != s.Address() {
			t.Errorf("recovered %s, want %s", addr.Hex(), s.Address().Hex())
		}
	}
}

func TestOrderDigestDependsOnExchange(t *testing.T) {
	s, _ := NewSigner(testKey, 137)
	a, _ := s.OrderDigest(testOrder(), false)
	b, _ := s.OrderDigest(testOrder(), true)
	if bytes.Equal(a, b) {
		t.Fatal("neg-risk and standard exchange digests are equal")
	}

	other, _ := NewSigner(testKey, 80002)
	c, _ := other.OrderDigest(testOrder(), false)
	if bytes.Equal(a, c) {
		t.Fatal("digest does not depend on chain id")
	}
}

func TestOrderDigestRejectsBadFields(t *testing.T) {
	s, _ := NewSigner(testKey, 137)

	tests := []struct {
		name string
		mut  func(*OrderPayload)
	}{
		{"salt", func(o *OrderPayload) { o.Salt = "abc" }},
		{"token", func(o *OrderPayload) { o.TokenID = "" }},
		{"negative amount", func(o *OrderPayload) { o.MakerAmount = "-1" }},
		{"side", func(o *OrderPayload) { o.Side = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := testOrder()
			tt.mut(&o)
			if _, err := s.OrderDigest(o, false); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSignAuthMessage(t *testing.T) {
	s, _ := NewSigner(testKey, 137)
	sig, err := s.SignAuthMessage(1700000000, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	addr, err := RecoverAddress(s.AuthDigest(1700000000, 0), sig)
	if err != nil {
		t.Fatalf("RecoverAddress: %v", err)
	}
	if addr != s.Address() {
		t.Errorf("recovered %s, want %s", addr.Hex(), s.Address().Hex())
	}
	if bytes.Equal(s.AuthDigest(1700000000, 0), s.AuthDigest(1700000001, 0)) {
		t.Error("auth digest ignores timestamp")
	}
}

func TestNewSignerInvalidKey(t *testing.T) {
	if _, err := NewSigner("zz", 137); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestL2HeadersAt(t *testing.T) {
	secret := base64.URLEncoding.EncodeToString([]byte("super-secret"))
	h := &HMACAuth{Key: "key-1", Secret: secret, Passphrase: "pass"}

	got := h.L2HeadersAt("0xabc", "POST", "/order", `{"a":1}`, 1700000000)

	mac := hmac.New(sha256.New, []byte("super-secret"))
	mac.Write([]byte(`1700000000POST/order{"a":1}`))
	want := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	if got["POLY_SIGNATURE"] != want {
		t.Errorf("signature = %s, want %s", got["POLY_SIGNATURE"], want)
	}
	if got["POLY_TIMESTAMP"] != "1700000000" || got["POLY_API_KEY"] != "key-1" ||
		got["POLY_PASSPHRASE"] != "pass" || got["POLY_ADDRESS"] != "0xabc" {
		t.Errorf("unexpected headers: %v", got)
	}
}

func TestHMACAuthStringRedacts(t *testing.T) {
	h := &HMACAuth{Key: "abcdefgh", Secret: "s3cr3tvalue"}
	s := h.String()
	if bytes.Contains([]byte(s), []byte("s3cr3tvalue")) || bytes.Contains([]byte(s), []byte("abcdefgh")) {
		t.Errorf("String leaks credentials: %s", s)
	}
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := encryptKey("0x"+testKey, "hunter2", 1000)
	if err != nil {
		t.Fatalf("encryptKey: %v", err)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKey {
		t.Errorf("DecryptKey = %s, want %s", got, testKey)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Error("expected error for wrong password")
	}
}

func TestEncryptKeyValidation(t *testing.T) {
	if _, err := EncryptKey(testKey, ""); err == nil {
		t.Error("expected error for empty password")
	}
	if _, err := EncryptKey("abcd", "pw"); err == nil {
		t.Error("expected error for short key")
	}
}

func TestLoadKey(t *testing.T) {
	dir := t.TempDir()
	blob, err := encryptKey(testKey, "pw", 1000)
	if err != nil {
		t.Fatalf("encryptKey: %v", err)
	}
	path := filepath.Join(dir, "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		src     KeySource
		want    string
		wantErr bool
	}{
		{"raw", KeySource{RawPrivateKey: "0x" + testKey}, testKey, false},
		{"raw wins", KeySource{RawPrivateKey: testKey, EncryptedKeyPath: "/missing"}, testKey, false},
		{"file", KeySource{EncryptedKeyPath: path, KeyPassword: "pw"}, testKey, false},
		{"file wrong password", KeySource{EncryptedKeyPath: path, KeyPassword: "nope"}, "", true},
		{"bad raw", KeySource{RawPrivateKey: "0xnothex"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadKey(tt.src)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("key = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := LoadKey(KeySource{}); !errors.Is(err, ErrNoKey) {
		t.Errorf("empty source err = %v, want ErrNoKey", err)
	}
}
