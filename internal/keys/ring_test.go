package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func pemPublicKey(t *testing.T, pub interface{}) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey failed: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func TestHMACKey(t *testing.T) {
	if _, err := HMACKey("", "short"); err == nil {
		t.Error("Expected error for short secret")
	}
	key, err := HMACKey("hs", testSecret)
	if err != nil {
		t.Fatalf("HMACKey failed: %v", err)
	}
	if key.Alg != "HS256" {
		t.Errorf("Expected alg HS256, got '%s'", key.Alg)
	}
	if key.Source != SourceSecret {
		t.Errorf("Expected source secret, got '%s'", key.Source)
	}
}

func TestParsePublicKeyPEM(t *testing.T) {
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	ecKey, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	edPub, _, _ := ed25519.GenerateKey(rand.Reader)

	tests := []struct {
		name    string
		pub     interface{}
		wantAlg string
	}{
		{name: "rsa", pub: &rsaKey.PublicKey, wantAlg: "RS256"},
		{name: "ec p384", pub: &ecKey.PublicKey, wantAlg: "ES384"},
		{name: "ed25519", pub: edPub, wantAlg: "EdDSA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParsePublicKeyPEM("k", pemPublicKey(t, tt.pub))
			if err != nil {
				t.Fatalf("ParsePublicKeyPEM failed: %v", err)
			}
			if key.Alg != tt.wantAlg {
				t.Errorf("Expected alg %s, got %s", tt.wantAlg, key.Alg)
			}
		})
	}

	if _, err := ParsePublicKeyPEM("k", "not a pem"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
}

func TestParsePublicKeyPEM_Certificate(t *testing.T) {
	priv, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "auth"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("CreateCertificate failed: %v", err)
	}
	certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	key, err := ParsePublicKeyPEM("cert", certPEM)
	if err != nil {
		t.Fatalf("ParsePublicKeyPEM failed: %v", err)
	}
	if key.Alg != "ES256" {
		t.Errorf("Expected alg ES256, got %s", key.Alg)
	}
}

func TestRing_Key(t *testing.T) {
	k1, _ := HMACKey("key-1", testSecret)
	k2, _ := HMACKey("key-2", testSecret+"x")

	single, err := NewRing(k1)
	if err != nil {
		t.Fatalf("NewRing failed: %v", err)
	}
	got, err := single.Key("")
	if err != nil || got.Kid != "key-1" {
		t.Errorf("Expected sole key for empty kid, got %v (%v)", got, err)
	}

	ring, err := NewRing(k1, k2)
	if err != nil {
		t.Fatalf("NewRing failed: %v", err)
	}
	if _, err := ring.Key(""); err == nil {
		t.Error("Expected error for empty kid with several keys")
	}
	if _, err := ring.Key("missing"); err == nil {
		t.Error("Expected error for unknown kid")
	}
	if got, _ := ring.Key("key-2"); got != k2 {
		t.Error("Expected key-2")
	}

	if _, err := NewRing(k1, k1); err == nil {
		t.Error("Expected error for duplicate kid")
	}
}

func TestRing_Algorithms(t *testing.T) {
	hs, _ := HMACKey("hs", testSecret)
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	rs, _ := ParsePublicKeyPEM("rs", pemPublicKey(t, &rsaKey.PublicKey))
	hs2, _ := HMACKey("hs2", testSecret)

	ring, _ := NewRing(hs, rs, hs2)
	algs := ring.Algorithms()
	if strings.Join(algs, ",") != "HS256,RS256" {
		t.Errorf("Expected HS256,RS256, got %v", algs)
	}
	if ring.Len() != 3 {
		t.Errorf("Expected 3 keys, got %d", ring.Len())
	}
}

func TestRing_KeyfuncRejectsAlgMismatch(t *testing.T) {
	hs, _ := HMACKey("hs", testSecret)
	ring, _ := NewRing(hs)

	tok := jwt.New(jwt.SigningMethodHS512)
	tok.Header["kid"] = "hs"
	if _, err := ring.Keyfunc()(tok); err == nil {
		t.Error("Expected error when token alg differs from key alg")
	}

	tok = jwt.New(jwt.SigningMethodHS256)
	key, err := ring.Keyfunc()(tok)
	if err != nil {
		t.Fatalf("Keyfunc failed: %v", err)
	}
	if string(key.([]byte)) != testSecret {
		t.Error("Keyfunc returned the wrong key")
	}
}

func testJWKS(t *testing.T) []byte {
	t.Helper()
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	ecKey, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &rsaKey.PublicKey, KeyID: "rsa-1", Algorithm: "RS256", Use: "sig"},
		{Key: &ecKey.PublicKey, KeyID: "ec-1", Use: "sig"},
		{Key: &ecKey.PublicKey, KeyID: "enc-1", Use: "enc"},
		{Key: &ecKey.PublicKey, Use: "sig"},
	}}
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks failed: %v", err)
	}
	return data
}

func TestParseJWKS(t *testing.T) {
	keys, err := ParseJWKS(testJWKS(t))
	if err != nil {
		t.Fatalf("ParseJWKS failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Expected 2 usable keys, got %d", len(keys))
	}
	byKid := map[string]*VerificationKey{}
	for _, k := range keys {
		byKid[k.Kid] = k
	}
	if byKid["rsa-1"] == nil || byKid["rsa-1"].Alg != "RS256" {
		t.Errorf("Expected rsa-1 with RS256, got %+v", byKid["rsa-1"])
	}
	if byKid["ec-1"] == nil || byKid["ec-1"].Alg != "ES256" {
		t.Errorf("Expected ec-1 with derived ES256, got %+v", byKid["ec-1"])
	}

	if _, err := ParseJWKS([]byte(`{"keys":[]}`)); err == nil {
		t.Error("Expected error for empty key set")
	}
}

func TestFetchJWKS(t *testing.T) {
	body := testJWKS(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jwks" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	keys, err := FetchJWKS(context.Background(), srv.Client(), srv.URL+"/jwks")
	if err != nil {
		t.Fatalf("FetchJWKS failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Expected 2 keys, got %d", len(keys))
	}

	if _, err := FetchJWKS(context.Background(), srv.Client(), srv.URL+"/missing"); err == nil {
		t.Error("Expected error for non-2xx status")
	}
}

func TestDiscoverJWKSURL(t *testing.T) {
	var issuer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   issuer,
			"jwks_uri": issuer + "/keys",
		})
	}))
	defer srv.Close()
	issuer = srv.URL

	got, err := DiscoverJWKSURL(context.Background(), srv.Client(), issuer)
	if err != nil {
		t.Fatalf("DiscoverJWKSURL failed: %v", err)
	}
	if got != issuer+"/keys" {
		t.Errorf("Expected %s/keys, got %s", issuer, got)
	}
}
