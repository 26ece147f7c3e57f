package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHS256RoundTrip(t *testing.T) {
	claims := Claims{
		Sub:  "buyer-1",
		Name: "Ana",
		Iat:  time.Now().Unix(),
		Exp:  time.Now().Add(time.Hour).Unix(),
	}
	tok, err := SignHS256(claims, "test-secret")
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}
	parsed, err := ParseAndVerifyHS256(tok, "test-secret")
	if err != nil {
		t.Fatalf("ParseAndVerifyHS256 failed: %v", err)
	}
	if parsed.Sub != claims.Sub || parsed.Name != claims.Name {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	if _, err := ParseAndVerifyHS256(tok, "wrong-secret"); err == nil {
		t.Fatal("expected verification error with wrong secret")
	}
}

func TestExpiredAndSubjectlessTokensRejected(t *testing.T) {
	expired, _ := SignHS256(Claims{Sub: "u", Exp: time.Now().Add(-time.Minute).Unix()}, "s")
	if _, err := ParseAndVerifyHS256(expired, "s"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
	anon, _ := SignHS256(Claims{Exp: time.Now().Add(time.Minute).Unix()}, "s")
	if _, err := ParseAndVerifyHS256(anon, "s"); err == nil {
		t.Fatal("expected token without sub to be rejected")
	}
}

func TestRS256Verify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	claims := Claims{Sub: "seller-2", Iat: time.Now().Unix(), Exp: time.Now().Add(time.Hour).Unix()}

	tok, err := signRS256(claims, key, "kid-1")
	if err != nil {
		t.Fatalf("rs256 sign failed: %v", err)
	}
	parsed, err := VerifyRS256(tok, &key.PublicKey)
	if err != nil {
		t.Fatalf("VerifyRS256 failed: %v", err)
	}
	if parsed.Sub != claims.Sub {
		t.Fatalf("claims mismatch: got %+v", parsed)
	}
	h, err := ParseHeader(tok)
	if err != nil || h.Kid != "kid-1" {
		t.Fatalf("unexpected header %+v (%v)", h, err)
	}
}

func TestRequireAuth(t *testing.T) {
	secret := "test-secret"
	tok, err := SignHS256(Claims{Sub: "buyer-1", Exp: time.Now().Add(time.Hour).Unix()}, secret)
	if err != nil {
		t.Fatalf("SignHS256 failed: %v", err)
	}

	h := RequireAuth(Verifier{Secret: secret})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFromContext(r.Context())
		if !ok || r.Header.Get(UserIDHeader) != "buyer-1" || c.Sub != "buyer-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set(UserIDHeader, "spoofed")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}

	for _, header := range []string{"", "Bearer ", "Bearer badtoken", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		if rw.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rw.Code)
		}
	}
}

func signRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	headerJSON, err := json.Marshal(Header{Alg: "RS256", Typ: "JWT", Kid: kid})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	hash := sha256.Sum256([]byte(unsigned))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hash[:])
	if err != nil {
		return "", err
	}
	return unsigned + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
