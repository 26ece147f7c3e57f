package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the subset of the identity provider's token we rely on. Sub is
// the marketplace user id that appears as buyer, seller or proposer.
type Claims struct {
	Sub  string `json:"sub"`
	Name string `json:"name,omitempty"`
	Exp  int64  `json:"exp"`
	Iat  int64  `json:"iat"`
}

type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

type token struct {
	header, payload, signature string
}

func (t token) unsigned() string { return t.header + "." + t.payload }

func split(raw string) (token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return token{}, ErrInvalidToken
	}
	return token{header: parts[0], payload: parts[1], signature: parts[2]}, nil
}

func ParseHeader(raw string) (*Header, error) {
	t, err := split(raw)
	if err != nil {
		return nil, err
	}
	b, err := base64.RawURLEncoding.DecodeString(t.header)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var h Header
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, ErrInvalidToken
	}
	return &h, nil
}

// SignHS256 mints a shared-secret token. Used by local tooling and tests; in
// production tokens come from the marketplace identity provider.
func SignHS256(claims Claims, secret string) (string, error) {
	headerJSON, err := json.Marshal(Header{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	t := token{
		header:  base64.RawURLEncoding.EncodeToString(headerJSON),
		payload: base64.RawURLEncoding.EncodeToString(payloadJSON),
	}
	return t.unsigned() + "." + hmacSHA256(t.unsigned(), secret), nil
}

func ParseAndVerifyHS256(raw, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrInvalidToken
	}
	t, err := split(raw)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal([]byte(t.signature), []byte(hmacSHA256(t.unsigned(), secret))) {
		return nil, ErrInvalidToken
	}
	return decodeClaims(t.payload, time.Now())
}

func VerifyRS256(raw string, pubKey crypto.PublicKey) (*Claims, error) {
	t, err := split(raw)
	if err != nil {
		return nil, err
	}
	sig, err := base64.RawURLEncoding.DecodeString(t.signature)
	if err != nil {
		return nil, ErrInvalidToken
	}
	rsaKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidToken
	}
	hash := sha256.Sum256([]byte(t.unsigned()))
	if err := rsa.VerifyPKCS1v15(rsaKey, crypto.SHA256, hash[:], sig); err != nil {
		return nil, ErrInvalidToken
	}
	return decodeClaims(t.payload, time.Now())
}

func decodeClaims(segment string, now time.Time) (*Claims, error) {
	b, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(b, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Sub == "" {
		return nil, ErrInvalidToken
	}
	if claims.Exp > 0 && now.Unix() > claims.Exp {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func hmacSHA256(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
