// Package authn verifies a peer's credential. Two modes are supported: a
// JWT bearer token issued by a shared authority (github.com/golang-jwt/jwt/v5),
// or, for deployments without a token issuer, a pre-shared key compared via
// an Argon2id-derived digest (golang.org/x/crypto/argon2) so the raw key is
// never compared or logged directly. cmd/haagent uses PSKVerifier to guard
// its /ha/* HTTP routes; internal/ha/primary's Opened calls neither
// verifier and trusts the BrokerInfo a connection announces.
package authn

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"
)

// ErrUnauthorized is returned when a backup's announced credential fails
// verification.
var ErrUnauthorized = errors.New("ha: backup credential rejected")

// Claims is the expected payload of a backup's bearer token: its system id
// binds the token to one specific broker identity.
type Claims struct {
	SystemID string `json:"systemId"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies bearer tokens issued by a shared signing key.
type JWTVerifier struct {
	key []byte
}

// NewJWTVerifier builds a verifier for tokens signed with key (HMAC).
func NewJWTVerifier(key []byte) *JWTVerifier {
	return &JWTVerifier{key: key}
}

// Verify parses token and checks it was issued for systemID, is signed
// with the expected key, and has not expired.
func (v *JWTVerifier) Verify(token, systemID string) error {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return ErrUnauthorized
	}
	if claims.SystemID != systemID {
		return fmt.Errorf("%w: token issued for a different systemId", ErrUnauthorized)
	}
	return nil
}

// Issue mints a token for systemID, valid for ttl.
func (v *JWTVerifier) Issue(systemID string, ttl time.Duration) (string, error) {
	claims := Claims{
		SystemID: systemID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.key)
}

// argon2Params matches the defaults recommended alongside the argon2
// package itself: one pass, 64 MiB, four lanes.
var argon2Params = struct {
	time, memory uint32
	threads      uint8
	keyLen       uint32
}{time: 1, memory: 64 * 1024, threads: 4, keyLen: 32}

// PSKVerifier compares a pre-shared key supplied by a connecting backup
// against a digest derived from the deployment's configured key, without
// ever comparing the raw bytes directly.
type PSKVerifier struct {
	salt   []byte
	digest []byte
}

// NewPSKVerifier derives the comparison digest for key, salted with salt
// (e.g. the cluster name, so the same key produces a different digest per
// deployment).
func NewPSKVerifier(key, salt []byte) *PSKVerifier {
	digest := argon2.IDKey(key, salt, argon2Params.time, argon2Params.memory, argon2Params.threads, argon2Params.keyLen)
	return &PSKVerifier{salt: salt, digest: digest}
}

// Verify reports whether candidate matches the configured key.
func (v *PSKVerifier) Verify(candidate []byte) error {
	got := argon2.IDKey(candidate, v.salt, argon2Params.time, argon2Params.memory, argon2Params.threads, argon2Params.keyLen)
	if subtle.ConstantTimeCompare(got, v.digest) != 1 {
		return ErrUnauthorized
	}
	return nil
}
