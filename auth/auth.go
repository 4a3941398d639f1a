// Package auth implements the two HMAC-SHA256 authentication modes the
// protocol defines: whole-packet signatures and the compact auth hash used
// for request/response flags, plus short-lived API tokens built on the same
// primitive.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/U22-2025/WIP-sub001/internal/wiperr"
)

// DefaultTokenTTL is the default lifetime of an API token.
const DefaultTokenTTL = time.Hour

// Sign computes the hex-encoded HMAC-SHA256 signature of data under key.
// The caller is responsible for zeroing any signature field in data before
// calling Sign, since the signature cannot cover itself.
func Sign(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signatureHex is the correct HMAC-SHA256 signature
// of data under key, using a constant-time comparison to avoid leaking
// timing information about how many bytes matched.
func Verify(key, data []byte, signatureHex string) bool {
	want, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	got := mac.Sum(nil)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// AuthHash computes the request/response auth hash: HMAC-SHA256, keyed by
// passphrase, over the concatenation packetID:timestamp:passphrase (as
// decimal text, colon-separated, matching the wire convention used by every
// WIP client implementation).
func AuthHash(packetID uint16, timestamp int64, passphrase string) string {
	msg := fmt.Sprintf("%d:%d:%s", packetID, timestamp, passphrase)
	mac := hmac.New(sha256.New, []byte(passphrase))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyAuthHash recomputes AuthHash and compares it to hashHex in constant
// time.
func VerifyAuthHash(packetID uint16, timestamp int64, passphrase, hashHex string) bool {
	want, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}
	msg := fmt.Sprintf("%d:%d:%s", packetID, timestamp, passphrase)
	mac := hmac.New(sha256.New, []byte(passphrase))
	mac.Write([]byte(msg))
	got := mac.Sum(nil)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// Token is an API token of the form "<hex hmac>:<expiry unix seconds>".
type Token struct {
	HMACHex string
	Expiry  int64
}

// String renders the token in its wire form.
func (t Token) String() string {
	return t.HMACHex + ":" + strconv.FormatInt(t.Expiry, 10)
}

// NewToken mints a token for clientID, keyed by key, expiring ttl from now.
// A ttl of zero uses DefaultTokenTTL.
func NewToken(key []byte, clientID string, ttl time.Duration, now time.Time) Token {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	expiry := now.Add(ttl).Unix()
	return Token{HMACHex: tokenHMAC(key, clientID, expiry), Expiry: expiry}
}

// ParseToken splits a wire-form token string into its two components
// without verifying it.
func ParseToken(s string) (Token, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return Token{}, wiperr.New(wiperr.AuthFailed)
	}
	expiry, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return Token{}, wiperr.Wrap(wiperr.AuthFailed, err)
	}
	return Token{HMACHex: s[:idx], Expiry: expiry}, nil
}

// VerifyToken checks that tok's HMAC half matches what NewToken would have
// produced for clientID under key, and that it has not expired as of now.
func VerifyToken(key []byte, clientID string, tok Token, now time.Time) error {
	want := tokenHMAC(key, clientID, tok.Expiry)
	if subtle.ConstantTimeCompare([]byte(want), []byte(tok.HMACHex)) != 1 {
		return wiperr.New(wiperr.AuthFailed)
	}
	if now.Unix() > tok.Expiry {
		return wiperr.New(wiperr.AuthFailed)
	}
	return nil
}

func tokenHMAC(key []byte, clientID string, expiry int64) string {
	msg := clientID + ":" + strconv.FormatInt(expiry, 10)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
