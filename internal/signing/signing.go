// Package signing implements the HMAC-SHA256 and MD5 primitives this module
// needs: stream-key signatures, webhook body verification, and third-party
// pub/sub transport signing. All comparisons of secret-derived material use
// constant-time compare.
//
// These are stdlib-only (crypto/hmac, crypto/sha256, crypto/md5,
// crypto/subtle): the spec names these exact algorithms, and no pack library
// wraps them more idiomatically than the standard library already does.
package signing

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HMACHex returns the lowercase hex-encoded HMAC-SHA256 of msg under key.
func HMACHex(key, msg string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACHexN returns the first n hex characters of HMACHex(key, msg).
func HMACHexN(key, msg string, n int) string {
	full := HMACHex(key, msg)
	if n >= len(full) {
		return full
	}
	return full[:n]
}

// VerifyHMACHex reports whether candidate equals the hex HMAC-SHA256 of msg
// under key, in constant time.
func VerifyHMACHex(key, msg, candidateHex string) bool {
	want := HMACHex(key, msg)
	return subtle.ConstantTimeCompare([]byte(want), []byte(candidateHex)) == 1
}

// MD5HexUTF8 returns the lowercase hex MD5 digest of s's UTF-8 bytes. This is
// a transport requirement for the pub/sub provider's body-hash field, not a
// security primitive; it must operate on UTF-8 bytes so multi-byte
// characters (emoji) hash consistently with the transport's expectations.
func MD5HexUTF8(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
