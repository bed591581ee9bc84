/**
 * @description
 * PIN credential handling. The credential is a deterministic, unsalted
 * SHA-256 digest of the PIN, hex encoded — the same scheme used by the
 * mobile clients this service replaces, so equal PINs yield equal
 * credentials across accounts. Verification compares digests in constant
 * time; the clear PIN is never stored or logged.
 */

package app

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashPIN returns the stored credential form of a PIN.
func HashPIN(pin string) string {
	digest := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(digest[:])
}

// VerifyPIN reports whether the PIN matches the stored credential.
func VerifyPIN(pin, credential string) bool {
	return subtle.ConstantTimeCompare([]byte(HashPIN(pin)), []byte(credential)) == 1
}
