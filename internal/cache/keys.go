package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	IdentityKeyPrefix = "identity:%s"
	UserNameKeyPrefix = "identity:name:%s"
)

// IdentityKey derives the cache key for a certificate subject/issuer pair.
func IdentityKey(subjectDN, issuerDN string) string {
	sum := sha256.Sum256([]byte(subjectDN + "\x00" + issuerDN))
	return fmt.Sprintf(IdentityKeyPrefix, hex.EncodeToString(sum[:]))
}

// UserNameKey derives the cache key for an act-as lookup by user name.
func UserNameKey(name string) string {
	sum := sha256.Sum256([]byte(name))
	return fmt.Sprintf(UserNameKeyPrefix, hex.EncodeToString(sum[:]))
}
