package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// urnDigestLen is the number of hex characters of the natural-key digest
// embedded in a deterministic URN's identifier segment.
const urnDigestLen = 32

// DeterministicURN computes the canonical remote identifier for a locally
// created entity from its type and natural key.
//
// The function is pure and stable: the same (type, key) pair always yields
// the same URN across runs and process restarts, so a local entity keeps
// its remote identity once deployed. The natural key is lowercased and
// trimmed before hashing, making "PII" and "pii " the same logical entity.
func DeterministicURN(t Type, naturalKey string) string {
	normalized := strings.ToLower(strings.TrimSpace(naturalKey))
	sum := sha256.Sum256([]byte(normalized))
	digest := hex.EncodeToString(sum[:])[:urnDigestLen]
	return fmt.Sprintf("urn:li:%s:%s", t.APIName(), digest)
}

// URNType extracts the entity type from a URN of the form
// "urn:li:<apiName>:<id>". Returns false when the URN does not carry a
// recognized entity type.
func URNType(urn string) (Type, bool) {
	parts := strings.SplitN(urn, ":", 4)
	if len(parts) != 4 || parts[0] != "urn" || parts[1] != "li" {
		return "", false
	}
	for _, t := range AllTypes {
		if t.APIName() == parts[2] {
			return t, true
		}
	}
	return "", false
}

// URNID returns the identifier segment of a URN, or the whole string when
// it is not a well-formed URN. Used for staged file naming.
func URNID(urn string) string {
	parts := strings.SplitN(urn, ":", 4)
	if len(parts) != 4 {
		return urn
	}
	return parts[3]
}
