package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// MaxStorageIDLength bounds the physical key of a stream.
const MaxStorageIDLength = 42

// hashedPrefix marks storage ids derived by hashing. Pass-through ids never
// start with it, so the two id spaces are disjoint.
const hashedPrefix = "#"

// domainStreamID separates stream-id digests from any other SHA-256 use.
// The version suffix leaves room to change the derivation later.
const domainStreamID = "sqlstream/stream-id/v1"

// StreamKey addresses a stream: the caller-facing id and its fixed-width
// storage key.
type StreamKey struct {
	DisplayID string
	StorageID string
}

func (k StreamKey) String() string {
	return k.DisplayID
}

// ResolveStreamKey maps displayID to its storage key.
//
// Ids of at most MaxStorageIDLength bytes that do not start with "#" are used
// as is. Every other id becomes "#" followed by the leading 41 hex digits of a
// domain-separated SHA-256 digest. The mapping is pure and stable across
// processes.
func ResolveStreamKey(displayID string) (StreamKey, error) {
	if displayID == "" {
		return StreamKey{}, &Error{
			Code:    CodeInvalidStreamID,
			Op:      "resolve stream key",
			Message: "stream id must not be empty",
		}
	}

	if len(displayID) <= MaxStorageIDLength && displayID[:1] != hashedPrefix {
		return StreamKey{DisplayID: displayID, StorageID: displayID}, nil
	}

	return StreamKey{DisplayID: displayID, StorageID: hashStreamID(displayID)}, nil
}

// MustResolveStreamKey is like ResolveStreamKey but panics on error.
// Use only in tests or with known-valid constants.
func MustResolveStreamKey(displayID string) StreamKey {
	k, err := ResolveStreamKey(displayID)
	if err != nil {
		panic(err)
	}
	return k
}

// hashStreamID computes SHA256(domain + 0x00 + id), truncated to fit.
func hashStreamID(displayID string) string {
	h := sha256.New()
	h.Write([]byte(domainStreamID))
	h.Write([]byte{0x00})
	h.Write([]byte(displayID))
	digest := hex.EncodeToString(h.Sum(nil))
	return hashedPrefix + digest[:MaxStorageIDLength-len(hashedPrefix)]
}
