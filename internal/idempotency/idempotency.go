// Package idempotency derives deterministic keys used to deduplicate retried
// externally-observable actions: messaging and bead-result caching.
package idempotency

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/lprior-repo/oya-sub008/internal/ids"
)

// Key is a deterministic v5 UUID derived from a bead id and a hash of its
// input, so equal inputs yield equal keys across restarts and machines.
type Key string

func (k Key) String() string { return string(k) }

// Derive computes id = v5(namespace = v5(beadID), sha256(serialize(input))).
// input must be JSON-serializable; callers pass the exact payload whose
// repetition should be considered a duplicate (e.g. a RetryBead's task spec).
func Derive(beadID ids.BeadID, input any) (Key, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	namespace := uuid.NewSHA1(uuid.NameSpaceOID, []byte(beadID.String()))
	derived := uuid.NewSHA1(namespace, sum[:])
	return Key(derived.String()), nil
}

// Index is a thread-unsafe set used by dedup callers such as DurableChannel;
// callers
// supply their own locking since the dedup window is usually already guarded
// by a larger lock (e.g. DurableChannel's).
type Index map[Key]struct{}

// NewIndex returns an empty dedup index.
func NewIndex() Index { return make(Index) }

// SeenOrMark reports whether key was already present, and marks it seen.
func (idx Index) SeenOrMark(key Key) bool {
	if _, ok := idx[key]; ok {
		return true
	}
	idx[key] = struct{}{}
	return false
}
