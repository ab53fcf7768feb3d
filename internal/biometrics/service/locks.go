package service

import (
	"context"
	"sync"

	id "veriface/pkg/domain"
	dErrors "veriface/pkg/domain-errors"
)

// numSubjectShards bounds the number of mutexes; subjects hash onto shards so
// unrelated subjects rarely contend.
const numSubjectShards = 128

// subjectLocks serializes template read-modify-write cycles per subject
// within one process. Cross-process safety comes from the template version
// check (and row locks when the store is Postgres).
type subjectLocks struct {
	shards [numSubjectShards]sync.Mutex
}

func newSubjectLocks() *subjectLocks {
	return &subjectLocks{}
}

// withLock runs fn while holding the shard for subjectID.
func (l *subjectLocks) withLock(ctx context.Context, subjectID id.SubjectID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "template update aborted: context cancelled")
	}

	shard := &l.shards[hashSubject(string(subjectID))%numSubjectShards]
	shard.Lock()
	defer shard.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "template update aborted: context cancelled")
	}
	return fn(ctx)
}

// hashSubject is FNV-1a.
func hashSubject(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
