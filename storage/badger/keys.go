package badger

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Key prefixes for different data types
const (
	jobPrefix          = "job"
	jobSubmittedPrefix = "jobsub"
	chunkPrefix        = "chunk"
	chunkJobPrefix     = "chunkjob"
	chunkURLPrefix     = "chunkurl"
	sessionPrefix      = "sess"
	queuePrefix        = "queue"
	queueSeqPrefix     = "queueseq"
	vectorPrefix       = "vec"
	vectorDimKey       = "vecmeta:dim"
)

// keySep separates variable-length components that may themselves contain ':'.
const keySep = 0x00

// makeJobKey generates a key for a job by ID.
func makeJobKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", jobPrefix, id))
}

// makeJobSubmittedKey generates a composite key for the submission-time index.
// Format: prefix:timestamp:id
func makeJobSubmittedKey(submittedAt time.Time, id string) []byte {
	prefix := jobSubmittedPrefix + ":"
	buf := make([]byte, len(prefix)+8+len(id))
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(submittedAt.UnixMicro()))
	offset += 8
	copy(buf[offset:], id)
	return buf
}

// makeChunkKey generates a key for a chunk by ID.
func makeChunkKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", chunkPrefix, id))
}

// makePartialChunkJobKey generates the prefix of a job's chunk index entries.
// Format: prefix:jobID\x00
func makePartialChunkJobKey(jobID string) []byte {
	prefix := chunkJobPrefix + ":"
	buf := make([]byte, len(prefix)+len(jobID)+1)
	offset := copy(buf, prefix)
	offset += copy(buf[offset:], jobID)
	buf[offset] = keySep
	return buf
}

// makeChunkJobKey generates a composite key for the job index.
// Format: prefix:jobID\x00chunkIndex:chunkID
func makeChunkJobKey(jobID string, chunkIndex int, chunkID string) []byte {
	partial := makePartialChunkJobKey(jobID)
	buf := make([]byte, len(partial)+4+len(chunkID))
	offset := copy(buf, partial)
	binary.BigEndian.PutUint32(buf[offset:], uint32(chunkIndex))
	offset += 4
	copy(buf[offset:], chunkID)
	return buf
}

// makePartialChunkURLKey generates the prefix of a url's chunk index entries.
// Format: prefix:url\x00
func makePartialChunkURLKey(url string) []byte {
	prefix := chunkURLPrefix + ":"
	buf := make([]byte, len(prefix)+len(url)+1)
	offset := copy(buf, prefix)
	offset += copy(buf[offset:], url)
	buf[offset] = keySep
	return buf
}

// makeChunkURLKey generates a composite key for the url index.
// Format: prefix:url\x00chunkID
func makeChunkURLKey(url, chunkID string) []byte {
	partial := makePartialChunkURLKey(url)
	buf := make([]byte, len(partial)+len(chunkID))
	offset := copy(buf, partial)
	copy(buf[offset:], chunkID)
	return buf
}

// makeSessionKey generates a key for a session by ID.
func makeSessionKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", sessionPrefix, id))
}

// makeQueuePrefix generates the prefix shared by all entries of a named queue.
func makeQueuePrefix(name string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", queuePrefix, name))
}

// makeQueueKey generates a key for a queue entry.
// Format: prefix:name:seq
func makeQueueKey(name string, seq uint64) []byte {
	prefix := makeQueuePrefix(name)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// makeQueueSeqKey names the sequence backing a queue's entry keys.
func makeQueueSeqKey(name string) string {
	return fmt.Sprintf("%s:%s", queueSeqPrefix, name)
}

// makeVectorKey generates a key for an embedding record by chunk ID.
func makeVectorKey(chunkID string) []byte {
	return []byte(fmt.Sprintf("%s:%s", vectorPrefix, chunkID))
}

// prefixEnd returns a key sorting after every key with the given prefix.
// Used to seek reverse iterators.
func prefixEnd(prefix []byte) []byte {
	buf := make([]byte, len(prefix)+1)
	copy(buf, prefix)
	buf[len(prefix)] = 0xFF
	return buf
}
