package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/kbase/core"
)

// Key prefixes for different data types
const (
	kbRecordPrefix    = "kbrec"
	kbProjectPrefix   = "kbproj"
	kbIDSeq           = "kbrecseq"
	docRecordPrefix   = "docrec"
	docKBPrefix       = "dockb"
	docNamePrefix     = "docname"
	docIDSeq          = "docrecseq"
	chunkRecordPrefix = "churec"
	chunkKBPrefix     = "chukb"
	chunkDocPrefix    = "chudoc"
	chunkIDSeq        = "churecseq"
	postingPrefix     = "lexpost"
	chunkLengthPrefix = "lexlen"
	qaRecordPrefix    = "qarec"
	qaKBPrefix        = "qakb"
	qaHashPrefix      = "qahash"
	qaIDSeq           = "qarecseq"
	taskRecordPrefix  = "tasrec"
	taskKBPrefix      = "taskb"
	taskDocPrefix     = "tasdoc"
	taskIDSeq         = "tasrecseq"
)

// makeRecordKey generates a primary record key for any prefix.
func makeRecordKey(prefix string, id core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", prefix, id))
}

func makeKBKey(id core.ID) []byte       { return makeRecordKey(kbRecordPrefix, id) }
func makeDocumentKey(id core.ID) []byte { return makeRecordKey(docRecordPrefix, id) }
func makeChunkKey(id core.ID) []byte    { return makeRecordKey(chunkRecordPrefix, id) }
func makeQAKey(id core.ID) []byte       { return makeRecordKey(qaRecordPrefix, id) }
func makeTaskKey(id core.ID) []byte     { return makeRecordKey(taskRecordPrefix, id) }

// makeCompositeKey generates a composite index key of the form
// prefix:<owner><member> with both IDs written BigEndian so the
// lexicographic order of keys matches numeric order.
func makeCompositeKey(prefix string, owner, member core.ID) []byte {
	buf := make([]byte, len(prefix)+1+16)
	offset := copy(buf, prefix+":")
	binary.BigEndian.PutUint64(buf[offset:], uint64(owner))
	binary.BigEndian.PutUint64(buf[offset+8:], uint64(member))
	return buf
}

// makePartialCompositeKey generates the owner-only form of a composite
// key for prefix scans.
func makePartialCompositeKey(prefix string, owner core.ID) []byte {
	buf := make([]byte, len(prefix)+1+8)
	offset := copy(buf, prefix+":")
	binary.BigEndian.PutUint64(buf[offset:], uint64(owner))
	return buf
}

func makeKBProjectKey(projectID, kbID core.ID) []byte {
	return makeCompositeKey(kbProjectPrefix, projectID, kbID)
}

func makePartialKBProjectKey(projectID core.ID) []byte {
	return makePartialCompositeKey(kbProjectPrefix, projectID)
}

func makeDocumentKBKey(kbID, docID core.ID) []byte {
	return makeCompositeKey(docKBPrefix, kbID, docID)
}

func makePartialDocumentKBKey(kbID core.ID) []byte {
	return makePartialCompositeKey(docKBPrefix, kbID)
}

// makeDocumentNameKey generates the file name lookup key.
// Format: prefix:<kbID>name
func makeDocumentNameKey(kbID core.ID, fileName string) []byte {
	buf := make([]byte, len(docNamePrefix)+1+8+len(fileName))
	offset := copy(buf, docNamePrefix+":")
	binary.BigEndian.PutUint64(buf[offset:], uint64(kbID))
	copy(buf[offset+8:], fileName)
	return buf
}

func makeChunkKBKey(kbID, chunkID core.ID) []byte {
	return makeCompositeKey(chunkKBPrefix, kbID, chunkID)
}

func makePartialChunkKBKey(kbID core.ID) []byte {
	return makePartialCompositeKey(chunkKBPrefix, kbID)
}

func makeChunkDocKey(docID, chunkID core.ID) []byte {
	return makeCompositeKey(chunkDocPrefix, docID, chunkID)
}

func makePartialChunkDocKey(docID core.ID) []byte {
	return makePartialCompositeKey(chunkDocPrefix, docID)
}

// makePostingKey generates a lexical posting key.
// Format: prefix:<kbID>:token:<chunkID>
// Tokens never contain ':' (tokenization strips punctuation), so the
// layout is unambiguous.
func makePostingKey(kbID core.ID, token string, chunkID core.ID) []byte {
	buf := make([]byte, len(postingPrefix)+1+8+1+len(token)+1+8)
	offset := copy(buf, postingPrefix+":")
	binary.BigEndian.PutUint64(buf[offset:], uint64(kbID))
	offset += 8
	buf[offset] = ':'
	offset++
	offset += copy(buf[offset:], token)
	buf[offset] = ':'
	offset++
	binary.BigEndian.PutUint64(buf[offset:], uint64(chunkID))
	return buf
}

// makePartialPostingKey generates the token-level posting prefix for scans.
func makePartialPostingKey(kbID core.ID, token string) []byte {
	buf := make([]byte, len(postingPrefix)+1+8+1+len(token)+1)
	offset := copy(buf, postingPrefix+":")
	binary.BigEndian.PutUint64(buf[offset:], uint64(kbID))
	offset += 8
	buf[offset] = ':'
	offset++
	offset += copy(buf[offset:], token)
	buf[offset] = ':'
	return buf
}

func makeChunkLengthKey(kbID, chunkID core.ID) []byte {
	return makeCompositeKey(chunkLengthPrefix, kbID, chunkID)
}

func makePartialChunkLengthKey(kbID core.ID) []byte {
	return makePartialCompositeKey(chunkLengthPrefix, kbID)
}

func makeQAKBKey(kbID, qaID core.ID) []byte {
	return makeCompositeKey(qaKBPrefix, kbID, qaID)
}

func makePartialQAKBKey(kbID core.ID) []byte {
	return makePartialCompositeKey(qaKBPrefix, kbID)
}

func makeQAHashKey(projectID, hash core.ID) []byte {
	return makeCompositeKey(qaHashPrefix, projectID, hash)
}

func makeTaskKBKey(kbID, taskID core.ID) []byte {
	return makeCompositeKey(taskKBPrefix, kbID, taskID)
}

func makePartialTaskKBKey(kbID core.ID) []byte {
	return makePartialCompositeKey(taskKBPrefix, kbID)
}

func makeTaskDocKey(docID, taskID core.ID) []byte {
	return makeCompositeKey(taskDocPrefix, docID, taskID)
}

func makePartialTaskDocKey(docID core.ID) []byte {
	return makePartialCompositeKey(taskDocPrefix, docID)
}
