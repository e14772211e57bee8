package core

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for the stored record types. These are written by hand
// on top of mus-go's primitive serializers; field order is part of the
// on-disk format and must not change.

// IDMUS serializes an ID as a varint.
var IDMUS = idMUS{}

type idMUS struct{}

func (idMUS) Size(id ID) int {
	return varint.Uint64.Size(uint64(id))
}

func (idMUS) Marshal(id ID, bs []byte) int {
	return varint.Uint64.Marshal(uint64(id), bs)
}

func (idMUS) Unmarshal(bs []byte) (ID, int, error) {
	v, n, err := varint.Uint64.Unmarshal(bs)
	return ID(v), n, err
}

// Timestamps are stored as Unix microseconds.

func sizeTime(t time.Time) int {
	return varint.Int64.Size(t.UnixMicro())
}

func marshalTime(t time.Time, bs []byte) int {
	return varint.Int64.Marshal(t.UnixMicro(), bs)
}

func unmarshalTime(bs []byte) (time.Time, int, error) {
	v, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return time.Time{}, n, err
	}
	return time.UnixMicro(v).UTC(), n, nil
}

func sizeVector(v []float32) int {
	size := varint.PositiveInt.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return size
}

func marshalVector(v []float32, bs []byte) int {
	n := varint.PositiveInt.Marshal(len(v), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return n
}

func unmarshalVector(bs []byte) ([]float32, int, error) {
	length, n, err := varint.PositiveInt.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if length == 0 {
		return nil, n, nil
	}
	v := make([]float32, length)
	for i := 0; i < length; i++ {
		f, fn, err := raw.Float32.Unmarshal(bs[n:])
		n += fn
		if err != nil {
			return nil, n, err
		}
		v[i] = f
	}
	return v, n, nil
}

func sizeStrings(ss []string) int {
	size := varint.PositiveInt.Size(len(ss))
	for _, s := range ss {
		size += ord.String.Size(s)
	}
	return size
}

func marshalStrings(ss []string, bs []byte) int {
	n := varint.PositiveInt.Marshal(len(ss), bs)
	for _, s := range ss {
		n += ord.String.Marshal(s, bs[n:])
	}
	return n
}

func unmarshalStrings(bs []byte) ([]string, int, error) {
	length, n, err := varint.PositiveInt.Unmarshal(bs)
	if err != nil {
		return nil, n, err
	}
	if length == 0 {
		return nil, n, nil
	}
	ss := make([]string, length)
	for i := 0; i < length; i++ {
		s, sn, err := ord.String.Unmarshal(bs[n:])
		n += sn
		if err != nil {
			return nil, n, err
		}
		ss[i] = s
	}
	return ss, n, nil
}

// KnowledgeBaseMUS serializes a KnowledgeBase.
var KnowledgeBaseMUS = knowledgeBaseMUS{}

type knowledgeBaseMUS struct{}

func (knowledgeBaseMUS) Size(kb KnowledgeBase) int {
	return IDMUS.Size(kb.Id) +
		IDMUS.Size(kb.ProjectId) +
		ord.String.Size(kb.Name) +
		ord.Bool.Size(kb.QAOnly) +
		ord.Bool.Size(kb.Deleted) +
		sizeTime(kb.CreatedAt) +
		sizeTime(kb.UpdatedAt)
}

func (knowledgeBaseMUS) Marshal(kb KnowledgeBase, bs []byte) int {
	n := IDMUS.Marshal(kb.Id, bs)
	n += IDMUS.Marshal(kb.ProjectId, bs[n:])
	n += ord.String.Marshal(kb.Name, bs[n:])
	n += ord.Bool.Marshal(kb.QAOnly, bs[n:])
	n += ord.Bool.Marshal(kb.Deleted, bs[n:])
	n += marshalTime(kb.CreatedAt, bs[n:])
	n += marshalTime(kb.UpdatedAt, bs[n:])
	return n
}

func (knowledgeBaseMUS) Unmarshal(bs []byte) (kb KnowledgeBase, n int, err error) {
	var m int
	if kb.Id, n, err = IDMUS.Unmarshal(bs); err != nil {
		return
	}
	if kb.ProjectId, m, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return kb, n + m, err
	}
	n += m
	if kb.Name, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return kb, n + m, err
	}
	n += m
	if kb.QAOnly, m, err = ord.Bool.Unmarshal(bs[n:]); err != nil {
		return kb, n + m, err
	}
	n += m
	if kb.Deleted, m, err = ord.Bool.Unmarshal(bs[n:]); err != nil {
		return kb, n + m, err
	}
	n += m
	if kb.CreatedAt, m, err = unmarshalTime(bs[n:]); err != nil {
		return kb, n + m, err
	}
	n += m
	kb.UpdatedAt, m, err = unmarshalTime(bs[n:])
	return kb, n + m, err
}

// DocumentMUS serializes a Document.
var DocumentMUS = documentMUS{}

type documentMUS struct{}

func (documentMUS) Size(d Document) int {
	return IDMUS.Size(d.Id) +
		IDMUS.Size(d.KBId) +
		ord.String.Size(d.FileName) +
		IDMUS.Size(d.ContentHash) +
		ord.Bool.Size(d.Deleted) +
		sizeTime(d.CreatedAt) +
		sizeTime(d.UpdatedAt)
}

func (documentMUS) Marshal(d Document, bs []byte) int {
	n := IDMUS.Marshal(d.Id, bs)
	n += IDMUS.Marshal(d.KBId, bs[n:])
	n += ord.String.Marshal(d.FileName, bs[n:])
	n += IDMUS.Marshal(d.ContentHash, bs[n:])
	n += ord.Bool.Marshal(d.Deleted, bs[n:])
	n += marshalTime(d.CreatedAt, bs[n:])
	n += marshalTime(d.UpdatedAt, bs[n:])
	return n
}

func (documentMUS) Unmarshal(bs []byte) (d Document, n int, err error) {
	var m int
	if d.Id, n, err = IDMUS.Unmarshal(bs); err != nil {
		return
	}
	if d.KBId, m, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return d, n + m, err
	}
	n += m
	if d.FileName, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return d, n + m, err
	}
	n += m
	if d.ContentHash, m, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return d, n + m, err
	}
	n += m
	if d.Deleted, m, err = ord.Bool.Unmarshal(bs[n:]); err != nil {
		return d, n + m, err
	}
	n += m
	if d.CreatedAt, m, err = unmarshalTime(bs[n:]); err != nil {
		return d, n + m, err
	}
	n += m
	d.UpdatedAt, m, err = unmarshalTime(bs[n:])
	return d, n + m, err
}

// ChunkMUS serializes a Chunk, including its vector and token representation.
var ChunkMUS = chunkMUS{}

type chunkMUS struct{}

func (chunkMUS) Size(c Chunk) int {
	return IDMUS.Size(c.Id) +
		IDMUS.Size(c.KBId) +
		IDMUS.Size(c.DocumentId) +
		varint.PositiveInt.Size(c.Ordinal) +
		varint.PositiveInt.Size(c.Offset) +
		ord.String.Size(c.Text) +
		sizeVector(c.Vector) +
		sizeStrings(c.Tokens) +
		ord.Bool.Size(c.Deleted) +
		sizeTime(c.CreatedAt) +
		sizeTime(c.UpdatedAt)
}

func (chunkMUS) Marshal(c Chunk, bs []byte) int {
	n := IDMUS.Marshal(c.Id, bs)
	n += IDMUS.Marshal(c.KBId, bs[n:])
	n += IDMUS.Marshal(c.DocumentId, bs[n:])
	n += varint.PositiveInt.Marshal(c.Ordinal, bs[n:])
	n += varint.PositiveInt.Marshal(c.Offset, bs[n:])
	n += ord.String.Marshal(c.Text, bs[n:])
	n += marshalVector(c.Vector, bs[n:])
	n += marshalStrings(c.Tokens, bs[n:])
	n += ord.Bool.Marshal(c.Deleted, bs[n:])
	n += marshalTime(c.CreatedAt, bs[n:])
	n += marshalTime(c.UpdatedAt, bs[n:])
	return n
}

func (chunkMUS) Unmarshal(bs []byte) (c Chunk, n int, err error) {
	var m int
	if c.Id, n, err = IDMUS.Unmarshal(bs); err != nil {
		return
	}
	if c.KBId, m, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return c, n + m, err
	}
	n += m
	if c.DocumentId, m, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return c, n + m, err
	}
	n += m
	if c.Ordinal, m, err = varint.PositiveInt.Unmarshal(bs[n:]); err != nil {
		return c, n + m, err
	}
	n += m
	if c.Offset, m, err = varint.PositiveInt.Unmarshal(bs[n:]); err != nil {
		return c, n + m, err
	}
	n += m
	if c.Text, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return c, n + m, err
	}
	n += m
	if c.Vector, m, err = unmarshalVector(bs[n:]); err != nil {
		return c, n + m, err
	}
	n += m
	if c.Tokens, m, err = unmarshalStrings(bs[n:]); err != nil {
		return c, n + m, err
	}
	n += m
	if c.Deleted, m, err = ord.Bool.Unmarshal(bs[n:]); err != nil {
		return c, n + m, err
	}
	n += m
	if c.CreatedAt, m, err = unmarshalTime(bs[n:]); err != nil {
		return c, n + m, err
	}
	n += m
	c.UpdatedAt, m, err = unmarshalTime(bs[n:])
	return c, n + m, err
}

// QAItemMUS serializes a QAItem.
var QAItemMUS = qaItemMUS{}

type qaItemMUS struct{}

func (qaItemMUS) Size(q QAItem) int {
	return IDMUS.Size(q.Id) +
		IDMUS.Size(q.KBId) +
		IDMUS.Size(q.ProjectId) +
		ord.String.Size(q.Question) +
		ord.String.Size(q.Answer) +
		IDMUS.Size(q.QuestionHash) +
		IDMUS.Size(q.ChunkId) +
		ord.Bool.Size(q.Deleted) +
		sizeTime(q.CreatedAt) +
		sizeTime(q.UpdatedAt)
}

func (qaItemMUS) Marshal(q QAItem, bs []byte) int {
	n := IDMUS.Marshal(q.Id, bs)
	n += IDMUS.Marshal(q.KBId, bs[n:])
	n += IDMUS.Marshal(q.ProjectId, bs[n:])
	n += ord.String.Marshal(q.Question, bs[n:])
	n += ord.String.Marshal(q.Answer, bs[n:])
	n += IDMUS.Marshal(q.QuestionHash, bs[n:])
	n += IDMUS.Marshal(q.ChunkId, bs[n:])
	n += ord.Bool.Marshal(q.Deleted, bs[n:])
	n += marshalTime(q.CreatedAt, bs[n:])
	n += marshalTime(q.UpdatedAt, bs[n:])
	return n
}

func (qaItemMUS) Unmarshal(bs []byte) (q QAItem, n int, err error) {
	var m int
	if q.Id, n, err = IDMUS.Unmarshal(bs); err != nil {
		return
	}
	if q.KBId, m, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return q, n + m, err
	}
	n += m
	if q.ProjectId, m, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return q, n + m, err
	}
	n += m
	if q.Question, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return q, n + m, err
	}
	n += m
	if q.Answer, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return q, n + m, err
	}
	n += m
	if q.QuestionHash, m, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return q, n + m, err
	}
	n += m
	if q.ChunkId, m, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return q, n + m, err
	}
	n += m
	if q.Deleted, m, err = ord.Bool.Unmarshal(bs[n:]); err != nil {
		return q, n + m, err
	}
	n += m
	if q.CreatedAt, m, err = unmarshalTime(bs[n:]); err != nil {
		return q, n + m, err
	}
	n += m
	q.UpdatedAt, m, err = unmarshalTime(bs[n:])
	return q, n + m, err
}

// IngestionTaskMUS serializes an IngestionTask.
var IngestionTaskMUS = ingestionTaskMUS{}

type ingestionTaskMUS struct{}

func (ingestionTaskMUS) Size(t IngestionTask) int {
	return IDMUS.Size(t.Id) +
		IDMUS.Size(t.KBId) +
		IDMUS.Size(t.DocumentId) +
		varint.PositiveInt.Size(int(t.State)) +
		ord.String.Size(t.ErrorDetail) +
		sizeTime(t.CreatedAt) +
		sizeTime(t.UpdatedAt)
}

func (ingestionTaskMUS) Marshal(t IngestionTask, bs []byte) int {
	n := IDMUS.Marshal(t.Id, bs)
	n += IDMUS.Marshal(t.KBId, bs[n:])
	n += IDMUS.Marshal(t.DocumentId, bs[n:])
	n += varint.PositiveInt.Marshal(int(t.State), bs[n:])
	n += ord.String.Marshal(t.ErrorDetail, bs[n:])
	n += marshalTime(t.CreatedAt, bs[n:])
	n += marshalTime(t.UpdatedAt, bs[n:])
	return n
}

func (ingestionTaskMUS) Unmarshal(bs []byte) (t IngestionTask, n int, err error) {
	var m int
	if t.Id, n, err = IDMUS.Unmarshal(bs); err != nil {
		return
	}
	if t.KBId, m, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return t, n + m, err
	}
	n += m
	if t.DocumentId, m, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return t, n + m, err
	}
	n += m
	var state int
	if state, m, err = varint.PositiveInt.Unmarshal(bs[n:]); err != nil {
		return t, n + m, err
	}
	n += m
	t.State = TaskState(state)
	if t.ErrorDetail, m, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return t, n + m, err
	}
	n += m
	if t.CreatedAt, m, err = unmarshalTime(bs[n:]); err != nil {
		return t, n + m, err
	}
	n += m
	t.UpdatedAt, m, err = unmarshalTime(bs[n:])
	return t, n + m, err
}
