package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/kbase/core"
)

func TestMarshalUnmarshalID(t *testing.T) {
	ids := []core.ID{0, 1, 255, 1 << 20, 1<<63 + 17}
	for _, id := range ids {
		data := MarshalID(id)
		got, err := UnmarshalID(data)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestMarshalUnmarshalChunk(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	chunk := &core.Chunk{
		Id:         12,
		KBId:       4,
		DocumentId: 8,
		Ordinal:    1,
		Offset:     512,
		Text:       "composite keys order range scans",
		Vector:     []float32{0.1, 0.2, 0.3},
		Tokens:     []string{"composite", "keys", "order", "range", "scans"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	data := MarshalChunk(chunk)
	got, err := UnmarshalChunk(data)
	require.NoError(t, err)

	assert.Equal(t, chunk.Id, got.Id)
	assert.Equal(t, chunk.Text, got.Text)
	assert.Equal(t, chunk.Vector, got.Vector)
	assert.Equal(t, chunk.Tokens, got.Tokens)
	assert.True(t, got.CreatedAt.Equal(chunk.CreatedAt))
}

func TestUnmarshalChunk_Corrupt(t *testing.T) {
	_, err := UnmarshalChunk([]byte{0xff})
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestUnmarshalEmpty(t *testing.T) {
	_, err := UnmarshalID(nil)
	assert.ErrorIs(t, err, ErrTruncatedData)

	_, err = UnmarshalTask([]byte{})
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestMarshalUnmarshalKB(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	kb := &core.KnowledgeBase{
		Id:        2,
		ProjectId: 9,
		Name:      "runbooks",
		QAOnly:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	got, err := UnmarshalKB(MarshalKB(kb))
	require.NoError(t, err)
	assert.Equal(t, kb.Id, got.Id)
	assert.Equal(t, kb.ProjectId, got.ProjectId)
	assert.Equal(t, kb.Name, got.Name)
	assert.True(t, got.QAOnly)
	assert.False(t, got.Deleted)
}

func TestMarshalUnmarshalTask(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	task := &core.IngestionTask{
		Id:         3,
		KBId:       2,
		DocumentId: 5,
		State:      core.TaskIngesting,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	got, err := UnmarshalTask(MarshalTask(task))
	require.NoError(t, err)
	assert.Equal(t, core.TaskIngesting, got.State)
	assert.Equal(t, task.DocumentId, got.DocumentId)
	assert.Empty(t, got.ErrorDetail)
}
