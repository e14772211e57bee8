// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"fmt"

	"github.com/poiesic/kbase/core"
)

// decodeErr classifies an unmarshal failure: an empty input is
// truncated, anything else is a decode failure.
func decodeErr(data []byte, err error) error {
	if len(data) == 0 {
		return ErrTruncatedData
	}
	return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, core.IDMUS.Size(id))
	core.IDMUS.Marshal(id, buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := core.IDMUS.Unmarshal(data)
	if err != nil {
		return 0, decodeErr(data, err)
	}
	return id, nil
}

// MarshalKB serializes a KnowledgeBase to bytes.
func MarshalKB(kb *core.KnowledgeBase) []byte {
	buf := make([]byte, core.KnowledgeBaseMUS.Size(*kb))
	core.KnowledgeBaseMUS.Marshal(*kb, buf)
	return buf
}

// UnmarshalKB deserializes a KnowledgeBase from bytes.
func UnmarshalKB(data []byte) (*core.KnowledgeBase, error) {
	kb, _, err := core.KnowledgeBaseMUS.Unmarshal(data)
	if err != nil {
		return nil, decodeErr(data, err)
	}
	return &kb, nil
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	buf := make([]byte, core.DocumentMUS.Size(*doc))
	core.DocumentMUS.Marshal(*doc, buf)
	return buf
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	doc, _, err := core.DocumentMUS.Unmarshal(data)
	if err != nil {
		return nil, decodeErr(data, err)
	}
	return &doc, nil
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	buf := make([]byte, core.ChunkMUS.Size(*chunk))
	core.ChunkMUS.Marshal(*chunk, buf)
	return buf
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	chunk, _, err := core.ChunkMUS.Unmarshal(data)
	if err != nil {
		return nil, decodeErr(data, err)
	}
	return &chunk, nil
}

// MarshalQAItem serializes a QAItem to bytes.
func MarshalQAItem(item *core.QAItem) []byte {
	buf := make([]byte, core.QAItemMUS.Size(*item))
	core.QAItemMUS.Marshal(*item, buf)
	return buf
}

// UnmarshalQAItem deserializes a QAItem from bytes.
func UnmarshalQAItem(data []byte) (*core.QAItem, error) {
	item, _, err := core.QAItemMUS.Unmarshal(data)
	if err != nil {
		return nil, decodeErr(data, err)
	}
	return &item, nil
}

// MarshalTask serializes an IngestionTask to bytes.
func MarshalTask(task *core.IngestionTask) []byte {
	buf := make([]byte, core.IngestionTaskMUS.Size(*task))
	core.IngestionTaskMUS.Marshal(*task, buf)
	return buf
}

// UnmarshalTask deserializes an IngestionTask from bytes.
func UnmarshalTask(data []byte) (*core.IngestionTask, error) {
	task, _, err := core.IngestionTaskMUS.Unmarshal(data)
	if err != nil {
		return nil, decodeErr(data, err)
	}
	return &task, nil
}
