package core

import (
	"errors"
	"testing"
)

func TestValidateKnowledgeBase(t *testing.T) {
	tests := []struct {
		name    string
		kb      *KnowledgeBase
		wantErr error
	}{
		{
			name:    "valid knowledge base",
			kb:      &KnowledgeBase{Name: "support-docs", ProjectId: 7},
			wantErr: nil,
		},
		{
			name:    "nil knowledge base",
			kb:      nil,
			wantErr: ErrInvalidKnowledgeBase,
		},
		{
			name:    "empty name",
			kb:      &KnowledgeBase{ProjectId: 7},
			wantErr: ErrEmptyName,
		},
		{
			name:    "missing project",
			kb:      &KnowledgeBase{Name: "support-docs"},
			wantErr: ErrInvalidKnowledgeBase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKnowledgeBase(tt.kb)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateKnowledgeBase() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateKnowledgeBase() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChunk(t *testing.T) {
	tests := []struct {
		name    string
		chunk   *Chunk
		wantErr error
	}{
		{
			name:    "valid chunk",
			chunk:   &Chunk{KBId: 3, Ordinal: 0, Text: "first segment"},
			wantErr: nil,
		},
		{
			name:    "nil chunk",
			chunk:   nil,
			wantErr: ErrInvalidChunk,
		},
		{
			name:    "empty text",
			chunk:   &Chunk{KBId: 3},
			wantErr: ErrEmptyText,
		},
		{
			name:    "missing knowledge base",
			chunk:   &Chunk{Text: "segment"},
			wantErr: ErrInvalidChunk,
		},
		{
			name:    "negative ordinal",
			chunk:   &Chunk{KBId: 3, Ordinal: -1, Text: "segment"},
			wantErr: ErrInvalidChunk,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunk(tt.chunk)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateChunk() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateChunk() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateQAItem(t *testing.T) {
	tests := []struct {
		name    string
		item    *QAItem
		wantErr error
	}{
		{
			name:    "valid item",
			item:    &QAItem{ProjectId: 1, Question: "q", Answer: "a"},
			wantErr: nil,
		},
		{
			name:    "nil item",
			item:    nil,
			wantErr: ErrInvalidQAItem,
		},
		{
			name:    "empty question",
			item:    &QAItem{ProjectId: 1, Answer: "a"},
			wantErr: ErrEmptyQuestion,
		},
		{
			name:    "empty answer",
			item:    &QAItem{ProjectId: 1, Question: "q"},
			wantErr: ErrEmptyAnswer,
		},
		{
			name:    "missing project",
			item:    &QAItem{Question: "q", Answer: "a"},
			wantErr: ErrInvalidQAItem,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQAItem(tt.item)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateQAItem() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateQAItem() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    TaskState
		to      TaskState
		wantErr bool
	}{
		{name: "pending to ingesting", from: TaskPending, to: TaskIngesting},
		{name: "pending to failed", from: TaskPending, to: TaskFailed},
		{name: "ingesting to succeeded", from: TaskIngesting, to: TaskSucceeded},
		{name: "ingesting to failed", from: TaskIngesting, to: TaskFailed},
		{name: "succeeded is terminal", from: TaskSucceeded, to: TaskIngesting, wantErr: true},
		{name: "failed is terminal", from: TaskFailed, to: TaskPending, wantErr: true},
		{name: "no rewind to pending", from: TaskIngesting, to: TaskPending, wantErr: true},
		{name: "invalid source state", from: TaskState(0), to: TaskPending, wantErr: true},
		{name: "invalid target state", from: TaskPending, to: TaskState(42), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr && err == nil {
				t.Errorf("ValidateTransition(%s, %s) expected error", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateTransition(%s, %s) unexpected error: %v", tt.from, tt.to, err)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidTaskState) {
				t.Errorf("ValidateTransition() error = %v, want ErrInvalidTaskState", err)
			}
		})
	}
}
