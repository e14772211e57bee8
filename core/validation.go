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


package core

import "fmt"

// ValidateKnowledgeBase validates a KnowledgeBase according to domain rules.
//
// Validation rules:
//   - Name must not be empty
//   - ProjectId must be set
//
// NOT validated:
//   - ID (0 is valid before the database sequence assigns one)
func ValidateKnowledgeBase(kb *KnowledgeBase) error {
	if kb == nil {
		return fmt.Errorf("%w: knowledge base is nil", ErrInvalidKnowledgeBase)
	}
	if kb.Name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidKnowledgeBase, ErrEmptyName)
	}
	if kb.ProjectId == 0 {
		return fmt.Errorf("%w: project id required", ErrInvalidKnowledgeBase)
	}
	return nil
}

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - Text must not be empty
//   - KBId must be set
//   - Ordinal must be non-negative
//
// NOT validated (populated by the pipeline before commit):
//   - Vector and Tokens (checked at persist time, not here)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyText)
	}
	if chunk.KBId == 0 {
		return fmt.Errorf("%w: knowledge base id required", ErrInvalidChunk)
	}
	if chunk.Ordinal < 0 {
		return fmt.Errorf("%w: negative ordinal %d", ErrInvalidChunk, chunk.Ordinal)
	}
	return nil
}

// ValidateQAItem validates a QAItem according to domain rules.
func ValidateQAItem(item *QAItem) error {
	if item == nil {
		return fmt.Errorf("%w: item is nil", ErrInvalidQAItem)
	}
	if item.Question == "" {
		return fmt.Errorf("%w: %w", ErrInvalidQAItem, ErrEmptyQuestion)
	}
	if item.Answer == "" {
		return fmt.Errorf("%w: %w", ErrInvalidQAItem, ErrEmptyAnswer)
	}
	if item.ProjectId == 0 {
		return fmt.Errorf("%w: project id required", ErrInvalidQAItem)
	}
	return nil
}

// ValidateTaskState validates that a TaskState has a valid value.
func ValidateTaskState(state TaskState) error {
	switch state {
	case TaskPending, TaskIngesting, TaskSucceeded, TaskFailed:
		return nil
	default:
		return fmt.Errorf("%w: value %d", ErrInvalidTaskState, state)
	}
}

// ValidateTransition validates a task state transition. Terminal states
// admit no outgoing transitions.
func ValidateTransition(from, to TaskState) error {
	if err := ValidateTaskState(from); err != nil {
		return err
	}
	if err := ValidateTaskState(to); err != nil {
		return err
	}
	if from.Terminal() {
		return fmt.Errorf("%w: cannot leave terminal state %s", ErrInvalidTaskState, from)
	}
	if from == TaskIngesting && to == TaskPending {
		return fmt.Errorf("%w: cannot move %s back to %s", ErrInvalidTaskState, from, to)
	}
	return nil
}
