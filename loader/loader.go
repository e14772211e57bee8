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


package loader

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/poiesic/kbase/core"
)

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 200
)

// ErrUnsupportedFormat indicates a file extension the loader cannot parse.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Segment is one contiguous piece of a parsed document: the split text
// plus its rune offset in the extracted source text.
type Segment struct {
	Text   string
	Offset int
}

// Loader turns uploaded file bytes into text segments ready for
// embedding and indexing.
type Loader struct {
	chunkSize    int
	chunkOverlap int
}

// Option is a functional option for configuring a Loader.
type Option func(*Loader)

// WithChunkSize sets the target segment size in characters.
func WithChunkSize(size int) Option {
	return func(l *Loader) {
		l.chunkSize = size
	}
}

// WithChunkOverlap sets the overlap between adjacent segments.
func WithChunkOverlap(overlap int) Option {
	return func(l *Loader) {
		l.chunkOverlap = overlap
	}
}

// New creates a Loader with default chunking parameters.
func New(opts ...Option) *Loader {
	l := &Loader{
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Supported reports whether the loader can parse a file, judged by
// extension. Callers reject unsupported uploads before queueing work.
func Supported(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf", ".csv", ".txt", ".md", ".markdown":
		return true
	default:
		return false
	}
}

// Parse extracts text from data and splits it into segments. The
// parser is chosen by file extension. Parse failures and files that
// yield no text wrap core.ErrParse; unknown extensions wrap
// ErrUnsupportedFormat.
func (l *Loader) Parse(fileName string, data []byte) ([]Segment, error) {
	ext := strings.ToLower(filepath.Ext(fileName))

	var text string
	var err error
	switch ext {
	case ".pdf":
		text, err = extractPDF(data)
	case ".csv":
		return l.parseCSV(data)
	case ".txt", ".md", ".markdown":
		text = string(data)
	case ".docx", ".doc", ".xlsx", ".xls":
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrParse, err)
	}

	return l.split(sanitize(text))
}

// split runs the recursive character splitter and locates each piece's
// offset in the source text.
func (l *Loader) split(text string) ([]Segment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: no text extracted", core.ErrParse)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(l.chunkSize),
		textsplitter.WithChunkOverlap(l.chunkOverlap),
	)
	pieces, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrParse, err)
	}

	segments := make([]Segment, 0, len(pieces))
	cursor := 0
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		// Overlapping pieces share prefixes, so search from just past
		// the previous segment's start.
		idx := strings.Index(text[cursor:], piece)
		offset := cursor
		if idx >= 0 {
			offset = cursor + idx
			cursor = offset + 1
		}
		segments = append(segments, Segment{
			Text:   piece,
			Offset: len([]rune(text[:offset])),
		})
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no text extracted", core.ErrParse)
	}
	return segments, nil
}

// parseCSV treats each row as one segment, joining cells with spaces.
// Rows keep their own boundaries instead of passing through the
// splitter, so a row's fields are never separated.
func (l *Loader) parseCSV(data []byte) ([]Segment, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	var segments []Segment
	offset := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrParse, err)
		}
		text := sanitize(strings.TrimSpace(strings.Join(row, " ")))
		if text == "" {
			continue
		}
		segments = append(segments, Segment{Text: text, Offset: offset})
		offset += len([]rune(text)) + 1
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no text extracted", core.ErrParse)
	}
	return segments, nil
}

// extractPDF pulls plain text out of a PDF. The underlying reader
// panics on some malformed files, so recover turns that into an error.
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panicked: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// sanitize strips NUL bytes and normalizes line endings. NUL bytes in
// indexed text break downstream storage and terminal output.
func sanitize(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return text
}
