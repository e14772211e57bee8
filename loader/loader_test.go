package loader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/kbase/core"
)

func TestParse_Text(t *testing.T) {
	l := New()
	data := []byte("A short plain text document about storage engines.")

	segments, err := l.Parse("notes.txt", data)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, string(data), segments[0].Text)
	assert.Equal(t, 0, segments[0].Offset)
}

func TestParse_Markdown(t *testing.T) {
	l := New()
	data := []byte("# Heading\n\nSome markdown body text.")

	segments, err := l.Parse("readme.md", data)
	require.NoError(t, err)
	assert.NotEmpty(t, segments)
}

func TestParse_LongTextSplits(t *testing.T) {
	l := New(WithChunkSize(100), WithChunkOverlap(20))

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("sentence number with some padding words here. ")
	}
	segments, err := l.Parse("long.txt", []byte(sb.String()))
	require.NoError(t, err)
	assert.Greater(t, len(segments), 1)

	// Offsets are non-decreasing and in range.
	prev := -1
	runes := []rune(sb.String())
	for _, seg := range segments {
		assert.Greater(t, seg.Offset, prev)
		assert.Less(t, seg.Offset, len(runes))
		prev = seg.Offset
	}
}

func TestParse_CSV(t *testing.T) {
	l := New()
	data := []byte("name,role\nada,engineer\ngrace,admiral\n")

	segments, err := l.Parse("people.csv", data)
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.Equal(t, "name role", segments[0].Text)
	assert.Equal(t, "ada engineer", segments[1].Text)
	assert.Equal(t, "grace admiral", segments[2].Text)
}

func TestParse_CSVMalformed(t *testing.T) {
	l := New()
	data := []byte("a,\"unterminated\n")

	_, err := l.Parse("bad.csv", data)
	assert.ErrorIs(t, err, core.ErrParse)
}

func TestParse_EmptyFile(t *testing.T) {
	l := New()

	_, err := l.Parse("empty.txt", []byte("   \n\t "))
	assert.ErrorIs(t, err, core.ErrParse)
}

func TestParse_UnsupportedFormat(t *testing.T) {
	l := New()

	for _, name := range []string{"report.docx", "sheet.xlsx", "archive.zip", "noext"} {
		_, err := l.Parse(name, []byte("content"))
		assert.ErrorIs(t, err, ErrUnsupportedFormat, name)
	}
}

func TestParse_MalformedPDF(t *testing.T) {
	l := New()

	_, err := l.Parse("broken.pdf", []byte("%PDF-1.4 not actually a pdf"))
	assert.ErrorIs(t, err, core.ErrParse)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "ab", sanitize("a\x00b"))
	assert.Equal(t, "line1\nline2", sanitize("line1\r\nline2"))
}

func TestParse_StripsNULBytes(t *testing.T) {
	l := New()

	segments, err := l.Parse("nul.txt", []byte("before\x00after"))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "beforeafter", segments[0].Text)
}
