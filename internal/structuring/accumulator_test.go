package structuring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegment(t *testing.T) {
	text := "John Doe\nA short summary\nSkills\n- Go\nExperience\n  Acme Corp\nSKILLS\n* SQL"

	seg := DefaultRegistry().Segment(text)

	assert.Equal(t, "- Go\n* SQL\n", seg.Buffer(SectionSkills))
	assert.Equal(t, "  Acme Corp\n", seg.Buffer(SectionExperience), "行首空白保持原样")
	assert.Equal(t, 2, seg.Unattributed)

	require.Len(t, seg.Headers, 3)
	assert.Equal(t, HeaderHit{LineNo: 3, Keyword: "skills", Section: SectionSkills}, seg.Headers[0])
	assert.Equal(t, HeaderHit{LineNo: 7, Keyword: "skills", Section: SectionSkills}, seg.Headers[2])

	_, ok := seg.Buffers[SectionEducation]
	assert.False(t, ok, "未出现的章节不应有缓冲区")
}

func TestSegmentRepeatedHeaderIsDiscarded(t *testing.T) {
	seg := DefaultRegistry().Segment("Projects\nalpha\nProjects\nbeta\n")

	assert.Equal(t, "alpha\nbeta\n\n", seg.Buffer(SectionProjects))
	assert.Equal(t, 0, seg.Unattributed)
}

func TestSegmentWithoutHeaders(t *testing.T) {
	seg := DefaultRegistry().Segment("line one\nline two")

	assert.Empty(t, seg.Buffers)
	assert.Empty(t, seg.Headers)
	assert.Equal(t, 2, seg.Unattributed)
}
