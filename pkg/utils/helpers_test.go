package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestCalculateMD5(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", CalculateMD5(nil))
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", TextMD5("hello"))
}

func TestConvertArrayToJSON(t *testing.T) {
	assert.Equal(t, datatypes.JSON("[]"), ConvertArrayToJSON(nil))
	assert.Equal(t, datatypes.JSON(`["Go","SQL"]`), ConvertArrayToJSON([]string{"Go", "SQL"}))

	back := ConvertJSONToArray(ConvertArrayToJSON([]string{"Go", "SQL"}))
	assert.Equal(t, []string{"Go", "SQL"}, back)

	assert.Equal(t, []string{}, ConvertJSONToArray(datatypes.JSON("not json")))
	assert.Equal(t, []string{}, ConvertJSONToArray(datatypes.JSON("null")))
	assert.Equal(t, []string{}, ConvertJSONToArray(nil))
}

func TestStringPtr(t *testing.T) {
	assert.Nil(t, StringPtr(""))
	p := StringPtr("Jane")
	require.NotNil(t, p)
	assert.Equal(t, "Jane", *p)
}

func TestFileExtAndTruncate(t *testing.T) {
	assert.Equal(t, ".pdf", FileExt("CV.PDF"))
	assert.Equal(t, "", FileExt("resume"))

	assert.Equal(t, "简历...", Truncate("简历文本", 2))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
