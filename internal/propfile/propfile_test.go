package propfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrevell/slotstream/internal/errs"
)

func TestParse(t *testing.T) {
	props, err := Parse([]byte("A=1\nB=2\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, props)
}

func TestParse_EmptyValueAndBlankLines(t *testing.T) {
	props, err := Parse([]byte("FILE_HASH=abc\n\nSWITCH_SLOT_ON_REBOOT=\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"FILE_HASH":             "abc",
		"SWITCH_SLOT_ON_REBOOT": "",
	}, props)
}

func TestParse_DuplicateKey(t *testing.T) {
	_, err := Parse([]byte("A=1\nA=2\n"))
	require.Error(t, err)
	assert.Equal(t, errs.KindFormat, errs.KindOf(err))
	assert.Contains(t, err.Error(), "duplicate")
}

func TestParse_MissingDelimiter(t *testing.T) {
	_, err := Parse([]byte("BAD\n"))
	require.Error(t, err)
	assert.Equal(t, errs.KindFormat, errs.KindOf(err))
	assert.Contains(t, err.Error(), "delimiter")
}

func TestFormat_SortedPairs(t *testing.T) {
	pairs := Format(map[string]string{"USER_AGENT": "x", "AUTHORIZATION": "y"})
	assert.Equal(t, []string{"AUTHORIZATION=y", "USER_AGENT=x"}, pairs)
}

func TestMerge_ExtraWins(t *testing.T) {
	base := map[string]string{"RUN_POST_INSTALL": "1", "FILE_SIZE": "10"}
	out := Merge(base, map[string]string{"RUN_POST_INSTALL": "0"})
	assert.Equal(t, "0", out["RUN_POST_INSTALL"])
	assert.Equal(t, "10", out["FILE_SIZE"])
	assert.Equal(t, "1", base["RUN_POST_INSTALL"])
}
