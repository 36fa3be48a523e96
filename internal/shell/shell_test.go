package shell

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExec_Command_Plain(t *testing.T) {
	e := NewExec(false)
	cmd := e.command(context.Background(), "getprop", "ro.product.device")
	assert.Equal(t, []string{"getprop", "ro.product.device"}, cmd.Args)
}

func TestExec_Command_ElevatedPreservesArguments(t *testing.T) {
	e := NewExec(true)

	// A pipeline script handed over as one sh -c argument must stay one
	// word after su re-parses the joined command line.
	script := `printf '\x03' | dd of=/dev/block/by-name/vbmeta_b seek=123 conv=notrunc`
	cmd := e.command(context.Background(), "sh", "-c", script)

	require.Len(t, cmd.Args, 3)
	assert.Equal(t, "su", cmd.Args[0])
	assert.Equal(t, "-c", cmd.Args[1])

	joined := cmd.Args[2]
	assert.True(t, strings.HasPrefix(joined, "sh -c '"), "script must be quoted, got %q", joined)
	assert.True(t, strings.HasSuffix(joined, "'"), "script must be quoted, got %q", joined)

	// The script's own single quotes survive as '\'' sequences.
	assert.Contains(t, joined, `printf '\''\x03'\''`)
}

func TestQuoteArg(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "dd", want: "dd"},
		{in: "of=/dev/block/by-name/vbmeta_b", want: "'of=/dev/block/by-name/vbmeta_b'"},
		{in: "two words", want: "'two words'"},
		{in: "", want: "''"},
		{in: "it's", want: `'it'\''s'`},
		{in: "a|b", want: "'a|b'"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, quoteArg(tt.in), "input %q", tt.in)
	}
}

func TestExec_OutputFoldsStderr(t *testing.T) {
	e := NewExec(false)
	_, err := e.Output(context.Background(), "sh", "-c", "echo oops >&2; exit 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")
}
