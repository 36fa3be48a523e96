package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindTransfer, "status %d", 503)
	assert.Equal(t, KindTransfer, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))

	wrapped := fmt.Errorf("fetch failed: %w", err)
	assert.Equal(t, KindTransfer, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, Transfer))
	assert.False(t, errors.Is(wrapped, Format))
}

func TestChain(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "single classified",
			err:  New(KindFormat, "no EOCD signature"),
			want: "FormatError (no EOCD signature)",
		},
		{
			name: "classified over classified",
			err: Wrap(KindValidation, New(KindFormat, "bad record"),
				"metadata unreadable"),
			want: "ValidationError (metadata unreadable) -> FormatError (bad record)",
		},
		{
			name: "plain link in the middle",
			err: Wrap(KindTransfer,
				fmt.Errorf("read body: %w", errors.New("connection reset")),
				"range fetch"),
			want: "TransferError (range fetch) -> read body -> connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Chain(tt.err))
		})
	}
}
