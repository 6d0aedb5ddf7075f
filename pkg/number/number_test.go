package number

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+918044319240", "08044319240"},
		{"918044319240", "08044319240"},
		{"8044319240", "08044319240"},
		{"08044319240", "08044319240"},
		{"+91 80 4431 9240", "08044319240"},
		{"(080) 4431-9240", "08044319240"},
		{"9123456789", "09123456789"},
		{"123", "0123"},
		{"", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.in))
		})
	}
}

func TestFormat_Idempotent(t *testing.T) {
	for _, in := range []string{"+918044319240", "8044319240", "9123456789", "0", "123", "+1 (415) 555-0100"} {
		once := Format(in)
		assert.Equal(t, once, Format(once), "input %q", in)
	}
}
