package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digest(t *testing.T, body string) string {
	t.Helper()
	sum, err := New().Hash([]byte(body))
	require.NoError(t, err)
	return sum
}

func TestHashKnownDigest(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", digest(t, "hello world"))
	assert.Equal(t, digest(t, ""), digest(t, " \n\t "), "blank pages share one digest")
}

func TestHashIgnoresLayoutWhitespace(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		a, b string
		same bool
	}{
		{"reindented", "<p>\n  Request an appointment\n</p>", "<p> Request an appointment </p>", true},
		{"tabs and crlf", "Call\t(555) 010-2000\r\n", "Call (555) 010-2000", true},
		{"text changed", "<p>Book online</p>", "<p>Book by phone</p>", false},
		{"space removed inside word", "Open Dental", "OpenDental", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.same, digest(t, tc.a) == digest(t, tc.b))
		})
	}
}
