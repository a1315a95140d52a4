package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRevision(t *testing.T) {
	rev, err := ParseRevision("3-abc")
	require.NoError(t, err)
	assert.Equal(t, Revision{Index: 3, Hash: "abc"}, rev)
	assert.Equal(t, "3-abc", rev.String())
}

func TestParseRevisionMalformed(t *testing.T) {
	cases := []string{"", "abc", "3-", "-abc", "3"}
	for _, c := range cases {
		_, err := ParseRevision(c)
		assert.Error(t, err, "expected error for %q", c)
	}
}
