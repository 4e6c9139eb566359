package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	v, sha, bt := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = v, sha, bt })

	Version, GitSHA, BuildTime = "1.2.0", "0123456789abcdef", "2026-03-01T09:00:00Z"
	assert.Equal(t, "rover 1.2.0 (0123456, built 2026-03-01T09:00:00Z)", String())
	assert.Equal(t, Info{Version: "1.2.0", GitSHA: "0123456789abcdef", BuildTime: "2026-03-01T09:00:00Z"}, Current())

	GitSHA = "abc"
	assert.Contains(t, String(), "(abc,")
}
