package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	t.Run("Should reflect the build variables", func(t *testing.T) {
		orig := Get()
		t.Cleanup(func() { Version, CommitHash, BuildDate = orig.Version, orig.CommitHash, orig.BuildDate })
		Version, CommitHash, BuildDate = "v0.3.0", "abc123", "2025-01-01"
		info := Get()
		assert.Equal(t, Info{Version: "v0.3.0", CommitHash: "abc123", BuildDate: "2025-01-01"}, info)
		assert.Equal(t, "v0.3.0 (commit abc123, built 2025-01-01)", info.String())
	})
}
