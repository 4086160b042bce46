package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInfo(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })

	Version = "1.2.3"
	assert.Equal(t, "balancebot/1.2.3", UserAgent())
	assert.Contains(t, String(), "version: 1.2.3\n")
}
