package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	assert.True(t, IsVersionGreaterThan("0.2.0", "0.1.9"))
	assert.False(t, IsVersionGreaterThan("0.1.0", "0.1.0"))
	assert.True(t, IsVersionGreaterOrEqualThan("v0.1.0", "0.1.0"))
	assert.False(t, IsVersionGreaterOrEqualThan("0.1.9", "0.2.0"))
}

func TestSort(t *testing.T) {
	versions := []string{"0.10.0", "0.2.0", "0.1.1"}
	Sort(versions)
	assert.Equal(t, []string{"0.1.1", "0.2.0", "0.10.0"}, versions)
}

func TestString(t *testing.T) {
	old := GitCommit
	t.Cleanup(func() { GitCommit = old })

	GitCommit = "unknown"
	assert.Equal(t, Version, String())

	GitCommit = "0123456789abcdef"
	assert.Equal(t, Version+"-01234567", String())
}
