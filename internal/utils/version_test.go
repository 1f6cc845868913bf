package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, CompareVersions("1.0.0", "2.0.0"))
	assert.Equal(t, 1, CompareVersions("2.1.0", "2.0.9"))
	assert.Equal(t, 0, CompareVersions("1.2.3", "1.2.3"))

	// Numeric comparison, not lexical.
	assert.Equal(t, 1, CompareVersions("1.10.0", "1.9.0"))

	// v-prefix is tolerated.
	assert.Equal(t, 0, CompareVersions("v1.2.3", "1.2.3"))

	// Non-semver input falls back to lexical ordering.
	assert.Equal(t, -1, CompareVersions("build-a", "build-b"))
}

func TestValidateVersion(t *testing.T) {
	assert.NoError(t, ValidateVersion("1.2.3"))
	assert.NoError(t, ValidateVersion("v2.0.0"))
	assert.Error(t, ValidateVersion(""))
	assert.Error(t, ValidateVersion("not-a-version"))
	assert.Error(t, ValidateVersion("1.2.3.4.5"))
}
