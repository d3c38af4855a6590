package otaagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVersionLenient(t *testing.T) {
	cases := []struct {
		in   string
		want versionTriple
	}{
		{"1.2.3", versionTriple{1, 2, 3}},
		{"1.2", versionTriple{1, 2, 0}},
		{"1", versionTriple{1, 0, 0}},
		{"", versionTriple{0, 0, 0}},
		{"1.2.3-rc1", versionTriple{1, 2, 31}}, // every digit in the component is kept
		{"v1.2.3", versionTriple{1, 2, 3}},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, parseVersion(c.in), "parseVersion(%q)", c.in)
	}
}

func TestCompareVersionsBoundary(t *testing.T) {
	assert.Equal(t, 0, compareVersions("1.2", "1.2.0"))
	assert.Equal(t, 0, compareVersions("1.0.0", "1.0.0"))
	assert.Equal(t, -1, compareVersions("1.0.0", "1.0.1"))
	assert.Equal(t, 1, compareVersions("2.0.0", "1.9.9"))
}

func TestCompareVersionsAntisymmetric(t *testing.T) {
	pairs := [][2]string{
		{"1.0.0", "1.0.1"},
		{"2.0.0", "1.0.0"},
		{"1.2.3", "1.2.3"},
		{"0.9.9", "1.0.0"},
	}
	for _, p := range pairs {
		assert.Equal(t, -compareVersions(p[1], p[0]), compareVersions(p[0], p[1]))
	}
}

func TestCompareVersionsReflexive(t *testing.T) {
	versions := []string{"1.0.0", "0.0.0", "9.9.9", "1.2"}
	for _, v := range versions {
		assert.Equal(t, 0, compareVersions(v, v))
	}
}

func TestIsNewerVersion(t *testing.T) {
	assert.True(t, isNewerVersion("1.0.1", "1.0.0"))
	assert.False(t, isNewerVersion("0.9.9", "1.0.0"))
	assert.False(t, isNewerVersion("1.0.0", "1.0.0"))
}
