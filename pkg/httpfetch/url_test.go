package httpfetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURLDefaults(t *testing.T) {
	u, err := ParseURL("http://example.com")
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "example.com", u.Host)
	assert.Equal(t, 80, u.Port)
	assert.Equal(t, "/", u.Path)
}

func TestParseURLHTTPSDefaultPort(t *testing.T) {
	u, err := ParseURL("https://example.com/firmware.bin")
	require.NoError(t, err)
	assert.Equal(t, 443, u.Port)
	assert.Equal(t, "/firmware.bin", u.Path)
	assert.True(t, u.UseTLS())
}

func TestParseURLExplicitPort(t *testing.T) {
	u, err := ParseURL("http://host:8080/fw/latest.bin")
	require.NoError(t, err)
	assert.Equal(t, 8080, u.Port)
	assert.Equal(t, "/fw/latest.bin", u.Path)
}

func TestParseURLRejectsOtherSchemes(t *testing.T) {
	_, err := ParseURL("ftp://host/file")
	require.Error(t, err)
}

func TestParseURLRejectsEmptyHost(t *testing.T) {
	_, err := ParseURL("http:///path")
	require.Error(t, err)
}

func TestParseURLRejectsMissingSeparator(t *testing.T) {
	_, err := ParseURL("http:/host/path")
	require.Error(t, err)
}
