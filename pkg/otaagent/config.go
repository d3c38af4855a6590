package otaagent

import (
	"bytes"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/maxabba/Ota-mqtt-http/pkg/httpfetch"
)

// OtaConfig is the immutable-after-Start configuration record of spec
// §3. Defaults match the table there.
type OtaConfig struct {
	CheckInterval       time.Duration
	DownloadTimeout     time.Duration
	MaxRetries          int
	EnableRollback      bool
	VerifyChecksum      bool
	CurrentVersion      string
	ChunkSize           int
	YieldInterval       time.Duration
	MqttConnectTimeout  time.Duration

	// DownloadTLS is the trust material the downloader's HTTPS dialer
	// uses for firmware origins — the same CA/client-certificate blobs
	// ControlChannel validates and shares over per spec §6.
	DownloadTLS httpfetch.TLSConfig
}

// DefaultConfig returns an OtaConfig populated with the defaults from
// spec §3, the way pkg/config.NewConfig seeds its own defaults.
func DefaultConfig() OtaConfig {
	return OtaConfig{
		CheckInterval:      30 * time.Second,
		DownloadTimeout:    60 * time.Second,
		MaxRetries:         3,
		EnableRollback:     true,
		VerifyChecksum:     true,
		CurrentVersion:     "1.0.0",
		ChunkSize:          512,
		YieldInterval:      50 * time.Millisecond,
		MqttConnectTimeout: 15 * time.Second,
	}
}

// Validate rejects an OtaConfig that cannot be operated on safely.
// CurrentVersion is checked with a strict semver parser at this
// boundary — the lenient triple extraction spec §6 mandates for
// announcement version comparison is intentionally not used here; see
// DESIGN.md for why the two need different parsers.
func (c OtaConfig) Validate() error {
	if _, err := semver.NewVersion(c.CurrentVersion); err != nil {
		return fmt.Errorf("invalid currentVersion %q: %w", c.CurrentVersion, err)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunkSize must be >= 1, got %d", c.ChunkSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0, got %d", c.MaxRetries)
	}
	if c.DownloadTimeout < 0 {
		return fmt.Errorf("downloadTimeout must be >= 0")
	}
	if len(c.DownloadTLS.CACert) > 0 {
		if err := validatePEMCertificate(c.DownloadTLS.CACert); err != nil {
			return fmt.Errorf("downloadTLS CA cert: %w", err)
		}
	}
	if len(c.DownloadTLS.ClientCert) > 0 {
		if err := validatePEMCertificate(c.DownloadTLS.ClientCert); err != nil {
			return fmt.Errorf("downloadTLS client cert: %w", err)
		}
	}
	return nil
}

const (
	pemCertBegin = "-----BEGIN CERTIFICATE-----"
	pemCertEnd   = "-----END CERTIFICATE-----"
)

// validatePEMCertificate enforces spec §6's certificate-material rule:
// the blob must begin with the PEM certificate header and end with the
// matching footer (optionally followed by a trailing newline).
func validatePEMCertificate(pemBlob []byte) error {
	trimmed := bytes.TrimRight(pemBlob, "\r\n")
	if !bytes.HasPrefix(trimmed, []byte(pemCertBegin)) {
		return fmt.Errorf("certificate does not begin with %s", pemCertBegin)
	}
	if !bytes.HasSuffix(trimmed, []byte(pemCertEnd)) {
		return fmt.Errorf("certificate does not end with %s", pemCertEnd)
	}
	return nil
}
