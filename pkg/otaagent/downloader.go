package otaagent

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maxabba/Ota-mqtt-http/pkg/flash"
	"github.com/maxabba/Ota-mqtt-http/pkg/httpfetch"
)

// headerTimeout is spec §4.3's fixed 5s sub-timeout for the header-read
// phase, independent of the overall downloadTimeout.
const headerTimeout = 5 * time.Second

// ProgressCallback mirrors the progress side of onStatusUpdate: called
// with 0-100 whenever totalBytes is known and downloadedBytes advances
// past a new percentage point.
type ProgressCallback func(percent int)

// DownloadRequest is what the Agent hands the Downloader to begin an
// attempt: the URL to fetch, the expected checksum to verify against,
// and the sink to stream into.
type DownloadRequest struct {
	URL       string
	Checksum  string
	Sink      flash.Sink
	TLS       httpfetch.TLSConfig
	ChunkSize int
	Timeout   time.Duration
}

// Downloader implements spec §4.3: a chunked HTTP(S) client bound to a
// flash sink and a streaming hasher, advancing at most one chunkSize
// read per Step. Grounded on SimpleDownloader's Download/Verify shape
// (pkg/framework/plugins/ota/downloader.go) and pkg/ota/ota.go's manual
// buffered-read loop, adapted from "read everything, then verify" to a
// state machine that can be stepped incrementally.
type Downloader struct {
	logger *logrus.Entry

	state DownloadState
	req   DownloadRequest

	client *httpfetch.Client
	hasher interface {
		Write(p []byte) (int, error)
		Sum(b []byte) []byte
	}

	startTime       time.Time
	downloadedBytes int64
	totalBytes      int64
	lastPercent     int

	attemptID string
	lastErr   error

	onProgress ProgressCallback
}

func NewDownloader(logger *logrus.Entry) *Downloader {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Downloader{logger: logger, state: DownloadIdle}
}

func (d *Downloader) OnProgress(cb ProgressCallback) {
	d.onProgress = cb
}

func (d *Downloader) State() DownloadState {
	return d.state
}

func (d *Downloader) LastError() error {
	return d.lastErr
}

// LastSink returns the sink used by the most recent attempt. Valid
// after Start until the next Reset — the Agent reads it once the
// download reaches Complete, to hand it to the Installer.
func (d *Downloader) LastSink() flash.Sink {
	return d.req.Sink
}

// Start begins a new attempt: opens the URL, sends the request, reads
// headers under the fixed header timeout, and opens the sink. It is the
// one place besides mqtt connect where a bounded blocking call is made
// (the header read); the body itself streams one chunk per Step.
func (d *Downloader) Start(now time.Time, req DownloadRequest) error {
	if d.state != DownloadIdle {
		return newError(KindNotReady, "downloader busy")
	}
	u, err := httpfetch.ParseURL(req.URL)
	if err != nil {
		return wrapError(KindBadURL, "invalid firmware url", err)
	}

	d.req = req
	d.attemptID = uuid.NewString()
	entry := d.logger.WithField("attempt", d.attemptID)

	d.state = DownloadConnecting

	dialTimeout := headerTimeout
	client, err := httpfetch.Dial(u, req.TLS, headerTimeout, dialTimeout)
	if err != nil {
		entry.WithError(err).Warn("download connect failed")
		d.state = DownloadIdle
		return wrapError(KindNetworkFailure, "connect to firmware origin failed", err)
	}
	if client.Chunked() {
		client.Close()
		d.state = DownloadIdle
		return newError(KindUnsupportedEncoding, "chunked transfer-encoding not supported")
	}

	d.client = client
	d.hasher = sha256.New()
	d.startTime = now
	d.downloadedBytes = 0
	d.totalBytes = client.ContentLength()
	if d.totalBytes < 0 {
		d.totalBytes = 0
	}
	d.lastPercent = -1
	d.lastErr = nil

	if err := req.Sink.Begin(int(d.totalBytes)); err != nil {
		client.Close()
		d.state = DownloadIdle
		return wrapError(KindFlashError, "flash sink begin failed", err)
	}

	d.state = DownloadDownloading
	entry.WithField("total_bytes", d.totalBytes).Debug("download started")
	return nil
}

// Step advances the download by at most one chunkSize read, per spec
// §4.3's per-step contract. now is the caller's clock, so tests can
// drive timeouts deterministically.
func (d *Downloader) Step(now time.Time) {
	switch d.state {
	case DownloadDownloading:
		d.stepDownloading(now)
	case DownloadVerifying:
		d.stepVerifying()
	}
}

func (d *Downloader) stepDownloading(now time.Time) {
	if now.Sub(d.startTime) >= d.req.Timeout {
		d.fail(newError(KindTimeout, "download exceeded timeout"))
		return
	}

	chunkSize := d.req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 512
	}
	buf := make([]byte, chunkSize)
	n, closed, err := d.client.ReadChunk(buf)
	if err != nil {
		d.fail(wrapError(KindNetworkFailure, "socket closed unexpectedly during body", err))
		return
	}

	if n > 0 {
		d.hasher.Write(buf[:n])
		if werr := d.req.Sink.Write(buf[:n]); werr != nil {
			d.fail(wrapError(KindFlashError, "flash write failed", werr))
			return
		}
		d.downloadedBytes += int64(n)
		d.reportProgress()
	}

	if closed {
		if d.downloadedBytes == 0 {
			d.fail(newError(KindEmptyResponse, "server closed connection with no body"))
			return
		}
		if d.totalBytes == 0 || d.downloadedBytes == d.totalBytes {
			d.enterVerifying()
			return
		}
		d.fail(newError(KindNetworkFailure, "connection closed before content-length was reached"))
		return
	}

	if d.totalBytes > 0 && d.downloadedBytes >= d.totalBytes {
		d.enterVerifying()
	}
}

func (d *Downloader) reportProgress() {
	if d.totalBytes <= 0 || d.onProgress == nil {
		return
	}
	percent := int(100 * d.downloadedBytes / d.totalBytes)
	if percent > 100 {
		percent = 100
	}
	if percent != d.lastPercent {
		d.lastPercent = percent
		d.onProgress(percent)
	}
}

func (d *Downloader) enterVerifying() {
	d.state = DownloadVerifying
}

func (d *Downloader) stepVerifying() {
	digest := hex.EncodeToString(d.hasher.Sum(nil))
	if !strings.EqualFold(digest, d.req.Checksum) {
		d.logger.WithFields(logrus.Fields{
			"attempt":  d.attemptID,
			"expected": d.req.Checksum,
			"actual":   digest,
		}).Warn("checksum mismatch")
		// fail aborts the sink, so the unverified partition is never armed.
		d.fail(newError(KindChecksumMismatch, "firmware checksum mismatch"))
		return
	}
	d.cleanup()
	d.state = DownloadComplete
}

func (d *Downloader) fail(err *Error) {
	d.lastErr = err
	if d.req.Sink != nil {
		if abortErr := d.req.Sink.Abort(); abortErr != nil {
			d.logger.WithError(abortErr).Warn("sink abort failed during cleanup")
		}
	}
	d.cleanup()
	d.state = DownloadFailed
}

// cleanup is guaranteed on every exit from Downloading/Verifying/Failed
// and is idempotent (spec §4.3).
func (d *Downloader) cleanup() {
	if d.client != nil {
		d.client.Close()
		d.client = nil
	}
	d.hasher = nil
}

// Reset returns the downloader to Idle, aborting any in-flight sink.
// Idempotent.
func (d *Downloader) Reset() {
	if d.state == DownloadDownloading || d.state == DownloadVerifying {
		if d.req.Sink != nil {
			d.req.Sink.Abort()
		}
	}
	d.cleanup()
	d.state = DownloadIdle
	d.lastErr = nil
}
