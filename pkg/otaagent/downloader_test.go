package otaagent

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxabba/Ota-mqtt-http/pkg/flash"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func runToCompletion(t *testing.T, d *Downloader, maxSteps int) {
	t.Helper()
	now := time.Unix(0, 0)
	for i := 0; i < maxSteps; i++ {
		if d.State() == DownloadComplete || d.State() == DownloadFailed {
			return
		}
		d.Step(now)
		now = now.Add(10 * time.Millisecond)
	}
	t.Fatalf("downloader did not reach a terminal state within %d steps (state=%v)", maxSteps, d.State())
}

func TestDownloaderHappyPath(t *testing.T) {
	body := []byte("this is a firmware image, pretend it is much bigger")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	sink := flash.NewMemorySink()
	d := NewDownloader(nil)

	var progressCalls []int
	d.OnProgress(func(p int) { progressCalls = append(progressCalls, p) })

	req := DownloadRequest{
		URL:       "http://" + srv.Listener.Addr().String() + "/fw.bin",
		Checksum:  sha256Hex(body),
		Sink:      sink,
		ChunkSize: 4,
		Timeout:   5 * time.Second,
	}
	require.NoError(t, d.Start(time.Unix(0, 0), req))

	runToCompletion(t, d, 1000)

	assert.Equal(t, DownloadComplete, d.State())
	assert.Equal(t, body, sink.Data)
	assert.False(t, sink.Committed()) // Downloader never calls Finalize; that's Installer's job
	if len(progressCalls) > 0 {
		assert.Equal(t, 100, progressCalls[len(progressCalls)-1])
	}
}

func TestDownloaderChecksumMismatchAbortsSink(t *testing.T) {
	body := []byte("firmware bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	sink := flash.NewMemorySink()
	d := NewDownloader(nil)
	req := DownloadRequest{
		URL:      "http://" + srv.Listener.Addr().String() + "/fw.bin",
		Checksum: "0000000000000000000000000000000000000000000000000000000000000000",
		Sink:     sink,
		Timeout:  5 * time.Second,
	}
	require.NoError(t, d.Start(time.Unix(0, 0), req))
	runToCompletion(t, d, 1000)

	assert.Equal(t, DownloadFailed, d.State())
	require.Error(t, d.LastError())
	var otaErr *Error
	require.ErrorAs(t, d.LastError(), &otaErr)
	assert.Equal(t, KindChecksumMismatch, otaErr.Kind)
	assert.Equal(t, 1, sink.AbortCalls)
}

func TestDownloaderEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := flash.NewMemorySink()
	d := NewDownloader(nil)
	req := DownloadRequest{
		URL:      "http://" + srv.Listener.Addr().String() + "/fw.bin",
		Checksum: "irrelevant",
		Sink:     sink,
		Timeout:  5 * time.Second,
	}
	require.NoError(t, d.Start(time.Unix(0, 0), req))
	runToCompletion(t, d, 1000)

	assert.Equal(t, DownloadFailed, d.State())
	var otaErr *Error
	require.ErrorAs(t, d.LastError(), &otaErr)
	assert.Equal(t, KindEmptyResponse, otaErr.Kind)
}

func TestDownloaderBadURL(t *testing.T) {
	sink := flash.NewMemorySink()
	d := NewDownloader(nil)
	err := d.Start(time.Unix(0, 0), DownloadRequest{URL: "ftp://host/fw.bin", Sink: sink})
	require.Error(t, err)
	var otaErr *Error
	require.ErrorAs(t, err, &otaErr)
	assert.Equal(t, KindBadURL, otaErr.Kind)
}

func TestDownloaderTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ab"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-block
	}))
	defer srv.Close()
	defer close(block)

	sink := flash.NewMemorySink()
	d := NewDownloader(nil)
	req := DownloadRequest{
		URL:      "http://" + srv.Listener.Addr().String() + "/fw.bin",
		Checksum: "irrelevant",
		Sink:     sink,
		Timeout:  1 * time.Millisecond,
	}
	require.NoError(t, d.Start(time.Unix(0, 0), req))

	now := time.Unix(0, 0)
	d.Step(now)
	d.Step(now.Add(2 * time.Millisecond))

	assert.Equal(t, DownloadFailed, d.State())
	var otaErr *Error
	require.ErrorAs(t, d.LastError(), &otaErr)
	assert.Equal(t, KindTimeout, otaErr.Kind)
}

func TestDownloaderZeroTimeoutFailsOnFirstStep(t *testing.T) {
	body := []byte("firmware bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	sink := flash.NewMemorySink()
	d := NewDownloader(nil)
	req := DownloadRequest{
		URL:      "http://" + srv.Listener.Addr().String() + "/fw.bin",
		Checksum: sha256Hex(body),
		Sink:     sink,
		Timeout:  0,
	}
	require.NoError(t, d.Start(time.Unix(0, 0), req))
	d.Step(time.Unix(0, 0))

	assert.Equal(t, DownloadFailed, d.State())
	var otaErr *Error
	require.ErrorAs(t, d.LastError(), &otaErr)
	assert.Equal(t, KindTimeout, otaErr.Kind)
}

func TestDownloaderResetIsIdempotent(t *testing.T) {
	d := NewDownloader(nil)
	d.Reset()
	d.Reset()
	assert.Equal(t, DownloadIdle, d.State())
}
