package otaagent

import (
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"

	"github.com/maxabba/Ota-mqtt-http/pkg/flash"
)

// SinkFactory produces a fresh flash.Sink for a download attempt. The
// core does not own partition storage (spec §1); the host supplies one.
type SinkFactory func() flash.Sink

// Agent is the top-level orchestrator of spec §4.1: owns OtaStatus,
// PendingUpdate, and retryCount, and dispatches each Step to
// ControlChannel, Downloader, and Installer in the fixed order the
// original's loop() enforces. Grounded on
// pkg/framework/plugins/ota/manager.go's ManagerImpl (Start/status
// field ownership) generalized to a single-threaded, non-blocking
// Step() per spec §5, rather than the teacher's goroutine-driven
// runtime.
type Agent struct {
	logger *logrus.Entry
	cfg    OtaConfig

	controlChannel *ControlChannel
	downloader     *Downloader
	installer      *Installer
	newSink        SinkFactory

	linkUp bool

	status         OtaStatus
	pending        *PendingUpdate
	retryCount     int
	currentVersion string
	lastSelfCheck  time.Time
	started        bool

	statusCallback StatusCallback
	errorCallback  ErrorCallback
}

// NewAgent wires the three sub-machines. cc, dl, and inst must already
// be constructed against their own transports/sinks/rebooters.
func NewAgent(cfg OtaConfig, cc *ControlChannel, dl *Downloader, inst *Installer, newSink SinkFactory, logger *logrus.Entry) *Agent {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	a := &Agent{
		logger:         logger,
		cfg:            cfg,
		controlChannel: cc,
		downloader:     dl,
		installer:      inst,
		newSink:        newSink,
		status:         StatusIdle,
		currentVersion: cfg.CurrentVersion,
	}
	cc.OnAnnouncement(a.handleAnnouncement)
	dl.OnProgress(a.handleProgress)
	return a
}

func (a *Agent) OnStatusUpdate(cb StatusCallback) { a.statusCallback = cb }
func (a *Agent) OnError(cb ErrorCallback)         { a.errorCallback = cb }

func (a *Agent) Status() OtaStatus            { return a.status }
func (a *Agent) CurrentVersion() string       { return a.currentVersion }
func (a *Agent) IsUpdateInProgress() bool     { return a.status != StatusIdle && a.status != StatusError }
func (a *Agent) PendingVersion() string {
	if a.pending == nil {
		return ""
	}
	return a.pending.Version
}
func (a *Agent) LastCheck() time.Time { return a.lastSelfCheck }

// SetLinkUp reports the link-layer state the host owns (spec §1's
// "link is up / link is down" contract).
func (a *Agent) SetLinkUp(up bool) { a.linkUp = up }

// Start requires link-up and a control channel configured with a broker
// host, and marks the agent ready to Step. Fails with NotReady
// otherwise. Sub-machine callbacks are installed earlier, by NewAgent.
func (a *Agent) Start() error {
	if !a.linkUp {
		return newError(KindNotReady, "link is down")
	}
	if a.controlChannel.cfg.Host == "" {
		return newError(KindNotReady, "control channel endpoint not configured")
	}
	a.started = true
	a.lastSelfCheck = time.Time{}
	a.logger.WithField("current_version", a.currentVersion).Info("ota agent started")
	return nil
}

// ForceUpdate bypasses announcement parsing (spec §4.1). Fails with
// Busy if status != Idle, or BadVersion if version is not a strict
// semver string — the same API-boundary check OtaConfig.CurrentVersion
// gets in config.go, since a caller invoking ForceUpdate directly
// bypasses the lenient triple parser announcements go through.
func (a *Agent) ForceUpdate(version, url, checksum string) error {
	if a.status != StatusIdle {
		return newError(KindBusy, "update already in progress")
	}
	if _, err := semver.NewVersion(version); err != nil {
		return wrapError(KindBadVersion, "invalid forceUpdate version", err)
	}
	a.beginUpdate(version, url, checksum)
	return nil
}

// Reset is an unconditional cancellation (spec §5): aborts any
// in-flight download, clears PendingUpdate, and returns to Idle.
func (a *Agent) Reset() {
	a.downloader.Reset()
	a.pending = nil
	a.retryCount = 0
	a.setStatus(StatusIdle, 0)
}

func (a *Agent) handleAnnouncement(ann *UpdateAnnouncement) {
	if a.status != StatusIdle {
		a.logger.WithField("version", ann.Version).Warn("discarding announcement: agent busy")
		return
	}
	if !isNewerVersion(ann.Version, a.currentVersion) {
		a.logger.WithField("version", ann.Version).Debug("announcement is not newer than current version")
		return
	}
	a.beginUpdate(ann.Version, ann.FirmwareURL, ann.Checksum)
}

func (a *Agent) beginUpdate(version, url, checksum string) {
	a.pending = &PendingUpdate{Version: version, URL: url, Checksum: checksum}
	a.retryCount = 0
	a.setStatus(StatusDownloading, 0)
}

func (a *Agent) handleProgress(percent int) {
	a.emitStatus(percent)
}

// Step performs, in order, the four actions spec §4.1 mandates: link
// check, control-channel tick, periodic self-check pulse, and download
// progression.
func (a *Agent) Step(now time.Time) {
	if !a.started {
		return
	}
	if !a.linkUp {
		a.controlChannel.Teardown()
		if a.status == StatusDownloading {
			a.downloader.Reset()
		}
		return
	}

	a.controlChannel.Tick(now)

	if a.cfg.CheckInterval > 0 && now.Sub(a.lastSelfCheck) >= a.cfg.CheckInterval {
		a.lastSelfCheck = now
		a.pulseSelfCheck()
	}

	switch a.status {
	case StatusDownloading:
		a.stepDownloading(now)
	case StatusRollback:
		if a.installer.Step(now) {
			// Reboot has been requested; nothing further for this run.
		}
	}
}

// pulseSelfCheck is a pure status observation, per spec §9's resolved
// open question: updates arrive by push, so this never itself queries
// the network.
func (a *Agent) pulseSelfCheck() {
	if a.status != StatusIdle {
		return
	}
	a.setStatus(StatusChecking, 0)
	a.setStatus(StatusIdle, 0)
}

func (a *Agent) stepDownloading(now time.Time) {
	if a.downloader.State() == DownloadIdle {
		a.startDownloadAttempt(now)
		return
	}
	a.downloader.Step(now)

	switch a.downloader.State() {
	case DownloadComplete:
		a.handleDownloadComplete(now)
	case DownloadFailed:
		a.handleDownloadFailed()
	}
}

func (a *Agent) startDownloadAttempt(now time.Time) {
	if a.pending == nil {
		a.setStatus(StatusIdle, 0)
		return
	}
	sink := a.newSink()
	err := a.downloader.Start(now, DownloadRequest{
		URL:       a.pending.URL,
		Checksum:  a.pending.Checksum,
		Sink:      sink,
		TLS:       a.cfg.DownloadTLS,
		ChunkSize: a.cfg.ChunkSize,
		Timeout:   a.cfg.DownloadTimeout,
	})
	if err != nil {
		a.reportError(err)
		a.registerAttemptFailure(err)
	}
}

func (a *Agent) handleDownloadComplete(now time.Time) {
	a.setStatus(StatusInstalling, 100)

	sink := a.downloader.LastSink()
	if err := a.installer.Finalize(sink); err != nil {
		a.reportError(err)
		a.handleInstallFailure(now)
		return
	}
	if err := a.installer.Activate(); err != nil {
		a.reportError(err)
		a.handleInstallFailure(now)
		return
	}
	a.currentVersion = a.pending.Version
	a.pending = nil
	a.retryCount = 0
	a.downloader.Reset()
	a.setStatus(StatusSuccess, 100)
}

func (a *Agent) handleInstallFailure(now time.Time) {
	a.downloader.Reset()
	if a.cfg.EnableRollback {
		a.setStatus(StatusRollback, 0)
		a.installer.BeginRollback(now)
		return
	}
	a.pending = nil
	a.retryCount = 0
	a.setStatus(StatusError, 0)
}

func (a *Agent) handleDownloadFailed() {
	err := a.downloader.LastError()
	otaErr, _ := err.(*Error)

	terminal := otaErr != nil && !otaErr.Retryable()
	if terminal {
		a.downloader.Reset()
		a.pending = nil
		a.retryCount = 0
		a.setStatus(StatusError, 0)
		return
	}
	a.registerAttemptFailure(err)
}

func (a *Agent) registerAttemptFailure(err error) {
	a.downloader.Reset()
	a.retryCount++
	if a.retryCount >= a.cfg.MaxRetries {
		a.pending = nil
		a.retryCount = 0
		a.setStatus(StatusError, 0)
		return
	}
	// Remain in Downloading: the next Step re-enters startDownloadAttempt.
}

func (a *Agent) setStatus(status OtaStatus, progress int) {
	a.status = status
	a.emitStatus(progress)
}

func (a *Agent) emitStatus(progress int) {
	if a.statusCallback != nil {
		a.statusCallback(a.status.String(), progress)
	}
}

func (a *Agent) reportError(err error) {
	a.logger.WithError(err).Warn("ota agent error")
	if a.errorCallback == nil {
		return
	}
	if otaErr, ok := err.(*Error); ok {
		a.errorCallback(otaErr.Message, otaErr.Code)
		return
	}
	a.errorCallback(err.Error(), 0)
}
