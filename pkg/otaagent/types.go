package otaagent

// OtaStatus is the agent-level state (spec §3). Exactly one value holds
// at any time; transitions happen only inside Step.
type OtaStatus int

const (
	StatusIdle OtaStatus = iota
	StatusChecking
	StatusDownloading
	StatusInstalling
	StatusSuccess
	StatusError
	StatusRollback
)

// String renders the status the way onStatusUpdate callbacks expect it
// (spec §6): upper-case, stable names.
func (s OtaStatus) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusChecking:
		return "CHECKING"
	case StatusDownloading:
		return "DOWNLOADING"
	case StatusInstalling:
		return "INSTALLING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	case StatusRollback:
		return "ROLLBACK"
	default:
		return "UNKNOWN"
	}
}

// MqttConnState is owned by ControlChannel (spec §3/§4.2).
type MqttConnState int

const (
	MqttDisconnected MqttConnState = iota
	MqttConnecting
	MqttConnected
	MqttFailed
)

func (s MqttConnState) String() string {
	switch s {
	case MqttDisconnected:
		return "Disconnected"
	case MqttConnecting:
		return "Connecting"
	case MqttConnected:
		return "Connected"
	case MqttFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// DownloadState is owned by Downloader (spec §3/§4.3).
type DownloadState int

const (
	DownloadIdle DownloadState = iota
	DownloadConnecting
	DownloadDownloading
	DownloadVerifying
	DownloadComplete
	DownloadFailed
)

func (s DownloadState) String() string {
	switch s {
	case DownloadIdle:
		return "Idle"
	case DownloadConnecting:
		return "Connecting"
	case DownloadDownloading:
		return "Downloading"
	case DownloadVerifying:
		return "Verifying"
	case DownloadComplete:
		return "Complete"
	case DownloadFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// UpdateAnnouncement is parsed from a control-channel payload (spec §3).
// It is valid iff every field is non-empty and Command == "update".
type UpdateAnnouncement struct {
	Version     string
	FirmwareURL string
	Checksum    string
	Command     string
}

// PendingUpdate is set when an announcement (or a forceUpdate call) is
// accepted, and cleared when the resulting download succeeds,
// permanently fails, or is reset (spec §3).
type PendingUpdate struct {
	Version  string
	URL      string
	Checksum string
}

// StatusCallback mirrors onStatusUpdate(statusName, progressPercent)
// from spec §6. Progress is only meaningful while status is DOWNLOADING.
type StatusCallback func(statusName string, progress int)

// ErrorCallback mirrors onError(message, code) from spec §6. Code is
// the numeric code from the underlying flash primitive where
// applicable, else 0.
type ErrorCallback func(message string, code int)
