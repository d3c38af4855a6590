package otaagent

import "encoding/json"

// updateCommand is the only Command value that makes an announcement
// actionable (spec §3/§4.2).
const updateCommand = "update"

// parseAnnouncement extracts an UpdateAnnouncement from a control-channel
// payload. A permissive, string-only extractor is sufficient per spec
// §4.2 design notes: every required field is a string, and a full JSON
// parser is not required. Missing any field, or a field whose value is
// not a string, yields MalformedAnnouncement.
func parseAnnouncement(payload []byte) (*UpdateAnnouncement, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, wrapError(KindMalformedAnnouncement, "invalid JSON payload", err)
	}

	version, ok := stringField(raw, "version")
	if !ok {
		return nil, newError(KindMalformedAnnouncement, "missing or non-string field: version")
	}
	firmwareURL, ok := stringField(raw, "firmware_url")
	if !ok {
		return nil, newError(KindMalformedAnnouncement, "missing or non-string field: firmware_url")
	}
	checksum, ok := stringField(raw, "checksum")
	if !ok {
		return nil, newError(KindMalformedAnnouncement, "missing or non-string field: checksum")
	}
	command, ok := stringField(raw, "command")
	if !ok {
		return nil, newError(KindMalformedAnnouncement, "missing or non-string field: command")
	}

	return &UpdateAnnouncement{
		Version:     version,
		FirmwareURL: firmwareURL,
		Checksum:    checksum,
		Command:     command,
	}, nil
}

// serializeAnnouncement is the inverse of parseAnnouncement, used by
// tests and by anything that needs to re-publish an announcement (e.g.
// a status beacon echoing the accepted update back for diagnostics).
func serializeAnnouncement(a *UpdateAnnouncement) ([]byte, error) {
	return json.Marshal(map[string]string{
		"version":      a.Version,
		"firmware_url": a.FirmwareURL,
		"checksum":     a.Checksum,
		"command":      a.Command,
	})
}

func stringField(raw map[string]interface{}, key string) (string, bool) {
	v, present := raw[key]
	if !present {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// isUpdateRequest reports whether a successfully parsed announcement
// actually requests an update. Any command other than "update" is
// silently ignored per spec §4.2 — not an error, just inert.
func isUpdateRequest(a *UpdateAnnouncement) bool {
	return a.Command == updateCommand
}
