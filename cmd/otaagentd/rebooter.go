package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// fileRebooter is a demo-host stand-in for the "the device reboots into
// the newly written partition" contract spec.md §1 pushes out of core
// scope: ArmPartition writes a marker file next to the partition path,
// RequestReboot logs the request and exits the process so a supervisor
// (systemd, kardianos/service) restarts it, playing the role of a
// bootloader-triggered reset.
type fileRebooter struct {
	markerPath string
	logger     *logrus.Entry
}

func newFileRebooter(partitionPath string, logger *logrus.Entry) *fileRebooter {
	return &fileRebooter{markerPath: partitionPath + ".armed", logger: logger}
}

func (r *fileRebooter) ArmPartition() error {
	if err := os.WriteFile(r.markerPath, []byte("armed\n"), 0o644); err != nil {
		return fmt.Errorf("write arm marker: %w", err)
	}
	return nil
}

func (r *fileRebooter) RequestReboot() {
	r.logger.Warn("reboot requested, exiting process for supervisor restart")
	os.Exit(0)
}
