package otaagent

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxabba/Ota-mqtt-http/pkg/flash"
)

// rollbackDrainDelay is spec §4.4's target drain delay before requesting
// a reboot on rollback.
const rollbackDrainDelay = 2 * time.Second

// Rebooter is the "the device reboots into the newly written partition"
// contract spec §1 names as an external collaborator. RequestReboot
// should trigger a software reset; ArmPartition should ask the
// bootloader to boot the new partition on the next reset.
type Rebooter interface {
	ArmPartition() error
	RequestReboot()
}

// InstallerState tracks the one operation installer.go performs beyond
// a plain synchronous call: rollback's drain delay must not be a real
// sleep, so it is modeled as a deadline checked on subsequent calls.
type InstallerState int

const (
	InstallerIdle InstallerState = iota
	InstallerDraining
)

// Installer implements spec §4.4: commit the newly-written partition,
// arm it, and trigger reboot, or roll back. Grounded on
// pkg/framework/plugins/ota/updater.go's BinaryUpdater
// (PrepareUpdate/ExecuteUpdate/Rollback shape, backup-then-replace
// discipline), generalized from "replace the running binary" to "arm a
// flash partition and reboot" per the flash.Sink contract.
type Installer struct {
	logger   *logrus.Entry
	rebooter Rebooter

	state         InstallerState
	drainDeadline time.Time
}

func NewInstaller(rebooter Rebooter, logger *logrus.Entry) *Installer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &Installer{logger: logger, rebooter: rebooter}
}

// Finalize asks the sink to close and mark the partition. Synchronous —
// spec §4.4 explicitly allows the installer this one longer blocking
// call.
func (i *Installer) Finalize(sink flash.Sink) error {
	if err := sink.Finalize(true); err != nil {
		return wrapError(KindFlashError, "finalize partition failed", err)
	}
	return nil
}

// Activate arms the new partition and requests a reboot. Synchronous.
func (i *Installer) Activate() error {
	if err := i.rebooter.ArmPartition(); err != nil {
		return wrapError(KindInstallFailure, "arm partition failed", err)
	}
	i.rebooter.RequestReboot()
	return nil
}

// BeginRollback starts the drain-delay countdown; Step must be called
// until it returns true, at which point the reboot has been requested.
func (i *Installer) BeginRollback(now time.Time) {
	i.state = InstallerDraining
	i.drainDeadline = now.Add(rollbackDrainDelay)
}

// Step advances a pending rollback. Returns true once the reboot has
// been requested and the installer has returned to Idle.
func (i *Installer) Step(now time.Time) bool {
	if i.state != InstallerDraining {
		return false
	}
	if now.Before(i.drainDeadline) {
		return false
	}
	i.logger.Warn("rollback drain delay elapsed, requesting reboot")
	i.rebooter.RequestReboot()
	i.state = InstallerIdle
	return true
}

func (i *Installer) State() InstallerState {
	return i.state
}
