// Package mountmgr mounts and unmounts block devices and network shares,
// persisting entries to the system mount table on request.
//
// Every mutation follows the same shape: validate inputs against the
// injection denylist before any subprocess runs, perform the mount through
// sudo with an argument list, then optionally persist. A persistence failure
// never rolls back a mount that already succeeded; it surfaces as a warning
// on an otherwise successful result.
package mountmgr

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	diskman "github.com/mingyue/diskman"
	"github.com/mingyue/diskman/runner"
)

const mountTimeout = 60 * time.Second

// Manager orchestrates mount, unmount, and persistence operations.
type Manager struct {
	runner runner.Runner
	logger logrus.FieldLogger

	// Fstab is the mount table entries are persisted to.
	Fstab Table

	// MountsPath is the kernel's live mount listing, read when enumerating
	// active network shares.
	MountsPath string

	// SmbConfPath is the Samba configuration scanned for exported shares.
	SmbConfPath string

	// CredentialDir holds generated CIFS credential files.
	CredentialDir string
}

// NewManager creates a Manager with the standard system paths.
func NewManager(r runner.Runner) *Manager {
	return &Manager{
		runner:        r,
		logger:        logrus.StandardLogger(),
		Fstab:         Table{Path: "/etc/fstab"},
		MountsPath:    "/proc/mounts",
		SmbConfPath:   "/etc/samba/smb.conf",
		CredentialDir: "/tmp",
	}
}

// SetLogger sets a custom logger.
func (m *Manager) SetLogger(logger logrus.FieldLogger) { m.logger = logger }

// Mount mounts devicePath at mountPoint. fstype and options are optional;
// empty values let the mount tool autodetect and default.
func (m *Manager) Mount(ctx context.Context, devicePath, mountPoint, fstype, options string) diskman.OperationResult {
	if !diskman.ValidDevicePath(devicePath) {
		return diskman.Failed("invalid device path")
	}
	if !diskman.ValidMountPoint(mountPoint) {
		return diskman.Failed("invalid mount point")
	}
	if fstype != "" && diskman.ContainsUnsafe(fstype) {
		return diskman.Failed("filesystem type contains invalid characters")
	}
	if options != "" && diskman.ContainsUnsafe(options) {
		return diskman.Failed("mount options contain invalid characters")
	}

	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return diskman.Failed(fmt.Sprintf("failed to create mount point %s", mountPoint), err.Error())
	}

	args := []string{}
	if fstype != "" {
		args = append(args, "-t", fstype)
	}
	if options != "" {
		args = append(args, "-o", options)
	}
	args = append(args, devicePath, mountPoint)

	m.logger.WithFields(logrus.Fields{
		"device":      devicePath,
		"mount_point": mountPoint,
		"fstype":      fstype,
	}).Info("mounting device")

	res, err := m.runner.Run(ctx, "mount", args, runner.Options{Sudo: true, Timeout: mountTimeout})
	if err != nil {
		return subprocessFailure("mount", stderrOf(res, err))
	}
	return diskman.Successful(fmt.Sprintf("mounted %s at %s", devicePath, mountPoint))
}

// MountPersistent mounts the device and then records it in the mount table,
// preferring a UUID= source so the entry survives device renumbering. The
// mount itself succeeding but persistence failing yields a success result
// carrying a warning, not a failure.
func (m *Manager) MountPersistent(ctx context.Context, devicePath, mountPoint, fstype, options string) diskman.OperationResult {
	mountRes := m.Mount(ctx, devicePath, mountPoint, fstype, options)
	if !mountRes.Success {
		return mountRes
	}

	uuid, detectedFS := m.probeDevice(ctx, devicePath)

	source := devicePath
	if uuid != "" {
		source = "UUID=" + uuid
	}
	entryFS := fstype
	if entryFS == "" {
		entryFS = detectedFS
	}
	if entryFS == "" {
		entryFS = "auto"
	}
	entryOpts := options
	if entryOpts == "" {
		entryOpts = "defaults"
	}

	entry := fmt.Sprintf("%s %s %s %s 0 2", source, mountPoint, entryFS, entryOpts)

	exists, err := m.Fstab.HasExactLine(entry)
	if err != nil {
		return diskman.SucceededWithWarning(mountRes.Message,
			fmt.Sprintf("failed to read %s: %v; entry: %s", m.Fstab.Path, err, entry))
	}
	if exists {
		return diskman.Successful(fmt.Sprintf("mounted %s at %s; matching entry already present in %s", devicePath, mountPoint, m.Fstab.Path))
	}

	if err := m.Fstab.Append(entry); err != nil {
		m.logger.WithError(err).WithField("entry", entry).Error("failed to persist mount table entry")
		return diskman.SucceededWithWarning(mountRes.Message,
			fmt.Sprintf("failed to persist entry: %v; entry: %s", err, entry))
	}
	return diskman.Successful(fmt.Sprintf("mounted %s at %s and added an entry to %s", devicePath, mountPoint, m.Fstab.Path))
}

// Unmount unmounts whatever is mounted at mountPoint.
func (m *Manager) Unmount(ctx context.Context, mountPoint string) diskman.OperationResult {
	if !diskman.ValidMountPoint(mountPoint) {
		return diskman.Failed("invalid mount point")
	}

	m.logger.WithField("mount_point", mountPoint).Info("unmounting")

	res, err := m.runner.Run(ctx, "umount", []string{mountPoint}, runner.Options{Sudo: true, Timeout: mountTimeout})
	if err != nil {
		return subprocessFailure("unmount", stderrOf(res, err))
	}
	return diskman.Successful(fmt.Sprintf("unmounted %s", mountPoint))
}

// probeDevice asks lsblk for the device's UUID and filesystem type. Both come
// back empty when the probe fails; the caller falls back to the raw path.
func (m *Manager) probeDevice(ctx context.Context, devicePath string) (uuid, fstype string) {
	// -r keeps empty columns as empty fields, so a device without a UUID
	// still parses positionally.
	res, err := m.runner.Run(ctx, "lsblk", []string{"-rno", "UUID,FSTYPE", devicePath}, runner.Options{Timeout: 15 * time.Second})
	if err != nil {
		m.logger.WithError(err).WithField("device", devicePath).Warn("failed to probe device identity")
		return "", ""
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		uuid = strings.TrimSpace(parts[0])
		if len(parts) > 1 {
			fstype = strings.TrimSpace(parts[1])
		}
		return uuid, fstype
	}
	return "", ""
}

func stderrOf(res *runner.Result, err error) string {
	if res != nil && strings.TrimSpace(res.Stderr) != "" {
		return res.Stderr
	}
	return err.Error()
}
