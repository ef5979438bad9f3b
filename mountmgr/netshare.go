package mountmgr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	diskman "github.com/mingyue/diskman"
	"github.com/mingyue/diskman/runner"
)

// MountNetworkShare mounts a CIFS or NFS share. CIFS credentials are passed
// through a one-shot file with owner-only permissions, referenced by a
// credentials= option and deleted once the mount call returns, success or not.
// Credentials never appear on the command line.
func (m *Manager) MountNetworkShare(ctx context.Context, req diskman.NetworkMountRequest) diskman.OperationResult {
	if res, ok := m.validateShareRequest(req); !ok {
		return res
	}

	if err := os.MkdirAll(req.MountPoint, 0o755); err != nil {
		return diskman.Failed(fmt.Sprintf("failed to create mount point %s", req.MountPoint), err.Error())
	}

	var (
		device string
		args   []string
	)

	switch req.Type {
	case diskman.ShareCIFS:
		device = fmt.Sprintf("//%s/%s", req.Server, req.SharePath)
		args = append(args, "-t", "cifs")

		var mountOpts []string
		if req.Username != "" && req.Password != "" {
			credFile := filepath.Join(m.CredentialDir, "cifs-cred-"+strings.ToLower(ulid.Make().String()))
			if err := writeCredentialFile(credFile, req, os.O_CREATE|os.O_EXCL|os.O_WRONLY); err != nil {
				return diskman.Failed("failed to create secure credentials file", err.Error())
			}
			defer func() {
				if err := os.Remove(credFile); err != nil {
					m.logger.WithError(err).Warn("failed to remove temporary credentials file")
				}
			}()
			mountOpts = append(mountOpts, "credentials="+credFile)
		}
		mountOpts = append(mountOpts, splitOptions(req.Options)...)
		if len(mountOpts) > 0 {
			args = append(args, "-o", strings.Join(mountOpts, ","))
		}

	case diskman.ShareNFS:
		device = fmt.Sprintf("%s:/%s", req.Server, strings.TrimPrefix(req.SharePath, "/"))
		if req.Options != "" {
			args = append(args, "-o", req.Options)
		}

	default:
		return diskman.Failed(fmt.Sprintf("unsupported share type %q", req.Type))
	}

	args = append(args, device, req.MountPoint)

	m.logger.WithFields(logrus.Fields{
		"device":      device,
		"mount_point": req.MountPoint,
		"type":        req.Type,
		"args":        maskCredentials(args),
	}).Info("mounting network share")

	res, err := m.runner.Run(ctx, "mount", args, runner.Options{Sudo: true, Timeout: mountTimeout})
	if err != nil {
		return subprocessFailure("mount", stderrOf(res, err))
	}
	return diskman.Successful(fmt.Sprintf("mounted %s at %s", device, req.MountPoint))
}

// MountNetworkSharePersistent mounts the share and records it in the mount
// table. CIFS credentials go into a longer-lived file named by a content hash
// of server and share, so repeated persistent mounts of the same share reuse
// one file. If that file cannot be created the whole operation fails;
// credentials are never written inline into the table.
func (m *Manager) MountNetworkSharePersistent(ctx context.Context, req diskman.NetworkMountRequest) diskman.OperationResult {
	mountRes := m.MountNetworkShare(ctx, req)
	if !mountRes.Success {
		return mountRes
	}

	var (
		device    string
		fsType    string
		tableOpts []string
	)

	switch req.Type {
	case diskman.ShareCIFS:
		device = fmt.Sprintf("//%s/%s", req.Server, req.SharePath)
		fsType = "cifs"

		if req.Username != "" && req.Password != "" {
			sum := sha256.Sum256([]byte(req.Server + "-" + req.SharePath))
			credFile := filepath.Join(m.CredentialDir, "cifs-credentials-"+hex.EncodeToString(sum[:])[:32])
			if err := writeCredentialFile(credFile, req, os.O_CREATE|os.O_TRUNC|os.O_WRONLY); err != nil {
				os.Remove(credFile)
				return diskman.Failed(
					fmt.Sprintf("failed to create secure CIFS credentials file %s; refusing to store credentials inline in %s", credFile, m.Fstab.Path),
					err.Error(),
				)
			}
			tableOpts = append(tableOpts, "credentials="+credFile)
		}

	case diskman.ShareNFS:
		share := strings.TrimPrefix(strings.TrimSpace(req.SharePath), "/")
		if share == "" {
			return diskman.Failed("invalid NFS share path: must not be empty or just '/'")
		}
		device = fmt.Sprintf("%s:/%s", req.Server, share)
		fsType = "nfs"
	}

	tableOpts = append(tableOpts, splitOptions(req.Options)...)
	if len(tableOpts) == 0 {
		tableOpts = append(tableOpts, "defaults")
	}

	entry := fmt.Sprintf("%s %s %s %s 0 0", device, req.MountPoint, fsType, strings.Join(tableOpts, ","))

	exists, err := m.Fstab.HasEntry(device, req.MountPoint)
	if err != nil {
		return diskman.SucceededWithWarning(mountRes.Message,
			fmt.Sprintf("failed to read %s: %v; entry: %s", m.Fstab.Path, err, entry))
	}
	if exists {
		return diskman.Successful(fmt.Sprintf("mounted %s at %s; matching entry already present in %s", device, req.MountPoint, m.Fstab.Path))
	}

	if err := m.Fstab.Append(entry); err != nil {
		m.logger.WithError(err).WithField("entry", entry).Error("failed to persist mount table entry")
		return diskman.SucceededWithWarning(mountRes.Message,
			fmt.Sprintf("failed to persist entry: %v; entry: %s", err, entry))
	}
	return diskman.Successful(fmt.Sprintf("mounted %s at %s and added an entry to %s", device, req.MountPoint, m.Fstab.Path))
}

// NetworkShares enumerates active CIFS and NFS mounts from the kernel mount
// listing, enriched with filesystem usage where the mount point is reachable.
// Enumeration never fails; unreadable state yields an empty list.
func (m *Manager) NetworkShares() []diskman.NetworkShare {
	data, err := os.ReadFile(m.MountsPath)
	if err != nil {
		m.logger.WithError(err).Warn("failed to read mount listing")
		return nil
	}

	var shares []diskman.NetworkShare
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		device, mountPoint, fsType, options := fields[0], fields[1], fields[2], fields[3]
		if fsType != "cifs" && fsType != "nfs" && fsType != "nfs4" {
			continue
		}

		share := diskman.NetworkShare{
			MountPoint: mountPoint,
			Filesystem: fsType,
			Options:    options,
		}
		if fsType == "cifs" {
			share.Type = diskman.ShareCIFS
			if rest, ok := strings.CutPrefix(device, "//"); ok {
				server, path, _ := strings.Cut(rest, "/")
				share.Server = server
				share.SharePath = path
			}
		} else {
			share.Type = diskman.ShareNFS
			if server, path, ok := strings.Cut(device, ":"); ok && server != "" {
				share.Server = server
				share.SharePath = path
			}
		}

		var st unix.Statfs_t
		if err := unix.Statfs(mountPoint, &st); err == nil {
			share.TotalBytes = st.Blocks * uint64(st.Bsize)
			share.AvailableBytes = st.Bavail * uint64(st.Bsize)
			share.UsedBytes = share.TotalBytes - share.AvailableBytes
			if share.TotalBytes > 0 {
				share.UsagePercent = float64(share.UsedBytes) / float64(share.TotalBytes) * 100
			}
		}

		shares = append(shares, share)
	}
	return shares
}

// Shares lists share names exported by the local Samba configuration,
// skipping the global, homes, and printers sections. Errors reading the
// configuration yield an empty list.
func (m *Manager) Shares() []string {
	data, err := os.ReadFile(m.SmbConfPath)
	if err != nil {
		return nil
	}

	var shares []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
			continue
		}
		name := strings.Trim(trimmed, "[]")
		switch name {
		case "global", "homes", "printers":
			continue
		}
		shares = append(shares, name)
	}
	return shares
}

// AvailableFilesystems lists the filesystem types offered for formatting and
// mounting in the admin UI.
func AvailableFilesystems() []string {
	return []string{"ext4", "ext3", "ext2", "btrfs", "xfs", "ntfs", "vfat", "exfat"}
}

func (m *Manager) validateShareRequest(req diskman.NetworkMountRequest) (diskman.OperationResult, bool) {
	if strings.TrimSpace(req.Server) == "" || diskman.ContainsUnsafe(req.Server) || strings.Contains(req.Server, "/") {
		return diskman.Failed("invalid server"), false
	}
	if strings.TrimSpace(req.SharePath) == "" || diskman.ContainsUnsafe(req.SharePath) {
		return diskman.Failed("invalid share path"), false
	}
	if !diskman.ValidMountPoint(req.MountPoint) {
		return diskman.Failed("invalid mount point"), false
	}
	if req.Options != "" && diskman.ContainsUnsafe(req.Options) {
		return diskman.Failed("mount options contain invalid characters"), false
	}
	if !diskman.ValidCredential(req.Username) {
		return diskman.Failed("username contains invalid characters (newline or equals sign)"), false
	}
	if !diskman.ValidCredential(req.Password) {
		return diskman.Failed("password contains invalid characters (newline or equals sign)"), false
	}
	if !diskman.ValidCredential(req.Domain) {
		return diskman.Failed("domain contains invalid characters (newline or equals sign)"), false
	}
	return diskman.OperationResult{}, true
}

func writeCredentialFile(path string, req diskman.NetworkMountRequest, flags int) error {
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}

	content := fmt.Sprintf("username=%s\npassword=%s\n", req.Username, req.Password)
	if req.Domain != "" {
		content += fmt.Sprintf("domain=%s\n", req.Domain)
	}

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// splitOptions splits a comma-separated option string, dropping empty and
// denylist-tainted entries.
func splitOptions(options string) []string {
	var out []string
	for _, raw := range strings.Split(options, ",") {
		opt := strings.TrimSpace(raw)
		if opt == "" || diskman.ContainsUnsafe(opt) {
			continue
		}
		out = append(out, opt)
	}
	return out
}

// maskCredentials hides the credentials file path in logged argument lists.
func maskCredentials(args []string) []string {
	masked := make([]string, len(args))
	for i, arg := range args {
		parts := strings.Split(arg, ",")
		changed := false
		for j, p := range parts {
			if strings.HasPrefix(p, "credentials=") {
				parts[j] = "credentials=***"
				changed = true
			}
		}
		if changed {
			masked[i] = strings.Join(parts, ",")
		} else {
			masked[i] = arg
		}
	}
	return masked
}
