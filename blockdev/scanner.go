package blockdev

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/mingyue/diskman/runner"
)

// lsblkColumns are requested with -b so sizes arrive in bytes.
const lsblkColumns = "NAME,TYPE,SIZE,MOUNTPOINT,FSTYPE,UUID,LABEL,RM,RO,MODEL,SERIAL"

// Scanner discovers block devices. Discovery never returns an error: parse or
// subprocess failures degrade to a flat enumeration of mounted volumes.
type Scanner struct {
	runner runner.Runner
	logger logrus.FieldLogger

	// MountsPath is the mount table read in the degraded path, normally
	// /proc/mounts. Overridable for tests.
	MountsPath string
}

// NewScanner creates a Scanner using the given command runner.
func NewScanner(r runner.Runner) *Scanner {
	return &Scanner{
		runner:     r,
		logger:     logrus.StandardLogger(),
		MountsPath: "/proc/mounts",
	}
}

// SetLogger sets a custom logger.
func (s *Scanner) SetLogger(logger logrus.FieldLogger) {
	s.logger = logger
}

// List returns the filtered tree of local disks and partitions, with usage
// populated for mounted nodes.
func (s *Scanner) List(ctx context.Context) []Device {
	return FilterLocal(s.ListAll(ctx))
}

// ListAll returns the unfiltered device tree.
func (s *Scanner) ListAll(ctx context.Context) []Device {
	res, err := s.runner.Run(ctx, "lsblk", []string{"-J", "-b", "-o", lsblkColumns}, runner.Options{Timeout: 15 * time.Second})
	if err != nil {
		s.logger.WithError(err).Warn("lsblk failed, falling back to mounted-volume enumeration")
		return s.mountedVolumes()
	}

	devices, err := ParseTree([]byte(res.Stdout))
	if err != nil {
		s.logger.WithError(err).Warn("lsblk output unparseable, falling back to mounted-volume enumeration")
		return s.mountedVolumes()
	}

	for i := range devices {
		enrichUsage(&devices[i])
	}
	return devices
}

// Find resolves a single device by path, or nil when absent.
func (s *Scanner) Find(ctx context.Context, devicePath string) *Device {
	return FindByPath(s.ListAll(ctx), devicePath)
}

// enrichUsage fills used/available/percent for mounted nodes via statfs. The
// derived fields satisfy used = total - available.
func enrichUsage(d *Device) {
	if d.MountPoint != "" {
		if total, avail, ok := statfs(d.MountPoint); ok && total > 0 {
			d.SizeBytes = total
			d.AvailableBytes = avail
			d.UsedBytes = total - avail
			d.UsagePercent = float64(d.UsedBytes) / float64(total) * 100
		}
	}
	for i := range d.Children {
		enrichUsage(&d.Children[i])
	}
}

func statfs(path string) (total, available uint64, ok bool) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, false
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, true
}

// mountedVolumes is the degraded enumeration: real mounted filesystems from
// the mount table, no hierarchy, no metadata beyond what the table provides.
func (s *Scanner) mountedVolumes() []Device {
	f, err := os.Open(s.MountsPath)
	if err != nil {
		s.logger.WithError(err).Warn("mount table unreadable, returning empty device list")
		return nil
	}
	defer f.Close()

	var devices []Device
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		source, mountPoint, fstype := fields[0], fields[1], fields[2]
		if !strings.HasPrefix(source, "/dev/") || strings.HasPrefix(strings.TrimPrefix(source, "/dev/"), "loop") {
			continue
		}

		d := Device{
			Name:       strings.TrimPrefix(source, "/dev/"),
			DevicePath: source,
			Type:       TypeOther,
			Filesystem: fstype,
			MountPoint: mountPoint,
			Ready:      true,
		}
		enrichUsage(&d)
		devices = append(devices, d)
	}
	return devices
}
