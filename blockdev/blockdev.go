// Package blockdev discovers block devices by driving lsblk and parsing its
// JSON output into a device tree.
package blockdev

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DeviceType is the lsblk type of a block device.
type DeviceType string

const (
	TypeDisk  DeviceType = "disk"
	TypePart  DeviceType = "part"
	TypeLoop  DeviceType = "loop"
	TypeRAM   DeviceType = "ram"
	TypeZRAM  DeviceType = "zram"
	TypeROM   DeviceType = "rom"
	TypeOther DeviceType = "other"
)

// Device is one node in the discovered block-device tree. Devices are built
// fresh on every discovery call and have no persistent identity.
type Device struct {
	Name           string     `json:"name"`
	DevicePath     string     `json:"device_path"`
	Type           DeviceType `json:"type"`
	SizeBytes      uint64     `json:"size_bytes"`
	Filesystem     string     `json:"filesystem,omitempty"`
	UUID           string     `json:"uuid,omitempty"`
	Label          string     `json:"label,omitempty"`
	Model          string     `json:"model,omitempty"`
	Serial         string     `json:"serial,omitempty"`
	Removable      bool       `json:"removable"`
	ReadOnly       bool       `json:"read_only"`
	MountPoint     string     `json:"mount_point,omitempty"`
	Ready          bool       `json:"ready"`
	UsedBytes      uint64     `json:"used_bytes,omitempty"`
	AvailableBytes uint64     `json:"available_bytes,omitempty"`
	UsagePercent   float64    `json:"usage_percent,omitempty"`
	Children       []Device   `json:"children,omitempty"`
}

// lsblk JSON schema. Size is reported in bytes with -b; uuid/label/model may
// be null.
type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Type       string        `json:"type"`
	Size       uint64        `json:"size"`
	MountPoint *string       `json:"mountpoint"`
	Fstype     *string       `json:"fstype"`
	UUID       *string       `json:"uuid"`
	Label      *string       `json:"label"`
	RM         bool          `json:"rm"`
	RO         bool          `json:"ro"`
	Model      *string       `json:"model"`
	Serial     *string       `json:"serial"`
	Children   []lsblkDevice `json:"children"`
}

// ParseTree deserializes raw lsblk -J -b output into a device tree, mapping
// nodes top-down and defaulting absent optional fields to their zero values.
func ParseTree(raw []byte) ([]Device, error) {
	var out lsblkOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse lsblk output: %w", err)
	}
	devices := make([]Device, 0, len(out.BlockDevices))
	for _, d := range out.BlockDevices {
		devices = append(devices, convertDevice(d))
	}
	return devices, nil
}

func convertDevice(d lsblkDevice) Device {
	dev := Device{
		Name:       d.Name,
		DevicePath: "/dev/" + d.Name,
		Type:       deviceType(d.Type),
		SizeBytes:  d.Size,
		Filesystem: deref(d.Fstype),
		UUID:       deref(d.UUID),
		Label:      deref(d.Label),
		Model:      strings.TrimSpace(deref(d.Model)),
		Serial:     strings.TrimSpace(deref(d.Serial)),
		Removable:  d.RM,
		ReadOnly:   d.RO,
		MountPoint: deref(d.MountPoint),
	}
	dev.Ready = dev.MountPoint != ""
	for _, c := range d.Children {
		dev.Children = append(dev.Children, convertDevice(c))
	}
	return dev
}

func deviceType(s string) DeviceType {
	switch strings.ToLower(s) {
	case "disk":
		return TypeDisk
	case "part":
		return TypePart
	case "loop":
		return TypeLoop
	case "ram":
		return TypeRAM
	case "zram":
		return TypeZRAM
	case "rom":
		return TypeROM
	default:
		return TypeOther
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// FilterLocal keeps physical disks and partitions plus any non-virtual device
// that is mounted or ready (lvm, crypt, raid). Loop, ram, zram and rom devices
// are excluded, and anything named loop* is excluded regardless of type or
// mount state. Children are filtered recursively; the input is not mutated.
func FilterLocal(devices []Device) []Device {
	filtered := make([]Device, 0, len(devices))
	for _, d := range devices {
		if strings.HasPrefix(strings.ToLower(d.Name), "loop") {
			continue
		}

		isDiskOrPart := d.Type == TypeDisk || d.Type == TypePart
		isVirtual := d.Type == TypeLoop || d.Type == TypeRAM || d.Type == TypeZRAM || d.Type == TypeROM
		hasMountOrReady := d.MountPoint != "" || d.Ready

		if !isDiskOrPart && (isVirtual || !hasMountOrReady) {
			continue
		}

		kept := d
		kept.Children = FilterLocal(d.Children)
		filtered = append(filtered, kept)
	}
	return filtered
}

// FindByPath resolves a device in the tree by its /dev path.
func FindByPath(devices []Device, devicePath string) *Device {
	for i := range devices {
		if devices[i].DevicePath == devicePath {
			return &devices[i]
		}
		if found := FindByPath(devices[i].Children, devicePath); found != nil {
			return found
		}
	}
	return nil
}
