// Package diskman defines the shared request and result types for the MingYue
// disk management subsystem.
//
// The operation packages (blockdev, mountmgr, hdparm, smart, features) return
// these types to their callers; the admin API and CLI serialize them as-is.
package diskman

// OperationResult is the tagged outcome of a disk operation. An operation
// either fully succeeds or reports one dominant failure reason; there is no
// partial-success variant. A persistence failure after a successful mount is
// reported through Warning with Success still true.
type OperationResult struct {
	// Success reports whether the primary operation succeeded.
	Success bool `json:"success"`

	// Message is a human-readable summary of the outcome.
	Message string `json:"message"`

	// Detail carries optional error detail (captured stderr, entry text).
	Detail string `json:"detail,omitempty"`

	// Warning is set when the primary operation succeeded but a follow-up
	// step (such as persisting an fstab entry) failed.
	Warning string `json:"warning,omitempty"`
}

// Successful returns a success result with the given message.
func Successful(message string) OperationResult {
	return OperationResult{Success: true, Message: message}
}

// Failed returns a failure result. detail is optional stderr or error text.
func Failed(message string, detail ...string) OperationResult {
	r := OperationResult{Success: false, Message: message}
	if len(detail) > 0 {
		r.Detail = detail[0]
	}
	return r
}

// SucceededWithWarning marks an operation whose primary step succeeded but
// whose persistence step did not.
func SucceededWithWarning(message, warning string) OperationResult {
	return OperationResult{Success: true, Message: message, Warning: warning}
}

// NetworkShareType identifies the protocol of a network share.
type NetworkShareType string

const (
	ShareCIFS NetworkShareType = "cifs"
	ShareNFS  NetworkShareType = "nfs"
)

// NetworkMountRequest is the validated input bundle for mounting a CIFS or
// NFS share. Credentials are only meaningful for CIFS.
type NetworkMountRequest struct {
	Server     string           `json:"server"`
	SharePath  string           `json:"share_path"`
	MountPoint string           `json:"mount_point"`
	Type       NetworkShareType `json:"type"`
	Username   string           `json:"username,omitempty"`
	Password   string           `json:"password,omitempty"`
	Domain     string           `json:"domain,omitempty"`
	Options    string           `json:"options,omitempty"`
}

// NetworkShare describes an active network mount discovered in /proc/mounts.
type NetworkShare struct {
	Server         string           `json:"server"`
	SharePath      string           `json:"share_path"`
	MountPoint     string           `json:"mount_point"`
	Type           NetworkShareType `json:"type"`
	Filesystem     string           `json:"filesystem"`
	Options        string           `json:"options"`
	TotalBytes     uint64           `json:"total_bytes,omitempty"`
	UsedBytes      uint64           `json:"used_bytes,omitempty"`
	AvailableBytes uint64           `json:"available_bytes,omitempty"`
	UsagePercent   float64          `json:"usage_percent,omitempty"`
}

// PowerStatus is the live power state of a drive as reported by hdparm -C.
type PowerStatus struct {
	Success bool `json:"success"`

	// Status is one of the known states ("active/idle", "standby",
	// "sleeping", "active", "idle") or, for an unrecognized non-empty
	// state, the tool's own wording passed through verbatim.
	Status string `json:"status"`

	// RawOutput is the unparsed tool output, kept for diagnostics.
	RawOutput string `json:"raw_output,omitempty"`

	Message string `json:"message,omitempty"`
}

// PowerSettings is the persisted per-device power configuration read from the
// hdparm configuration file.
type PowerSettings struct {
	// SpinDownTimeoutMinutes is 0 when spindown is disabled.
	SpinDownTimeoutMinutes int `json:"spin_down_timeout_minutes"`

	// APMLevel is nil when no apm setting is configured for the device.
	APMLevel *int `json:"apm_level,omitempty"`
}

// FeatureStatus is the availability of an external tool.
type FeatureStatus string

const (
	FeatureAvailable FeatureStatus = "available"
	FeatureMissing   FeatureStatus = "missing"
)

// FeatureRequirement describes one external tool the subsystem depends on.
type FeatureRequirement struct {
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Required       bool          `json:"required"`
	Status         FeatureStatus `json:"status"`
	CheckCommand   string        `json:"check_command"`
	InstallCommand string        `json:"install_command"`
	Notes          string        `json:"notes,omitempty"`
}

// FeatureReport aggregates tool detection results.
type FeatureReport struct {
	Ready        bool                 `json:"ready"`
	Summary      string               `json:"summary"`
	Requirements []FeatureRequirement `json:"requirements"`
}
