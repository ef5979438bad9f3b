// Package features probes the host for the external tools disk management
// depends on and reports which are missing.
package features

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	diskman "github.com/mingyue/diskman"
	"github.com/mingyue/diskman/runner"
)

// checkTimeout bounds each individual presence probe.
const checkTimeout = 10 * time.Second

type toolSpec struct {
	name          string
	description   string
	required      bool
	installDebian string
	installRHEL   string
}

var tools = []toolSpec{
	{
		name:          "lsblk",
		description:   "lists block devices, disks, and partitions",
		required:      true,
		installDebian: "sudo apt-get install util-linux",
		installRHEL:   "sudo yum install util-linux",
	},
	{
		name:          "mount",
		description:   "mounts filesystems",
		required:      true,
		installDebian: "built in, normally preinstalled",
		installRHEL:   "built in, normally preinstalled",
	},
	{
		name:          "umount",
		description:   "unmounts filesystems",
		required:      true,
		installDebian: "built in, normally preinstalled",
		installRHEL:   "built in, normally preinstalled",
	},
	{
		name:          "hdparm",
		description:   "drive power management, spindown and APM",
		required:      false,
		installDebian: "sudo apt-get install hdparm",
		installRHEL:   "sudo yum install hdparm",
	},
	{
		name:          "mount.cifs",
		description:   "mounts CIFS/SMB network shares",
		required:      false,
		installDebian: "sudo apt-get install cifs-utils",
		installRHEL:   "sudo yum install cifs-utils",
	},
	{
		name:          "mount.nfs",
		description:   "mounts NFS network shares",
		required:      false,
		installDebian: "sudo apt-get install nfs-common",
		installRHEL:   "sudo yum install nfs-utils",
	},
	{
		name:          "smartctl",
		description:   "reads SMART health and attribute data",
		required:      false,
		installDebian: "sudo apt-get install smartmontools",
		installRHEL:   "sudo yum install smartmontools",
	},
}

// Detector checks external tool availability.
type Detector struct {
	runner runner.Runner
	logger logrus.FieldLogger
}

// NewDetector creates a Detector.
func NewDetector(r runner.Runner) *Detector {
	return &Detector{runner: r, logger: logrus.StandardLogger()}
}

// SetLogger sets a custom logger.
func (d *Detector) SetLogger(logger logrus.FieldLogger) { d.logger = logger }

// Detect probes every tool in parallel and aggregates the results. Ready is
// true only when every required tool is present.
func (d *Detector) Detect(ctx context.Context) diskman.FeatureReport {
	reqs := make([]diskman.FeatureRequirement, len(tools))

	var wg sync.WaitGroup
	for i, tool := range tools {
		wg.Add(1)
		go func(i int, tool toolSpec) {
			defer wg.Done()

			status := diskman.FeatureMissing
			if d.Available(ctx, tool.name) {
				status = diskman.FeatureAvailable
			}

			notes := "optional, enables additional functionality"
			if tool.required {
				notes = "required, basic disk management does not work without it"
			}

			reqs[i] = diskman.FeatureRequirement{
				Name:         tool.name,
				Description:  tool.description,
				Required:     tool.required,
				Status:       status,
				CheckCommand: "which " + tool.name,
				InstallCommand: fmt.Sprintf("Ubuntu/Debian: %s\nCentOS/RHEL/Fedora: %s",
					tool.installDebian, tool.installRHEL),
				Notes: notes,
			}
		}(i, tool)
	}
	wg.Wait()

	var missingRequired, missingOptional []string
	for _, r := range reqs {
		if r.Status != diskman.FeatureMissing {
			continue
		}
		if r.Required {
			missingRequired = append(missingRequired, r.Name)
		} else {
			missingOptional = append(missingOptional, r.Name)
		}
	}

	report := diskman.FeatureReport{
		Ready:        len(missingRequired) == 0,
		Requirements: reqs,
	}
	switch {
	case len(missingRequired) > 0:
		report.Summary = fmt.Sprintf("missing %d required tools: %s. Install them to enable disk management.",
			len(missingRequired), strings.Join(missingRequired, ", "))
	case len(missingOptional) > 0:
		report.Summary = fmt.Sprintf("all required tools installed. Missing %d optional tools: %s.",
			len(missingOptional), strings.Join(missingOptional, ", "))
	default:
		report.Summary = "all tools installed, disk management is fully available."
	}
	return report
}

// Available reports whether a single tool resolves on the PATH. A malformed
// name, a probe failure, or a timeout all count as unavailable.
func (d *Detector) Available(ctx context.Context, name string) bool {
	if !diskman.ValidToolName(name) {
		d.logger.WithField("tool", name).Warn("refusing to probe malformed tool name")
		return false
	}
	res, err := d.runner.Run(ctx, "which", []string{name}, runner.Options{Timeout: checkTimeout})
	if err != nil {
		return false
	}
	return res.ExitCode == 0
}
