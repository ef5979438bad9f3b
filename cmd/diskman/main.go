// Package main implements the MingYue disk management daemon and CLI.
//
// The CLI exposes the disk operations directly (list, mount, smart, power
// management); the serve command runs the JSON admin API, and monitor runs
// the interactive terminal dashboard.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	diskman "github.com/mingyue/diskman"
	"github.com/mingyue/diskman/blockdev"
	"github.com/mingyue/diskman/features"
	"github.com/mingyue/diskman/hdparm"
	"github.com/mingyue/diskman/journal"
	"github.com/mingyue/diskman/metrics"
	"github.com/mingyue/diskman/mountmgr"
	"github.com/mingyue/diskman/runner"
	"github.com/mingyue/diskman/safeguards"
	"github.com/mingyue/diskman/server"
	"github.com/mingyue/diskman/smart"
	"github.com/mingyue/diskman/tui"
)

// Config holds application configuration.
type Config struct {
	// Journal database
	DBPath string

	// System file locations, overridable for testing on non-root setups.
	FstabPath      string
	HdparmConfPath string
	MountsPath     string
	SmbConfPath    string
	CredentialDir  string

	// Server
	ListenAddr string

	// Monitor
	RefreshInterval time.Duration
	Inline          bool

	// Logging
	LogLevel string

	// Command-specific flags
	Device     string
	MountPoint string
	Filesystem string
	Options    string
	Persistent bool
	All        bool
	JSONOut    bool

	// Network share flags
	Server    string
	SharePath string
	ShareType string
	Username  string
	Password  string
	Domain    string

	// Power flags
	Minutes int
	Level   int

	// History flags
	Limit int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DBPath:          "/var/lib/mingyue/diskman.db",
		FstabPath:       "/etc/fstab",
		HdparmConfPath:  "/etc/hdparm.conf",
		MountsPath:      "/proc/mounts",
		SmbConfPath:     "/etc/samba/smb.conf",
		CredentialDir:   "/etc/mingyue",
		ListenAddr:      ":9310",
		RefreshInterval: 5 * time.Second,
		LogLevel:        "info",
	}
}

var log = logrus.New()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	config := DefaultConfig()
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "list":
		err = runList(parseListFlags(&config, args))
	case "mount":
		err = runMount(parseMountFlags(&config, args))
	case "mount-persistent":
		cfg := parseMountFlags(&config, args)
		cfg.Persistent = true
		err = runMount(cfg)
	case "unmount":
		err = runUnmount(parseUnmountFlags(&config, args))
	case "netmount":
		err = runNetMount(parseNetMountFlags(&config, args))
	case "netshares":
		err = runNetShares(parseCommonFlags(&config, "netshares", args))
	case "shares":
		err = runShares(parseCommonFlags(&config, "shares", args))
	case "spindown":
		err = runSpinDown(parseSpinDownFlags(&config, args))
	case "apm":
		err = runAPM(parseAPMFlags(&config, args))
	case "power-status":
		err = runPowerStatus(parseDeviceFlags(&config, "power-status", args))
	case "power-settings":
		err = runPowerSettings(parseDeviceFlags(&config, "power-settings", args))
	case "smart":
		err = runSmart(parseDeviceFlags(&config, "smart", args))
	case "features":
		err = runFeatures(parseCommonFlags(&config, "features", args))
	case "history":
		err = runHistory(parseHistoryFlags(&config, args))
	case "serve":
		err = runServe(parseServeFlags(&config, args))
	case "monitor":
		err = runMonitor(parseMonitorFlags(&config, args))
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.WithError(err).Fatalf("%s failed", cmd)
	}
}

func printUsage() {
	fmt.Println("MingYue Disk Management")
	fmt.Println()
	fmt.Println("Usage: diskman <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  list            List local block devices")
	fmt.Println("  mount           Mount a block device")
	fmt.Println("  unmount         Unmount a mount point")
	fmt.Println("  netmount        Mount a CIFS or NFS network share")
	fmt.Println("  netshares       List active network mounts")
	fmt.Println("  shares          List exported Samba shares")
	fmt.Println("  spindown        Configure drive spin-down timeout")
	fmt.Println("  apm             Set drive APM level")
	fmt.Println("  power-status    Query live drive power state")
	fmt.Println("  power-settings  Show persisted power configuration")
	fmt.Println("  smart           Read a drive's SMART health report")
	fmt.Println("  features        Check external tool availability")
	fmt.Println("  history         Show recent operations from the journal")
	fmt.Println("  serve           Run the JSON admin API")
	fmt.Println("  monitor         Interactive terminal device monitor")
	fmt.Println()
	fmt.Println("Run 'diskman <command> --help' for more information on a command.")
}

// addGlobalFlags registers the flags shared by every command.
func addGlobalFlags(cfg *Config, fs *flag.FlagSet) {
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Operation journal database path")
}

func parseCommonFlags(cfg *Config, name string, args []string) Config {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	addGlobalFlags(cfg, fs)
	fs.BoolVar(&cfg.JSONOut, "json", false, "Emit JSON instead of text")
	fs.Parse(args)
	return *cfg
}

func parseListFlags(cfg *Config, args []string) Config {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	addGlobalFlags(cfg, fs)
	fs.BoolVar(&cfg.All, "all", false, "Include virtual devices (loop, ram, zram)")
	fs.BoolVar(&cfg.JSONOut, "json", false, "Emit JSON instead of text")
	fs.Parse(args)
	return *cfg
}

func parseMountFlags(cfg *Config, args []string) Config {
	fs := flag.NewFlagSet("mount", flag.ExitOnError)
	addGlobalFlags(cfg, fs)
	fs.StringVar(&cfg.Device, "device", "", "Device path, e.g. /dev/sdb1 (required)")
	fs.StringVar(&cfg.MountPoint, "mount-point", "", "Mount point directory (required)")
	fs.StringVar(&cfg.Filesystem, "fstype", "", "Filesystem type (auto-detected if omitted)")
	fs.StringVar(&cfg.Options, "options", "", "Mount options")
	fs.BoolVar(&cfg.Persistent, "persistent", false, "Also record the mount in /etc/fstab")
	fs.Parse(args)
	requireFlags(fs, map[string]string{"device": cfg.Device, "mount-point": cfg.MountPoint})
	return *cfg
}

func parseUnmountFlags(cfg *Config, args []string) Config {
	fs := flag.NewFlagSet("unmount", flag.ExitOnError)
	addGlobalFlags(cfg, fs)
	fs.StringVar(&cfg.MountPoint, "mount-point", "", "Mount point directory (required)")
	fs.Parse(args)
	requireFlags(fs, map[string]string{"mount-point": cfg.MountPoint})
	return *cfg
}

func parseNetMountFlags(cfg *Config, args []string) Config {
	fs := flag.NewFlagSet("netmount", flag.ExitOnError)
	addGlobalFlags(cfg, fs)
	fs.StringVar(&cfg.Server, "server", "", "Server hostname or address (required)")
	fs.StringVar(&cfg.SharePath, "share", "", "Share name or export path (required)")
	fs.StringVar(&cfg.MountPoint, "mount-point", "", "Mount point directory (required)")
	fs.StringVar(&cfg.ShareType, "type", "cifs", "Share type: cifs or nfs")
	fs.StringVar(&cfg.Username, "username", "", "CIFS username")
	fs.StringVar(&cfg.Password, "password", "", "CIFS password (or set DISKMAN_SMB_PASSWORD)")
	fs.StringVar(&cfg.Domain, "domain", "", "CIFS domain")
	fs.StringVar(&cfg.Options, "options", "", "Extra mount options")
	fs.BoolVar(&cfg.Persistent, "persistent", false, "Also record the mount in /etc/fstab")
	fs.Parse(args)
	requireFlags(fs, map[string]string{
		"server": cfg.Server, "share": cfg.SharePath, "mount-point": cfg.MountPoint,
	})

	if cfg.Password == "" {
		cfg.Password = os.Getenv("DISKMAN_SMB_PASSWORD")
	}
	return *cfg
}

func parseSpinDownFlags(cfg *Config, args []string) Config {
	fs := flag.NewFlagSet("spindown", flag.ExitOnError)
	addGlobalFlags(cfg, fs)
	fs.StringVar(&cfg.Device, "device", "", "Device path (required)")
	fs.IntVar(&cfg.Minutes, "minutes", 0, "Spin-down timeout in minutes, 0 disables")
	fs.StringVar(&cfg.HdparmConfPath, "hdparm-conf", cfg.HdparmConfPath, "hdparm configuration file")
	fs.Parse(args)
	requireFlags(fs, map[string]string{"device": cfg.Device})
	return *cfg
}

func parseAPMFlags(cfg *Config, args []string) Config {
	fs := flag.NewFlagSet("apm", flag.ExitOnError)
	addGlobalFlags(cfg, fs)
	fs.StringVar(&cfg.Device, "device", "", "Device path (required)")
	fs.IntVar(&cfg.Level, "level", 127, "APM level 1-255 (255 disables power management)")
	fs.StringVar(&cfg.HdparmConfPath, "hdparm-conf", cfg.HdparmConfPath, "hdparm configuration file")
	fs.Parse(args)
	requireFlags(fs, map[string]string{"device": cfg.Device})
	return *cfg
}

func parseDeviceFlags(cfg *Config, name string, args []string) Config {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	addGlobalFlags(cfg, fs)
	fs.StringVar(&cfg.Device, "device", "", "Device path (required)")
	fs.BoolVar(&cfg.JSONOut, "json", false, "Emit JSON instead of text")
	fs.Parse(args)
	requireFlags(fs, map[string]string{"device": cfg.Device})
	return *cfg
}

func parseHistoryFlags(cfg *Config, args []string) Config {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	addGlobalFlags(cfg, fs)
	fs.IntVar(&cfg.Limit, "limit", 20, "Maximum entries to show")
	fs.BoolVar(&cfg.JSONOut, "json", false, "Emit JSON instead of text")
	fs.Parse(args)
	return *cfg
}

func parseServeFlags(cfg *Config, args []string) Config {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addGlobalFlags(cfg, fs)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Listen address")
	fs.StringVar(&cfg.FstabPath, "fstab", cfg.FstabPath, "fstab path")
	fs.StringVar(&cfg.HdparmConfPath, "hdparm-conf", cfg.HdparmConfPath, "hdparm configuration file")
	fs.StringVar(&cfg.CredentialDir, "credential-dir", cfg.CredentialDir, "CIFS credential file directory")
	fs.Parse(args)
	return *cfg
}

func parseMonitorFlags(cfg *Config, args []string) Config {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	addGlobalFlags(cfg, fs)
	fs.DurationVar(&cfg.RefreshInterval, "refresh", cfg.RefreshInterval, "Refresh interval")
	fs.BoolVar(&cfg.Inline, "inline", false, "Run inline (no alt-screen, for SSH/scripting)")
	fs.Parse(args)
	return *cfg
}

func requireFlags(fs *flag.FlagSet, required map[string]string) {
	for name, value := range required {
		if value == "" {
			fmt.Printf("Error: --%s is required\n", name)
			fs.Usage()
			os.Exit(1)
		}
	}
}

// setupLogger configures the global logger.
func setupLogger(level string) error {
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)

	return nil
}

// newMountManager builds a mount manager with the configured file locations.
func newMountManager(cfg Config, r runner.Runner) *mountmgr.Manager {
	m := mountmgr.NewManager(r)
	m.SetLogger(log)
	m.Fstab.Path = cfg.FstabPath
	m.MountsPath = cfg.MountsPath
	m.SmbConfPath = cfg.SmbConfPath
	m.CredentialDir = cfg.CredentialDir
	return m
}

func newPowerManager(cfg Config, r runner.Runner) *hdparm.Manager {
	m := hdparm.NewManager(r)
	m.SetLogger(log)
	m.SetConfPath(cfg.HdparmConfPath)
	return m
}

// openJournal opens the operation journal. CLI commands treat the journal as
// best effort: a missing or unwritable database logs a warning and the
// operation proceeds unrecorded.
func openJournal(cfg Config) *journal.Journal {
	jcfg := journal.DefaultConfig()
	jcfg.Path = cfg.DBPath

	if err := os.MkdirAll(filepath.Dir(jcfg.Path), 0755); err != nil {
		log.WithError(err).Warn("journal directory unavailable, operations will not be recorded")
		return nil
	}
	j, err := journal.New(jcfg)
	if err != nil {
		log.WithError(err).Warn("journal unavailable, operations will not be recorded")
		return nil
	}
	j.SetLogger(log)
	return j
}

// record writes one operation outcome to the journal when it is open.
func record(j *journal.Journal, operation, target string, res diskman.OperationResult, started time.Time) {
	if j == nil {
		return
	}
	j.RecordResult(context.Background(), operation, target, res, time.Since(started))
}

// printResult renders an operation result and exits nonzero on failure.
func printResult(res diskman.OperationResult) error {
	fmt.Println(res.Message)
	if res.Detail != "" {
		fmt.Println(res.Detail)
	}
	if res.Warning != "" {
		fmt.Printf("Warning: %s\n", res.Warning)
	}
	if !res.Success {
		os.Exit(1)
	}
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runList(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	ctx := context.Background()
	scanner := blockdev.NewScanner(runner.New())
	scanner.SetLogger(log)

	var devices []blockdev.Device
	if cfg.All {
		devices = scanner.ListAll(ctx)
	} else {
		devices = scanner.List(ctx)
	}

	if cfg.JSONOut {
		return printJSON(devices)
	}

	var printTree func(devs []blockdev.Device, indent string)
	printTree = func(devs []blockdev.Device, indent string) {
		for _, d := range devs {
			line := fmt.Sprintf("%s%-12s %-5s %12d", indent, d.Name, d.Type, d.SizeBytes)
			if d.Filesystem != "" {
				line += "  " + d.Filesystem
			}
			if d.MountPoint != "" {
				line += "  " + d.MountPoint
			}
			fmt.Println(line)
			printTree(d.Children, indent+"  ")
		}
	}
	printTree(devices, "")
	return nil
}

func runMount(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	ctx := context.Background()
	mgr := newMountManager(cfg, runner.New())
	j := openJournal(cfg)
	if j != nil {
		defer j.Close()
	}

	started := time.Now()
	var res diskman.OperationResult
	operation := "mount"
	if cfg.Persistent {
		operation = "mount-persistent"
		res = mgr.MountPersistent(ctx, cfg.Device, cfg.MountPoint, cfg.Filesystem, cfg.Options)
	} else {
		res = mgr.Mount(ctx, cfg.Device, cfg.MountPoint, cfg.Filesystem, cfg.Options)
	}
	record(j, operation, cfg.Device, res, started)
	return printResult(res)
}

func runUnmount(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	mgr := newMountManager(cfg, runner.New())
	j := openJournal(cfg)
	if j != nil {
		defer j.Close()
	}

	started := time.Now()
	res := mgr.Unmount(context.Background(), cfg.MountPoint)
	record(j, "unmount", cfg.MountPoint, res, started)
	return printResult(res)
}

func runNetMount(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	req := diskman.NetworkMountRequest{
		Server:     cfg.Server,
		SharePath:  cfg.SharePath,
		MountPoint: cfg.MountPoint,
		Type:       diskman.NetworkShareType(strings.ToLower(cfg.ShareType)),
		Username:   cfg.Username,
		Password:   cfg.Password,
		Domain:     cfg.Domain,
		Options:    cfg.Options,
	}

	ctx := context.Background()
	mgr := newMountManager(cfg, runner.New())
	j := openJournal(cfg)
	if j != nil {
		defer j.Close()
	}

	started := time.Now()
	var res diskman.OperationResult
	operation := "netmount"
	if cfg.Persistent {
		operation = "netmount-persistent"
		res = mgr.MountNetworkSharePersistent(ctx, req)
	} else {
		res = mgr.MountNetworkShare(ctx, req)
	}
	record(j, operation, cfg.Server+"/"+cfg.SharePath, res, started)
	return printResult(res)
}

func runNetShares(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	mgr := newMountManager(cfg, runner.New())
	shares := mgr.NetworkShares()

	if cfg.JSONOut {
		return printJSON(shares)
	}
	for _, s := range shares {
		fmt.Printf("%-6s %s/%s on %s (%s)\n", s.Type, s.Server, s.SharePath, s.MountPoint, s.Options)
	}
	return nil
}

func runShares(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	mgr := newMountManager(cfg, runner.New())
	shares := mgr.Shares()

	if cfg.JSONOut {
		return printJSON(shares)
	}
	for _, name := range shares {
		fmt.Println(name)
	}
	return nil
}

func runSpinDown(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	mgr := newPowerManager(cfg, runner.New())
	j := openJournal(cfg)
	if j != nil {
		defer j.Close()
	}

	started := time.Now()
	res := mgr.SetSpinDown(context.Background(), cfg.Device, cfg.Minutes)
	record(j, "spindown", cfg.Device, res, started)
	return printResult(res)
}

func runAPM(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	mgr := newPowerManager(cfg, runner.New())
	j := openJournal(cfg)
	if j != nil {
		defer j.Close()
	}

	started := time.Now()
	res := mgr.SetAPMLevel(context.Background(), cfg.Device, cfg.Level)
	record(j, "apm", cfg.Device, res, started)
	return printResult(res)
}

func runPowerStatus(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	mgr := newPowerManager(cfg, runner.New())
	status := mgr.PowerStatus(context.Background(), cfg.Device)

	if cfg.JSONOut {
		return printJSON(status)
	}
	if !status.Success {
		fmt.Println(status.Message)
		os.Exit(1)
	}
	fmt.Printf("%s: %s\n", cfg.Device, status.Status)
	return nil
}

func runPowerSettings(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	mgr := newPowerManager(cfg, runner.New())
	settings := mgr.PowerSettings(cfg.Device)

	if cfg.JSONOut {
		return printJSON(settings)
	}
	if settings.SpinDownTimeoutMinutes == 0 {
		fmt.Println("Spin-down:  disabled")
	} else {
		fmt.Printf("Spin-down:  %d minutes\n", settings.SpinDownTimeoutMinutes)
	}
	if settings.APMLevel != nil {
		fmt.Printf("APM level:  %d\n", *settings.APMLevel)
	} else {
		fmt.Println("APM level:  not configured")
	}
	return nil
}

func runSmart(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	reader := smart.NewReader(runner.New())
	reader.SetLogger(log)
	info := reader.Read(context.Background(), cfg.Device)

	if cfg.JSONOut {
		return printJSON(info)
	}
	if !info.Success {
		fmt.Println(info.ErrorMessage)
		os.Exit(1)
	}

	fmt.Printf("Model:        %s\n", info.Model)
	fmt.Printf("Serial:       %s\n", info.SerialNumber)
	fmt.Printf("Firmware:     %s\n", info.FirmwareVersion)
	fmt.Printf("Health:       %s\n", info.HealthStatus)
	if info.Temperature > 0 {
		fmt.Printf("Temperature:  %d C\n", info.Temperature)
	}
	if info.PowerOnHours > 0 {
		fmt.Printf("Power-on:     %d hours\n", info.PowerOnHours)
	}
	if len(info.Attributes) > 0 {
		fmt.Println()
		fmt.Printf("%-4s %-26s %5s %5s %6s  %s\n", "ID", "ATTRIBUTE", "VALUE", "WORST", "THRESH", "RAW")
		for _, a := range info.Attributes {
			fmt.Printf("%-4d %-26s %5d %5d %6d  %s\n", a.ID, a.Name, a.Value, a.Worst, a.Threshold, a.RawValue)
		}
	}
	return nil
}

func runFeatures(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	detector := features.NewDetector(runner.New())
	detector.SetLogger(log)
	report := detector.Detect(context.Background())

	if cfg.JSONOut {
		return printJSON(report)
	}

	fmt.Println(report.Summary)
	fmt.Println()
	for _, req := range report.Requirements {
		marker := "ok"
		if req.Status == diskman.FeatureMissing {
			marker = "MISSING"
		}
		kind := "optional"
		if req.Required {
			kind = "required"
		}
		fmt.Printf("%-12s %-8s %-8s %s\n", req.Name, kind, marker, req.Description)
		if req.Status == diskman.FeatureMissing {
			for _, line := range strings.Split(req.InstallCommand, "\n") {
				fmt.Printf("             %s\n", line)
			}
		}
	}

	if !report.Ready {
		os.Exit(1)
	}
	return nil
}

func runHistory(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	jcfg := journal.DefaultConfig()
	jcfg.Path = cfg.DBPath
	j, err := journal.New(jcfg)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer j.Close()

	entries, err := j.Recent(context.Background(), cfg.Limit)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	if cfg.JSONOut {
		return printJSON(entries)
	}
	for _, e := range entries {
		outcome := "ok"
		if !e.Success {
			outcome = "FAILED"
		}
		fmt.Printf("%s  %-20s %-24s %-6s %s\n",
			e.RecordedAt.Format(time.RFC3339), e.Operation, e.Target, outcome, e.Message)
	}
	return nil
}

// runServe runs the admin API with the full dependency set: journal, metrics
// registry, and the per-path write guard shared by the mount and power
// managers.
func runServe(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}

	r := runner.New()
	r.SetLogger(log)

	scanner := blockdev.NewScanner(r)
	scanner.SetLogger(log)

	j := openJournal(cfg)
	if j != nil {
		defer j.Close()
	}

	registry := prometheus.NewRegistry()
	srvCfg := server.Config{
		Devices:        scanner,
		Mounts:         newMountManager(cfg, r),
		Power:          newPowerManager(cfg, r),
		Smart:          smart.NewReader(r),
		Features:       features.NewDetector(r),
		Metrics:        metrics.New(registry),
		Registry:       registry,
		Guard:          safeguards.NewPathGuard(log),
		FstabPath:      cfg.FstabPath,
		HdparmConfPath: cfg.HdparmConfPath,
		Logger:         log,
	}
	if j != nil {
		srvCfg.History = j
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(srvCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("admin API listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}

// runMonitor runs the interactive terminal device monitor.
func runMonitor(cfg Config) error {
	// Suppress log output to avoid mixing with TUI
	log.SetOutput(io.Discard)
	stdlog.SetOutput(io.Discard)

	r := runner.New()
	scanner := blockdev.NewScanner(r)
	scanner.SetLogger(log)
	mgr := newMountManager(cfg, r)
	mgr.SetLogger(log)

	if cfg.Inline {
		return tui.RunInline(scanner, mgr, cfg.RefreshInterval)
	}
	return tui.Run(scanner, mgr, cfg.RefreshInterval)
}
