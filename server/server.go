// Package server exposes the disk management operations as a JSON admin API.
//
// The HTTP layer is a thin translation: handlers decode a request, call the
// corresponding manager, record the outcome in the journal and metrics, and
// serialize the result type as-is. Operation failures are carried inside the
// result body with HTTP 200; HTTP error statuses are reserved for transport
// problems (bad JSON, wrong method).
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	diskman "github.com/mingyue/diskman"
	"github.com/mingyue/diskman/blockdev"
	"github.com/mingyue/diskman/journal"
	"github.com/mingyue/diskman/metrics"
	"github.com/mingyue/diskman/mountmgr"
	"github.com/mingyue/diskman/safeguards"
	"github.com/mingyue/diskman/smart"
)

// DeviceLister enumerates local block devices.
type DeviceLister interface {
	List(ctx context.Context) []blockdev.Device
}

// Mounter covers device and network-share mount operations.
type Mounter interface {
	Mount(ctx context.Context, devicePath, mountPoint, fstype, options string) diskman.OperationResult
	MountPersistent(ctx context.Context, devicePath, mountPoint, fstype, options string) diskman.OperationResult
	Unmount(ctx context.Context, mountPoint string) diskman.OperationResult
	MountNetworkShare(ctx context.Context, req diskman.NetworkMountRequest) diskman.OperationResult
	MountNetworkSharePersistent(ctx context.Context, req diskman.NetworkMountRequest) diskman.OperationResult
	NetworkShares() []diskman.NetworkShare
	Shares() []string
}

// PowerManager covers drive power operations.
type PowerManager interface {
	SetSpinDown(ctx context.Context, devicePath string, minutes int) diskman.OperationResult
	SetAPMLevel(ctx context.Context, devicePath string, level int) diskman.OperationResult
	PowerStatus(ctx context.Context, devicePath string) diskman.PowerStatus
	PowerSettings(devicePath string) diskman.PowerSettings
}

// SmartReader reads drive health reports.
type SmartReader interface {
	Read(ctx context.Context, devicePath string) smart.Info
}

// FeatureDetector probes external tool availability.
type FeatureDetector interface {
	Detect(ctx context.Context) diskman.FeatureReport
}

// History reads and writes the operation journal.
type History interface {
	RecordResult(ctx context.Context, operation, target string, res diskman.OperationResult, duration time.Duration)
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Config wires the server's collaborators.
type Config struct {
	Devices  DeviceLister
	Mounts   Mounter
	Power    PowerManager
	Smart    SmartReader
	Features FeatureDetector

	// History and Metrics are optional; nil disables them.
	History History
	Metrics *metrics.Metrics

	// Registry backs the /metrics endpoint when set.
	Registry *prometheus.Registry

	// Guard serializes persistent writes per config file path.
	Guard *safeguards.PathGuard

	// FstabPath and HdparmConfPath are the guard keys for persistent writes.
	FstabPath      string
	HdparmConfPath string

	Logger logrus.FieldLogger
}

// Server is the admin API handler.
type Server struct {
	cfg    Config
	logger logrus.FieldLogger
	mux    *http.ServeMux
}

type apiError struct {
	Error string `json:"error"`
}

// New builds the handler and its route table.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Guard == nil {
		cfg.Guard = safeguards.NewPathGuard(cfg.Logger)
	}
	if cfg.FstabPath == "" {
		cfg.FstabPath = "/etc/fstab"
	}
	if cfg.HdparmConfPath == "" {
		cfg.HdparmConfPath = "/etc/hdparm.conf"
	}

	s := &Server{cfg: cfg, logger: cfg.Logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/v1/devices", s.handleDevices)
	s.mux.HandleFunc("/v1/mount", s.handleMount)
	s.mux.HandleFunc("/v1/unmount", s.handleUnmount)
	s.mux.HandleFunc("/v1/netmount", s.handleNetMount)
	s.mux.HandleFunc("/v1/netshares", s.handleNetShares)
	s.mux.HandleFunc("/v1/shares", s.handleShares)
	s.mux.HandleFunc("/v1/filesystems", s.handleFilesystems)
	s.mux.HandleFunc("/v1/power/spindown", s.handleSpinDown)
	s.mux.HandleFunc("/v1/power/apm", s.handleAPM)
	s.mux.HandleFunc("/v1/power/status", s.handlePowerStatus)
	s.mux.HandleFunc("/v1/power/settings", s.handlePowerSettings)
	s.mux.HandleFunc("/v1/smart", s.handleSmart)
	s.mux.HandleFunc("/v1/features", s.handleFeatures)
	s.mux.HandleFunc("/v1/history", s.handleHistory)

	if cfg.Registry != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	devices := s.cfg.Devices.List(r.Context())
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetLocalDevices(len(devices))
	}
	writeJSON(w, http.StatusOK, devices)
}

type mountRequest struct {
	Device     string `json:"device"`
	MountPoint string `json:"mount_point"`
	Filesystem string `json:"filesystem,omitempty"`
	Options    string `json:"options,omitempty"`
	Persistent bool   `json:"persistent,omitempty"`
}

func (s *Server) handleMount(w http.ResponseWriter, r *http.Request) {
	var req mountRequest
	if !decodePost(w, r, &req) {
		return
	}

	op := "mount"
	if req.Persistent {
		op = "mount-persistent"
	}
	timer := metrics.Start(op, s.logger, s.cfg.Metrics)

	var res diskman.OperationResult
	err := safeguards.Recoverable(s.logger, op, func() error {
		if req.Persistent {
			return s.cfg.Guard.WithPath(r.Context(), s.cfg.FstabPath, func() error {
				res = s.cfg.Mounts.MountPersistent(r.Context(), req.Device, req.MountPoint, req.Filesystem, req.Options)
				return nil
			})
		}
		res = s.cfg.Mounts.Mount(r.Context(), req.Device, req.MountPoint, req.Filesystem, req.Options)
		return nil
	})
	if err != nil {
		res = diskman.Failed(op+" failed", err.Error())
	}

	s.finish(r.Context(), op, req.Device, res, timer)
	writeJSON(w, http.StatusOK, res)
}

type unmountRequest struct {
	MountPoint string `json:"mount_point"`
}

func (s *Server) handleUnmount(w http.ResponseWriter, r *http.Request) {
	var req unmountRequest
	if !decodePost(w, r, &req) {
		return
	}

	timer := metrics.Start("unmount", s.logger, s.cfg.Metrics)
	var res diskman.OperationResult
	err := safeguards.Recoverable(s.logger, "unmount", func() error {
		res = s.cfg.Mounts.Unmount(r.Context(), req.MountPoint)
		return nil
	})
	if err != nil {
		res = diskman.Failed("unmount failed", err.Error())
	}
	s.finish(r.Context(), "unmount", req.MountPoint, res, timer)
	writeJSON(w, http.StatusOK, res)
}

type netMountRequest struct {
	diskman.NetworkMountRequest
	Persistent bool `json:"persistent,omitempty"`
}

func (s *Server) handleNetMount(w http.ResponseWriter, r *http.Request) {
	var req netMountRequest
	if !decodePost(w, r, &req) {
		return
	}

	op := "netmount"
	if req.Persistent {
		op = "netmount-persistent"
	}
	timer := metrics.Start(op, s.logger, s.cfg.Metrics)

	var res diskman.OperationResult
	err := safeguards.Recoverable(s.logger, op, func() error {
		if req.Persistent {
			return s.cfg.Guard.WithPath(r.Context(), s.cfg.FstabPath, func() error {
				res = s.cfg.Mounts.MountNetworkSharePersistent(r.Context(), req.NetworkMountRequest)
				return nil
			})
		}
		res = s.cfg.Mounts.MountNetworkShare(r.Context(), req.NetworkMountRequest)
		return nil
	})
	if err != nil {
		res = diskman.Failed(op+" failed", err.Error())
	}

	target := req.Server + "/" + req.SharePath
	s.finish(r.Context(), op, target, res, timer)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleNetShares(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Mounts.NetworkShares())
}

func (s *Server) handleShares(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Mounts.Shares())
}

func (s *Server) handleFilesystems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, mountmgr.AvailableFilesystems())
}

type spinDownRequest struct {
	Device  string `json:"device"`
	Minutes int    `json:"minutes"`
}

func (s *Server) handleSpinDown(w http.ResponseWriter, r *http.Request) {
	var req spinDownRequest
	if !decodePost(w, r, &req) {
		return
	}

	timer := metrics.Start("spindown", s.logger, s.cfg.Metrics)
	var res diskman.OperationResult
	err := safeguards.Recoverable(s.logger, "spindown", func() error {
		return s.cfg.Guard.WithPath(r.Context(), s.cfg.HdparmConfPath, func() error {
			res = s.cfg.Power.SetSpinDown(r.Context(), req.Device, req.Minutes)
			return nil
		})
	})
	if err != nil {
		res = diskman.Failed("spindown update failed", err.Error())
	}
	s.finish(r.Context(), "spindown", req.Device, res, timer)
	writeJSON(w, http.StatusOK, res)
}

type apmRequest struct {
	Device string `json:"device"`
	Level  int    `json:"level"`
}

func (s *Server) handleAPM(w http.ResponseWriter, r *http.Request) {
	var req apmRequest
	if !decodePost(w, r, &req) {
		return
	}

	timer := metrics.Start("apm", s.logger, s.cfg.Metrics)
	var res diskman.OperationResult
	err := safeguards.Recoverable(s.logger, "apm", func() error {
		return s.cfg.Guard.WithPath(r.Context(), s.cfg.HdparmConfPath, func() error {
			res = s.cfg.Power.SetAPMLevel(r.Context(), req.Device, req.Level)
			return nil
		})
	})
	if err != nil {
		res = diskman.Failed("APM update failed", err.Error())
	}
	s.finish(r.Context(), "apm", req.Device, res, timer)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePowerStatus(w http.ResponseWriter, r *http.Request) {
	device, ok := deviceParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Power.PowerStatus(r.Context(), device))
}

func (s *Server) handlePowerSettings(w http.ResponseWriter, r *http.Request) {
	device, ok := deviceParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Power.PowerSettings(device))
}

func (s *Server) handleSmart(w http.ResponseWriter, r *http.Request) {
	device, ok := deviceParam(w, r)
	if !ok {
		return
	}
	timer := metrics.Start("smart-read", s.logger, s.cfg.Metrics)
	info := s.cfg.Smart.Read(r.Context(), device)
	timer.Stop(info.Success)
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Features.Detect(r.Context()))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.cfg.History == nil {
		writeJSON(w, http.StatusOK, []journal.Entry{})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.cfg.History.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// finish records the outcome in the journal and stops the timer.
func (s *Server) finish(ctx context.Context, operation, target string, res diskman.OperationResult, timer *metrics.Timer) {
	duration := timer.Stop(res.Success)
	if s.cfg.History != nil {
		s.cfg.History.RecordResult(ctx, operation, target, res, duration)
	}
}

func decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func deviceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", false
	}
	device := r.URL.Query().Get("device")
	if device == "" {
		writeError(w, http.StatusBadRequest, "missing device parameter")
		return "", false
	}
	return device, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}
