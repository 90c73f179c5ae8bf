package capture

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/cache"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/detect"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/models"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/radio"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/remote"
)

// Sentinels appended by the composite start command. The remote shell
// prints exactly one of them after the launch-and-verify sequence.
const (
	startedSentinel = "TCPDUMP_STARTED"
	failedSentinel  = "TCPDUMP_FAILED"
)

const (
	startTimeout = 15 * time.Second
	killTimeout  = 10 * time.Second
	listTimeout  = 5 * time.Second
	probeTimeout = 5 * time.Second
	timeTimeout  = 10 * time.Second
)

// timeLayout is the clock format exchanged with the device's date
// command.
const timeLayout = "2006-01-02 15:04:05"

// detectionMethod tags how the active interface mapping was obtained.
const detectionMethod = "iwconfig_frequency"

// Cache keys shared with the API layer.
const (
	keyConnection = "connection_status"
	keyInterfaces = "interface_mapping"
	keyWifiConfig = "wifi_config"
	keyTimeInfo   = "time_info"
)

// Notifier receives push updates when capture or connection state
// changes. Implementations must not block; a nil notifier disables
// pushes.
type Notifier interface {
	StatusChanged(statuses map[string]models.BandStatus)
	ConnectionChanged(connected bool, interfaces map[string]string, detection models.DetectionStatus)
}

// Options configures a Manager.
type Options struct {
	DownloadDir     string
	RemoteDir       string
	MonitorInterval time.Duration
	StopGrace       time.Duration
	StabilizePause  time.Duration
	AutoSyncTime    bool

	Interfaces models.InterfaceMap
	Radios     models.RadioMap
	Channels   models.ChannelConfigMap
	FileSplit  models.FileSplitConfig
}

func (o *Options) setDefaults() {
	if o.RemoteDir == "" {
		o.RemoteDir = "/tmp"
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = 3 * time.Second
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 2 * time.Second
	}
	if o.StabilizePause <= 0 {
		o.StabilizePause = 3 * time.Second
	}
	if o.FileSplit.SizeMB == 0 {
		o.FileSplit.SizeMB = 200
	}
}

// Manager owns all per-band capture sessions and the believed device
// configuration. Every mutation of session or mapping state happens
// under one lock; remote commands run outside it.
type Manager struct {
	exec     remote.Executor
	detector *detect.Detector
	applier  *radio.Applier
	cache    *cache.Cache
	opts     Options
	notifier Notifier

	mu          sync.Mutex
	sessions    [models.BandCount]models.CaptureSession
	monitorStop [models.BandCount]chan struct{}
	interfaces  models.InterfaceMap
	radios      models.RadioMap
	channels    models.ChannelConfigMap
	detection   models.DetectionStatus
	timeSync    models.TimeSyncStatus
	fileSplit   models.FileSplitConfig
	cleanupDone bool

	now func() time.Time
}

// New creates a capture manager seeded with the static defaults from
// opts. Detection later replaces the seeded mapping wholesale.
func New(exec remote.Executor, detector *detect.Detector, applier *radio.Applier, c *cache.Cache, opts Options) *Manager {
	opts.setDefaults()
	return &Manager{
		exec:       exec,
		detector:   detector,
		applier:    applier,
		cache:      c,
		opts:       opts,
		interfaces: opts.Interfaces,
		radios:     opts.Radios,
		channels:   opts.Channels,
		fileSplit:  opts.FileSplit,
		now:        time.Now,
	}
}

// SetNotifier installs the push channel. Must be called before the
// manager starts serving requests.
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

func (m *Manager) notifyStatus() {
	if m.notifier != nil {
		m.notifier.StatusChanged(m.StatusAll())
	}
}

func (m *Manager) notifyConnection(connected bool) {
	if m.notifier == nil {
		return
	}
	m.mu.Lock()
	interfaces := m.interfaces.Labeled()
	detection := m.detection
	m.mu.Unlock()
	m.notifier.ConnectionChanged(connected, interfaces, detection)
}

func (m *Manager) remotePath(band models.Band) string {
	return m.opts.RemoteDir + "/" + band.String() + ".pcap"
}

// Status returns the externally visible snapshot of one band.
func (m *Manager) Status(band models.Band) models.BandStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(band)
}

func (m *Manager) statusLocked(band models.Band) models.BandStatus {
	s := m.sessions[band]
	status := models.BandStatus{
		Band:             band,
		State:            s.State,
		Running:          s.State == models.StateRunning,
		EstimatedPackets: s.EstimatedPackets,
	}
	if s.SessionID != uuid.Nil {
		status.SessionID = s.SessionID.String()
	}
	if s.State == models.StateRunning && s.StartedAt != nil {
		status.StartedAt = s.StartedAt
		elapsed := int(m.now().Sub(*s.StartedAt).Seconds())
		status.Duration = fmt.Sprintf("%02d:%02d", elapsed/60, elapsed%60)
	}
	return status
}

// StatusAll returns snapshots for every band keyed by band label.
func (m *Manager) StatusAll() map[string]models.BandStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.BandStatus, models.BandCount)
	for _, b := range models.Bands() {
		out[b.String()] = m.statusLocked(b)
	}
	return out
}

// Start launches a tcpdump capture on the given band's interface. The
// remote launch sequence kills any stray capture on the interface,
// clears stale output files, starts tcpdump detached and verifies it
// survived one second before reporting a sentinel.
func (m *Manager) Start(band models.Band) models.StartResult {
	m.mu.Lock()
	if m.sessions[band].State != models.StateIdle {
		m.mu.Unlock()
		return models.StartResult{OK: false, Message: fmt.Sprintf("%s capture already running", band)}
	}
	m.sessions[band].State = models.StateStarting
	iface := m.interfaces[band]
	othersRunning := false
	for _, b := range models.Bands() {
		if b != band && m.sessions[b].State == models.StateRunning {
			othersRunning = true
		}
	}
	split := m.fileSplit
	m.mu.Unlock()

	if iface == "" {
		m.abortStart(band)
		return models.StartResult{OK: false, Message: fmt.Sprintf("no interface known for band %s", band)}
	}

	// Align the device clock first so capture timestamps are usable,
	// but never touch the clock while another band is writing packets.
	if m.opts.AutoSyncTime && !othersRunning {
		if ok, _ := m.SyncTime(); ok {
			log.Info().Stringer("band", band).Msg("time synced before capture")
		}
	}

	remotePath := m.remotePath(band)
	tcpdump := fmt.Sprintf("tcpdump -i %s -U -s0 -w %s", iface, remotePath)
	if split.Enabled {
		tcpdump = fmt.Sprintf("%s -C %d", tcpdump, split.SizeMB)
	}

	cmd := fmt.Sprintf(`PID=$(ps | grep "tcpdump -i %[1]s" | grep -v grep | awk '{print $1}')
[ -n "$PID" ] && kill $PID 2>/dev/null
rm -f %[2]s %[2]s[0-9]*
(%[3]s &)
sleep 1
ps | grep "tcpdump -i %[1]s" | grep -v grep && echo '%[4]s' || echo '%[5]s'`,
		iface, remotePath, tcpdump, startedSentinel, failedSentinel)

	ok, stdout, stderr := m.exec.Execute(cmd, startTimeout)
	if !ok || strings.Contains(stdout, failedSentinel) {
		m.abortStart(band)
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = strings.TrimSpace(stdout)
		}
		return models.StartResult{OK: false, Message: fmt.Sprintf("Failed to start tcpdump: %s", detail)}
	}
	if !strings.Contains(stdout, startedSentinel) {
		m.abortStart(band)
		return models.StartResult{OK: false, Message: "tcpdump verification failed"}
	}

	stop := make(chan struct{})
	started := m.now()

	m.mu.Lock()
	m.sessions[band] = models.CaptureSession{
		State:     models.StateRunning,
		SessionID: uuid.New(),
		StartedAt: &started,
	}
	m.monitorStop[band] = stop
	m.mu.Unlock()

	go m.monitor(band, stop)

	log.Info().Stringer("band", band).Str("interface", iface).Bool("split", split.Enabled).
		Msg("capture started")
	m.notifyStatus()
	return models.StartResult{OK: true, Message: fmt.Sprintf("%s capture started on %s", band, iface)}
}

func (m *Manager) abortStart(band models.Band) {
	m.mu.Lock()
	m.sessions[band] = models.CaptureSession{}
	m.mu.Unlock()
}

// monitor periodically sizes the remote capture file and derives the
// packet estimate. Probe failures are skipped silently; the next tick
// retries.
func (m *Manager) monitor(band models.Band, stop <-chan struct{}) {
	ticker := time.NewTicker(m.opts.MonitorInterval)
	defer ticker.Stop()

	cmd := fmt.Sprintf("ls -la %s 2>/dev/null | awk '{print $5}'", m.remotePath(band))
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ok, stdout, _ := m.exec.Execute(cmd, probeTimeout)
		if !ok {
			continue
		}
		size, err := strconv.ParseInt(strings.TrimSpace(stdout), 10, 64)
		if err != nil {
			continue
		}

		m.mu.Lock()
		if m.monitorStop[band] == stop && m.sessions[band].State == models.StateRunning {
			m.sessions[band].EstimatedPackets = size / 100
		}
		m.mu.Unlock()
	}
}

// Stop terminates a running capture, downloads whatever tcpdump wrote
// and removes the remote files. Remote files are deleted even when the
// download failed, so a stale multi-gigabyte capture never lingers in
// the device's tmpfs.
func (m *Manager) Stop(band models.Band) models.StopResult {
	m.mu.Lock()
	if m.sessions[band].State != models.StateRunning {
		m.mu.Unlock()
		return models.StopResult{OK: false, Message: fmt.Sprintf("%s capture not running", band)}
	}
	m.sessions[band].State = models.StateStopping
	iface := m.interfaces[band]
	stop := m.monitorStop[band]
	m.monitorStop[band] = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	killCmd := fmt.Sprintf(
		`PID=$(ps | grep 'tcpdump -i %s' | grep -v grep | awk '{print $1}'); [ -n "$PID" ] && kill $PID 2>/dev/null || true`,
		iface)
	m.exec.Execute(killCmd, killTimeout)

	// Give tcpdump a moment to flush its final buffer to disk.
	time.Sleep(m.opts.StopGrace)

	remotePath := m.remotePath(band)
	timestamp := m.now().Format("20060102_150405")

	ok, stdout, _ := m.exec.Execute(fmt.Sprintf("ls -1 %s* 2>/dev/null", remotePath), listTimeout)
	if !ok || strings.TrimSpace(stdout) == "" {
		m.finishSession(band)
		m.notifyStatus()
		return models.StopResult{OK: false, Message: "No capture file found on device"}
	}

	var remoteFiles []string
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			remoteFiles = append(remoteFiles, line)
		}
	}
	log.Info().Stringer("band", band).Int("files", len(remoteFiles)).Msg("collecting capture files")

	var downloaded []string
	var totalSize int64

	if len(remoteFiles) == 1 {
		localName := fmt.Sprintf("%s_sniffer_%s.pcap", band, timestamp)
		localPath := filepath.Join(m.opts.DownloadDir, localName)
		if m.exec.DownloadFile(remoteFiles[0], localPath) {
			if info, err := os.Stat(localPath); err == nil {
				totalSize = info.Size()
				downloaded = append(downloaded, localName)
			}
		}
	} else {
		for i, remoteFile := range remoteFiles {
			localName := fmt.Sprintf("%s_sniffer_%s_part%03d.pcap", band, timestamp, i+1)
			localPath := filepath.Join(m.opts.DownloadDir, localName)
			if m.exec.DownloadFile(remoteFile, localPath) {
				if info, err := os.Stat(localPath); err == nil {
					totalSize += info.Size()
					downloaded = append(downloaded, localName)
				}
			}
		}
	}

	m.exec.Execute(fmt.Sprintf("rm -f %s*", remotePath), listTimeout)

	m.finishSession(band)
	m.notifyStatus()

	if len(downloaded) == 0 {
		return models.StopResult{OK: false, Message: "Download failed"}
	}
	if len(downloaded) == 1 {
		return models.StopResult{
			OK:        true,
			Message:   fmt.Sprintf("Saved: %s (%s bytes)", downloaded[0], groupDigits(totalSize)),
			LocalPath: filepath.Join(m.opts.DownloadDir, downloaded[0]),
		}
	}
	return models.StopResult{
		OK:        true,
		Message:   fmt.Sprintf("Saved %d files (%s total)", len(downloaded), humanSize(totalSize)),
		LocalPath: m.opts.DownloadDir,
	}
}

func (m *Manager) finishSession(band models.Band) {
	m.mu.Lock()
	m.sessions[band] = models.CaptureSession{}
	m.mu.Unlock()
}

// StartAll starts every band and reports per-band outcomes.
func (m *Manager) StartAll() map[string]models.StartResult {
	out := make(map[string]models.StartResult, models.BandCount)
	for _, b := range models.Bands() {
		out[b.String()] = m.Start(b)
	}
	return out
}

// StopAll stops every running capture. Bands that were not running are
// absent from the result.
func (m *Manager) StopAll() map[string]models.StopResult {
	out := make(map[string]models.StopResult)
	for _, b := range models.Bands() {
		m.mu.Lock()
		running := m.sessions[b].State == models.StateRunning
		m.mu.Unlock()
		if running {
			out[b.String()] = m.Stop(b)
		}
	}
	return out
}

// SyncTime pushes the local clock onto the device and records the
// offset observed before the set.
func (m *Manager) SyncTime() (bool, string) {
	local := m.now()

	if ok, stdout, _ := m.exec.Execute("date '+%Y-%m-%d %H:%M:%S'", timeTimeout); ok {
		if deviceTime, err := time.ParseInLocation(timeLayout, strings.TrimSpace(stdout), local.Location()); err == nil {
			offset := local.Sub(deviceTime).Seconds()
			m.mu.Lock()
			m.timeSync.OffsetSeconds = &offset
			m.mu.Unlock()
			log.Info().Float64("offset_seconds", offset).Msg("device clock offset measured")
		}
	}

	timeStr := local.Format(timeLayout)
	ok, _, stderr := m.exec.Execute(fmt.Sprintf(`date -s "%s"`, timeStr), timeTimeout)

	m.mu.Lock()
	m.timeSync.Success = ok
	if ok {
		m.timeSync.LastSync = &local
	}
	m.mu.Unlock()

	m.cache.Invalidate(keyTimeInfo)
	if !ok {
		return false, fmt.Sprintf("Failed to set time: %s", strings.TrimSpace(stderr))
	}
	return true, fmt.Sprintf("Time synced: %s", timeStr)
}

// TimeInfo reports both clocks. Results are cached briefly so status
// pollers do not hammer the device with date commands.
func (m *Manager) TimeInfo() models.TimeInfo {
	v := m.cache.GetOrCompute(keyTimeInfo, func() interface{} {
		return m.readTimeInfo()
	})
	return v.(models.TimeInfo)
}

func (m *Manager) readTimeInfo() models.TimeInfo {
	local := m.now()
	info := models.TimeInfo{
		LocalTime:  local.Format(timeLayout),
		DeviceTime: "Unknown",
	}

	if ok, stdout, _ := m.exec.Execute("date '+%Y-%m-%d %H:%M:%S'", timeTimeout); ok {
		raw := strings.TrimSpace(stdout)
		info.DeviceTime = raw
		if deviceTime, err := time.ParseInLocation(timeLayout, raw, local.Location()); err == nil {
			offset := local.Sub(deviceTime).Seconds()
			info.OffsetSeconds = &offset
			info.Synced = math.Abs(offset) < 2
		}
	}

	m.mu.Lock()
	info.LastSync = m.timeSync.LastSync
	m.mu.Unlock()
	return info
}

// TimeSyncStatus returns the last recorded synchronization outcome.
func (m *Manager) TimeSyncStatus() models.TimeSyncStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeSync
}

// DetectInterfaces probes the device for the live band-to-interface
// mapping and, on success, reconciles radio assignments and channel
// configuration to device truth. A failed probe leaves the current
// mapping untouched.
func (m *Manager) DetectInterfaces() models.DetectResult {
	mapping, err := m.detector.ProbeInterfaces()
	if err != nil {
		log.Warn().Err(err).Msg("interface detection failed, keeping current mapping")
		m.mu.Lock()
		defer m.mu.Unlock()
		return models.DetectResult{
			OK:        false,
			Message:   fmt.Sprintf("Detection failed: %v", err),
			Mapping:   m.interfaces.Labeled(),
			Radios:    m.radios.Labeled(),
			Detection: m.detection,
		}
	}

	detectedAt := m.now()
	m.mu.Lock()
	m.interfaces = mapping
	m.detection = models.DetectionStatus{
		Detected:      true,
		LastDetection: &detectedAt,
		Method:        detectionMethod,
		Mapping:       mapping.Labeled(),
	}
	m.mu.Unlock()

	m.cache.Set(keyInterfaces, mapping.Labeled())
	log.Info().Interface("mapping", mapping.Labeled()).Msg("interface mapping detected")

	m.reconcileRadios()

	m.mu.Lock()
	defer m.mu.Unlock()
	return models.DetectResult{
		OK: true,
		Message: fmt.Sprintf("Detection successful. Mapping: 2G=%s, 5G=%s, 6G=%s",
			m.interfaces[models.Band2G], m.interfaces[models.Band5G], m.interfaces[models.Band6G]),
		Mapping:   m.interfaces.Labeled(),
		Radios:    m.radios.Labeled(),
		Detection: m.detection,
	}
}

// reconcileRadios refreshes the radio assignment and the believed
// channel configuration from the device's configuration store. Radios
// the probe could not classify keep their previous assignment.
func (m *Manager) reconcileRadios() {
	probe, err := m.detector.ProbeRadios()
	if err != nil {
		log.Warn().Err(err).Msg("radio probe failed, keeping current radio mapping")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range models.Bands() {
		if probe.Radios[b] != "" {
			m.radios[b] = probe.Radios[b]
		}
		if cfg := probe.Configs[b]; cfg != nil {
			if cfg.Bandwidth == "" {
				cfg.Bandwidth = m.channels[b].Bandwidth
			}
			m.channels[b] = *cfg
		}
	}
}

// Detection returns the last detection outcome.
func (m *Manager) Detection() models.DetectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detection
}

// InterfaceMapping returns the active mapping plus whether a fresh
// cached copy existed.
func (m *Manager) InterfaceMapping() (mapping map[string]string, cached bool) {
	_, cached = m.cache.Get(keyInterfaces)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interfaces.Labeled(), cached
}

// Radios returns the active band-to-radio assignment.
func (m *Manager) Radios() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.radios.Labeled()
}

// ChannelConfig returns the believed per-band channel configuration
// without touching the device.
func (m *Manager) ChannelConfig() map[string]models.ChannelConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels.Labeled()
}

// DeviceChannelConfig returns the per-band channel configuration from
// the device's configuration store, reconciling the believed values.
// With force unset a recent cached read is returned instead.
func (m *Manager) DeviceChannelConfig(force bool) map[string]models.ChannelConfig {
	if !force {
		if v, ok := m.cache.Get(keyWifiConfig); ok {
			return v.(map[string]models.ChannelConfig)
		}
	}

	m.mu.Lock()
	radios := m.radios
	m.mu.Unlock()

	for _, b := range models.Bands() {
		if radios[b] == "" {
			continue
		}
		cfg, err := m.detector.ProbeChannelConfig(radios[b])
		if err != nil {
			log.Warn().Err(err).Stringer("band", b).Msg("device config read failed")
			continue
		}
		m.mu.Lock()
		if cfg.Bandwidth == "" {
			cfg.Bandwidth = m.channels[b].Bandwidth
		}
		m.channels[b] = cfg
		m.mu.Unlock()
	}

	current := m.ChannelConfig()
	m.cache.Set(keyWifiConfig, current)
	return current
}

// SetChannelConfig updates the believed configuration for one band
// after validating channel and bandwidth against the band's plan.
// Nothing is sent to the device until ApplyAllAndRestart.
func (m *Manager) SetChannelConfig(band models.Band, channel int, bandwidth string) (bool, string) {
	if !models.ValidChannel(band, channel) {
		return false, fmt.Sprintf("invalid channel %d for band %s", channel, band)
	}
	if bandwidth != "" && !models.ValidBandwidth(band, bandwidth) {
		return false, fmt.Sprintf("invalid bandwidth %s for band %s", bandwidth, band)
	}

	m.mu.Lock()
	m.channels[band].Channel = channel
	if bandwidth != "" {
		m.channels[band].Bandwidth = bandwidth
	}
	applied := m.channels[band]
	m.mu.Unlock()

	return true, fmt.Sprintf("Config updated for %s: CH%d %s", band, applied.Channel, applied.Bandwidth)
}

// FileSplit returns the current file split configuration.
func (m *Manager) FileSplit() models.FileSplitConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fileSplit
}

// SetFileSplit updates the file split configuration. The size is
// clamped to the range tcpdump handles sensibly on the device. Nil
// fields keep their current value.
func (m *Manager) SetFileSplit(enabled *bool, sizeMB *int) models.FileSplitConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	if enabled != nil {
		m.fileSplit.Enabled = *enabled
	}
	if sizeMB != nil {
		size := *sizeMB
		if size < 10 {
			size = 10
		} else if size > 2000 {
			size = 2000
		}
		m.fileSplit.SizeMB = size
	}
	return m.fileSplit
}

// ApplyAllAndRestart pushes all three band configurations to the
// device, commits them and reloads the radios. The commit only happens
// when every band staged cleanly, so a partial configuration is never
// activated. After the radios come back the mapping is re-detected.
func (m *Manager) ApplyAllAndRestart() models.ApplyResult {
	for _, b := range models.Bands() {
		m.mu.Lock()
		running := m.sessions[b].State == models.StateRunning
		m.mu.Unlock()
		if running {
			return models.ApplyResult{
				OK:       false,
				Bands:    map[models.Band]models.BandApplyResult{},
				Messages: []string{fmt.Sprintf("Cannot apply config while %s capture is running. Stop all captures first.", b)},
			}
		}
	}

	m.mu.Lock()
	radios := m.radios
	channels := m.channels
	m.mu.Unlock()

	result := models.ApplyResult{OK: true, Bands: make(map[models.Band]models.BandApplyResult, models.BandCount)}

	for _, b := range models.Bands() {
		var br models.BandApplyResult
		if radios[b] == "" {
			br = models.BandApplyResult{OK: false, Message: fmt.Sprintf("no radio known for band %s", b)}
		} else if err := m.applier.ApplyBand(radios[b], channels[b]); err != nil {
			br = models.BandApplyResult{OK: false, Message: err.Error()}
		} else {
			br = models.BandApplyResult{
				OK:      true,
				Message: fmt.Sprintf("%s config set: CH%d %s", b, channels[b].Channel, channels[b].Bandwidth),
			}
		}
		result.Bands[b] = br
		result.Messages = append(result.Messages, fmt.Sprintf("%s: %s", b, br.Message))
		if !br.OK {
			result.OK = false
		}
	}
	if !result.OK {
		return result
	}

	if err := m.applier.Commit(); err != nil {
		result.OK = false
		result.Messages = append(result.Messages, fmt.Sprintf("UCI commit failed: %v", err))
		return result
	}
	result.Messages = append(result.Messages, "UCI changes committed")

	result.Messages = append(result.Messages, "Executing 'wifi load' to apply changes...")
	if err := m.applier.Reload(); err != nil {
		result.OK = false
		result.Messages = append(result.Messages, fmt.Sprintf("Wifi load failed: %v", err))
		return result
	}
	result.Messages = append(result.Messages, "Wifi restart initiated, waiting for interfaces...")

	ctx, cancel := context.WithTimeout(context.Background(), m.applier.MaxWait())
	defer cancel()
	if _, err := m.applier.WaitForInterfaces(ctx); err != nil {
		result.OK = false
		result.Messages = append(result.Messages,
			fmt.Sprintf("Timeout waiting for interfaces (%ds)", int(m.applier.MaxWait().Seconds())))
		return result
	}
	result.Messages = append(result.Messages, "All interfaces ready!")

	// Radios report before they settle on their final channel.
	time.Sleep(m.opts.StabilizePause)

	if report, err := m.applier.InterfaceReport(); err == nil {
		result.InterfaceStatus = report
	}

	m.DetectInterfaces()
	m.cache.Invalidate(keyWifiConfig)
	return result
}

// ConnectionInfo is the connection probe outcome plus whether it was
// served from cache.
type ConnectionInfo struct {
	Connected bool `json:"connected"`
	Cached    bool `json:"cached"`
}

// TestConnection probes device reachability with a short-lived cache
// in front. The first successful probe of the process lifetime also
// cleans up remote leftovers from earlier runs and triggers interface
// detection if none succeeded yet.
func (m *Manager) TestConnection() ConnectionInfo {
	if v, ok := m.cache.Get(keyConnection); ok {
		return ConnectionInfo{Connected: v.(bool), Cached: true}
	}

	connected := m.exec.TestConnection()
	m.cache.Set(keyConnection, connected)

	if connected {
		m.mu.Lock()
		needsCleanup := !m.cleanupDone
		m.cleanupDone = true
		detected := m.detection.Detected
		m.mu.Unlock()

		if needsCleanup {
			if ok, msg := m.CleanupRemoteProcesses(); ok {
				log.Info().Str("result", msg).Msg("startup cleanup completed")
			}
		}
		if !detected {
			m.DetectInterfaces()
		}
	}

	m.notifyConnection(connected)
	return ConnectionInfo{Connected: connected}
}

// CleanupRemoteProcesses kills any stray tcpdump on the device and
// removes leftover capture files from earlier runs.
func (m *Manager) CleanupRemoteProcesses() (bool, string) {
	var paths []string
	for _, b := range models.Bands() {
		paths = append(paths, m.remotePath(b)+"*")
	}
	cmd := fmt.Sprintf(
		`PID=$(ps | grep 'tcpdump -i' | grep -v grep | awk '{print $1}'); [ -n "$PID" ] && kill $PID 2>/dev/null; rm -f %s; echo cleaned`,
		strings.Join(paths, " "))

	ok, stdout, stderr := m.exec.Execute(cmd, killTimeout)
	if !ok {
		return false, fmt.Sprintf("cleanup failed: %s", strings.TrimSpace(stderr))
	}
	if !strings.Contains(stdout, "cleaned") {
		return false, "cleanup did not complete"
	}
	return true, "stray captures killed, remote files removed"
}

// humanSize renders a byte total the way the download summary shows
// it.
func humanSize(n int64) string {
	switch {
	case n > 1<<30:
		return fmt.Sprintf("%.2f GB", float64(n)/(1<<30))
	case n > 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	default:
		return fmt.Sprintf("%s bytes", groupDigits(n))
	}
}

// groupDigits inserts thousands separators into a non-negative count.
func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
