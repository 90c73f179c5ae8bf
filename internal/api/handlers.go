package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/models"
)

// parseBand resolves the {band} URL parameter case-insensitively.
func parseBand(r *http.Request) (models.Band, error) {
	return models.ParseBand(strings.ToUpper(chi.URLParam(r, "band")))
}

// ========== Service handlers ==========

// HandleHealth handles health checks
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	})
}

// HandleRoot describes the service
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": s.config.Server.Name,
		"version": s.config.Server.Version,
		"health":  "/api/v1/health",
		"ws":      "/ws",
	})
}

// ========== Capture handlers ==========

// HandleStatus reports all band sessions
func (s *RESTServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.manager.StatusAll())
}

// HandleStart starts a capture on one band
func (s *RESTServer) HandleStart(w http.ResponseWriter, r *http.Request) {
	band, err := parseBand(r)
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, models.StartResult{
			OK: false, Message: fmt.Sprintf("Invalid band: %s", chi.URLParam(r, "band")),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, s.manager.Start(band))
}

// HandleStop stops a capture and downloads its files
func (s *RESTServer) HandleStop(w http.ResponseWriter, r *http.Request) {
	band, err := parseBand(r)
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, models.StopResult{
			OK: false, Message: fmt.Sprintf("Invalid band: %s", chi.URLParam(r, "band")),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, s.manager.Stop(band))
}

// HandleStartAll starts capture on every band
func (s *RESTServer) HandleStartAll(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": s.manager.StartAll(),
	})
}

// HandleStopAll stops every running capture
func (s *RESTServer) HandleStopAll(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": s.manager.StopAll(),
	})
}

// ========== Channel configuration handlers ==========

// ConfigRequest is the body for updating one band's channel plan.
type ConfigRequest struct {
	Channel   int    `json:"channel" validate:"required,min=1,max=233"`
	Bandwidth string `json:"bandwidth" validate:"omitempty,oneof=HT20 HT40 EHT20 EHT40 EHT80 EHT160 EHT320"`
}

// HandleSetConfig updates the believed channel config for one band
func (s *RESTServer) HandleSetConfig(w http.ResponseWriter, r *http.Request) {
	band, err := parseBand(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid band: %s", chi.URLParam(r, "band")))
		return
	}

	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, message := s.manager.SetChannelConfig(band, req.Channel, req.Bandwidth)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": ok,
		"message": message,
	})
}

// HandleApplyConfig pushes all band configurations and restarts the
// radios. Refused while any capture is running.
func (s *RESTServer) HandleApplyConfig(w http.ResponseWriter, r *http.Request) {
	for band, status := range s.manager.StatusAll() {
		if status.Running {
			s.respondJSON(w, http.StatusConflict, map[string]interface{}{
				"success": false,
				"message": fmt.Sprintf("Cannot apply config while %s capture is running. Stop all captures first.", band),
			})
			return
		}
	}

	result := s.manager.ApplyAllAndRestart()
	if !result.OK {
		log.Warn().Strs("messages", result.Messages).Msg("configuration apply failed")
	}
	s.respondJSON(w, http.StatusOK, result)
}

// HandleGetWifiConfig reads the device's live channel configuration
func (s *RESTServer) HandleGetWifiConfig(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("cached") == ""
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"config":       s.manager.DeviceChannelConfig(force),
		"uci_wifi_map": s.manager.Radios(),
	})
}

// HandleGetChannelConfig returns the believed channel configuration
// without touching the device
func (s *RESTServer) HandleGetChannelConfig(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"config":       s.manager.ChannelConfig(),
		"uci_wifi_map": s.manager.Radios(),
	})
}

// HandleGetChannelPlan returns the valid channels and bandwidth modes
// per band so the UI can populate its selectors
func (s *RESTServer) HandleGetChannelPlan(w http.ResponseWriter, r *http.Request) {
	channels := make(map[string][]int, models.BandCount)
	bandwidths := make(map[string][]string, models.BandCount)
	for _, b := range models.Bands() {
		channels[b.String()] = models.Channels(b)
		bandwidths[b.String()] = models.Bandwidths(b)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"channels":   channels,
		"bandwidths": bandwidths,
	})
}

// ========== Connectivity handlers ==========

// HandleTestConnection probes device reachability
func (s *RESTServer) HandleTestConnection(w http.ResponseWriter, r *http.Request) {
	info := s.manager.TestConnection()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"connected": info.Connected,
		"cached":    info.Cached,
		"host":      s.config.Device.Host,
		"port":      s.config.Device.Port,
		"user":      s.config.Device.User,
	})
}

// HandleTimeInfo reports both clocks
func (s *RESTServer) HandleTimeInfo(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.manager.TimeInfo())
}

// HandleSyncTime pushes the local clock to the device
func (s *RESTServer) HandleSyncTime(w http.ResponseWriter, r *http.Request) {
	ok, message := s.manager.SyncTime()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   ok,
		"message":   message,
		"time_info": s.manager.TimeInfo(),
	})
}

// ========== File split handlers ==========

// FileSplitRequest is the body for updating split settings. Nil fields
// keep their current value.
type FileSplitRequest struct {
	Enabled *bool `json:"enabled"`
	SizeMB  *int  `json:"size_mb"`
}

// HandleGetFileSplit returns the current file split configuration
func (s *RESTServer) HandleGetFileSplit(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.manager.FileSplit())
}

// HandleSetFileSplit updates the file split configuration
func (s *RESTServer) HandleSetFileSplit(w http.ResponseWriter, r *http.Request) {
	var req FileSplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := s.manager.SetFileSplit(req.Enabled, req.SizeMB)

	message := "File split disabled"
	if cfg.Enabled {
		message = fmt.Sprintf("File split enabled (%dMB per file)", cfg.SizeMB)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"enabled": cfg.Enabled,
		"size_mb": cfg.SizeMB,
		"message": message,
	})
}

// ========== Detection handlers ==========

// HandleGetInterfaceMapping returns the active mapping and detection
// status
func (s *RESTServer) HandleGetInterfaceMapping(w http.ResponseWriter, r *http.Request) {
	mapping, cached := s.manager.InterfaceMapping()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"interfaces":       mapping,
		"uci_wifi_map":     s.manager.Radios(),
		"channel_config":   s.manager.ChannelConfig(),
		"detection_status": s.manager.Detection(),
		"cached":           cached,
	})
}

// HandleDetectInterfaces forces a re-detection of the mapping
func (s *RESTServer) HandleDetectInterfaces(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.manager.DetectInterfaces())
}

// ========== Response helpers ==========

func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
