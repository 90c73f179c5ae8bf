package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Capture control
	r.Get("/status", s.HandleStatus)
	r.Post("/start/{band}", s.HandleStart)
	r.Post("/stop/{band}", s.HandleStop)
	r.Post("/start_all", s.HandleStartAll)
	r.Post("/stop_all", s.HandleStopAll)

	// Channel configuration
	r.Post("/config/{band}", s.HandleSetConfig)
	r.Post("/apply_config", s.HandleApplyConfig)
	r.Get("/wifi_config", s.HandleGetWifiConfig)
	r.Get("/channel_config", s.HandleGetChannelConfig)
	r.Get("/channel_plan", s.HandleGetChannelPlan)

	// Device connectivity
	r.Get("/test_connection", s.HandleTestConnection)
	r.Get("/time_info", s.HandleTimeInfo)
	r.Post("/sync_time", s.HandleSyncTime)

	// File split
	r.Get("/file_split", s.HandleGetFileSplit)
	r.Post("/file_split", s.HandleSetFileSplit)

	// Interface detection
	r.Get("/interface_mapping", s.HandleGetInterfaceMapping)
	r.Post("/detect_interfaces", s.HandleDetectInterfaces)
}
