package models

// StartResult is the outcome of a capture start attempt.
type StartResult struct {
	OK      bool   `json:"success"`
	Message string `json:"message"`
}

// StopResult is the outcome of a capture stop. LocalPath points at the
// downloaded file, or at the download directory when the capture was
// split across multiple files.
type StopResult struct {
	OK        bool   `json:"success"`
	Message   string `json:"message"`
	LocalPath string `json:"path,omitempty"`
}

// BandApplyResult is the per-band outcome of a configuration apply.
type BandApplyResult struct {
	OK      bool   `json:"success"`
	Message string `json:"message"`
}

// ApplyResult is the aggregate outcome of applying all channel
// configurations and restarting the radios.
type ApplyResult struct {
	OK              bool                     `json:"success"`
	Bands           map[Band]BandApplyResult `json:"bands"`
	Messages        []string                 `json:"messages"`
	InterfaceStatus string                   `json:"interfaceStatus,omitempty"`
}

// DetectResult is the outcome of an interface detection run.
type DetectResult struct {
	OK        bool              `json:"success"`
	Message   string            `json:"message"`
	Mapping   map[string]string `json:"interfaces"`
	Radios    map[string]string `json:"radioMap"`
	Detection DetectionStatus   `json:"detectionStatus"`
}
