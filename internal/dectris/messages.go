// Package dectris defines the detector's stream message types and a
// client for its HTTP control API.
package dectris

import "encoding/json"

// Stream message htype values.
const (
	HTypeHeader    = "dheader-1.0"
	HTypeImage     = "dimage-1.0"
	HTypeImageData = "dimage_d-1.0"
	HTypeConfig    = "dconfig-1.0"
	HTypeSeriesEnd = "dseries_end-1.0"
)

// DHeader announces a new acquisition series.
type DHeader struct {
	HType        string `json:"htype"`
	HeaderDetail string `json:"header_detail"`
	Series       uint64 `json:"series"`
}

// DImage precedes each frame and carries its series and frame number.
type DImage struct {
	HType  string `json:"htype"`
	Series uint64 `json:"series"`
	Frame  uint64 `json:"frame"`
	Hash   string `json:"hash"`
}

// DImageData describes the binary frame blob that follows it.
type DImageData struct {
	HType    string `json:"htype"`
	Shape    []int  `json:"shape"`
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
}

// DConfig carries per-frame timing, sent after each frame blob.
type DConfig struct {
	HType     string `json:"htype"`
	StartTime uint64 `json:"start_time"`
	StopTime  uint64 `json:"stop_time"`
	RealTime  uint64 `json:"real_time"`
}

// DSeriesEnd terminates an acquisition series.
type DSeriesEnd struct {
	HType  string `json:"htype"`
	Series uint64 `json:"series"`
}

// DetectorConfig is the subset of the detector configuration object the
// tools interpret. Raw retains the full message so rewriting tools can
// modify individual keys without dropping the rest.
type DetectorConfig struct {
	NImages           int     `json:"nimages"`
	NTrigger          int     `json:"ntrigger"`
	TriggerMode       string  `json:"trigger_mode"`
	XPixelsInDetector int     `json:"x_pixels_in_detector"`
	YPixelsInDetector int     `json:"y_pixels_in_detector"`
	BitDepthImage     int     `json:"bit_depth_image"`
	CountTime         float64 `json:"count_time"`
	FrameTime         float64 `json:"frame_time"`

	Raw map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known keys and keeps the raw object.
func (dc *DetectorConfig) UnmarshalJSON(data []byte) error {
	type plain DetectorConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*dc = DetectorConfig(p)
	return json.Unmarshal(data, &dc.Raw)
}

// MarshalJSON re-emits the raw object with the typed fields applied on top.
func (dc *DetectorConfig) MarshalJSON() ([]byte, error) {
	merged := make(map[string]json.RawMessage, len(dc.Raw)+8)
	for k, v := range dc.Raw {
		merged[k] = v
	}
	typed := map[string]any{
		"nimages":              dc.NImages,
		"ntrigger":             dc.NTrigger,
		"trigger_mode":         dc.TriggerMode,
		"x_pixels_in_detector": dc.XPixelsInDetector,
		"y_pixels_in_detector": dc.YPixelsInDetector,
		"bit_depth_image":      dc.BitDepthImage,
		"count_time":           dc.CountTime,
		"frame_time":           dc.FrameTime,
	}
	for k, v := range typed {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// TriggerMode values accepted by the detector.
const (
	TriggerInternalSoftware = "ints"
	TriggerInternalEdge     = "inte"
	TriggerExternalSoftware = "exts"
	TriggerExternalEdge     = "exte"
)

// ValidTriggerMode reports whether mode is one of the accepted values.
func ValidTriggerMode(mode string) bool {
	switch mode {
	case TriggerInternalSoftware, TriggerInternalEdge,
		TriggerExternalSoftware, TriggerExternalEdge:
		return true
	}
	return false
}
