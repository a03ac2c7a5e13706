package dump

import (
	"encoding/json"
)

// Message type placeholders for non-JSON and untyped JSON records.
const (
	TypeBinary  = "<binary>"
	TypeUnknown = "<unknown>"
)

// MsgType returns the htype of a raw message: the htype string for JSON
// objects that carry one, TypeUnknown for other JSON values, and
// TypeBinary for anything that does not parse as JSON.
func MsgType(raw []byte) string {
	value, ok := TryParse(raw)
	if !ok {
		return TypeBinary
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return TypeUnknown
	}
	htype, ok := obj["htype"].(string)
	if !ok {
		return TypeUnknown
	}
	return htype
}

// TryParse attempts to decode raw as a JSON value.
func TryParse(raw []byte) (any, bool) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false
	}
	return value, true
}

// Summarize counts the messages of a dump file per htype.
func Summarize(f *RecordFile) (map[string]int, error) {
	cursor := f.Cursor()
	counts := make(map[string]int)

	for !cursor.AtEnd() {
		raw, err := cursor.ReadRawMsg()
		if err != nil {
			return nil, err
		}
		counts[MsgType(raw)]++
	}

	return counts, nil
}
