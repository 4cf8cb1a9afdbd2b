// Package codec centralizes metadata-log record encoding.
//
// Codec selection is a compatibility boundary: the snapshot metadata log
// records the codec name in its header, so files written with one codec are
// reopened with the same one regardless of the process default.
package codec

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
//
// Used when opening self-describing persisted files that carry the codec name
// in their header.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}
