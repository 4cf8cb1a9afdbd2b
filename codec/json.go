package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// The most portable, lowest-dependency option. Snippet records are plain
// structs of strings and integers, so either JSON codec handles them; the
// persisted file always records which one wrote it.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used for newly-created metadata logs. Existing files
// are self-describing and are opened with the codec named in their header.
var Default Codec = GoJSON{}
