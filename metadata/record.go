// Package metadata maintains the snippet records that accompany the vector
// index: the code, its description, and the language tag, keyed by the vector
// ID the index assigned. The log is append-only. Deleting a snippet marks the
// record as deleted and keeps it in place so record positions stay aligned
// with vector slots until an explicit Compact.
//
// A Log is not safe for concurrent use. Callers synchronize access, typically
// under the same lock that guards the vector index, so the two structures
// cannot drift apart mid-operation.
package metadata

// Record is a single stored snippet. ID is the vector slot the embedding
// occupies in the index and never changes over the record's lifetime.
type Record struct {
	ID          uint64 `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Language    string `json:"language,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Deleted     bool   `json:"deleted,omitempty"`
}

// SearchText returns the text that is embedded for this record. Description
// and code are joined so that both the intent and the implementation
// contribute to the vector.
func (r Record) SearchText() string {
	return SearchText(r.Description, r.Code)
}

// SearchText joins a description and a code fragment into the canonical
// embedding input. The blank line keeps the two parts tokenizable as
// separate paragraphs by text embedding models.
func SearchText(description, code string) string {
	return description + "\n\n" + code
}
