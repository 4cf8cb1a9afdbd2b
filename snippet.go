package snipvec

// Snippet is the input to StoreSnippet. Description and code are embedded
// together; language and owner are metadata only and never influence the
// vector.
type Snippet struct {
	// Code is the snippet body.
	Code string

	// Description says what the code does. Search queries are matched
	// against this and the code jointly, so a good description is what makes
	// a snippet findable.
	Description string

	// Language tags the snippet ("go", "python", ...). Common aliases like
	// "golang" or "c++" are folded onto canonical names. Optional.
	Language string

	// Owner attributes the snippet to a person or team. Optional.
	Owner string
}

// SearchResult is one search hit: the stored snippet plus its squared L2
// distance from the query embedding. Smaller distances mean closer matches.
type SearchResult struct {
	ID          uint64
	Code        string
	Description string
	Language    string
	Owner       string
	Distance    float32
}

// Stats describes the store's current shape.
type Stats struct {
	// TotalEntries counts all vector slots ever allocated, tombstoned ones
	// included.
	TotalEntries int

	// LiveEntries counts snippets that are stored and not deleted.
	LiveEntries int

	// TombstonedEntries counts deleted snippets whose slots still occupy
	// vector storage until the index is rebuilt.
	TombstonedEntries int

	// Dimension is the embedding width the store was created with.
	Dimension int

	// Languages maps each language tag to its live snippet count.
	Languages map[string]uint64
}
