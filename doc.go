// Package snipvec provides an embedded semantic search store for code
// snippets.
//
// Snippets are indexed by an embedding of their description and code,
// searched by vector distance, and persisted as a snapshot pair in a local
// directory. The store never computes embeddings itself: callers inject an
// embed.Embedder (OpenAI, a local model server, anything) and snipvec
// stores and compares what it produces.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	client := openailib.NewClient(os.Getenv("OPENAI_API_KEY"))
//	embedder, _ := openai.New(client)
//
//	store, _ := snipvec.Open(ctx, "./snippets", embedder)
//	defer store.Close()
//
//	id, _ := store.StoreSnippet(ctx, snipvec.Snippet{
//	    Description: "retry an HTTP request with exponential backoff",
//	    Code:        "func retry(ctx context.Context, ...) { ... }",
//	    Language:    "go",
//	})
//
//	results, _ := store.Search("backoff helper").KNN(5).Language("go").Execute(ctx)
//	for _, r := range results {
//	    fmt.Println(r.ID, r.Distance, r.Description)
//	}
//	_ = id
//
// # Search Semantics
//
// Results are ranked by squared L2 distance between the query embedding
// and each stored vector, closest first, with ascending ids breaking ties.
// A language filter removes candidates after ranking; the store overfetches
// and widens the scan automatically so filtered searches still come back
// with k results whenever k matching snippets exist. Fewer matches than
// requested, including none, is a successful empty result.
//
// # Durability Model
//
// Every mutation writes a snapshot by default: a binary vector blob
// (vectors.snap) and a metadata log (snippets.meta), staged as temp files
// and renamed into place so a crash never leaves a torn pair.
// High-churn callers can opt out with WithManualPersistence and call Save
// on their own schedule. On open, the two artifacts are cross-checked and
// any disagreement from a partial failure is repaired by tombstoning the
// orphaned side.
//
// # Deletion and Compaction
//
// Delete tombstones a snippet in both artifacts; ids are never reused.
// Tombstoned vector slots keep occupying memory and snapshot space until
// Compact runs, which drops deleted metadata records. This is the cost of
// id stability under the flat index and is worth scheduling for stores
// with heavy delete traffic.
//
// # Backends
//
// The built-in index is a flat brute-force scan: exact, dependency-free,
// and the right call below roughly a hundred thousand snippets. Larger
// deployments can swap in a remote index with WithIndex (Qdrant and
// pgvector adapters ship in index/qdrant and index/pgvector) and mirror
// snapshots to object storage with WithMirror (S3, MinIO, or any
// blobstore.Store).
package snipvec
