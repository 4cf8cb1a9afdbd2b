package snipvec

import (
	"context"
	"fmt"
	"time"

	"github.com/snipvec/snipvec/metadata"
)

// SearchBuilder assembles a semantic search. Obtain one from Store.Search,
// chain constraints, then call Execute or First.
type SearchBuilder struct {
	store    *Store
	query    string
	k        int
	language string
}

// Search starts a search for snippets semantically close to query. The
// query text is embedded with the store's embedder and candidates are
// ranked by squared L2 distance, closest first.
func (s *Store) Search(query string) *SearchBuilder {
	return &SearchBuilder{
		store: s,
		query: query,
		k:     10,
	}
}

// KNN sets the maximum number of results. Defaults to 10.
func (b *SearchBuilder) KNN(k int) *SearchBuilder {
	b.k = k
	return b
}

// Language restricts results to snippets tagged with the given language.
// Aliases such as "golang" or "c++" fold to their canonical tags, matching
// the normalization applied at store time.
func (b *SearchBuilder) Language(language string) *SearchBuilder {
	b.language = language
	return b
}

// Execute runs the search. Fewer than k matches, including none at all, is
// a successful outcome, not an error.
func (b *SearchBuilder) Execute(ctx context.Context) ([]SearchResult, error) {
	start := time.Now()
	results, scanned, err := b.store.search(ctx, b.query, b.k, b.language)
	duration := time.Since(start)

	err = translateError(err)
	b.store.metrics.RecordSearch(b.k, scanned, duration, err)
	b.store.logger.LogSearch(ctx, b.k, len(results), err)

	return results, err
}

// First runs the search and returns the single closest match, or
// ErrNotFound when nothing qualifies.
func (b *SearchBuilder) First(ctx context.Context) (SearchResult, error) {
	results, err := b.KNN(1).Execute(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	if len(results) == 0 {
		return SearchResult{}, fmt.Errorf("%w: no snippet matched", ErrNotFound)
	}
	return results[0], nil
}

// search embeds the query outside the lock, then scans under a read lock.
//
// A language filter is compensated with overfetch: the index is asked for
// factor*k candidates, and whenever filtering starves the result set the
// fetch width doubles and the scan reruns, stopping once k results are in
// hand or every live vector has been considered. Distance order from the
// index is preserved; filtering only removes, never reorders.
func (s *Store) search(ctx context.Context, query string, k int, language string) ([]SearchResult, int, error) {
	if err := s.checkOpen(); err != nil {
		return nil, 0, err
	}
	if k < 1 {
		return nil, 0, fmt.Errorf("%w: %d", ErrInvalidK, k)
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, 0, ErrClosed
	}

	live := s.idx.Live()
	if live == 0 {
		return nil, 0, nil
	}

	lang := metadata.NormalizeLanguage(language)
	fetchK := k
	if lang != "" {
		fetchK = k * s.overfetch
		if fetchK < k { // overflowed
			fetchK = live
		}
	}

	scanned := 0
	for {
		if fetchK > live {
			fetchK = live
		}

		hits, err := s.idx.Search(ctx, vector, fetchK)
		if err != nil {
			return nil, scanned, err
		}
		scanned = len(hits)

		results := make([]SearchResult, 0, min(k, len(hits)))
		for _, hit := range hits {
			if !s.log.Matches(hit.ID, lang) {
				continue
			}
			rec, _ := s.log.Get(hit.ID)
			results = append(results, SearchResult{
				ID:          hit.ID,
				Code:        rec.Code,
				Description: rec.Description,
				Language:    rec.Language,
				Owner:       rec.Owner,
				Distance:    hit.Distance,
			})
			if len(results) == k {
				break
			}
		}

		if len(results) == k || fetchK >= live {
			return results, scanned, nil
		}
		fetchK *= 2
	}
}
