package metadata

import (
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// ErrDuplicateID is returned when a record is appended under an ID that is
// already present in the log.
type ErrDuplicateID struct {
	ID uint64
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("metadata: record %d already exists", e.ID)
}

// ErrRecordNotFound is returned when an operation references an ID with no
// live record, either because it was never appended or because it is already
// marked deleted.
type ErrRecordNotFound struct {
	ID uint64
}

func (e *ErrRecordNotFound) Error() string {
	return fmt.Sprintf("metadata: record %d not found", e.ID)
}

// Log holds the snippet records alongside an inverted language index. The
// postings are roaring bitmaps over record IDs, so filtering search hits by
// language is a membership test rather than a scan.
type Log struct {
	records   map[uint64]*Record
	languages map[string]*roaring64.Bitmap
	live      int
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{
		records:   make(map[uint64]*Record),
		languages: make(map[string]*roaring64.Bitmap),
	}
}

// Append adds a record under rec.ID. The language tag is normalized before
// it enters the postings. Appending an ID that already exists fails with
// ErrDuplicateID, deleted or not, because IDs are never reused.
func (l *Log) Append(rec Record) error {
	if _, ok := l.records[rec.ID]; ok {
		return &ErrDuplicateID{ID: rec.ID}
	}

	rec.Language = NormalizeLanguage(rec.Language)

	stored := rec
	l.records[rec.ID] = &stored

	if !stored.Deleted {
		l.live++
		l.addPosting(stored.Language, stored.ID)
	}

	return nil
}

// Get returns the live record with the given ID. Records marked deleted are
// reported as absent.
func (l *Log) Get(id uint64) (Record, bool) {
	rec, ok := l.records[id]
	if !ok || rec.Deleted {
		return Record{}, false
	}

	return *rec, true
}

// Tombstone marks the record deleted and drops it from the language
// postings. The record itself stays in the log until Compact so that record
// IDs keep lining up with vector slots.
func (l *Log) Tombstone(id uint64) error {
	rec, ok := l.records[id]
	if !ok || rec.Deleted {
		return &ErrRecordNotFound{ID: id}
	}

	rec.Deleted = true
	l.live--
	l.removePosting(rec.Language, id)

	return nil
}

// Matches reports whether the record with the given ID is live and, when
// language is non-empty, tagged with that language. Search uses it to filter
// hits without touching the record payloads.
func (l *Log) Matches(id uint64, language string) bool {
	rec, ok := l.records[id]
	if !ok || rec.Deleted {
		return false
	}

	if language == "" {
		return true
	}

	bm, ok := l.languages[NormalizeLanguage(language)]

	return ok && bm.Contains(id)
}

// Len returns the number of records in the log, deleted ones included.
func (l *Log) Len() int {
	return len(l.records)
}

// Live returns the number of records not marked deleted.
func (l *Log) Live() int {
	return l.live
}

// Languages returns the sorted set of language tags with at least one live
// record.
func (l *Log) Languages() []string {
	langs := make([]string, 0, len(l.languages))
	for lang := range l.languages {
		langs = append(langs, lang)
	}

	slices.Sort(langs)

	return langs
}

// CountByLanguage returns the number of live records per language tag.
// Records without a language tag are not counted.
func (l *Log) CountByLanguage() map[string]uint64 {
	counts := make(map[string]uint64, len(l.languages))
	for lang, bm := range l.languages {
		counts[lang] = bm.GetCardinality()
	}

	return counts
}

// LiveIDs returns the set of IDs whose records are live. The bitmap is a
// copy; mutating it does not affect the log.
func (l *Log) LiveIDs() *roaring64.Bitmap {
	bm := roaring64.New()

	for id, rec := range l.records {
		if !rec.Deleted {
			bm.Add(id)
		}
	}

	return bm
}

// Range calls fn for every record in ascending ID order, records marked
// deleted included. Iteration stops early when fn returns false.
func (l *Log) Range(fn func(Record) bool) {
	ids := make([]uint64, 0, len(l.records))
	for id := range l.records {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	for _, id := range ids {
		if !fn(*l.records[id]) {
			return
		}
	}
}

// Compact removes records marked deleted and returns their IDs in ascending
// order. The matching vector slots stay tombstoned in the index; reclaiming
// them would change slot numbering, which compaction deliberately avoids.
func (l *Log) Compact() []uint64 {
	var removed []uint64

	for id, rec := range l.records {
		if rec.Deleted {
			removed = append(removed, id)
		}
	}

	slices.Sort(removed)

	for _, id := range removed {
		delete(l.records, id)
	}

	return removed
}

func (l *Log) addPosting(language string, id uint64) {
	if language == "" {
		return
	}

	bm, ok := l.languages[language]
	if !ok {
		bm = roaring64.New()
		l.languages[language] = bm
	}

	bm.Add(id)
}

func (l *Log) removePosting(language string, id uint64) {
	bm, ok := l.languages[language]
	if !ok {
		return
	}

	bm.Remove(id)

	if bm.IsEmpty() {
		delete(l.languages, language)
	}
}
