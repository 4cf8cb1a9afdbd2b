package qdrant

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/snipvec/snipvec/index"
	"github.com/snipvec/snipvec/persistence"
)

// fakeQdrant implements PointsAPI and CollectionsAPI in process with the
// scoring semantics a real Euclid collection applies: plain L2 distance,
// lower first, order among ties unspecified.
type fakeQdrant struct {
	mu        sync.Mutex
	vectors   map[uint64][]float32
	created   bool
	upsertErr error
	deleteErr error
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{vectors: make(map[uint64][]float32)}
}

func (f *fakeQdrant) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	for _, p := range in.GetPoints() {
		f.vectors[p.GetId().GetNum()] = p.GetVectors().GetVector().GetData()
	}
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakeQdrant) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	type hit struct {
		id    uint64
		score float32
	}
	hits := make([]hit, 0, len(f.vectors))
	for id, vec := range f.vectors {
		var sum float64
		for i, v := range vec {
			d := float64(v - in.GetVector()[i])
			sum += d * d
		}
		hits = append(hits, hit{id: id, score: float32(math.Sqrt(sum))})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score < hits[j].score })
	if uint64(len(hits)) > in.GetLimit() {
		hits = hits[:in.GetLimit()]
	}

	resp := &pb.SearchResponse{}
	for _, h := range hits {
		resp.Result = append(resp.Result, &pb.ScoredPoint{
			Id:    &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: h.id}},
			Score: h.score,
		})
	}
	return resp, nil
}

func (f *fakeQdrant) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	for _, id := range in.GetPoints().GetPoints().GetIds() {
		delete(f.vectors, id.GetNum())
	}
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakeQdrant) Get(_ context.Context, _ *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created {
		return nil, errors.New("collection not found")
	}
	return &pb.GetCollectionInfoResponse{}, nil
}

func (f *fakeQdrant) Create(_ context.Context, _ *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = true
	return &pb.CollectionOperationResponse{}, nil
}

func newTestIndex(t *testing.T, fake *fakeQdrant) *Index {
	t.Helper()

	idx, err := NewWithClients(context.Background(), fake, fake, 3)
	require.NoError(t, err)
	return idx
}

func TestNewWithClients(t *testing.T) {
	fake := newFakeQdrant()

	_ = newTestIndex(t, fake)
	assert.True(t, fake.created, "missing collection should be created")

	// A second open against the existing collection must not recreate it.
	_, err := NewWithClients(context.Background(), fake, fake, 3)
	require.NoError(t, err)

	_, err = NewWithClients(context.Background(), fake, fake, 0)
	var invalid *index.ErrInvalidDimension
	assert.ErrorAs(t, err, &invalid)
}

func TestInsertAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, newFakeQdrant())

	for _, vec := range [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} {
		_, err := idx.Insert(ctx, vec)
		require.NoError(t, err)
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Ids 1 and 2 tie at squared distance 2; ascending id breaks the tie
	// regardless of the order the backend returned them in.
	assert.Equal(t, uint64(0), results[0].ID)
	assert.Equal(t, uint64(1), results[1].ID)
	assert.Equal(t, uint64(2), results[2].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.InDelta(t, 2, results[1].Distance, 1e-6)
	assert.InDelta(t, 2, results[2].Distance, 1e-6)

	t.Run("DimensionMismatch", func(t *testing.T) {
		_, err := idx.Insert(ctx, []float32{1, 2})
		var dm *index.ErrDimensionMismatch
		assert.ErrorAs(t, err, &dm)

		_, err = idx.Search(ctx, []float32{1, 2}, 1)
		assert.ErrorAs(t, err, &dm)
	})

	t.Run("InvalidK", func(t *testing.T) {
		_, err := idx.Search(ctx, []float32{1, 0, 0}, 0)
		assert.ErrorIs(t, err, index.ErrInvalidK)
	})
}

func TestTombstone(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	idx := newTestIndex(t, fake)

	for _, vec := range [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} {
		_, err := idx.Insert(ctx, vec)
		require.NoError(t, err)
	}

	require.NoError(t, idx.Tombstone(ctx, 1))

	// The point is gone remotely, not just masked.
	fake.mu.Lock()
	_, remote := fake.vectors[1]
	fake.mu.Unlock()
	assert.False(t, remote)

	results, err := idx.Search(ctx, []float32{0, 1, 0}, 3)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	assert.False(t, idx.Contains(1))
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, 2, idx.Live())

	var notFound *index.ErrIDNotFound
	assert.ErrorAs(t, idx.Tombstone(ctx, 1), &notFound)
	assert.ErrorAs(t, idx.Tombstone(ctx, 99), &notFound)
}

func TestInsertFailureBurnsID(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	idx := newTestIndex(t, fake)

	fake.upsertErr = errors.New("qdrant unavailable")
	_, err := idx.Insert(ctx, []float32{1, 0, 0})
	require.Error(t, err)

	fake.upsertErr = nil
	id, err := idx.Insert(ctx, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 1, idx.Live())
	assert.False(t, idx.Contains(0))
}

func TestTombstoneFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	idx := newTestIndex(t, fake)

	_, err := idx.Insert(ctx, []float32{1, 0, 0})
	require.NoError(t, err)

	fake.deleteErr = errors.New("qdrant unavailable")
	require.Error(t, idx.Tombstone(ctx, 0))
	assert.True(t, idx.Contains(0), "failed delete must stay retryable")

	fake.deleteErr = nil
	require.NoError(t, idx.Tombstone(ctx, 0))
	assert.False(t, idx.Contains(0))
}

func TestLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	idx := newTestIndex(t, fake)

	for _, vec := range [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} {
		_, err := idx.Insert(ctx, vec)
		require.NoError(t, err)
	}
	require.NoError(t, idx.Tombstone(ctx, 1))

	var buf bytes.Buffer
	written, err := idx.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, written, int64(buf.Len()))

	// A fresh adapter over the same collection picks the sequence back up.
	restored, err := NewWithClients(ctx, fake, fake, 3)
	require.NoError(t, err)
	read, err := restored.ReadFrom(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, written, read)

	assert.Equal(t, 3, restored.Len())
	assert.Equal(t, 2, restored.Live())
	assert.True(t, restored.Contains(0))
	assert.False(t, restored.Contains(1))
	assert.True(t, restored.Contains(2))

	id, err := restored.Insert(ctx, []float32{1, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)

	t.Run("DimensionCheck", func(t *testing.T) {
		other, err := NewWithClients(ctx, fake, fake, 4)
		require.NoError(t, err)

		_, err = other.ReadFrom(bytes.NewReader(buf.Bytes()))
		var dm *index.ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, 4, dm.Expected)
		assert.Equal(t, 3, dm.Actual)
	})

	t.Run("CorruptHeader", func(t *testing.T) {
		// A data offset inside the header would make the ledger blob
		// length negative.
		var crafted bytes.Buffer
		require.NoError(t, persistence.NewBinaryWriter(&crafted).WriteHeader(&persistence.FileHeader{
			IndexType:    persistence.IndexTypeQdrant,
			VectorCount:  3,
			Dimension:    3,
			MarkerOffset: persistence.HeaderSize,
			DataOffset:   persistence.HeaderSize - 16,
		}))

		fresh, err := NewWithClients(ctx, fake, fake, 3)
		require.NoError(t, err)
		_, err = fresh.ReadFrom(bytes.NewReader(crafted.Bytes()))
		require.ErrorIs(t, err, persistence.ErrInvalidHeader)
	})
}
