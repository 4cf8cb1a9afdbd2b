// Package qdrant backs the vector index capability with a Qdrant
// collection over gRPC.
//
// Vectors live in Qdrant; only the id ledger (next id and tombstone set)
// is kept client-side, so the store's monotonic never-reused ids hold
// across backends. The ledger is what WriteTo serializes into the store's
// vector artifact; losing it while keeping the collection means losing the
// id sequence, which is why it persists with the rest of the store.
//
// Numeric point ids map one-to-one onto store ids. The collection is
// created with Euclid distance and scores are squared on the way out, so
// ranking matches the in-process flat index exactly.
package qdrant

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"

	"github.com/snipvec/snipvec/index"
)

// PointsAPI is the slice of Qdrant's points service the index uses.
// *pb.PointsClient satisfies it.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// CollectionsAPI is the slice of Qdrant's collections service the index
// uses. *pb.CollectionsClient satisfies it.
type CollectionsAPI interface {
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Options contains the configuration options for the Qdrant index.
type Options struct {
	// Collection is the Qdrant collection holding the vectors. It is
	// created on first use if missing.
	Collection string

	// WaitWrites makes mutations block until Qdrant acknowledges them.
	// Disabling it trades read-your-writes for throughput.
	WaitWrites bool
}

// DefaultOptions contains the default configuration options for the
// Qdrant index.
var DefaultOptions = Options{
	Collection: "snipvec",
	WaitWrites: true,
}

// Index is a vector index backed by a Qdrant collection.
type Index struct {
	points      PointsAPI
	collections CollectionsAPI
	conn        *grpc.ClientConn
	collection  string
	dim         int
	wait        bool

	mu         sync.RWMutex
	nextID     uint64
	tombstones *roaring64.Bitmap
}

var _ index.Index = (*Index)(nil)

// New dials addr (host:port of Qdrant's gRPC port) without transport
// security and ensures the collection exists. For TLS or managed
// deployments, dial your own connection and use NewWithClients.
func New(ctx context.Context, addr string, dim int, optFns ...func(o *Options)) (*Index, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	idx, err := NewWithClients(ctx, pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), dim, optFns...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	idx.conn = conn
	return idx, nil
}

// NewWithClients builds the index on caller-provided service clients and
// ensures the collection exists.
func NewWithClients(ctx context.Context, points PointsAPI, collections CollectionsAPI, dim int, optFns ...func(o *Options)) (*Index, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if dim <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: dim}
	}

	idx := &Index{
		points:      points,
		collections: collections,
		collection:  opts.Collection,
		dim:         dim,
		wait:        opts.WaitWrites,
		tombstones:  roaring64.New(),
	}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (q *Index) ensureCollection(ctx context.Context) error {
	_, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: q.collection,
	})
	if err == nil {
		return nil
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     uint64(q.dim),
			Distance: pb.Distance_Euclid,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %q: %w", q.collection, err)
	}
	return nil
}

// Insert upserts the vector under the next id. A failed upsert burns the
// id; the sequence never moves backwards.
func (q *Index) Insert(ctx context.Context, vector []float32) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(vector) != q.dim {
		return 0, &index.ErrDimensionMismatch{Expected: q.dim, Actual: len(vector)}
	}

	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.mu.Unlock()

	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           proto.Bool(q.wait),
		Points: []*pb.PointStruct{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: id}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
		}},
	})
	if err != nil {
		q.mu.Lock()
		q.tombstones.Add(id)
		q.mu.Unlock()
		return 0, fmt.Errorf("qdrant upsert: %w", err)
	}
	return id, nil
}

// Search returns up to k nearest vectors. Tombstoned points were deleted
// remotely, so no client-side filtering is needed.
func (q *Index) Search(ctx context.Context, query []float32, k int) ([]index.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, index.ErrInvalidK
	}
	if len(query) != q.dim {
		return nil, &index.ErrDimensionMismatch{Expected: q.dim, Actual: len(query)}
	}

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         query,
		Limit:          uint64(k),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	results := make([]index.SearchResult, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		// Euclid scores are plain L2 distances; square them to match
		// the squared metric the rest of the module ranks by.
		d := pt.GetScore()
		results = append(results, index.SearchResult{
			ID:       pt.GetId().GetNum(),
			Distance: d * d,
		})
	}

	// Qdrant leaves the order among equal scores open; pin the
	// ascending-id tie-break the index contract promises.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// Tombstone deletes the point from the collection and records the id as
// burned. The id is never reassigned.
func (q *Index) Tombstone(ctx context.Context, id uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	if id >= q.nextID || q.tombstones.Contains(id) {
		q.mu.Unlock()
		return &index.ErrIDNotFound{ID: id}
	}
	q.tombstones.Add(id)
	q.mu.Unlock()

	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           proto.Bool(q.wait),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Num{Num: id}}},
				},
			},
		},
	})
	if err != nil {
		// The point is still searchable remotely; undo the mark so a
		// retry can reach it.
		q.mu.Lock()
		q.tombstones.Remove(id)
		q.mu.Unlock()
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

// Contains reports whether id refers to a live point.
func (q *Index) Contains(id uint64) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return id < q.nextID && !q.tombstones.Contains(id)
}

// Dimension returns the fixed vector dimensionality.
func (q *Index) Dimension() int {
	return q.dim
}

// Len returns the total number of ids ever assigned, tombstoned included.
func (q *Index) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return int(q.nextID)
}

// Live returns the number of non-tombstoned points.
func (q *Index) Live() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return int(q.nextID - q.tombstones.GetCardinality())
}

// Close releases the gRPC connection when the index dialed it itself.
func (q *Index) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
