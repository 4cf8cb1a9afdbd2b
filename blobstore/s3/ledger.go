package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConcurrentCommit is returned when another writer committed a generation
// with the same number first. The caller re-uploads under a fresh prefix and
// retries.
var ErrConcurrentCommit = errors.New("concurrent mirror commit detected")

// DDBClient is the slice of the DynamoDB API the ledger uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Generation is one committed mirror snapshot: a monotonically increasing
// number and the key prefix its artifacts live under.
type Generation struct {
	Number uint64
	Prefix string
}

// Ledger records which mirror generation is current. S3 overwrites are not
// atomic across two artifacts, so a mirror uploads both files under a fresh
// generation prefix and then commits the generation here with a DynamoDB
// conditional write. Readers resolve Latest first and only ever see complete
// generations.
//
// Table schema: partition key mirror_target (string), sort key generation
// (number). Create with:
//
//	aws dynamodb create-table \
//	  --table-name snipvec-mirror \
//	  --attribute-definitions AttributeName=mirror_target,AttributeType=S AttributeName=generation,AttributeType=N \
//	  --key-schema AttributeName=mirror_target,KeyType=HASH AttributeName=generation,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type Ledger struct {
	client DDBClient
	table  string
	target string
}

// NewLedger creates a ledger for one mirror target. target identifies the
// destination (e.g. "s3://bucket/prefix") and doubles as the partition key.
func NewLedger(client DDBClient, table, target string) *Ledger {
	return &Ledger{
		client: client,
		table:  table,
		target: target,
	}
}

// Latest returns the newest committed generation. ok is false when nothing
// has been committed yet.
func (l *Ledger) Latest(ctx context.Context) (gen Generation, ok bool, err error) {
	resp, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.table),
		KeyConditionExpression: aws.String("mirror_target = :target"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":target": &types.AttributeValueMemberS{Value: l.target},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return Generation{}, false, fmt.Errorf("query mirror ledger: %w", err)
	}

	if len(resp.Items) == 0 {
		return Generation{}, false, nil
	}

	item := resp.Items[0]

	numAttr, ok := item["generation"].(*types.AttributeValueMemberN)
	if !ok {
		return Generation{}, false, errors.New("mirror ledger: malformed generation attribute")
	}

	prefixAttr, ok := item["prefix"].(*types.AttributeValueMemberS)
	if !ok {
		return Generation{}, false, errors.New("mirror ledger: malformed prefix attribute")
	}

	var number uint64
	if _, err := fmt.Sscanf(numAttr.Value, "%d", &number); err != nil {
		return Generation{}, false, fmt.Errorf("mirror ledger: parse generation: %w", err)
	}

	return Generation{Number: number, Prefix: prefixAttr.Value}, true, nil
}

// Commit publishes prefix as the next generation. The conditional write
// guarantees exactly one winner per generation number; a loser gets
// ErrConcurrentCommit and must retry after re-reading Latest.
func (l *Ledger) Commit(ctx context.Context, prefix string) (Generation, error) {
	current, _, err := l.Latest(ctx)
	if err != nil {
		return Generation{}, err
	}

	next := Generation{Number: current.Number + 1, Prefix: prefix}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]types.AttributeValue{
			"mirror_target": &types.AttributeValueMemberS{Value: l.target},
			"generation":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", next.Number)},
			"prefix":        &types.AttributeValueMemberS{Value: prefix},
		},
		ConditionExpression: aws.String("attribute_not_exists(generation)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return Generation{}, ErrConcurrentCommit
		}
		return Generation{}, fmt.Errorf("commit mirror generation: %w", err)
	}

	return next, nil
}
