package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/hupe1980/docstore/blobstore"
)

// DefaultCommitBlob is the blob name routed through DynamoDB.
const DefaultCommitBlob = "header"

// DDBCommitStore implements blobstore.BlobStore backed by S3 with DynamoDB
// for atomic header commits.
//
// S3 has no compare-and-swap, so the database header is never overwritten in
// place. Every Put of the commit blob writes a new object "header.<version>.<uuid>"
// and then records that version in DynamoDB with a conditional write. Open
// resolves the commit blob to the highest recorded version. Two processes that
// race on the same prefix cannot both win the same version.
//
// Table schema:
//   - Partition key: base_uri (string) - the S3 prefix/path
//   - Sort key: version (number) - monotonically increasing version
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name docstore-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	s3Store    *Store
	ddbClient  DDBClient
	tableName  string
	baseURI    string
	commitBlob string
}

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ErrConcurrentModification is returned when a concurrent write is detected.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// NewDDBCommitStore creates a new S3+DynamoDB commit store.
// The baseURI should be "s3://bucket/prefix" format used as partition key.
func NewDDBCommitStore(s3Store *Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		s3Store:    s3Store,
		ddbClient:  ddbClient,
		tableName:  tableName,
		baseURI:    baseURI,
		commitBlob: DefaultCommitBlob,
	}
}

// versionedName is unique per attempt so a losing writer never overwrites
// the object of the winner.
func versionedName(name string, version uint64) string {
	return fmt.Sprintf("%s.%020d.%s", name, version, uuid.NewString())
}

// Open opens a blob for reading. The commit blob resolves to its latest version.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != s.commitBlob {
		return s.s3Store.Open(ctx, name)
	}

	version, blobName, err := s.latestVersion(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return s.s3Store.Open(ctx, blobName)
}

// Put writes a blob. The commit blob is published with a conditional write.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name != s.commitBlob {
		return s.s3Store.Put(ctx, name, data)
	}

	current, previous, err := s.latestVersion(ctx)
	if err != nil {
		return err
	}
	next := current + 1
	blobName := versionedName(name, next)

	if err := s.s3Store.Put(ctx, blobName, data); err != nil {
		return err
	}

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":  &types.AttributeValueMemberS{Value: s.baseURI},
			"version":   &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"blob_name": &types.AttributeValueMemberS{Value: blobName},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		_ = s.s3Store.Delete(ctx, blobName)

		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("failed to commit version to DynamoDB: %w", err)
	}

	if current > 0 {
		// The superseded object is unreachable once the new version is recorded.
		_ = s.s3Store.Delete(ctx, previous)
	}
	return nil
}

// Delete deletes a blob.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	return s.s3Store.Delete(ctx, name)
}

// List lists blobs with prefix.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.s3Store.List(ctx, prefix)
}

// latestVersion queries DynamoDB for the latest committed version.
func (s *DDBCommitStore) latestVersion(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false), // Descending order
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to query DynamoDB: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in DynamoDB")
	}
	nameAttr, ok := item["blob_name"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid blob_name attribute in DynamoDB")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("failed to parse version: %w", err)
	}

	return version, nameAttr.Value, nil
}
