// Package dynamodb is a snapshot store on an AWS DynamoDB table keyed by
// PK/SK, the layout the rest of the table uses.
package dynamodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"docgraph/application/ports"
	"docgraph/infrastructure/persistence"
	apperrors "docgraph/pkg/errors"
)

const (
	sortKey = "SNAPSHOT"
	// maxItemBytes leaves headroom below the 400KB item limit
	maxItemBytes = 380 * 1024
)

// API is the subset of the DynamoDB client the store uses
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Config configures the store
type Config struct {
	TableName string
	// TTL sets the table's TTL attribute; zero writes none
	TTL time.Duration
}

// Store persists gzipped snapshots, one item per key
type Store struct {
	client API
	config Config
	logger *zap.Logger
	now    func() time.Time
}

type snapshotItem struct {
	PK      string `dynamodbav:"PK"`
	SK      string `dynamodbav:"SK"`
	Version int    `dynamodbav:"Version"`
	Payload []byte `dynamodbav:"Payload"`
	SavedAt string `dynamodbav:"SavedAt"`
	TTL     int64  `dynamodbav:"TTL,omitempty"`
}

// NewStore creates a DynamoDB snapshot store
func NewStore(client API, config Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, config: config, logger: logger, now: time.Now}
}

// Load returns the snapshot stored under key. Items past their TTL read as
// missing even before DynamoDB removes them.
func (s *Store) Load(ctx context.Context, key string) (*ports.Snapshot, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.TableName),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.storageError("GetItem", err)
	}
	if len(out.Item) == 0 {
		return nil, ports.ErrSnapshotNotFound
	}

	var item snapshotItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot item: %w", err)
	}
	if item.TTL > 0 && s.now().Unix() >= item.TTL {
		return nil, ports.ErrSnapshotNotFound
	}
	if item.Version != ports.SnapshotVersion {
		return nil, ports.ErrSnapshotNotFound
	}

	data, err := gunzip(item.Payload)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	return persistence.DecodeSnapshot(data)
}

// Save stores the snapshot under key
func (s *Store) Save(ctx context.Context, key string, snapshot *ports.Snapshot) error {
	data, err := persistence.EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	payload, err := gzipBytes(data)
	if err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if len(payload) > maxItemBytes {
		return apperrors.NewStorageError("PutItem", fmt.Errorf("snapshot is %d bytes compressed", len(payload))).
			WithCode("ITEM_TOO_LARGE")
	}

	item := snapshotItem{
		PK:      key,
		SK:      sortKey,
		Version: snapshot.Version,
		Payload: payload,
		SavedAt: snapshot.SavedAt.UTC().Format(time.RFC3339Nano),
	}
	if s.config.TTL > 0 {
		item.TTL = s.now().Add(s.config.TTL).Unix()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal snapshot item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.TableName),
		Item:      av,
	}); err != nil {
		return s.storageError("PutItem", err)
	}

	s.logger.Debug("stored snapshot",
		zap.String("partition_key", key),
		zap.Int("raw_bytes", len(data)),
		zap.Int("stored_bytes", len(payload)))
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.TableName),
		Key:       s.key(key),
	}); err != nil {
		return s.storageError("DeleteItem", err)
	}
	return nil
}

func (s *Store) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: key},
		"SK": &types.AttributeValueMemberS{Value: sortKey},
	}
}

func (s *Store) storageError(operation string, err error) error {
	appErr := apperrors.NewStorageError(operation, err).WithDetail("table", s.config.TableName)

	var ae smithy.APIError
	if errors.As(err, &ae) {
		appErr = appErr.WithCode(ae.ErrorCode())
		switch ae.ErrorCode() {
		case "ResourceNotFoundException":
			s.logger.Error("snapshot table not found", zap.String("table", s.config.TableName))
		case "ProvisionedThroughputExceededException", "ThrottlingException":
			appErr = appErr.WithDetail("retryable", true)
		}
	}
	return appErr
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
