// Package dynamo implements ledger.Store on a single DynamoDB table.
//
// Items are keyed by a string partition key "pk" and sort key "sk":
//
//	pk=<entity key>   sk=RECORD                      current entity + version
//	pk=<entity key>   sk=HISTORY#<timestamp>#<seq>   history side log
//	pk=event/<id>     sk=EVENT                       audit copy of each event
//
// A commit is a single TransactWriteItems call; entity puts carry a
// condition on the stored version.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/civicledger/approvald/internal/ledger"
	"github.com/civicledger/approvald/internal/logging"
	"github.com/civicledger/approvald/internal/models"
)

const (
	recordSK      = "RECORD"
	eventSK       = "EVENT"
	historyPrefix = "HISTORY#"
	eventPrefix   = "event/"

	// DynamoDB caps a transaction at 100 items.
	maxTransactItems = 100

	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Config selects the table and endpoint.
type Config struct {
	Table  string `yaml:"table" mapstructure:"table"`
	Region string `yaml:"region" mapstructure:"region"`

	// Endpoint overrides the service endpoint, e.g. DynamoDB Local.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`

	// Static credentials; when empty the default AWS chain is used.
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`

	// CreateTable provisions the table when it does not exist.
	CreateTable bool `yaml:"create_table" mapstructure:"create_table"`
}

// tableWait bounds how long New waits for a created table to become active.
const tableWait = 2 * time.Minute

// recordItem is the RECORD item.
type recordItem struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	Value     []byte `dynamodbav:"value"`
	Version   int64  `dynamodbav:"version"`
	UpdatedAt string `dynamodbav:"updatedAt"`
}

// historyItem is one HISTORY# item.
type historyItem struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	TxRef     string `dynamodbav:"txRef"`
	Timestamp string `dynamodbav:"timestamp"`
	Value     []byte `dynamodbav:"value"`
}

// eventItem is the audit copy of an event.
type eventItem struct {
	PK         string            `dynamodbav:"pk"`
	SK         string            `dynamodbav:"sk"`
	ID         string            `dynamodbav:"id"`
	Timestamp  string            `dynamodbav:"timestamp"`
	Type       string            `dynamodbav:"type"`
	EntityType string            `dynamodbav:"entityType"`
	EntityID   string            `dynamodbav:"entityId"`
	TxRef      string            `dynamodbav:"txRef"`
	Payload    []byte            `dynamodbav:"payload"`
	Metadata   map[string]string `dynamodbav:"metadata,omitempty"`
}

// Store is a ledger.Store backed by DynamoDB.
type Store struct {
	client API
	table  string
	seq    atomic.Int64
	logger zerolog.Logger
}

var _ ledger.Store = (*Store)(nil)

// New loads AWS configuration and returns a store for cfg.Table.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		return nil, errors.New("dynamodb table is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	if cfg.CreateTable {
		if err := EnsureTable(ctx, client, cfg.Table, tableWait); err != nil {
			return nil, err
		}
	}
	return NewWithClient(client, cfg.Table), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, table string) *Store {
	s := &Store{
		client: client,
		table:  table,
		logger: logging.Component("dynamo"),
	}
	s.seq.Store(time.Now().UnixNano())
	return s
}

// Get implements ledger.Store.
func (s *Store) Get(ctx context.Context, key string) (*ledger.Record, error) {
	itemKey, err := attributevalue.MarshalMap(map[string]string{"pk": key, "sk": recordSK})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, ledger.ErrNotFound
	}

	var item recordItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record item: %w", err)
	}
	return &ledger.Record{Key: item.PK, Value: item.Value, Version: item.Version}, nil
}

// Scan implements ledger.Store. DynamoDB scans are unordered, so every
// matching record is read and sorted by key before paging.
func (s *Store) Scan(ctx context.Context, query ledger.ScanQuery) (*ledger.ScanPage, error) {
	filter := expression.Name("sk").Equal(expression.Value(recordSK))
	if query.Prefix != "" {
		filter = filter.And(expression.Name("pk").BeginsWith(query.Prefix))
	}
	if query.After != "" {
		filter = filter.And(expression.Name("pk").GreaterThan(expression.Value(query.After)))
	}
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build scan expression: %w", err)
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(s.table),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	}

	var items []recordItem
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan DynamoDB table: %w", err)
		}
		var page []recordItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record items: %w", err)
		}
		items = append(items, page...)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].PK < items[j].PK })

	result := &ledger.ScanPage{}
	for _, item := range items {
		if query.Limit > 0 && len(result.Records) == query.Limit {
			result.Next = result.Records[len(result.Records)-1].Key
			break
		}
		result.Records = append(result.Records, ledger.Record{Key: item.PK, Value: item.Value, Version: item.Version})
	}
	return result, nil
}

// History implements ledger.Store.
func (s *Store) History(ctx context.Context, key string) ([]ledger.HistoryRecord, error) {
	keyCond := expression.Key("pk").Equal(expression.Value(key)).
		And(expression.Key("sk").BeginsWith(historyPrefix))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build history expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
		ConsistentRead:            aws.Bool(true),
	}

	var records []ledger.HistoryRecord
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query history: %w", err)
		}
		var page []historyItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history items: %w", err)
		}
		for _, item := range page {
			ts, err := time.Parse(timeFormat, item.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("failed to parse history timestamp: %w", err)
			}
			records = append(records, ledger.HistoryRecord{
				Key:       item.PK,
				TxRef:     item.TxRef,
				Timestamp: ts,
				Value:     item.Value,
			})
		}
	}
	return records, nil
}

// Commit implements ledger.Store.
func (s *Store) Commit(ctx context.Context, batch *ledger.Batch) error {
	if batch == nil {
		return nil
	}
	items, err := s.transactItems(batch)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	if len(items) > maxTransactItems {
		return fmt.Errorf("batch of %d items exceeds the DynamoDB transaction limit", len(items))
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		if isConditionFailure(err) {
			return ledger.ErrVersionConflict
		}
		return fmt.Errorf("failed to write transaction: %w", err)
	}
	s.logger.Debug().Int("items", len(items)).Msg("transaction committed")
	return nil
}

func (s *Store) transactItems(batch *ledger.Batch) ([]types.TransactWriteItem, error) {
	now := time.Now().UTC().Format(timeFormat)
	items := make([]types.TransactWriteItem, 0, len(batch.Puts)+len(batch.History)+len(batch.Events))

	for _, put := range batch.Puts {
		av, err := attributevalue.MarshalMap(recordItem{
			PK:        put.Key,
			SK:        recordSK,
			Value:     put.Value,
			Version:   ledger.NextVersion(put),
			UpdatedAt: now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record item: %w", err)
		}

		cond := expression.AttributeNotExists(expression.Name("pk"))
		if put.Version > 0 {
			cond = expression.Name("version").Equal(expression.Value(put.Version))
		}
		expr, err := expression.NewBuilder().WithCondition(cond).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build condition: %w", err)
		}

		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:                 aws.String(s.table),
			Item:                      av,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}})
	}

	for _, h := range batch.History {
		ts := h.Timestamp.UTC().Format(timeFormat)
		av, err := attributevalue.MarshalMap(historyItem{
			PK:        h.Key,
			SK:        fmt.Sprintf("%s%s#%020d", historyPrefix, ts, s.seq.Add(1)),
			TxRef:     h.TxRef,
			Timestamp: ts,
			Value:     h.Value,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history item: %w", err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(s.table),
			Item:      av,
		}})
	}

	for i := range batch.Events {
		av, err := attributevalue.MarshalMap(toEventItem(&batch.Events[i]))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event item: %w", err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(s.table),
			Item:      av,
		}})
	}
	return items, nil
}

func toEventItem(event *models.Event) eventItem {
	return eventItem{
		PK:         eventPrefix + event.ID,
		SK:         eventSK,
		ID:         event.ID,
		Timestamp:  event.Timestamp.UTC().Format(timeFormat),
		Type:       string(event.Type),
		EntityType: string(event.EntityType),
		EntityID:   event.EntityID,
		TxRef:      event.TxRef,
		Payload:    event.Payload,
		Metadata:   event.Metadata,
	}
}

// isConditionFailure reports whether a transaction was cancelled because a
// version condition did not hold.
func isConditionFailure(err error) bool {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if strings.EqualFold(aws.ToString(reason.Code), "ConditionalCheckFailed") {
				return true
			}
		}
		return false
	}
	var failed *types.ConditionalCheckFailedException
	return errors.As(err, &failed)
}
