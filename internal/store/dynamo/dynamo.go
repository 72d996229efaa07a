// Package dynamo provides a DynamoDB-backed record store. Each document is one
// item keyed by "key"; Put is a single UpdateItem so the insert-or-update is
// atomic on the server.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/haukened/docvault/internal/app"
	"github.com/haukened/docvault/internal/store"
)

const (
	attrKey       = "key"
	attrValue     = "value"
	attrCreatedAt = "created_at"
	attrUpdatedAt = "updated_at"
)

var (
	_ app.RecordStore = (*Store)(nil)
	_ store.Backend   = (*Store)(nil)
)

// DynamoDBAPI defines the interface for DynamoDB operations we use.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Options configures Open.
type Options struct {
	Table    string
	Region   string
	Endpoint string // optional, e.g. http://localhost:8000 for DynamoDB Local
	Clock    app.Clock
}

// Store implements app.RecordStore on a DynamoDB table. The zero value is unopened.
type Store struct {
	client DynamoDBAPI
	table  string
	clock  app.Clock

	// TableWait bounds how long EnsureSchema waits for a new table to become active.
	TableWait time.Duration
	// TableMinDelay is the minimum poll interval while waiting.
	TableMinDelay time.Duration
}

// Open loads the default AWS configuration (environment, shared config,
// instance role) for opts.Region and returns a Store for opts.Table.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Table == "" {
		return nil, store.Wrap("open", errors.New("dynamodb table name required"))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, store.Wrap("open", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return New(client, opts.Table, opts.Clock), nil
}

// New wraps an existing client. A nil clock defaults to app.SystemClock.
func New(client DynamoDBAPI, table string, clock app.Clock) *Store {
	if clock == nil {
		clock = app.SystemClock{}
	}
	return &Store{
		client:        client,
		table:         table,
		clock:         clock,
		TableWait:     2 * time.Minute,
		TableMinDelay: 2 * time.Second,
	}
}

// EnsureSchema creates the table (on-demand billing) if it does not exist and
// waits for it to become active. An existing table is left untouched.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.open(); err != nil {
		return store.Wrap("ensure schema", err)
	}
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	var notFound *dynamotypes.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return store.Wrap("ensure schema", err)
	}
	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []dynamotypes.AttributeDefinition{
			{AttributeName: aws.String(attrKey), AttributeType: dynamotypes.ScalarAttributeTypeS},
		},
		KeySchema: []dynamotypes.KeySchemaElement{
			{AttributeName: aws.String(attrKey), KeyType: dynamotypes.KeyTypeHash},
		},
		BillingMode: dynamotypes.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *dynamotypes.ResourceInUseException
		if !errors.As(err, &inUse) { // another process created it first
			return store.Wrap("ensure schema", err)
		}
	}
	waiter := dynamodb.NewTableExistsWaiter(s.client, func(o *dynamodb.TableExistsWaiterOptions) {
		if s.TableMinDelay > 0 {
			o.MinDelay = s.TableMinDelay
			if o.MaxDelay < o.MinDelay {
				o.MaxDelay = o.MinDelay
			}
		}
	})
	err = waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, s.TableWait)
	return store.Wrap("ensure schema", err)
}

// Put writes value for key. created_at is set only if the item has none.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.open(); err != nil {
		return store.Wrap("put", err)
	}
	now := strconv.FormatInt(s.clock.Now().Unix(), 10)
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]dynamotypes.AttributeValue{
			attrKey: &dynamotypes.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: aws.String("SET #v = :v, #u = :now, #c = if_not_exists(#c, :now)"),
		ExpressionAttributeNames: map[string]string{
			"#v": attrValue,
			"#u": attrUpdatedAt,
			"#c": attrCreatedAt,
		},
		ExpressionAttributeValues: map[string]dynamotypes.AttributeValue{
			":v":   &dynamotypes.AttributeValueMemberB{Value: value},
			":now": &dynamotypes.AttributeValueMemberN{Value: now},
		},
	})
	return store.Wrap("put", err)
}

// Get returns the value stored for key, or found=false if there is none.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rec, found, err := s.fetch(ctx, "get", key, attrValue)
	return rec.Value, found, err
}

// Record returns the full item for key including timestamps.
func (s *Store) Record(ctx context.Context, key string) (store.Record, bool, error) {
	return s.fetch(ctx, "record", key, attrValue, attrCreatedAt, attrUpdatedAt)
}

// Ping checks that the table is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.open(); err != nil {
		return store.Wrap("ping", err)
	}
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	return store.Wrap("ping", err)
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error { return nil }

func (s *Store) fetch(ctx context.Context, op, key string, attrs ...string) (store.Record, bool, error) {
	if err := s.open(); err != nil {
		return store.Record{}, false, store.Wrap(op, err)
	}
	names := make(map[string]string, len(attrs))
	proj := ""
	for i, a := range attrs {
		ph := fmt.Sprintf("#a%d", i)
		names[ph] = a
		if i > 0 {
			proj += ", "
		}
		proj += ph
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]dynamotypes.AttributeValue{
			attrKey: &dynamotypes.AttributeValueMemberS{Value: key},
		},
		ConsistentRead:           aws.Bool(true),
		ProjectionExpression:     aws.String(proj),
		ExpressionAttributeNames: names,
	})
	if err != nil {
		return store.Record{}, false, store.Wrap(op, err)
	}
	if out == nil || out.Item == nil {
		return store.Record{}, false, nil
	}
	rec, err := decodeItem(key, out.Item)
	if err != nil {
		return store.Record{}, false, store.Wrap(op, err)
	}
	return rec, true, nil
}

func decodeItem(key string, item map[string]dynamotypes.AttributeValue) (store.Record, error) {
	rec := store.Record{Key: key}
	v, ok := item[attrValue].(*dynamotypes.AttributeValueMemberB)
	if !ok {
		return rec, fmt.Errorf("item %q: missing or non-binary %s attribute", key, attrValue)
	}
	rec.Value = v.Value
	for attr, dst := range map[string]*time.Time{attrCreatedAt: &rec.CreatedAt, attrUpdatedAt: &rec.UpdatedAt} {
		n, ok := item[attr].(*dynamotypes.AttributeValueMemberN)
		if !ok {
			continue
		}
		secs, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return rec, fmt.Errorf("item %q: invalid %s: %w", key, attr, err)
		}
		*dst = time.Unix(secs, 0).UTC()
	}
	return rec, nil
}

func (s *Store) open() error {
	if s == nil || s.client == nil {
		return store.ErrNotOpen
	}
	return nil
}
