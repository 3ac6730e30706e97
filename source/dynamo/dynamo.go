// Package dynamo provides a source.Source backed by DynamoDB tables.
//
// Each type is stored in its own table keyed by a single partition key
// attribute. Items carry managed attributes next to the record's own:
// entity_ref ("type#id"), version, created_at and updated_at. Deletes are
// soft: they set the item's ttl to now, and deleted items are filtered from
// reads until DynamoDB expires them.
//
// Queries scan the type's table. Equality filters with a value are pushed
// down as a filter expression; ordering and limits are applied client-side.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/canon/source"
)

// Managed attribute names.
const (
	attrEntityRef = "entity_ref"
	attrVersion   = "version"
	attrCreatedAt = "created_at"
	attrUpdatedAt = "updated_at"
	attrTTL       = "ttl"
)

// Client is the subset of *dynamodb.Client used by the Source.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var _ Client = (*dynamodb.Client)(nil)

// Source binds types to DynamoDB tables.
type Source struct {
	client  Client
	config  Config
	allowed map[string]bool
	now     func() time.Time
}

// New creates a new Source.
func New(client Client, config Config) *Source {
	config.validate()
	s := &Source{
		client: client,
		config: config,
		now:    time.Now,
	}
	if len(config.Types) > 0 {
		s.allowed = make(map[string]bool, len(config.Types))
		for _, t := range config.Types {
			s.allowed[t] = true
		}
	}
	return s
}

// Bind implements source.Source.
func (s *Source) Bind(typeName string) (source.Gateway, error) {
	if s.allowed != nil && !s.allowed[typeName] {
		return nil, fmt.Errorf("%w: %s", source.ErrUnknownType, typeName)
	}
	return &Gateway{src: s, typeName: typeName, table: s.config.table(typeName)}, nil
}

// EntityRef returns the entity_ref attribute value for an item.
func EntityRef(typeName string, id any) string {
	return typeName + "#" + fmt.Sprint(id)
}

// ParseEntityRef splits an entity_ref into its type name and id.
func ParseEntityRef(ref string) (typeName, id string, ok bool) {
	typeName, id, ok = strings.Cut(ref, "#")
	if !ok || typeName == "" || id == "" {
		return "", "", false
	}
	return typeName, id, true
}

// Gateway reads and writes one type's table.
type Gateway struct {
	src      *Source
	typeName string
	table    string
}

// TypeName implements source.Gateway.
func (g *Gateway) TypeName() string { return g.typeName }

// Table returns the table backing the gateway.
func (g *Gateway) Table() string { return g.table }

// Capabilities implements source.Gateway. Updates are partial SET
// expressions, and nested entities are stored as their keys.
func (g *Gateway) Capabilities() source.Capabilities {
	return source.Capabilities{CanSaveDirty: true, Relational: true}
}

// Query implements source.Gateway.
func (g *Gateway) Query() *source.Query {
	return source.NewQuery(g, g.execute)
}

// Create implements source.Gateway. A nil id is replaced by a UUIDv7.
func (g *Gateway) Create(ctx context.Context, rec source.Record) (any, error) {
	idAttr := g.src.config.IDAttribute
	rec = rec.Clone()
	if rec == nil {
		rec = source.Record{}
	}
	if rec[idAttr] == nil {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate id: %w", err)
		}
		rec[idAttr] = id.String()
	}
	id := rec[idAttr]

	item, err := attributevalue.MarshalMap(map[string]any(rec))
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", g.typeName, err)
	}

	nowISO := g.src.now().UTC().Format(time.RFC3339)
	item[attrEntityRef] = &types.AttributeValueMemberS{Value: EntityRef(g.typeName, id)}
	item[attrVersion] = &types.AttributeValueMemberN{Value: "1"}
	item[attrCreatedAt] = &types.AttributeValueMemberS{Value: nowISO}
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: nowISO}
	delete(item, attrTTL)

	_, err = g.src.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(g.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": idAttr},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, fmt.Errorf("%w: %s %v", source.ErrAlreadyExists, g.typeName, id)
		}
		return nil, err
	}
	return id, nil
}

// Update implements source.Gateway. Attributes in rec are SET on the item and
// its version is incremented. Deleted or missing items fail with
// source.ErrNotFound.
func (g *Gateway) Update(ctx context.Context, id any, rec source.Record) error {
	if id == nil {
		return source.ErrMissingID
	}
	key, err := g.key(id)
	if err != nil {
		return err
	}
	expr, names, values, err := buildUpdate(rec, g.src.config.IDAttribute, g.src.now())
	if err != nil {
		return fmt.Errorf("marshal %s: %w", g.typeName, err)
	}
	names["#id"] = g.src.config.IDAttribute

	_, err = g.src.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(g.table),
		Key:                       key,
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(#id) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: %s %v", source.ErrNotFound, g.typeName, id)
		}
		return err
	}
	return nil
}

// Delete implements source.Gateway by setting the item's TTL to now. The
// version is incremented so concurrent updates fail. Deleting an item that
// is missing or already has a TTL is a no-op.
func (g *Gateway) Delete(ctx context.Context, id any) error {
	if id == nil {
		return source.ErrMissingID
	}
	key, err := g.key(id)
	if err != nil {
		return err
	}

	_, err = g.src.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(g.table),
		Key:                 key,
		UpdateExpression:    aws.String("SET #ttl = :now, #version = #version + :one"),
		ConditionExpression: aws.String("attribute_exists(#id) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#id":      g.src.config.IDAttribute,
			"#ttl":     attrTTL,
			"#version": attrVersion,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{
				Value: strconv.FormatInt(g.src.now().Unix(), 10),
			},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// Get returns the record with the given id, or source.ErrNotFound when it is
// missing or deleted.
func (g *Gateway) Get(ctx context.Context, id any) (source.Record, error) {
	key, err := g.key(id)
	if err != nil {
		return nil, err
	}
	result, err := g.src.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(g.table),
		Key:       key,
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil || IsDeleted(result.Item, g.src.now()) {
		return nil, fmt.Errorf("%w: %s %v", source.ErrNotFound, g.typeName, id)
	}
	return recordFromItem(result.Item)
}

func (g *Gateway) key(id any) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("marshal %s key: %w", g.typeName, err)
	}
	return map[string]types.AttributeValue{g.src.config.IDAttribute: av}, nil
}

// execute scans the table with the query's pushed-down filters merged with
// the TTL filter, then applies the full query client-side.
func (g *Gateway) execute(ctx context.Context, q *source.Query) ([]source.Record, error) {
	filterExpr, names, values, err := buildFilter(q.Filters())
	if err != nil {
		return nil, err
	}
	filterExpr, names, values = withLiveFilter(filterExpr, names, values, g.src.now())

	paginator := dynamodb.NewScanPaginator(g.src.client, &dynamodb.ScanInput{
		TableName:                 aws.String(g.table),
		FilterExpression:          aws.String(filterExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})

	var recs []source.Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			rec, err := recordFromItem(raw)
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		}
	}
	return source.Apply(recs, q), nil
}

// buildUpdate builds a SET expression from rec, skipping the id attribute
// and managed attributes, and appends the managed updated_at and version
// updates. Attributes are assigned in name order.
func buildUpdate(rec source.Record, idAttr string, now time.Time) (string, map[string]string, map[string]types.AttributeValue, error) {
	names := map[string]string{
		"#updated_at": attrUpdatedAt,
		"#version":    attrVersion,
		"#ttl":        attrTTL,
	}
	values := map[string]types.AttributeValue{
		":updated_at": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		":one":        &types.AttributeValueMemberN{Value: "1"},
	}

	fields := make([]string, 0, len(rec))
	for k := range rec {
		if k == idAttr || isManaged(k) {
			continue
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)

	setClauses := make([]string, 0, len(fields)+2)
	for i, k := range fields {
		av, err := attributevalue.Marshal(rec[k])
		if err != nil {
			return "", nil, nil, fmt.Errorf("%s: %w", k, err)
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		names[nameKey] = k
		values[valueKey] = av
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}
	setClauses = append(setClauses, "#updated_at = :updated_at", "#version = #version + :one")

	return "SET " + strings.Join(setClauses, ", "), names, values, nil
}

// buildFilter translates equality filters with a value into a filter
// expression. Filters on nil are left to client-side evaluation.
func buildFilter(filters []source.Filter) (string, map[string]string, map[string]types.AttributeValue, error) {
	var clauses []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	for i, f := range filters {
		if f.Value == nil {
			continue
		}
		av, err := attributevalue.Marshal(f.Value)
		if err != nil {
			return "", nil, nil, fmt.Errorf("filter %s: %w", f.Field, err)
		}
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":f%d", i)
		names[nameKey] = source.PropertyName(f.Field)
		values[valueKey] = av
		clauses = append(clauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}
	return strings.Join(clauses, " AND "), names, values, nil
}

// recordFromItem decodes an item into a record without its entity_ref,
// version and ttl attributes. Numbers decode as float64.
func recordFromItem(item map[string]types.AttributeValue) (source.Record, error) {
	var m map[string]any
	if err := attributevalue.UnmarshalMap(item, &m); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	delete(m, attrEntityRef)
	delete(m, attrVersion)
	delete(m, attrTTL)
	return source.Record(m), nil
}

func isManaged(attr string) bool {
	switch attr {
	case attrEntityRef, attrVersion, attrCreatedAt, attrUpdatedAt, attrTTL:
		return true
	}
	return false
}
