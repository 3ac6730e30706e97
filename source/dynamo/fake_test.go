package dynamo

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeClient is an in-memory Client. It understands the expressions this
// package generates: attribute_exists/attribute_not_exists conditions on the
// key and ttl, and SET clauses of plain assignments and increments. Scans
// skip deleted items and return pageSize items per page.
type fakeClient struct {
	mu       sync.Mutex
	tables   map[string]map[string]map[string]types.AttributeValue
	pageSize int

	puts    []*dynamodb.PutItemInput
	updates []*dynamodb.UpdateItemInput
	scans   []*dynamodb.ScanInput
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		tables:   make(map[string]map[string]map[string]types.AttributeValue),
		pageSize: 2,
	}
}

func avKey(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	default:
		return "?"
	}
}

func keyOf(key map[string]types.AttributeValue) string {
	parts := make([]string, 0, len(key))
	for k, v := range key {
		parts = append(parts, k+"="+avKey(v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (f *fakeClient) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := f.tables[name]
	if !ok {
		t = make(map[string]map[string]types.AttributeValue)
		f.tables[name] = t
	}
	return t
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.table(*params.TableName)[keyOf(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, params)

	idAttr := params.ExpressionAttributeNames["#id"]
	key := keyOf(map[string]types.AttributeValue{idAttr: params.Item[idAttr]})
	t := f.table(*params.TableName)
	if _, exists := t[key]; exists {
		return nil, conditionFailed()
	}
	t[key] = copyItem(params.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, params)

	t := f.table(*params.TableName)
	key := keyOf(params.Key)
	item, exists := t[key]
	cond := aws.ToString(params.ConditionExpression)
	if strings.Contains(cond, "attribute_exists(#id)") && !exists {
		return nil, conditionFailed()
	}
	if strings.Contains(cond, "attribute_not_exists(#ttl)") && exists {
		if _, hasTTL := item["ttl"]; hasTTL {
			return nil, conditionFailed()
		}
	}
	if !exists {
		item = copyItem(params.Key)
	}

	expr := strings.TrimPrefix(aws.ToString(params.UpdateExpression), "SET ")
	for _, clause := range strings.Split(expr, ", ") {
		lhs, rhs, _ := strings.Cut(clause, " = ")
		name := params.ExpressionAttributeNames[lhs]
		if _, inc, ok := strings.Cut(rhs, " + "); ok {
			cur, _ := item[name].(*types.AttributeValueMemberN)
			by := params.ExpressionAttributeValues[inc].(*types.AttributeValueMemberN)
			a, b := int64(0), int64(0)
			if cur != nil {
				a, _ = strconv.ParseInt(cur.Value, 10, 64)
			}
			b, _ = strconv.ParseInt(by.Value, 10, 64)
			item[name] = &types.AttributeValueMemberN{Value: strconv.FormatInt(a+b, 10)}
			continue
		}
		item[name] = params.ExpressionAttributeValues[rhs]
	}
	t[key] = item
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, params)

	t := f.table(*params.TableName)
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if params.ExclusiveStartKey != nil {
		after := keyOf(params.ExclusiveStartKey)
		start = sort.SearchStrings(keys, after) + 1
	}

	out := &dynamodb.ScanOutput{}
	end := start
	for end < len(keys) && end-start < f.pageSize {
		item := t[keys[end]]
		if !IsDeleted(item, time.Now()) {
			out.Items = append(out.Items, copyItem(item))
		}
		end++
	}
	if end < len(keys) {
		last := t[keys[end-1]]
		idAttr := "id"
		out.LastEvaluatedKey = map[string]types.AttributeValue{idAttr: last[idAttr]}
	}
	return out, nil
}
