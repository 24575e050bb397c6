// Package dynamofake is an in-memory DynamoDB used by store tests.
//
// It understands the expression subset the stores in this module issue:
// SET / ADD / REMOVE update clauses, attribute_exists, attribute_not_exists,
// contains, =, <>, AND, OR, NOT and parentheses. Transactions are all-or-nothing
// and report per-item cancellation reasons like the real service.
package dynamofake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Hook lets a test inject a failure for an operation against a table.
// Returning a non-nil error aborts the call before any state changes.
type Hook func(op, table string) error

type table struct {
	pk    string
	items map[string]map[string]types.AttributeValue
}

// Fake is safe for concurrent use; every call holds a single lock.
type Fake struct {
	mu     sync.Mutex
	tables map[string]*table
	calls  map[string]int
	hook   Hook
}

// New returns an empty fake. Tables must be registered with CreateTable.
func New() *Fake {
	return &Fake{
		tables: map[string]*table{},
		calls:  map[string]int{},
	}
}

// CreateTable registers a table keyed by the string/number attribute pk.
func (f *Fake) CreateTable(name, pk string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &table{pk: pk, items: map[string]map[string]types.AttributeValue{}}
	return f
}

// SetHook installs h (nil removes it).
func (f *Fake) SetHook(h Hook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = h
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Item returns a copy of the stored item, or nil.
func (f *Fake) Item(tableName, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return nil
	}
	it, ok := t.items[key]
	if !ok {
		return nil
	}
	return copyItem(it)
}

// Items returns copies of every item in the table ordered by key.
func (f *Fake) Items(tableName string) []map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return nil
	}
	return t.sorted()
}

// Put stores item directly, bypassing conditions. Useful for seeding.
func (f *Fake) Put(tableName string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.mustTable(tableName)
	k, err := t.keyOf(item)
	if err != nil {
		panic(err)
	}
	t.items[k] = copyItem(item)
}

// Cancelled builds the error DynamoDB returns for a cancelled transaction, with one
// reason code per transaction item. Use it with SetHook to simulate TransactionConflict.
func Cancelled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, c := range codes {
		reasons[i] = types.CancellationReason{Code: strPtr(c)}
	}
	return &types.TransactionCanceledException{
		Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
		CancellationReasons: reasons,
	}
}

func (f *Fake) mustTable(name string) *table {
	t, ok := f.tables[name]
	if !ok {
		panic(fmt.Sprintf("dynamofake: unknown table %q", name))
	}
	return t
}

func (f *Fake) begin(op string, tables ...string) error {
	f.calls[op]++
	if f.hook == nil {
		return nil
	}
	for _, t := range tables {
		if err := f.hook(op, t); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) lookup(name string) (*table, error) {
	t, ok := f.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: strPtr("table not found: " + name)}
	}
	return t, nil
}

func (t *table) keyOf(item map[string]types.AttributeValue) (string, error) {
	v, ok := item[t.pk]
	if !ok {
		return "", fmt.Errorf("missing key attribute %s", t.pk)
	}
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		return av.Value, nil
	case *types.AttributeValueMemberN:
		return av.Value, nil
	}
	return "", fmt.Errorf("unsupported key type for %s", t.pk)
}

func (t *table) sorted() []map[string]types.AttributeValue {
	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, copyItem(t.items[k]))
	}
	return out
}

func (f *Fake) GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem", *in.TableName); err != nil {
		return nil, err
	}
	t, err := f.lookup(*in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := t.items[k]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(it)}, nil
}

func (f *Fake) PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutItem", *in.TableName); err != nil {
		return nil, err
	}
	t, err := f.lookup(*in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := check(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	t.items[k] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateItem", *in.TableName); err != nil {
		return nil, err
	}
	t, err := f.lookup(*in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	current := t.items[k]
	ok, err := check(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, current)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	next, err := applyUpdate(current, in.Key, in.UpdateExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.items[k] = next

	out := &dynamodb.UpdateItemOutput{}
	switch in.ReturnValues {
	case "", types.ReturnValueNone:
	case types.ReturnValueAllOld:
		if current != nil {
			out.Attributes = copyItem(current)
		}
	default:
		out.Attributes = copyItem(next)
	}
	return out, nil
}

func (f *Fake) Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Query", *in.TableName); err != nil {
		return nil, err
	}
	t, err := f.lookup(*in.TableName)
	if err != nil {
		return nil, err
	}
	var out []map[string]types.AttributeValue
	for _, it := range t.sorted() {
		match, err := check(in.KeyConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		if in.FilterExpression != nil {
			keep, err := check(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
			if err != nil {
				return nil, err
			}
			if !keep {
				continue
			}
		}
		out = append(out, it)
		if in.Limit != nil && int32(len(out)) >= *in.Limit {
			break
		}
	}
	return &dynamodb.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *Fake) Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Scan", *in.TableName); err != nil {
		return nil, err
	}
	t, err := f.lookup(*in.TableName)
	if err != nil {
		return nil, err
	}
	var out []map[string]types.AttributeValue
	for _, it := range t.sorted() {
		keep, err := check(in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, it)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, it)
		}
	}
	return &dynamodb.ScanOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *Fake) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(in.RequestItems))
	for name := range in.RequestItems {
		names = append(names, name)
	}
	if err := f.begin("BatchGetItem", names...); err != nil {
		return nil, err
	}
	out := &dynamodb.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	for name, req := range in.RequestItems {
		t, err := f.lookup(name)
		if err != nil {
			return nil, err
		}
		if len(req.Keys) > 100 {
			return nil, errors.New("ValidationException: too many items requested for the BatchGetItem call")
		}
		for _, key := range req.Keys {
			k, err := t.keyOf(key)
			if err != nil {
				return nil, err
			}
			if it, ok := t.items[k]; ok {
				out.Responses[name] = append(out.Responses[name], copyItem(it))
			}
		}
	}
	return out, nil
}

type pendingWrite struct {
	t    *table
	key  string
	item map[string]types.AttributeValue // nil deletes
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(in.TransactItems))
	for _, it := range in.TransactItems {
		names = append(names, transactTable(it))
	}
	if err := f.begin("TransactWriteItems", names...); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	writes := make([]pendingWrite, 0, len(in.TransactItems))
	failed := false

	for i, it := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		t, err := f.lookup(transactTable(it))
		if err != nil {
			return nil, err
		}

		var (
			key    map[string]types.AttributeValue
			cond   *string
			names  map[string]string
			values map[string]types.AttributeValue
		)
		switch {
		case it.Put != nil:
			key, cond, names, values = it.Put.Item, it.Put.ConditionExpression, it.Put.ExpressionAttributeNames, it.Put.ExpressionAttributeValues
		case it.Update != nil:
			key, cond, names, values = it.Update.Key, it.Update.ConditionExpression, it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues
		case it.Delete != nil:
			key, cond, names, values = it.Delete.Key, it.Delete.ConditionExpression, it.Delete.ExpressionAttributeNames, it.Delete.ExpressionAttributeValues
		case it.ConditionCheck != nil:
			key, cond, names, values = it.ConditionCheck.Key, it.ConditionCheck.ConditionExpression, it.ConditionCheck.ExpressionAttributeNames, it.ConditionCheck.ExpressionAttributeValues
		default:
			return nil, errors.New("empty transact item")
		}

		k, err := t.keyOf(key)
		if err != nil {
			return nil, err
		}
		ok, err := check(cond, names, values, t.items[k])
		if err != nil {
			return nil, err
		}
		if !ok {
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed"), Message: strPtr("The conditional request failed")}
			failed = true
			continue
		}

		switch {
		case it.Put != nil:
			writes = append(writes, pendingWrite{t: t, key: k, item: copyItem(it.Put.Item)})
		case it.Update != nil:
			next, err := applyUpdate(t.items[k], it.Update.Key, it.Update.UpdateExpression, names, values)
			if err != nil {
				return nil, err
			}
			writes = append(writes, pendingWrite{t: t, key: k, item: next})
		case it.Delete != nil:
			writes = append(writes, pendingWrite{t: t, key: k})
		}
	}

	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		if w.item == nil {
			delete(w.t.items, w.key)
			continue
		}
		w.t.items[w.key] = w.item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func transactTable(it types.TransactWriteItem) string {
	switch {
	case it.Put != nil:
		return *it.Put.TableName
	case it.Update != nil:
		return *it.Update.TableName
	case it.Delete != nil:
		return *it.Delete.TableName
	case it.ConditionCheck != nil:
		return *it.ConditionCheck.TableName
	}
	return ""
}

func strPtr(s string) *string { return &s }
