package dynamofake

import (
	"context"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// ConflictingClient wraps a Fake and cancels the next armed TransactWriteItems with
// TransactionConflict on its first item, the way DynamoDB answers the loser of two
// transactions that touch the same item at once.
//
// Before runs first, outside the fake's lock, so it can play the competing writer.
// With Commit set the transaction is applied before the cancellation is returned.
type ConflictingClient struct {
	*Fake
	Before func()
	Commit bool

	armed atomic.Bool
}

// Arm makes the next TransactWriteItems call conflict.
func (c *ConflictingClient) Arm() { c.armed.Store(true) }

func (c *ConflictingClient) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	if !c.armed.CompareAndSwap(true, false) {
		return c.Fake.TransactWriteItems(ctx, in, optFns...)
	}
	if c.Before != nil {
		c.Before()
	}
	if c.Commit {
		if _, err := c.Fake.TransactWriteItems(ctx, in, optFns...); err != nil {
			return nil, err
		}
	}
	codes := make([]string, len(in.TransactItems))
	for i := range codes {
		codes[i] = "None"
	}
	if len(codes) > 0 {
		codes[0] = "TransactionConflict"
	}
	return nil, Cancelled(codes...)
}
