package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-course-settlement/internal/settlement"
)

type stubReconciler struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
}

func (s *stubReconciler) ReconcileOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, orderID)
	return s.errs[orderID]
}

func record(id, body string) events.SQSMessage {
	return events.SQSMessage{MessageId: id, Body: body}
}

func TestHandle_Success(t *testing.T) {
	r := &stubReconciler{}
	p := NewProcessor(r, nil)

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		record("m1", `{"order_id":"o1","reason":"grant failed"}`),
		record("m2", `{"order_id":"o2","reason":"credit failed"}`),
	}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, []string{"o1", "o2"}, r.calls)
}

func TestHandle_ReportsTransientFailures(t *testing.T) {
	r := &stubReconciler{errs: map[string]error{
		"o2": errors.New("throttled"),
		"o3": settlement.ErrPartialSettlement,
	}}
	p := NewProcessor(r, nil)

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		record("m1", `{"order_id":"o1"}`),
		record("m2", `{"order_id":"o2"}`),
		record("m3", `{"order_id":"o3"}`),
	}})
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 2)
	assert.Equal(t, "m2", resp.BatchItemFailures[0].ItemIdentifier)
	assert.Equal(t, "m3", resp.BatchItemFailures[1].ItemIdentifier)
}

func TestHandle_DropsPermanentFailures(t *testing.T) {
	r := &stubReconciler{errs: map[string]error{
		"gone":    settlement.ErrOrderNotFound,
		"pending": settlement.ErrOrderNotPaid,
	}}
	p := NewProcessor(r, nil)

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		record("m1", `{"order_id":"gone"}`),
		record("m2", `{"order_id":"pending"}`),
		record("m3", `not json`),
		record("m4", `{"reason":"no order"}`),
	}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, []string{"gone", "pending"}, r.calls)
}
