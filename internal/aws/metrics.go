package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Settlement metric names.
const (
	MetricOrdersCreated       = "OrdersCreated"
	MetricOrdersReused        = "OrdersReused"
	MetricOrdersSettled       = "OrdersSettled"
	MetricDuplicateCallbacks  = "DuplicateCallbacks"
	MetricInvalidSignatures   = "InvalidSignatures"
	MetricUnknownOrders       = "UnknownOrderCallbacks"
	MetricPartialSettlements  = "PartialSettlements"
	MetricOrdersReconciled    = "OrdersReconciled"
	MetricGatewayLatency      = "GatewayLatency"
	MetricReconcileQueueFails = "ReconcileEnqueueFailures"
)

// MetricsClient wraps CloudWatch PutMetricData. A disabled client accepts every call and sends nothing.
type MetricsClient struct {
	client    CloudWatchAPI
	namespace string
	enabled   bool
	nowFunc   func() time.Time
}

// NewMetricsClient returns a client writing into namespace.
func NewMetricsClient(client CloudWatchAPI, namespace string, enabled bool) *MetricsClient {
	if namespace == "" {
		namespace = "CourseSettlement"
	}
	return &MetricsClient{
		client:    client,
		namespace: namespace,
		enabled:   enabled && client != nil,
		nowFunc:   time.Now,
	}
}

// PutMetric sends a single metric data point to CloudWatch.
func (m *MetricsClient) PutMetric(ctx context.Context, metricName string, value float64, unit types.StandardUnit, dimensions map[string]string) error {
	if m == nil || !m.enabled {
		return nil
	}

	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	dims := make([]types.Dimension, 0, len(keys))
	for _, k := range keys {
		dims = append(dims, types.Dimension{
			Name:  sdkaws.String(k),
			Value: sdkaws.String(dimensions[k]),
		})
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(m.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: sdkaws.String(metricName),
				Value:      sdkaws.Float64(value),
				Unit:       unit,
				Timestamp:  sdkaws.Time(m.nowFunc()),
				Dimensions: dims,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put metric %s: %w", metricName, err)
	}
	return nil
}

// RecordCount increments a counter metric.
func (m *MetricsClient) RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error {
	return m.PutMetric(ctx, metricName, 1, types.StandardUnitCount, dimensions)
}

// RecordLatency records a duration in milliseconds.
func (m *MetricsClient) RecordLatency(ctx context.Context, metricName string, d time.Duration, dimensions map[string]string) error {
	return m.PutMetric(ctx, metricName, float64(d.Milliseconds()), types.StandardUnitMilliseconds, dimensions)
}

// IsEnabled reports whether data points are actually sent.
func (m *MetricsClient) IsEnabled() bool {
	return m != nil && m.enabled
}
