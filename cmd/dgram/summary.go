package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/sambigeara/dgram/pkg/observability/metrics"
)

type summary struct {
	sent            int64
	rejected        int64
	retries         int64
	transportErrors int64
	otherFailures   int64
	bytes           int64
}

func collectSummary(ctx context.Context, r sdkmetric.Reader) (summary, error) {
	var rm metricdata.ResourceMetrics
	if err := r.Collect(ctx, &rm); err != nil {
		return summary{}, fmt.Errorf("collect metrics: %w", err)
	}

	var s summary
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != metrics.ScopeName {
			continue
		}
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					s.addSum(m.Name, dp)
				}
			case metricdata.Histogram[int64]:
				if m.Name == "dgram.payload.size" {
					for _, dp := range data.DataPoints {
						s.bytes += dp.Sum
					}
				}
			}
		}
	}
	return s, nil
}

func (s *summary) addSum(name string, dp metricdata.DataPoint[int64]) {
	switch name {
	case "dgram.sent":
		s.sent += dp.Value
	case "dgram.offer.rejected":
		s.rejected += dp.Value
	case "dgram.send.retries":
		s.retries += dp.Value
	case "dgram.send.failures":
		reason, _ := dp.Attributes.Value(attribute.Key("reason"))
		if reason.AsString() == metrics.ReasonTransport {
			s.transportErrors += dp.Value
		} else {
			s.otherFailures += dp.Value
		}
	}
}

func renderSummary(w io.Writer, s summary) {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		BorderColumn(false).
		Headers("SENT", "REJECTED", "RETRIES", "TRANSPORT ERRORS", "OTHER FAILURES", "BYTES").
		Row(
			strconv.FormatInt(s.sent, 10),
			strconv.FormatInt(s.rejected, 10),
			strconv.FormatInt(s.retries, 10),
			strconv.FormatInt(s.transportErrors, 10),
			strconv.FormatInt(s.otherFailures, 10),
			strconv.FormatInt(s.bytes, 10),
		)

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245")).PaddingRight(2)
	dataStyle := lipgloss.NewStyle().PaddingRight(2)
	t.StyleFunc(func(row, _ int) lipgloss.Style {
		if row < 0 {
			return headerStyle
		}
		return dataStyle
	})

	fmt.Fprintln(w, t)
}
