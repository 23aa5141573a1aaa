// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.


package geostats

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	buffersAcceptedCounter otelmetric.Int64Counter
	buffersRejectedCounter otelmetric.Int64Counter
	inflatedBytesCounter   otelmetric.Int64Counter
	recordsMergedCounter   otelmetric.Int64Counter
	processDuration        otelmetric.Float64Histogram
	mergeDuration          otelmetric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/geostats/pkg/geostats")

	var err error
	buffersAcceptedCounter, err = meter.Int64Counter(
		"geostats.buffers.accepted",
		otelmetric.WithDescription("Number of tile buffers merged into an accumulator"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create buffers.accepted counter: %w", err))
	}

	buffersRejectedCounter, err = meter.Int64Counter(
		"geostats.buffers.rejected",
		otelmetric.WithDescription("Number of tile buffers rejected, by failing stage"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create buffers.rejected counter: %w", err))
	}

	inflatedBytesCounter, err = meter.Int64Counter(
		"geostats.bytes.inflated",
		otelmetric.WithUnit("By"),
		otelmetric.WithDescription("Bytes of decoded tile payload after decompression"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create bytes.inflated counter: %w", err))
	}

	recordsMergedCounter, err = meter.Int64Counter(
		"geostats.records.merged",
		otelmetric.WithDescription("Number of layer/geometry statistic records merged"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create records.merged counter: %w", err))
	}

	processDuration, err = meter.Float64Histogram(
		"geostats.buffer.process.duration",
		otelmetric.WithUnit("s"),
		otelmetric.WithDescription("Time to decompress, decode and extract one tile buffer"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create buffer.process.duration histogram: %w", err))
	}

	mergeDuration, err = meter.Float64Histogram(
		"geostats.merge.duration",
		otelmetric.WithUnit("s"),
		otelmetric.WithDescription("Time spent holding the accumulator lock to merge one buffer"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create merge.duration histogram: %w", err))
	}
}

func stageAttr(stage Stage) otelmetric.MeasurementOption {
	return otelmetric.WithAttributes(attribute.String("stage", string(stage)))
}
