package export

import (
	"fmt"
	"slices"

	"training-backend/internal/core"

	parquetbuffer "github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// MetricValueRow is one (metric, group, bucket) value.
type MetricValueRow struct {
	MetricId    string  `parquet:"name=metric_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	MetricName  string  `parquet:"name=metric_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Metric      string  `parquet:"name=metric, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Unit        string  `parquet:"name=unit, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Granularity string  `parquet:"name=granularity, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Aggregate   string  `parquet:"name=aggregate, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Group       string  `parquet:"name=group, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Bucket      string  `parquet:"name=bucket, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value       float64 `parquet:"name=value, type=DOUBLE"`
}

// Rows flattens the metrics keeping their order, then by group and bucket.
func Rows(metrics []core.MetricWithValues) []MetricValueRow {
	var rows []MetricValueRow
	for _, m := range metrics {
		def := m.Metric.Definition

		name := ""
		if m.Metric.Name != nil {
			name = *m.Metric.Name
		}

		groups := make([]string, 0, len(m.Values))
		for g := range m.Values {
			groups = append(groups, g)
		}
		slices.Sort(groups)

		for _, group := range groups {
			series := m.Values[group]
			buckets := make([]string, 0, len(series))
			for b := range series {
				buckets = append(buckets, b)
			}
			slices.Sort(buckets)

			for _, bucket := range buckets {
				rows = append(rows, MetricValueRow{
					MetricId:    m.Metric.Id.String(),
					MetricName:  name,
					Metric:      def.Source.Label(),
					Unit:        def.Unit(),
					Granularity: string(def.Granularity),
					Aggregate:   string(def.Aggregate),
					Group:       group,
					Bucket:      bucket,
					Value:       series[bucket],
				})
			}
		}
	}
	return rows
}

// MarshalParquet encodes the metric values as a snappy compressed parquet
// file.
func MarshalParquet(metrics []core.MetricWithValues) ([]byte, error) {
	fw := parquetbuffer.NewBufferFile()
	pw, err := writer.NewParquetWriter(fw, new(MetricValueRow), 4)
	if err != nil {
		return nil, fmt.Errorf("error creating parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range Rows(metrics) {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("error writing parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("error finishing parquet file: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return append([]byte(nil), fw.Bytes()...), nil
}
