package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/sanspareilsmyn/timelens/internal/message"
	"github.com/sanspareilsmyn/timelens/internal/window"
)

// CSVSource reads rows from a CSV stream with a header line. The timestamp
// column holds seconds or an RFC 3339 time; empty, "null" and "NaN" cells are
// absent values.
type CSVSource struct {
	r         *csv.Reader
	timeField string
	timeIdx   int
	colIdx    []int
	line      int
}

func NewCSVSource(r io.Reader, timeField string, columns []string) (*CSVSource, error) {
	s, _, err := newCSVSource(r, timeField, columns, false)
	return s, err
}

// NewCSVInput reads only those columns the file's header carries, so several
// files holding different columns can feed one Merge.
func NewCSVInput(r io.Reader, timeField string, columns []string) (Input, error) {
	s, slots, err := newCSVSource(r, timeField, columns, true)
	if err != nil {
		return Input{}, err
	}
	if len(slots) == 0 {
		return Input{}, fmt.Errorf("%w: none of %v present", ErrCSVHeader, columns)
	}
	return Input{Source: s, Columns: slots}, nil
}

func newCSVSource(r io.Reader, timeField string, columns []string, partial bool) (*CSVSource, []int, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCSVHeader, err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}

	s := &CSVSource{r: cr, timeField: timeField, line: 1}
	var ok bool
	if s.timeIdx, ok = pos[timeField]; !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrCSVHeader, timeField)
	}
	var slots []int
	for i, c := range columns {
		idx, ok := pos[c]
		if !ok {
			if partial {
				continue
			}
			return nil, nil, fmt.Errorf("%w: %q", ErrCSVHeader, c)
		}
		s.colIdx = append(s.colIdx, idx)
		slots = append(slots, i)
	}
	return s, slots, nil
}

func (s *CSVSource) Next(ctx context.Context) (window.Sample, error) {
	if err := ctx.Err(); err != nil {
		return window.Sample{}, err
	}
	rec, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		return window.Sample{}, io.EOF
	}
	s.line++
	if err != nil {
		return window.Sample{}, fmt.Errorf("%w: line %d: %w", ErrCSVRecord, s.line, err)
	}

	ts, ok := message.DynamicMessage{s.timeField: strings.TrimSpace(rec[s.timeIdx])}.GetTimestamp(s.timeField)
	if !ok {
		if ts, err = strconv.ParseFloat(strings.TrimSpace(rec[s.timeIdx]), 64); err != nil {
			return window.Sample{}, fmt.Errorf("%w: line %d: timestamp %q", ErrCSVRecord, s.line, rec[s.timeIdx])
		}
	}

	values := make([]float64, len(s.colIdx))
	for i, idx := range s.colIdx {
		cell := strings.TrimSpace(rec[idx])
		switch strings.ToLower(cell) {
		case "", "null", "nan":
			values[i] = math.NaN()
			continue
		}
		if values[i], err = strconv.ParseFloat(cell, 64); err != nil {
			return window.Sample{}, fmt.Errorf("%w: line %d: value %q", ErrCSVRecord, s.line, cell)
		}
	}
	return window.Sample{Timestamp: ts, Values: values}, nil
}

// OpenS3Object fetches bucket/key and returns its body.
func OpenS3Object(ctx context.Context, region, bucket, key string) (io.ReadCloser, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("%w: session: %w", ErrS3FetchFailed, err)
	}
	object, err := s3.New(sess).GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: s3://%s/%s: %w", ErrS3FetchFailed, bucket, key, err)
	}
	return object.Body, nil
}

// OpenLocation opens a local path or an s3://bucket/key URL.
func OpenLocation(ctx context.Context, location, region string) (io.ReadCloser, error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return os.Open(location)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: bad location %q", ErrS3FetchFailed, location)
	}
	return OpenS3Object(ctx, region, bucket, key)
}
