// Package indexer writes document collections into a generation index with
// one bulk request per collection.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brownbaglunch/webhook/pkg/elasticsearch"
	apperrors "github.com/brownbaglunch/webhook/pkg/errors"
	"github.com/brownbaglunch/webhook/pkg/logger"
)

// maxLoggedFailures caps how many rejected items are logged per request.
const maxLoggedFailures = 5

// BulkWriter submits an NDJSON bulk body to one index.
type BulkWriter interface {
	Bulk(ctx context.Context, index string, body io.Reader) (*elasticsearch.BulkResponse, error)
}

type Options struct {
	// CollectionField names the member added to every document to tell the
	// collections apart inside a shared index. Empty disables it.
	CollectionField string
	// AbortOnPartialFailure turns rejected items into an ErrIndexWrite.
	AbortOnPartialFailure bool
}

// Report summarizes one Load call.
type Report struct {
	Collection string
	Total      int
	Indexed    int
	Failed     int
	Took       time.Duration
	Failures   []Failure
}

// Failure describes one rejected document.
type Failure struct {
	Position int
	Status   int
	Type     string
	Reason   string
}

type BulkIndexer struct {
	writer BulkWriter
	opts   Options
}

func NewBulkIndexer(writer BulkWriter, opts Options) *BulkIndexer {
	return &BulkIndexer{
		writer: writer,
		opts:   opts,
	}
}

// Documents converts items for Load, applying rewrite to each when it is
// non-nil.
func Documents[T any](items []T, rewrite func(T) any) []any {
	docs := make([]any, len(items))
	for i, item := range items {
		if rewrite != nil {
			docs[i] = rewrite(item)
			continue
		}
		docs[i] = item
	}
	return docs
}

// Load writes docs into index as a single bulk request tagged with
// collection. An empty collection sends nothing. Transport failures and
// whole-request rejections wrap ErrIndexWrite; rejected items are counted in
// the report and only fail the call when AbortOnPartialFailure is set.
func (b *BulkIndexer) Load(ctx context.Context, index, collection string, docs []any) (*Report, error) {
	report := &Report{Collection: collection, Total: len(docs)}
	if len(docs) == 0 {
		b.log(ctx).Info("collection is empty, skipping bulk request",
			"index", index,
			"collection", collection,
		)
		return report, nil
	}

	body, err := b.encode(collection, docs)
	if err != nil {
		return report, fmt.Errorf("%w: encoding %s: %w", apperrors.ErrIndexWrite, collection, err)
	}

	start := time.Now()
	resp, err := b.writer.Bulk(ctx, index, bytes.NewReader(body))
	report.Took = time.Since(start)
	if err != nil {
		return report, fmt.Errorf("%w: bulk %s into %s: %w", apperrors.ErrIndexWrite, collection, index, err)
	}

	for i := range docs {
		item, ok := resp.Result(i)
		if !ok {
			report.Failures = append(report.Failures, Failure{Position: i, Reason: "missing bulk item"})
			continue
		}
		if item.Failed() {
			f := Failure{Position: i, Status: item.Status}
			if item.Error != nil {
				f.Type, f.Reason = item.Error.Type, item.Error.Reason
			}
			report.Failures = append(report.Failures, f)
		}
	}
	report.Failed = len(report.Failures)
	report.Indexed = report.Total - report.Failed

	if report.Failed > 0 {
		for _, f := range report.Failures[:min(len(report.Failures), maxLoggedFailures)] {
			b.log(ctx).Warn("document rejected",
				"index", index,
				"collection", collection,
				"position", f.Position,
				"status", f.Status,
				"type", f.Type,
				"reason", f.Reason,
			)
		}
		b.log(ctx).Warn("bulk request partially failed",
			"index", index,
			"collection", collection,
			"failed", report.Failed,
			"total", report.Total,
		)
		if b.opts.AbortOnPartialFailure {
			return report, fmt.Errorf("%w: %d of %d %s documents rejected", apperrors.ErrIndexWrite, report.Failed, report.Total, collection)
		}
	}

	b.log(ctx).Info("collection indexed",
		"index", index,
		"collection", collection,
		"indexed", report.Indexed,
		"failed", report.Failed,
		"took", report.Took,
	)
	return report, nil
}

// encode builds the NDJSON body: an index action line then the source line
// for every document.
func (b *BulkIndexer) encode(collection string, docs []any) ([]byte, error) {
	var buf bytes.Buffer
	action := []byte(`{"index":{}}`)
	for i, doc := range docs {
		src, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if b.opts.CollectionField != "" {
			src, err = tag(src, b.opts.CollectionField, collection)
			if err != nil {
				return nil, fmt.Errorf("document %d: %w", i, err)
			}
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(src)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// tag sets field to value on a JSON object.
func tag(src []byte, field, value string) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(src, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("document is not a JSON object")
	}
	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	obj[field] = v
	return json.Marshal(obj)
}

func (b *BulkIndexer) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx).With("component", "indexer")
}
