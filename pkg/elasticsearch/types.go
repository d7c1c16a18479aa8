package elasticsearch

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// AliasAction is one entry of an _aliases request. Exactly one of Add and
// Remove is set.
type AliasAction struct {
	Add    *AliasTarget `json:"add,omitempty"`
	Remove *AliasTarget `json:"remove,omitempty"`
}

// AliasTarget binds an alias to an index.
type AliasTarget struct {
	Index string `json:"index"`
	Alias string `json:"alias"`
}

// AddAlias returns an action binding alias to index.
func AddAlias(index, alias string) AliasAction {
	return AliasAction{Add: &AliasTarget{Index: index, Alias: alias}}
}

// RemoveAlias returns an action unbinding alias from index.
func RemoveAlias(index, alias string) AliasAction {
	return AliasAction{Remove: &AliasTarget{Index: index, Alias: alias}}
}

// BulkResponse is the decoded body of a _bulk call.
type BulkResponse struct {
	Took   int64                 `json:"took"`
	Errors bool                  `json:"errors"`
	Items  []map[string]BulkItem `json:"items"`
}

// BulkItem is the outcome of one bulk action.
type BulkItem struct {
	Index  string      `json:"_index"`
	ID     string      `json:"_id"`
	Status int         `json:"status"`
	Error  *ErrorCause `json:"error,omitempty"`
}

// Failed reports whether the item was rejected.
func (i BulkItem) Failed() bool {
	return i.Error != nil || i.Status >= 300
}

// Result returns the item of the i-th action regardless of its action type.
func (r *BulkResponse) Result(i int) (BulkItem, bool) {
	if i < 0 || i >= len(r.Items) {
		return BulkItem{}, false
	}
	for _, item := range r.Items[i] {
		return item, true
	}
	return BulkItem{}, false
}

// ErrorCause is the error object Elasticsearch returns for failed requests
// and bulk items.
type ErrorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ResponseError is returned for non-2xx responses.
type ResponseError struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *ResponseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch status %d", e.StatusCode)
	}
	return fmt.Sprintf("elasticsearch status %d: %s: %s", e.StatusCode, e.Type, e.Reason)
}

func newResponseError(res *esapi.Response) *ResponseError {
	out := &ResponseError{StatusCode: res.StatusCode}
	if res.Body == nil {
		return out
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return out
	}
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Error) == 0 {
		out.Reason = string(data)
		return out
	}
	var cause ErrorCause
	if err := json.Unmarshal(envelope.Error, &cause); err == nil {
		out.Type, out.Reason = cause.Type, cause.Reason
		return out
	}
	var reason string
	if err := json.Unmarshal(envelope.Error, &reason); err == nil {
		out.Reason = reason
	}
	return out
}
