// Package estest provides an in-memory stand-in for the Elasticsearch client
// with failure injection, for tests of code that creates indices, bulk loads
// documents and moves aliases.
package estest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"sync"

	"github.com/brownbaglunch/webhook/pkg/elasticsearch"
)

// Backend keeps indices, their documents and alias bindings in memory.
// Its method set matches *elasticsearch.Client.
type Backend struct {
	mu      sync.Mutex
	indices map[string]*index
	calls   []string

	// PingErr is returned by Ping.
	PingErr error
	// CreateErr is returned by CreateIndex.
	CreateErr error
	// BulkErr is returned by Bulk before any document is stored.
	BulkErr error
	// AliasErr is returned by AliasIndices.
	AliasErr error
	// UpdateAliasesErr makes UpdateAliases fail without applying any action.
	UpdateAliasesErr error
	// DeleteErr maps index names to the error DeleteIndex returns for them.
	DeleteErr map[string]error
	// ListErr is returned by ListIndices.
	ListErr error
	// Reject, when set, decides per document whether the bulk item fails.
	Reject func(index string, source json.RawMessage) *elasticsearch.ErrorCause
	// OnBulk is called before each bulk request is applied.
	OnBulk func(index string)
}

type index struct {
	docs    []json.RawMessage
	aliases map[string]bool
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{indices: make(map[string]*index)}
}

// Seed creates an index bound to the given aliases.
func (b *Backend) Seed(name string, aliases ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := &index{aliases: make(map[string]bool)}
	for _, a := range aliases {
		idx.aliases[a] = true
	}
	b.indices[name] = idx
}

// Indices returns the sorted names of every index.
func (b *Backend) Indices() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.indices))
	for name := range b.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Documents returns the stored sources of an index in insertion order.
func (b *Backend) Documents(name string) []json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, ok := b.indices[name]
	if !ok {
		return nil
	}
	return append([]json.RawMessage(nil), idx.docs...)
}

// Calls returns the operations performed so far, such as "create bblfr-1".
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.PingErr
}

func (b *Backend) CreateIndex(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "create "+name)
	if b.CreateErr != nil {
		return b.CreateErr
	}
	if _, exists := b.indices[name]; exists {
		return &elasticsearch.ResponseError{
			StatusCode: http.StatusBadRequest,
			Type:       "resource_already_exists_exception",
			Reason:     fmt.Sprintf("index [%s] already exists", name),
		}
	}
	b.indices[name] = &index{aliases: make(map[string]bool)}
	return nil
}

func (b *Backend) Bulk(ctx context.Context, name string, body io.Reader) (*elasticsearch.BulkResponse, error) {
	if b.OnBulk != nil {
		b.OnBulk(name)
	}
	sources, err := readBulkSources(body)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "bulk "+name)
	if b.BulkErr != nil {
		return nil, b.BulkErr
	}
	idx, ok := b.indices[name]
	if !ok {
		// Elasticsearch auto-creates missing indices on bulk writes.
		idx = &index{aliases: make(map[string]bool)}
		b.indices[name] = idx
	}

	resp := &elasticsearch.BulkResponse{Took: 1}
	for _, src := range sources {
		item := elasticsearch.BulkItem{Index: name, ID: fmt.Sprintf("%d", len(idx.docs)+1), Status: http.StatusCreated}
		if b.Reject != nil {
			if cause := b.Reject(name, src); cause != nil {
				item = elasticsearch.BulkItem{Index: name, Status: http.StatusBadRequest, Error: cause}
				resp.Errors = true
				resp.Items = append(resp.Items, map[string]elasticsearch.BulkItem{"index": item})
				continue
			}
		}
		idx.docs = append(idx.docs, src)
		resp.Items = append(resp.Items, map[string]elasticsearch.BulkItem{"index": item})
	}
	return resp, nil
}

func (b *Backend) AliasIndices(ctx context.Context, alias string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "get_alias "+alias)
	if b.AliasErr != nil {
		return nil, b.AliasErr
	}
	return b.boundLocked(alias), nil
}

// Bound returns the sorted indices an alias points to.
func (b *Backend) Bound(alias string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.boundLocked(alias)
}

func (b *Backend) boundLocked(alias string) []string {
	names := []string{}
	for name, idx := range b.indices {
		if idx.aliases[alias] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// UpdateAliases validates every action first and applies them all or none.
func (b *Backend) UpdateAliases(ctx context.Context, actions []elasticsearch.AliasAction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "update_aliases")
	if b.UpdateAliasesErr != nil {
		return b.UpdateAliasesErr
	}
	for _, a := range actions {
		switch {
		case a.Add != nil:
			if _, ok := b.indices[a.Add.Index]; !ok {
				return notFound(a.Add.Index)
			}
		case a.Remove != nil:
			idx, ok := b.indices[a.Remove.Index]
			if !ok {
				return notFound(a.Remove.Index)
			}
			if !idx.aliases[a.Remove.Alias] {
				return &elasticsearch.ResponseError{
					StatusCode: http.StatusNotFound,
					Type:       "aliases_not_found_exception",
					Reason:     fmt.Sprintf("aliases [%s] missing", a.Remove.Alias),
				}
			}
		default:
			return &elasticsearch.ResponseError{StatusCode: http.StatusBadRequest, Type: "action_request_validation_exception"}
		}
	}
	for _, a := range actions {
		if a.Add != nil {
			b.indices[a.Add.Index].aliases[a.Add.Alias] = true
		} else {
			delete(b.indices[a.Remove.Index].aliases, a.Remove.Alias)
		}
	}
	return nil
}

func (b *Backend) DeleteIndex(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "delete "+name)
	if err := b.DeleteErr[name]; err != nil {
		return err
	}
	if _, ok := b.indices[name]; !ok {
		return notFound(name)
	}
	delete(b.indices, name)
	return nil
}

func (b *Backend) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "list "+pattern)
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	names := []string{}
	for name := range b.indices {
		if ok, _ := path.Match(pattern, name); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func notFound(name string) error {
	return &elasticsearch.ResponseError{
		StatusCode: http.StatusNotFound,
		Type:       "index_not_found_exception",
		Reason:     fmt.Sprintf("no such index [%s]", name),
	}
}

// readBulkSources returns the document lines of an NDJSON body made of
// action/source pairs.
func readBulkSources(body io.Reader) ([]json.RawMessage, error) {
	var sources []json.RawMessage
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64<<10), 16<<20)
	line := 0
	for scanner.Scan() {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		if !json.Valid(text) {
			return nil, fmt.Errorf("bulk line %d is not valid JSON", line+1)
		}
		if line%2 == 1 {
			sources = append(sources, append(json.RawMessage(nil), text...))
		}
		line++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if line%2 != 0 {
		return nil, fmt.Errorf("bulk body has an action without a source")
	}
	return sources, nil
}
