package bridge

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/neromon/dhtcore/node"
	"github.com/neromon/dhtcore/record"
)

// putParams is the `put` request body.
type putParams struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Tag   string `json:"tag"`
	TTL   int64  `json:"ttl"`
}

// putResult reports the number of successful stores: the local one plus
// every peer that acknowledged the replicated STORE.
type putResult struct {
	Stored int `json:"stored"`
}

func (b *Bridge) handlePut(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p putParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "bridge: malformed put params"), record.ErrInvalid)
	}
	key, err := parseKey(p.Key)
	if err != nil {
		return nil, err
	}
	tag := record.Tag(p.Tag)
	if tag == "" {
		tag = record.TagListing
	}
	acked, err := b.node.Put(ctx, key, []byte(p.Value), tag, p.TTL)
	if err != nil {
		return nil, err
	}
	return putResult{Stored: acked + 1}, nil
}

// getParams is the `get` request body.
type getParams struct {
	Key string `json:"key"`
}

// getResult carries the value as a string on hit.
type getResult struct {
	Value string `json:"value"`
}

func (b *Bridge) handleGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p getParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "bridge: malformed get params"), record.ErrInvalid)
	}
	key, err := parseKey(p.Key)
	if err != nil {
		return nil, err
	}
	r, found, err := b.node.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Mark(errors.Newf("bridge: key %s not found", p.Key), node.ErrNotFound)
	}
	return getResult{Value: string(r.Value)}, nil
}

// removeParams is the `remove` request body.
type removeParams struct {
	Key string `json:"key"`
}

// handleRemove performs the local-only purge of both the content store
// and any mapping rows referencing key. Removal never propagates to
// peers.
func (b *Bridge) handleRemove(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p removeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "bridge: malformed remove params"), record.ErrInvalid)
	}
	key, err := parseKey(p.Key)
	if err != nil {
		return nil, err
	}
	if err := b.node.Remove(key); err != nil {
		return nil, err
	}
	if b.mapping != nil {
		if err := b.mapping.RemoveKey(ctx, key); err != nil {
			log.Warnw("failed to purge mapping rows for removed key", "key", p.Key, "err", err)
		}
	}
	return struct{}{}, nil
}

// mapParams is the `map` request body.
type mapParams struct {
	SearchTerm string `json:"search_term"`
	Key        string `json:"key"`
	Content    string `json:"content"`
}

func (b *Bridge) handleMap(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p mapParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "bridge: malformed map params"), record.ErrInvalid)
	}
	key, err := parseKey(p.Key)
	if err != nil {
		return nil, err
	}
	if b.mapping == nil {
		return nil, errors.Mark(errors.New("bridge: mapping index unavailable"), node.ErrStorage)
	}
	if err := b.mapping.Map(ctx, p.SearchTerm, key, p.Content); err != nil {
		return nil, errors.Mark(err, node.ErrStorage)
	}
	return struct{}{}, nil
}

// searchParams is the `search` request body: a full-text query against the
// local mappings index.
type searchParams struct {
	Query string `json:"query"`
}

// searchHit is one matching mapping row.
type searchHit struct {
	SearchTerm string `json:"search_term"`
	Key        string `json:"key"`
	Content    string `json:"content"`
}

type searchResult struct {
	Hits []searchHit `json:"hits"`
}

func (b *Bridge) handleSearch(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p searchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "bridge: malformed search params"), record.ErrInvalid)
	}
	if b.mapping == nil {
		return nil, errors.Mark(errors.New("bridge: mapping index unavailable"), node.ErrStorage)
	}
	rows, err := b.mapping.Search(ctx, p.Query)
	if err != nil {
		return nil, errors.Mark(err, node.ErrStorage)
	}
	result := searchResult{Hits: make([]searchHit, 0, len(rows))}
	for _, m := range rows {
		result.Hits = append(result.Hits, searchHit{SearchTerm: m.SearchTerm, Key: m.Key, Content: m.Content})
	}
	return result, nil
}

func (b *Bridge) handleStatus(ctx context.Context) (interface{}, error) {
	return b.node.Status()
}

func (b *Bridge) handleClear(ctx context.Context) (interface{}, error) {
	if err := b.node.Clear(); err != nil {
		return nil, errors.Mark(err, node.ErrStorage)
	}
	return struct{}{}, nil
}
