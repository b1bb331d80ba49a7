package adminsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nullstack-solutions/stubsync/internal/stubs"
)

// CachePayloadVersion is bumped whenever the snapshot body shape changes.
// Older versions decode as a miss, never as a guess.
const CachePayloadVersion = 2

const DefaultCacheTTL = time.Hour

// cachePayload is the snapshot carried in the sentinel mapping's response
// body: the full sanitized authoritative set plus enough metadata to judge
// freshness.
type cachePayload struct {
	Version   int             `json:"version"`
	Timestamp int64           `json:"timestamp"`
	Count     int             `json:"count"`
	Items     []stubs.Mapping `json:"items"`
}

// CacheProtocol reads and writes the full-state snapshot piggybacked onto the
// remote collection as a reserved sentinel mapping. It is a lossy accelerator
// only: every miss outcome is silent and correctness never depends on it.
type CacheProtocol struct {
	client RemoteClient
	ttl    time.Duration
	logger stubs.Logger
	now    func() time.Time
}

type CacheOptions struct {
	TTL    time.Duration
	Logger stubs.Logger
	Now    func() time.Time
}

func NewCacheProtocol(client RemoteClient, opts CacheOptions) *CacheProtocol {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &CacheProtocol{client: client, ttl: ttl, logger: opts.Logger, now: now}
}

// Load fetches the sentinel and decodes its snapshot. Any non-success
// response, unrecognizable payload or payload older than the TTL is a miss,
// reported as ok=false and never as an error.
func (p *CacheProtocol) Load(ctx context.Context) (items []stubs.Mapping, writtenAt time.Time, ok bool) {
	sentinel, err := p.client.GetByID(ctx, stubs.CacheMappingID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			p.logf("service cache read failed, treating as miss: %v", err)
		}
		return nil, time.Time{}, false
	}
	if sentinel == nil || sentinel.Response.Body == "" {
		return nil, time.Time{}, false
	}
	raw := []byte(sentinel.Response.Body)
	if err := stubs.ValidateCachePayloadJSON(raw); err != nil {
		p.logf("service cache payload malformed, treating as miss: %v", err)
		return nil, time.Time{}, false
	}
	var payload cachePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		p.logf("service cache payload undecodable, treating as miss: %v", err)
		return nil, time.Time{}, false
	}
	if payload.Version != CachePayloadVersion {
		p.logf("service cache version %d does not match %d, treating as miss", payload.Version, CachePayloadVersion)
		return nil, time.Time{}, false
	}
	writtenAt = time.UnixMilli(payload.Timestamp)
	if p.now().Sub(writtenAt) > p.ttl {
		p.logf("service cache aged out (written %s, ttl %s)", writtenAt.Format(time.RFC3339), p.ttl)
		return nil, time.Time{}, false
	}
	return stubs.FilterSentinel(payload.Items), writtenAt, true
}

// Save serializes a sanitized snapshot into the sentinel mapping and upserts
// it: update by fixed id first, create by fixed id on not-found. Idempotent
// across first bootstrap and steady state.
func (p *CacheProtocol) Save(ctx context.Context, items []stubs.Mapping) error {
	sentinel, err := p.encodeSentinel(items)
	if err != nil {
		return err
	}
	_, err = p.client.Update(ctx, stubs.CacheMappingID, sentinel)
	if errors.Is(err, ErrNotFound) {
		_, err = p.client.Create(ctx, sentinel)
	}
	return err
}

func (p *CacheProtocol) encodeSentinel(items []stubs.Mapping) (stubs.Mapping, error) {
	sanitized := make([]stubs.Mapping, 0, len(items))
	for _, m := range items {
		if stubs.IsCacheSentinel(m) {
			continue
		}
		sanitized = append(sanitized, m.Sanitized())
	}
	payload := cachePayload{
		Version:   CachePayloadVersion,
		Timestamp: p.now().UnixMilli(),
		Count:     len(sanitized),
		Items:     sanitized,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return stubs.Mapping{}, err
	}
	return stubs.Mapping{
		ID:       stubs.CacheMappingID,
		Name:     stubs.CacheMappingName,
		Priority: stubs.CacheMappingPriority,
		Request: stubs.RequestPattern{
			Method: "POST",
			URL:    stubs.CacheMappingPath,
		},
		Response: stubs.ResponseDef{
			Status: 418,
			Body:   string(body),
		},
		Metadata: stubs.MappingMetadata{
			Type: stubs.CacheTypeMarker,
		},
	}, nil
}

func (p *CacheProtocol) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
