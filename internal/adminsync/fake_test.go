package adminsync

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/nullstack-solutions/stubsync/internal/stubs"
)

// fakeClient is an in-memory admin API used across the adminsync tests. It
// counts every call so tests can assert the probe's no-network rule and the
// cache write idempotence.
type fakeClient struct {
	mu          sync.Mutex
	items       map[string]stubs.Mapping
	listErr     error
	blockList   chan struct{}
	idCounter   int
	listCalls   int
	getCalls    int
	createCalls int
	updateCalls int
	deleteCalls int
}

func newFakeClient(items ...stubs.Mapping) *fakeClient {
	byID := map[string]stubs.Mapping{}
	for _, m := range items {
		byID[m.ID] = m
	}
	return &fakeClient{items: byID}
}

func (f *fakeClient) List(ctx context.Context) ([]stubs.Mapping, error) {
	f.mu.Lock()
	f.listCalls++
	block := f.blockList
	err := f.listErr
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &NetworkError{Op: "GET /collection", Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stubs.Mapping, 0, len(f.items))
	for _, m := range f.items {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeClient) GetByID(_ context.Context, id string) (*stubs.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	m, ok := f.items[id]
	if !ok {
		return nil, &HTTPError{StatusCode: http.StatusNotFound, Message: "no such mapping"}
	}
	out := m.Clone()
	return &out, nil
}

func (f *fakeClient) Create(_ context.Context, m stubs.Mapping) (*stubs.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	created := m.Clone()
	if created.ID == "" || stubs.IsTempID(created.ID) {
		f.idCounter++
		created.ID = fmt.Sprintf("real-%d", f.idCounter)
	}
	f.items[created.ID] = created
	return &created, nil
}

func (f *fakeClient) Update(_ context.Context, id string, m stubs.Mapping) (*stubs.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if _, ok := f.items[id]; !ok {
		return nil, &HTTPError{StatusCode: http.StatusNotFound, Message: "no such mapping"}
	}
	updated := m.Clone()
	updated.ID = id
	f.items[id] = updated
	return &updated, nil
}

func (f *fakeClient) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if _, ok := f.items[id]; !ok {
		return &HTTPError{StatusCode: http.StatusNotFound, Message: "no such mapping"}
	}
	delete(f.items, id)
	return nil
}

func (f *fakeClient) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls + f.getCalls + f.createCalls + f.updateCalls + f.deleteCalls
}

func (f *fakeClient) setItems(items ...stubs.Mapping) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = map[string]stubs.Mapping{}
	for _, m := range items {
		f.items[m.ID] = m
	}
}

func testMapping(id, method, url string, priority int) stubs.Mapping {
	return stubs.Mapping{
		ID:       id,
		Request:  stubs.RequestPattern{Method: method, URL: url},
		Response: stubs.ResponseDef{Status: 200, Body: "ok"},
		Priority: priority,
	}
}
