package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nullstack-solutions/stubsync/internal/adminsync"
	"github.com/nullstack-solutions/stubsync/internal/stubs"
)

type fakeRemote struct {
	mu        sync.Mutex
	items     map[string]stubs.Mapping
	idCounter int
}

func newFakeRemote(items ...stubs.Mapping) *fakeRemote {
	byID := map[string]stubs.Mapping{}
	for _, m := range items {
		byID[m.ID] = m
	}
	return &fakeRemote{items: byID}
}

func (f *fakeRemote) List(context.Context) ([]stubs.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stubs.Mapping, 0, len(f.items))
	for _, m := range f.items {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeRemote) GetByID(_ context.Context, id string) (*stubs.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.items[id]; ok {
		out := m.Clone()
		return &out, nil
	}
	return nil, &adminsync.HTTPError{StatusCode: http.StatusNotFound, Message: "no such mapping"}
}

func (f *fakeRemote) Create(_ context.Context, m stubs.Mapping) (*stubs.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := m.Clone()
	if created.ID == "" || stubs.IsTempID(created.ID) {
		f.idCounter++
		created.ID = fmt.Sprintf("srv-%d", f.idCounter)
	}
	f.items[created.ID] = created
	return &created, nil
}

func (f *fakeRemote) Update(_ context.Context, id string, m stubs.Mapping) (*stubs.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return nil, &adminsync.HTTPError{StatusCode: http.StatusNotFound, Message: "no such mapping"}
	}
	updated := m.Clone()
	updated.ID = id
	f.items[id] = updated
	return &updated, nil
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return &adminsync.HTTPError{StatusCode: http.StatusNotFound, Message: "no such mapping"}
	}
	delete(f.items, id)
	return nil
}

func newTestServer(t *testing.T, remote adminsync.RemoteClient, seed ...stubs.Mapping) (*httptest.Server, *stubs.Store) {
	t.Helper()
	hub := NewHub(nil)
	store := stubs.NewStore(stubs.StoreOptions{Notifier: hub})
	resolver := stubs.NewResolver(store, hub, nil)
	cache := adminsync.NewCacheProtocol(remote, adminsync.CacheOptions{})
	scheduler := adminsync.NewScheduler(remote, store, resolver, cache, adminsync.SchedulerOptions{Notifier: hub})
	mutator := adminsync.NewMutator(remote, store, adminsync.MutatorOptions{})
	server := NewServer(store, mutator, scheduler, ServerOptions{Hub: hub})
	if len(seed) > 0 {
		store.SetFromServer(seed, stubs.SyncMeta{SyncedAt: time.Now()})
	}
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts, store
}

func getJSON(t *testing.T, url string, dst any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decode %s failed: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestListAndGetEndpoints(t *testing.T) {
	seed := []stubs.Mapping{
		{ID: "a", Request: stubs.RequestPattern{Method: "GET", URL: "/a"}},
		{ID: "b", Request: stubs.RequestPattern{Method: "POST", URL: "/b"}},
	}
	ts, _ := newTestServer(t, newFakeRemote(), seed...)

	var listing struct {
		Items []stubs.Mapping `json:"items"`
		Count int             `json:"count"`
	}
	if status := getJSON(t, ts.URL+"/v1/mappings", &listing); status != http.StatusOK {
		t.Fatalf("list status %d", status)
	}
	if listing.Count != 2 {
		t.Fatalf("expected 2 mappings, got %d", listing.Count)
	}

	var single stubs.Mapping
	if status := getJSON(t, ts.URL+"/v1/mappings/a", &single); status != http.StatusOK {
		t.Fatalf("get status %d", status)
	}
	if single.ID != "a" {
		t.Fatalf("wrong mapping: %+v", single)
	}

	if status := getJSON(t, ts.URL+"/v1/mappings/nope", nil); status != http.StatusNotFound {
		t.Fatalf("missing mapping should 404, got %d", status)
	}
}

func TestFilterEndpoint(t *testing.T) {
	seed := []stubs.Mapping{
		{ID: "a", Request: stubs.RequestPattern{Method: "GET", URL: "/users"}},
		{ID: "b", Request: stubs.RequestPattern{Method: "POST", URL: "/users"}},
	}
	ts, _ := newTestServer(t, newFakeRemote(), seed...)

	var filtered struct {
		Items []stubs.Mapping `json:"items"`
	}
	if status := getJSON(t, ts.URL+"/v1/mappings/filter?method=GET&url=/users", &filtered); status != http.StatusOK {
		t.Fatalf("filter status %d", status)
	}
	if len(filtered.Items) != 1 || filtered.Items[0].ID != "a" {
		t.Fatalf("filter result wrong: %+v", filtered.Items)
	}

	if status := getJSON(t, ts.URL+"/v1/mappings/filter?priority=high", nil); status != http.StatusBadRequest {
		t.Fatalf("bad priority should 400, got %d", status)
	}
}

func TestCreateEndpointConfirmsOptimistically(t *testing.T) {
	remote := newFakeRemote()
	ts, store := newTestServer(t, remote)

	body := strings.NewReader(`{"request":{"method":"GET","url":"/fresh"},"response":{"status":200}}`)
	resp, err := http.Post(ts.URL+"/v1/mappings", "application/json", body)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	var created stubs.Mapping
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.ID == "" || stubs.IsTempID(created.ID) {
		t.Fatalf("expected server-issued id, got %q", created.ID)
	}
	if got := store.Get(created.ID); got == nil {
		t.Fatalf("created mapping missing from the store")
	}
}

func TestDeleteEndpoint(t *testing.T) {
	remote := newFakeRemote(stubs.Mapping{ID: "a"})
	ts, store := newTestServer(t, remote, stubs.Mapping{ID: "a"})

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/mappings/a", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
	if got := store.Get("a"); got != nil {
		t.Fatalf("deleted mapping still visible: %+v", got)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, newFakeRemote(), stubs.Mapping{ID: "a"})
	var status struct {
		Store     stubs.StoreStats          `json:"store"`
		Scheduler adminsync.SchedulerStatus `json:"scheduler"`
	}
	if code := getJSON(t, ts.URL+"/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status endpoint returned %d", code)
	}
	if status.Store.Count != 1 {
		t.Fatalf("store stats wrong: %+v", status.Store)
	}
}

func TestHubFansOutNotifications(t *testing.T) {
	hub := NewHub(nil)
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	hub.Notify(stubs.Notification{Kind: stubs.NoteStoreChanged})
	select {
	case n := <-ch:
		if n.Kind != stubs.NoteStoreChanged {
			t.Fatalf("wrong notification: %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("notification not delivered")
	}
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	hub := NewHub(nil)
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	// Overflow the buffer; Notify must never block the core.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Notify(stubs.Notification{Kind: stubs.NoteStoreChanged})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Notify blocked on a slow subscriber")
	}
}
