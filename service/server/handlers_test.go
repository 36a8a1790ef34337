package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/walletsync/client"
	"github.com/brojonat/walletsync/service/reconciler"
	"github.com/brojonat/walletsync/service/session"
	"github.com/brojonat/walletsync/service/txn"
	"github.com/brojonat/walletsync/service/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAddress  = "1DrDyTr9RpRsQnDnXo2YRiPzPW4ooHX5LLoqXrqfMrpQH"
	otherAddress = "1BEhMZqTVKJtvUV1krGRwLA7iMJr1tT45sAPJYV9ELhK9"
)

type stubExplorer struct {
	mu    sync.Mutex
	pages map[int][]txn.Transaction
	err   error
}

func (s *stubExplorer) GetAddressDetails(ctx context.Context, address string) (txn.AddressDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return txn.AddressDetails{}, s.err
	}
	n := 0
	for _, p := range s.pages {
		n += len(p)
	}
	return txn.AddressDetails{Balance: txn.NewAmount(42), TxNumber: n}, nil
}

func (s *stubExplorer) GetAddressTransactions(ctx context.Context, address string, page int) ([]txn.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.pages[page], nil
}

func (s *stubExplorer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func tx(hash string) txn.Transaction {
	return txn.Transaction{
		Hash:      hash,
		Timestamp: time.UnixMilli(1700000000000),
		Inputs:    []txn.Input{{Address: otherAddress}},
		Outputs:   []txn.Output{{Address: testAddress, Amount: txn.NewAmount(7)}},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, explorer *stubExplorer) (*Server, *watch.Registry) {
	t.Helper()
	registry := watch.NewRegistry(explorer, watch.WithLogger(testLogger()), watch.WithMaxAddresses(2))
	t.Cleanup(registry.Close)
	return New(":0", registry, nil, nil, nil, nil, testLogger()), registry
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp["error"]
}

func TestWatchLifecycle(t *testing.T) {
	explorer := &stubExplorer{pages: map[int][]txn.Transaction{1: {tx("h1")}}}
	srv, _ := newTestServer(t, explorer)
	h := srv.Handler()

	w := do(t, h, "POST", "/api/v1/addresses/"+testAddress+"/watch", "")
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, "POST", "/api/v1/addresses/"+testAddress+"/watch", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, "POST", "/api/v1/addresses/"+testAddress+"/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	var view reconciler.View
	require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
	assert.Equal(t, "42", view.Balance.String())
	require.Len(t, view.Rows, 1)
	assert.Equal(t, "h1", view.Rows[0].ID)

	w = do(t, h, "GET", "/api/v1/addresses", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), testAddress)

	w = do(t, h, "DELETE", "/api/v1/addresses/"+testAddress+"/watch", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "GET", "/api/v1/addresses/"+testAddress+"/view", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "address is not watched", errorMessage(t, w))
}

func TestWatch_InvalidAddress(t *testing.T) {
	srv, _ := newTestServer(t, &stubExplorer{})
	h := srv.Handler()

	for _, addr := range []string{"0OIl", strings.Repeat("A", 500), "abc%3Bdrop"} {
		w := do(t, h, "POST", "/api/v1/addresses/"+addr+"/watch", "")
		assert.Equal(t, http.StatusBadRequest, w.Code, addr)
		assert.Contains(t, errorMessage(t, w), "invalid address format")
	}
}

func TestWatch_Limit(t *testing.T) {
	srv, registry := newTestServer(t, &stubExplorer{})
	h := srv.Handler()

	_, _, err := registry.Watch(testAddress)
	require.NoError(t, err)
	_, _, err = registry.Watch(otherAddress)
	require.NoError(t, err)

	w := do(t, h, "POST", "/api/v1/addresses/1111111111111111111114oLvT2/watch", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRefresh_UpstreamError(t *testing.T) {
	explorer := &stubExplorer{}
	srv, registry := newTestServer(t, explorer)
	h := srv.Handler()

	_, _, err := registry.Watch(testAddress)
	require.NoError(t, err)

	explorer.setErr(&client.HTTPError{Op: "get address details", StatusCode: 429, Detail: "API rate limit exceeded"})
	w := do(t, h, "POST", "/api/v1/addresses/"+testAddress+"/refresh", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "API rate limit exceeded", errorMessage(t, w))

	explorer.setErr(&client.NetworkError{Op: "get address details", Err: io.ErrUnexpectedEOF})
	w = do(t, h, "POST", "/api/v1/addresses/"+testAddress+"/refresh", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, reconciler.RefreshFailedMessage, errorMessage(t, w))
}

func TestLoadPage(t *testing.T) {
	explorer := &stubExplorer{pages: map[int][]txn.Transaction{
		1: {tx("h2")},
		2: {tx("h1")},
	}}
	srv, registry := newTestServer(t, explorer)
	h := srv.Handler()

	wt, _, err := registry.Watch(testAddress)
	require.NoError(t, err)
	// wait for the refresh that runs when the watch starts
	require.Eventually(t, func() bool {
		v := wt.View()
		return v.TotalCount == 2 && !v.Loading
	}, time.Second, 5*time.Millisecond)

	tests := []struct {
		name           string
		page           string
		expectedStatus int
	}{
		{"zero page", "0", http.StatusBadRequest},
		{"negative page", "-1", http.StatusBadRequest},
		{"not a number", "two", http.StatusBadRequest},
		{"second page", "2", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "POST", "/api/v1/addresses/"+testAddress+"/pages/"+tt.page, "")
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}

	v := wt.View()
	assert.Len(t, v.Rows, 2)
	assert.Equal(t, 2, v.LastLoadedPage)
	assert.True(t, v.AllLoaded)
}

func TestAddPending_PathologicalInput(t *testing.T) {
	srv, registry := newTestServer(t, &stubExplorer{})
	h := srv.Handler()
	_, _, err := registry.Watch(testAddress)
	require.NoError(t, err)

	path := "/api/v1/addresses/" + testAddress + "/pending"
	tests := []struct {
		name           string
		body           string
		expectedStatus int
		wantError      string
	}{
		{"extremely large request body", `{"txId":"` + strings.Repeat("a", 1<<17) + `"}`, http.StatusBadRequest, "request body too large"},
		{"malformed JSON", `{"txId":`, http.StatusBadRequest, "invalid request body"},
		{"empty JSON object", `{}`, http.StatusBadRequest, "txId is required"},
		{"txId too long", `{"txId":"` + strings.Repeat("a", 200) + `","toAddress":"` + otherAddress + `","amount":"1"}`, http.StatusBadRequest, "txId too long"},
		{"txId with slash", `{"txId":"a/b","toAddress":"` + otherAddress + `","amount":"1"}`, http.StatusBadRequest, "invalid characters"},
		{"bad recipient", `{"txId":"t1","toAddress":"0x00","amount":"1"}`, http.StatusBadRequest, "invalid toAddress"},
		{"missing amount", `{"txId":"t1","toAddress":"` + otherAddress + `"}`, http.StatusBadRequest, "amount is required"},
		{"negative amount", `{"txId":"t1","toAddress":"` + otherAddress + `","amount":"-5"}`, http.StatusBadRequest, "amount must be positive"},
		{"non-numeric amount", `{"txId":"t1","toAddress":"` + otherAddress + `","amount":"lots"}`, http.StatusBadRequest, "invalid request body"},
		{"valid", `{"txId":"t1","toAddress":"` + otherAddress + `","amount":"1000000000000000000000","timestamp":1700000000000,"admin":true}`, http.StatusCreated, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "POST", path, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.wantError != "" {
				assert.Contains(t, errorMessage(t, w), tt.wantError)
			}
		})
	}
}

func TestPendingLifecycle(t *testing.T) {
	srv, registry := newTestServer(t, &stubExplorer{})
	h := srv.Handler()
	wt, _, err := registry.Watch(testAddress)
	require.NoError(t, err)

	w := do(t, h, "POST", "/api/v1/addresses/"+testAddress+"/pending",
		`{"txId":"t1","toAddress":"`+otherAddress+`","amount":"25"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var view reconciler.View
	require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
	assert.Equal(t, 1, view.PendingCount)
	require.Len(t, view.Rows, 1)
	assert.True(t, view.Rows[0].Pending)
	assert.Equal(t, "-25", view.Rows[0].Delta.String())
	assert.True(t, wt.Poller.Enabled())

	w = do(t, h, "DELETE", "/api/v1/addresses/"+testAddress+"/pending/t1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, wt.Poller.Enabled())

	w = do(t, h, "DELETE", "/api/v1/addresses/"+testAddress+"/pending/t1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRelease_Disabled(t *testing.T) {
	srv, _ := newTestServer(t, &stubExplorer{})
	w := do(t, srv.Handler(), "GET", "/api/v1/release", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthAndCORS(t *testing.T) {
	srv, _ := newTestServer(t, &stubExplorer{})
	h := srv.Handler()

	w := do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(t, h, "OPTIONS", "/api/v1/addresses", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestStreamAddress(t *testing.T) {
	explorer := &stubExplorer{pages: map[int][]txn.Transaction{1: {tx("h1")}}}
	notices := session.New(testLogger())
	registry := watch.NewRegistry(explorer, watch.WithLogger(testLogger()))
	t.Cleanup(registry.Close)
	srv := New(":0", registry, notices, nil, nil, nil, testLogger())

	wt, _, err := registry.Watch(testAddress)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/v1/stream/addresses/"+testAddress, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				events <- name
			}
		}
		close(events)
	}()

	waitFor := func(name string) {
		t.Helper()
		for {
			select {
			case got, ok := <-events:
				require.True(t, ok, "stream closed before %s", name)
				if got == name {
					return
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %s event", name)
			}
		}
	}

	waitFor("connected")
	waitFor("view")

	notices.Notify(session.Notice{Text: "Couldn't fetch latest wallet version.", Type: session.NoticeAlert})
	waitFor("notice")

	wt.Session.AddPending(txn.PendingTransaction{TxID: "p1", FromAddress: testAddress, ToAddress: otherAddress, Amount: txn.NewAmount(1)})
	waitFor("view")
}
