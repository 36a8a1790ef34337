package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testAddress = "1DrDyTr9RpRsQnDnXo2YRiPzPW4ooHX5LLoqXrqfMrpQH"

const otherAddress = "1C2RAVWSuaXw8xtUxqVtQQNbPz1GjPvCUmnpchaXcKk3o"

// runApp runs the CLI with args and returns what it wrote to its writer.
func runApp(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{"walletsync"}, args...))
	return out.String(), err
}

// newExplorer serves the details and first page of testAddress: one incoming
// transfer of 1000 and one outgoing transfer of 100.
func newExplorer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /addresses/{address}/details", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, testAddress, r.PathValue("address"))
		writeTestJSON(w, map[string]any{"balance": "900", "lockedBalance": "0", "txNumber": 2})
	})
	mux.HandleFunc("GET /addresses/{address}/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			writeTestJSON(w, []any{})
			return
		}
		writeTestJSON(w, []map[string]any{
			{
				"hash":      "out1",
				"timestamp": 1700000100000,
				"inputs":    []map[string]any{{"address": testAddress, "amount": "1000"}},
				"outputs": []map[string]any{
					{"address": otherAddress, "amount": "100"},
					{"address": testAddress, "amount": "900"},
				},
			},
			{
				"hash":      "in1",
				"timestamp": 1700000000000,
				"inputs":    []map[string]any{{"address": otherAddress, "amount": "1000"}},
				"outputs":   []map[string]any{{"address": testAddress, "amount": "1000"}},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
