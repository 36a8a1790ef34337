package main

import (
	"testing"
	"time"

	"github.com/brojonat/walletsync/service/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchRow(t *testing.T) {
	row := txn.Row{
		ID:             "abc",
		Timestamp:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Delta:          txn.NewAmount(-100),
		Amount:         txn.NewAmount(100),
		Direction:      txn.DirectionOut,
		Counterparties: []string{otherAddress},
	}

	tests := []struct {
		name    string
		filters []string
		want    bool
	}{
		{"no filters", nil, true},
		{"direction matches", []string{`.direction == "out"`}, true},
		{"direction differs", []string{`.direction == "in"`}, false},
		{"amount is a decimal string", []string{`.amount | tonumber > 50`}, true},
		{"all filters must match", []string{`.pending == false`, `.id == "other"`}, false},
		{"null is falsy", []string{`.label`}, false},
		{"non-empty value is truthy", []string{`.counterparties`}, true},
		{"empty result is no match", []string{`empty`}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes, err := compileFilters(tt.filters)
			require.NoError(t, err)
			got, err := matchRow(codes, row)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileFilters_Invalid(t *testing.T) {
	_, err := compileFilters([]string{".direction ==="})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")

	_, err = compileFilters([]string{"$undefined"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile jq filter")
}

func TestFilterRows_RuntimeError(t *testing.T) {
	codes, err := compileFilters([]string{`.id | tonumber`})
	require.NoError(t, err)
	_, err = filterRows(codes, []txn.Row{{ID: "not-a-number"}})
	assert.Error(t, err)
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]interface{}{}))
}
