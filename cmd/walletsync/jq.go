package main

import (
	"encoding/json"
	"fmt"

	"github.com/brojonat/walletsync/service/txn"
	"github.com/itchyny/gojq"
)

// compileFilters parses and compiles every jq filter up front so a bad
// filter fails before any request is made.
func compileFilters(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// matchRow reports whether every filter evaluates to a truthy value for the
// JSON form of row.
func matchRow(codes []*gojq.Code, row txn.Row) (bool, error) {
	if len(codes) == 0 {
		return true, nil
	}

	// gojq works on plain JSON values, not structs
	data, err := json.Marshal(row)
	if err != nil {
		return false, err
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return false, err
	}

	for _, code := range codes {
		iter := code.Run(v)
		result, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := result.(error); isErr {
			return false, fmt.Errorf("jq filter failed: %w", err)
		}
		if !isTruthy(result) {
			return false, nil
		}
	}
	return true, nil
}

// filterRows keeps the rows that match every filter.
func filterRows(codes []*gojq.Code, rows []txn.Row) ([]txn.Row, error) {
	if len(codes) == 0 {
		return rows, nil
	}
	out := make([]txn.Row, 0, len(rows))
	for _, row := range rows {
		ok, err := matchRow(codes, row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}
