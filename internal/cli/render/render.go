// Package render formats flockd command results as a table, JSON or YAML.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects how a command prints its result.
type Format string

const (
	Table Format = "table"
	JSON  Format = "json"
	YAML  Format = "yaml"
)

// ParseFormat maps a --output flag value to a Format. The empty string
// means table.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return Table, nil
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	}
	return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
}

// Tabular is implemented by results that have a table representation.
type Tabular interface {
	TableHeader() []string
	TableRows() [][]string
}

// Print writes v to w in the requested format. Table output requires v to
// implement Tabular; anything else falls back to JSON.
func Print(w io.Writer, f Format, v any) error {
	switch f {
	case Table:
		if tab, ok := v.(Tabular); ok {
			return printTable(w, tab)
		}
		return printJSON(w, v)
	case JSON:
		return printJSON(w, v)
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", f)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
