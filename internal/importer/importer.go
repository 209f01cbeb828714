// Package importer bulk-creates content from CSV. The header row names payload
// fields; list cells are separated by ';' and nested objects are JSON.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"stillpoint/internal/domain"
	"stillpoint/internal/engine"
	"stillpoint/internal/engine/auth"
	"stillpoint/internal/kinds"
)

type RowError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

type Summary struct {
	Kind    domain.Kind `json:"kind"`
	Created []string    `json:"created"`
	Failed  []RowError  `json:"failed"`
}

// Import creates one entity per row through the engine. A bad row is recorded
// and the import continues; store failures abort it.
func Import(ctx context.Context, e engine.Engine, kind string, r io.Reader, actor auth.Actor) (Summary, error) {
	d, err := kinds.Lookup(kind)
	if err != nil {
		return Summary{}, err
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Summary{}, kinds.ValidationError{Field: "file", Reason: "empty csv"}
	}
	if err != nil {
		return Summary{}, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	sum := Summary{Kind: d.Kind, Created: []string{}, Failed: []RowError{}}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			sum.Failed = append(sum.Failed, RowError{Line: line, Error: err.Error()})
			continue
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		raw, err := d.FromStrings(row)
		if err != nil {
			sum.Failed = append(sum.Failed, RowError{Line: line, Error: err.Error()})
			continue
		}
		c, err := e.Create(ctx, kind, raw, actor)
		var verr kinds.ValidationError
		if errors.As(err, &verr) {
			sum.Failed = append(sum.Failed, RowError{Line: line, Error: verr.Error()})
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("line %d: %w", line, err)
		}
		sum.Created = append(sum.Created, c.ID)
	}
	return sum, nil
}
