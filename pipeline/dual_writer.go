// Package pipeline validates, de-duplicates and exports image candidates.
package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-images/models"
)

// DualWriter exports candidates as sibling CSV and JSON-lines files that share
// a base name, e.g. images.csv and images.jsonl.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	written    int
	mu         sync.Mutex
}

// DualPaths returns the CSV and JSON-lines paths derived from filename. Any
// extension on filename is replaced.
func DualPaths(filename string) (csvPath, jsonPath string) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	return base + ".csv", base + ".jsonl"
}

// NewDualWriter creates both files named after filename.
func NewDualWriter(filename string) (*DualWriter, error) {
	csvPath, jsonPath := DualPaths(filename)

	csvWriter, err := NewCSVWriter(csvPath)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}
	jsonWriter, err := NewJSONWriter(jsonPath)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create json writer: %w", err)
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Paths returns the CSV and JSON-lines file paths.
func (dw *DualWriter) Paths() (string, string) {
	return dw.csvWriter.path, dw.jsonWriter.path
}

// Write appends candidates to both files.
func (dw *DualWriter) Write(candidates []*models.Candidate) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(candidates); err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	if err := dw.jsonWriter.Write(candidates); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	dw.written += len(candidates)
	return nil
}

// Close closes both files.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	return errors.Join(dw.csvWriter.Close(), dw.jsonWriter.Close())
}

// Validate reads both files back and checks that each holds every candidate
// written, in the same order.
func (dw *DualWriter) Validate() error {
	dw.mu.Lock()
	written := dw.written
	dw.mu.Unlock()

	csvURLs, err := ReadCandidateURLs(dw.csvWriter.path)
	if err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	jsonURLs, err := ReadCandidateURLs(dw.jsonWriter.path)
	if err != nil {
		return fmt.Errorf("json: %w", err)
	}
	if len(csvURLs) != written || len(jsonURLs) != written {
		return fmt.Errorf("expected %d candidates, csv has %d and json has %d", written, len(csvURLs), len(jsonURLs))
	}
	for i := range csvURLs {
		if csvURLs[i] != jsonURLs[i] {
			return fmt.Errorf("record %d differs: csv %s, json %s", i+1, csvURLs[i], jsonURLs[i])
		}
	}
	return nil
}
