package pipeline

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-images/models"
)

func sampleCandidates() []*models.Candidate {
	at := time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)
	return []*models.Candidate{
		{URL: "https://example.test/img/a.png", PageURL: "https://example.test/gallery", DiscoveredAt: at},
		{URL: "https://cdn.example.test/b.jpg?w=200", PageURL: "https://example.test/gallery", DiscoveredAt: at},
	}
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "images.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write(sampleCandidates()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	if !reflect.DeepEqual(records[0], CSVHeader) {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][2] != "2025-11-04T13:09:13Z" {
		t.Fatalf("discovered_at = %q", records[1][2])
	}
}

func TestWritersRoundTripThroughReader(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "images.csv")
	jsonPath := filepath.Join(dir, "images.jsonl")

	writer, err := NewDualWriter(csvPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Write(sampleCandidates()); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	want := []string{"https://example.test/img/a.png", "https://cdn.example.test/b.jpg?w=200"}
	for _, path := range []string{csvPath, jsonPath} {
		got, err := ReadCandidateURLs(path)
		if err != nil {
			t.Fatalf("read %s: %v", filepath.Base(path), err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("read %s = %v, want %v", filepath.Base(path), got, want)
		}
	}
}

func TestDualPaths(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantCSV  string
		wantJSON string
	}{
		{name: "csv name", filename: "out/images.csv", wantCSV: "out/images.csv", wantJSON: "out/images.jsonl"},
		{name: "jsonl name", filename: "images.jsonl", wantCSV: "images.csv", wantJSON: "images.jsonl"},
		{name: "no extension", filename: "export", wantCSV: "export.csv", wantJSON: "export.jsonl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			csvPath, jsonPath := DualPaths(tt.filename)
			if csvPath != tt.wantCSV || jsonPath != tt.wantJSON {
				t.Fatalf("DualPaths(%q) = %q, %q", tt.filename, csvPath, jsonPath)
			}
		})
	}
}

func TestDualWriterValidateDetectsMissingRecords(t *testing.T) {
	writer, err := NewDualWriter(filepath.Join(t.TempDir(), "images"))
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Write(sampleCandidates()); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	_, jsonPath := writer.Paths()
	if err := os.WriteFile(jsonPath, []byte("{\"url\":\"https://example.test/img/a.png\"}\n"), 0o644); err != nil {
		t.Fatalf("truncate json: %v", err)
	}
	if err := writer.Validate(); err == nil {
		t.Fatalf("expected validation to fail on a short json file")
	}
}

func TestReadCandidateURLsErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadCandidateURLs(filepath.Join(dir, "missing.csv")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	noURL := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(noURL, []byte("title,price\nx,1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadCandidateURLs(noURL); err == nil {
		t.Fatalf("expected error for csv without url column")
	}

	badJSON := filepath.Join(dir, "bad.jsonl")
	if err := os.WriteFile(badJSON, []byte("{\"url\":\"https://a.test/x.png\"}\n{oops\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadCandidateURLs(badJSON); err == nil {
		t.Fatalf("expected error for malformed json line")
	}
}
