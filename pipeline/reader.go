package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-scrape-images/models"
)

// ReadCandidateURLs loads candidate URLs from a file produced by the CSV or
// JSON writers. Files ending in .json or .jsonl are read as JSON lines,
// anything else as CSV with a url column.
func ReadCandidateURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candidates: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl":
		return readJSONLines(f)
	default:
		return readCSV(f)
	}
}

func readCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.TrimSpace(name) == "url" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("csv header has no url column")
	}

	var urls []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return urls, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		if col < len(record) {
			if u := strings.TrimSpace(record[col]); u != "" {
				urls = append(urls, u)
			}
		}
	}
}

func readJSONLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var urls []string
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var c models.Candidate
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("decode json line %d: %w", line, err)
		}
		if c.URL != "" {
			urls = append(urls, c.URL)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan json lines: %w", err)
	}
	return urls, nil
}
