package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Batches groups items into consecutive batches of at most size elements and
// returns a source over them. Each payload is a []T.
func Batches[T any](items []T, size int) *Slice {
	if size < 1 {
		size = 1
	}
	var payloads []any
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		payloads = append(payloads, append([]T{}, items[start:end]...))
	}
	return &Slice{payloads: payloads}
}

// ReadJSONL decodes one JSON value per non-empty line.
func ReadJSONL[T any](r io.Reader) ([]T, error) {
	var items []T
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, item)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ReadJSONLFile reads a JSON Lines file.
func ReadJSONLFile[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	items, err := ReadJSONL[T](f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return items, nil
}
