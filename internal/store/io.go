package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"loom/internal/fileutil"
)

// Load reads the store document at path. A missing file is reported with
// fs.ErrNotExist so callers can distinguish a fresh store from corruption.
// Count maps absent from the file stay nil; Validate reports them as missing
// required fields rather than treating them as empty.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("store %s: %w", path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("read store: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse store %s: %w", path, err)
	}
	if doc.Items == nil {
		doc.Items = []Item{}
	}
	return &doc, nil
}

// LoadOrInit reads the store document at path, returning an empty document
// when none exists yet.
func LoadOrInit(path string) (*Document, error) {
	doc, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewDocument(), nil
	}
	return doc, err
}

// Save writes the document to path atomically. Readers never observe a
// partially written store.
func Save(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	data = append(data, '\n')
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}
