package errstore

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed corrections.schema.json
var schemaJSON string

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// versionedDocument is the layout written by earlier releases. Load still
// reads it; Flush writes the plain list.
type versionedDocument struct {
	Version int                `json:"version"`
	Records []CorrectionRecord `json:"records"`
}

// FileStore persists records as a JSON list of [CorrectionRecord]. Flush
// rewrites the whole file through a temporary file and a rename, so readers
// never observe a partial write.
type FileStore struct {
	*MemStore
	path    string
	flushMu sync.Mutex
}

// NewFileStore returns a store backed by the JSON file at path. Nothing is
// read until [FileStore.Load].
func NewFileStore(path string, opts ...MemOption) *FileStore {
	return &FileStore{MemStore: NewMemStore(opts...), path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load implements [Store.Load]. A missing file is an empty store, not an
// error. Anything else that goes wrong is a [*LoadError] and leaves the
// current records untouched.
func (s *FileStore) Load(ctx context.Context) error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.replace(nil)
	}
	if err != nil {
		return &LoadError{Backend: s.backend(), Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s.replace(nil)
	}

	recs, err := decodeDocument(data)
	if err != nil {
		return &LoadError{Backend: s.backend(), Err: err}
	}
	if err := s.replace(recs); err != nil {
		return &LoadError{Backend: s.backend(), Err: err}
	}
	return nil
}

// Flush implements [Store.Flush]. Failures are returned as [*PersistError].
func (s *FileStore) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if err := ctx.Err(); err != nil {
		return &PersistError{Backend: s.backend(), Err: err}
	}

	data, err := json.MarshalIndent(s.Records(), "", "  ")
	if err != nil {
		return &PersistError{Backend: s.backend(), Err: fmt.Errorf("marshal: %w", err)}
	}
	data = append(data, '\n')

	if err := writeFileAtomic(s.path, data); err != nil {
		return &PersistError{Backend: s.backend(), Err: err}
	}
	return nil
}

func (s *FileStore) backend() string {
	return "file " + s.path
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("corrections.schema.json", strings.NewReader(schemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile("corrections.schema.json")
	})
	return compiledSchema, compiledSchemaErr
}

// decodeDocument validates data against the embedded schema and decodes
// either layout into records.
func decodeDocument(data []byte) ([]CorrectionRecord, error) {
	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	if _, ok := value.([]any); ok {
		var recs []CorrectionRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return recs, nil
	}
	var doc versionedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return doc.Records, nil
}
