package knowledge

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed knowledge.schema.json
var schemaJSON string

// Format is the encoding of a knowledge base file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath picks the format from the file extension. Anything that is
// not ".json" is read as YAML.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// File is the on-disk layout of a knowledge base: a mapping from canonical
// name to category and aliases, with optional context vocabularies.
//
//	SET Index:
//	  category: market
//	  aliases: [เซตเด็กซ์]
//	AMATA:
//	  category: ticker
//	  aliases: [อมตะ]
//	contexts:
//	  ticker: [หุ้น]
//
// The top-level keys "contexts" and "entities" are reserved. "entities" takes
// the same records as a list with an explicit name, which is the only way to
// give one canonical name to entities of different categories. Records keep
// their file order.
type File struct {
	Entities []EntityRecord
	Contexts map[string][]string
}

// Reserved top-level keys of a [File].
const (
	KeyContexts = "contexts"
	KeyEntities = "entities"
)

// entityBody is the value of a canonical-name key.
type entityBody struct {
	Category Category `yaml:"category" json:"category"`
	Aliases  []string `yaml:"aliases" json:"aliases"`
}

func (b entityBody) record(name string) EntityRecord {
	return EntityRecord{CanonicalName: name, Category: b.Category, Aliases: b.Aliases}
}

// UnmarshalYAML implements [yaml.Unmarshaler]. Unknown fields inside an
// entity are rejected.
func (f *File) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: knowledge base must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var err error
		switch key.Value {
		case KeyContexts:
			err = decodeStrict(val, &f.Contexts)
		case KeyEntities:
			var list []EntityRecord
			err = decodeStrict(val, &list)
			f.Entities = append(f.Entities, list...)
		default:
			var body entityBody
			err = decodeStrict(val, &body)
			f.Entities = append(f.Entities, body.record(key.Value))
		}
		if err != nil {
			return fmt.Errorf("line %d: %q: %w", key.Line, key.Value, err)
		}
	}
	return nil
}

// decodeStrict decodes n into v with unknown fields rejected, which
// [yaml.Node.Decode] does not support.
func decodeStrict(n *yaml.Node, v any) error {
	data, err := yaml.Marshal(n)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// UnmarshalJSON implements [json.Unmarshaler]. Keys are read in document
// order so records keep their file order.
func (f *File) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("knowledge base must be a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		switch key {
		case KeyContexts:
			err = dec.Decode(&f.Contexts)
		case KeyEntities:
			var list []EntityRecord
			err = dec.Decode(&list)
			f.Entities = append(f.Entities, list...)
		default:
			var body entityBody
			err = dec.Decode(&body)
			f.Entities = append(f.Entities, body.record(key))
		}
		if err != nil {
			return fmt.Errorf("%q: %w", key, err)
		}
	}
	_, err = dec.Token()
	return err
}

// LoadError reports a knowledge base that could not be read, parsed or
// validated. Callers that can continue without entity resolution treat it as
// a warning.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("knowledge: load %q: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load reads, validates and compiles the knowledge base at path.
// Every failure is returned as a [*LoadError].
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	s, err := Parse(data, FormatForPath(path))
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return s, nil
}

// LoadOrEmpty is [Load] that degrades to [Empty] on failure. The returned
// error, if any, is the [*LoadError] to surface as a warning.
func LoadOrEmpty(path string) (*Store, error) {
	s, err := Load(path)
	if err != nil {
		return Empty(), err
	}
	return s, nil
}

// LoadFromReader parses a knowledge base from r in the given format.
// The reader is consumed entirely; the caller is responsible for closing it.
func LoadFromReader(r io.Reader, format Format) (*Store, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read: %w", err)
	}
	return Parse(data, format)
}

// Parse decodes and compiles a knowledge base held in memory.
func Parse(data []byte, format Format) (*Store, error) {
	var f File
	switch format {
	case FormatJSON:
		if err := decodeJSON(data, &f); err != nil {
			return nil, err
		}
	default:
		if len(bytes.TrimSpace(data)) == 0 {
			return Empty(), nil
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("knowledge: decode yaml: %w", err)
		}
	}
	return New(f.Entities, f.Contexts)
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
		if err := compiler.AddResource("knowledge.schema.json", strings.NewReader(schemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile("knowledge.schema.json")
	})
	return compiledSchema, compiledSchemaErr
}

// decodeJSON validates data against the embedded schema, then decodes it.
func decodeJSON(data []byte, f *File) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("knowledge: load schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return fmt.Errorf("knowledge: decode json: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("knowledge: schema validation failed: %w", err)
	}
	if err := json.Unmarshal(data, f); err != nil {
		return fmt.Errorf("knowledge: decode json: %w", err)
	}
	return nil
}
