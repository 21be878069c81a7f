// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package fsutil

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// FieldKind describes the expected JSON kind of a schema field.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldBool   FieldKind = "bool"
	FieldObject FieldKind = "object"
	FieldArray  FieldKind = "array"
)

// Schema is a minimal descriptor validated against decoded JSON documents.
// Unknown fields are preserved; known fields must match their kind.
type Schema struct {
	Fields   map[string]FieldKind
	Required []string
}

// Validate checks a decoded document against the schema.
func (s *Schema) Validate(doc map[string]interface{}) error {
	if s == nil {
		return nil
	}
	for _, name := range s.Required {
		if _, ok := doc[name]; !ok {
			return model.NewError(model.ErrCorrupt, "missing required field %q", name)
		}
	}
	for name, kind := range s.Fields {
		value, ok := doc[name]
		if !ok || value == nil {
			continue
		}
		if !kindMatches(kind, value) {
			return model.NewError(model.ErrCorrupt, "field %q is not a %s", name, kind)
		}
	}

	return nil
}

func kindMatches(kind FieldKind, value interface{}) bool {
	switch kind {
	case FieldString:
		_, ok := value.(string)
		return ok
	case FieldNumber:
		switch value.(type) {
		case json.Number, float64:
			return true
		}
		return false
	case FieldBool:
		_, ok := value.(bool)
		return ok
	case FieldObject:
		_, ok := value.(map[string]interface{})
		return ok
	case FieldArray:
		_, ok := value.([]interface{})
		return ok
	}
	return false
}

// ReadJSON reads and decodes path into a generic document, validating it
// against the schema. Numbers are kept as json.Number so precision survives
// a later WriteJSONAtomic.
func ReadJSON(path string, schema *Schema) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapOSError(err, "failed to read %s", path)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var doc map[string]interface{}
	if err = decoder.Decode(&doc); err != nil {
		return nil, model.WrapError(model.ErrCorrupt, err, "failed to decode %s", path)
	}
	if err = schema.Validate(doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// ReadJSONInto reads and decodes path into the given value.
func ReadJSONInto(path string, value interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return wrapOSError(err, "failed to read %s", path)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err = decoder.Decode(value); err != nil {
		return model.WrapError(model.ErrCorrupt, err, "failed to decode %s", path)
	}

	return nil
}

// WriteJSONAtomic encodes value and writes it atomically to path.
func WriteJSONAtomic(path string, value interface{}) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return model.WrapError(model.ErrInternal, err, "failed to encode %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return wrapOSError(err, "failed to create parent of %s", path)
	}

	return WriteFileAtomic(path, buf.Bytes(), 0644)
}
