package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"mime"
	"slices"
	"strings"

	"github.com/raaihank/pii-veil/internal/obfuscation"
)

// isJSON reports whether a Content-Type names a JSON document
func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// carriesJSONStrings reports whether restored values land inside JSON string
// literals. Event streams from chat APIs carry one JSON document per data line.
func carriesJSONStrings(contentType string) bool {
	if isJSON(contentType) {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/event-stream"
}

// decodeJSON parses exactly one JSON value. Numbers are kept verbatim.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON value")
	}
	return doc, nil
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// walkStrings replaces every string value of doc with fn's result. Object keys are
// left alone and visited in sorted order, so two walks see values in the same order.
func walkStrings(doc any, fn func(string) string) any {
	switch v := doc.(type) {
	case string:
		return fn(v)
	case []any:
		for i := range v {
			v[i] = walkStrings(v[i], fn)
		}
		return v
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(v)) {
			v[k] = walkStrings(v[k], fn)
		}
		return v
	default:
		return doc
	}
}

// maskJSON masks the decoded string values of a JSON body in one engine pass and
// re-encodes the document.
func (s *Server) maskJSON(data []byte, words []string) ([]byte, []obfuscation.MappingEntry, error) {
	doc, err := decodeJSON(data)
	if err != nil {
		return nil, nil, err
	}

	var texts []string
	walkStrings(doc, func(v string) string {
		texts = append(texts, v)
		return v
	})

	masked, mappings := s.engine.ObfuscateAll(texts, words)

	i := 0
	doc = walkStrings(doc, func(string) string {
		v := masked[i]
		i++
		return v
	})

	out, err := encodeJSON(doc)
	if err != nil {
		return nil, nil, err
	}
	return out, mappings, nil
}

// jsonEscaped returns a copy of mappings whose originals are escaped for use
// inside a JSON string literal
func jsonEscaped(mappings []obfuscation.MappingEntry) []obfuscation.MappingEntry {
	escaped := make([]obfuscation.MappingEntry, len(mappings))
	for i, m := range mappings {
		escaped[i] = m
		if lit, err := encodeJSON(m.Original); err == nil {
			escaped[i].Original = string(lit[1 : len(lit)-1])
		}
	}
	return escaped
}
