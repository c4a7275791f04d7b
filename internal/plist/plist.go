// Package plist wraps plist encoding for steward. Catalogs, pkginfo files,
// manifests, the persisted install plan, and the structured output of the
// disk-image and installer tools are all property lists.
package plist

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"howett.net/plist"
)

var (
	// ErrDecode is returned when data does not parse as a property list
	ErrDecode = errors.New("could not decode property list")
	// ErrEncode is returned when a value cannot be encoded
	ErrEncode = errors.New("could not encode property list")
)

// Dict is a generic string-keyed plist dictionary, used where the schema is
// controlled by an external tool rather than by steward.
type Dict = map[string]interface{}

// Unmarshal decodes plist data into v
func Unmarshal(data []byte, v interface{}) error {
	if _, err := plist.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// Marshal encodes v as an XML property list
func Marshal(v interface{}) ([]byte, error) {
	data, err := plist.MarshalIndent(v, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

// ReadFile decodes the plist file at path into v
func ReadFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Unmarshal(data, v)
}

// WriteFile encodes v and writes it to path
func WriteFile(path string, v interface{}) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ParseFirst splits the first complete plist document off a string that may
// contain several concatenated XML plists (as produced by, for example,
// repeated --pkg-info-plist queries). It returns the first document and the
// remainder; both are empty when no document is found.
func ParseFirst(s string) (doc, remainder string) {
	start := strings.Index(s, "<?xml")
	if start < 0 {
		start = strings.Index(s, "<plist")
	}
	if start < 0 {
		return "", ""
	}
	const closing = "</plist>"
	end := strings.Index(s[start:], closing)
	if end < 0 {
		return "", ""
	}
	end += start + len(closing)
	return s[start:end], s[end:]
}

// VisitAll calls visit for every plist document in a concatenated stream,
// stopping at the first error.
func VisitAll(s string, visit func(doc string) error) error {
	for s != "" {
		doc, rest := ParseFirst(s)
		if doc == "" {
			break
		}
		if err := visit(doc); err != nil {
			return err
		}
		s = rest
	}
	return nil
}
