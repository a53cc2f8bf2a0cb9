// Package document provides the opaque structured document stored in every
// entity record.
//
// A Value is a tagged union over the JSON data model: null, booleans,
// numbers, strings, lists and maps. Protocol adapters translate their wire
// payloads into Values and back; the backend never interprets the contents.
//
// # Encoding
//
// Values encode to JSON with map keys in sorted order, so two equal
// documents always produce identical bytes. Numbers keep the literal text
// they were decoded from, which means a decode/encode cycle never rounds
// or reformats them.
//
//	v, err := document.Parse([]byte(`{"name":"Ann","age":30}`))
//	name, _ := v.Field("name")
//	s, _ := name.AsString() // "Ann"
//
// Values also implement yaml.Marshaler and yaml.Unmarshaler for fixture
// files.
package document
