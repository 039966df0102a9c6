package voldemort

import (
	"encoding/xml"
	"fmt"
	"strconv"
)

// SerializerSpec is either a JSON-record serializer (backed by the binary
// record codec, despite the legacy "json" type name) or the identity
// pass-through.
type SerializerSpec struct {
	Type          string // "json" or "identity"
	HasVersionTag bool
	Schemas       map[int]string // version -> raw schema text, "json" only
}

// CompressorSpec names the compressor a key or value passes through before
// the record codec.
type CompressorSpec struct {
	Type string // "none" or "gzip" ("" is treated as "none")
}

// StoreConfig is the per-store metadata loaded from stores.xml.
type StoreConfig struct {
	Name              string
	Persistence       string
	RoutingStrategy   string
	ReplicationFactor int
	KeySerializer     SerializerSpec
	ValueSerializer   SerializerSpec
	KeyCompressor     CompressorSpec
	ValueCompressor   CompressorSpec
}

// Validate enforces the invariants a StoreConfig must satisfy before it is
// usable: read-only persistence, a supported routing strategy, and a
// positive replication factor.
func (c *StoreConfig) Validate() error {
	if c.Persistence != "read-only" {
		return NewClientError(fmt.Sprintf("store %q: unsupported persistence %q (only read-only is supported)", c.Name, c.Persistence))
	}
	if err := ValidateRoutingStrategy(c.RoutingStrategy); err != nil {
		return err
	}
	if c.ReplicationFactor <= 0 {
		return NewClientError(fmt.Sprintf("store %q: replication factor must be positive", c.Name))
	}
	return nil
}

// buildRecordSchema compiles a SerializerSpec's schema texts into a
// RecordSchema ready for Encode/Decode, or nil if the spec is "identity".
func (s SerializerSpec) buildRecordSchema() (*RecordSchema, error) {
	if s.Type == "identity" {
		return nil, nil
	}
	versions := make(map[int]*Schema, len(s.Schemas))
	for version, text := range s.Schemas {
		schema, err := parseSchemaText(text)
		if err != nil {
			return nil, WrapClientError(err, fmt.Sprintf("schema version %d", version))
		}
		versions[version] = schema
	}
	return &RecordSchema{HasVersionTag: s.HasVersionTag, Versions: versions}, nil
}

// xmlStores/xmlStore mirror the required elements of stores.xml.
type xmlStores struct {
	XMLName xml.Name   `xml:"stores"`
	Stores  []xmlStore `xml:"store"`
}

type xmlStore struct {
	Name              string           `xml:"name"`
	Persistence       string           `xml:"persistence"`
	RoutingStrategy   string           `xml:"routing-strategy"`
	ReplicationFactor int              `xml:"replication-factor"`
	KeySerializer     xmlSerializer    `xml:"key-serializer"`
	ValueSerializer   xmlSerializer    `xml:"value-serializer"`
}

type xmlSerializer struct {
	Type        string          `xml:"type"`
	SchemaInfos []xmlSchemaInfo `xml:"schema-info"`
	Compression xmlCompression  `xml:"compression"`
}

type xmlSchemaInfo struct {
	Version string `xml:"version,attr"`
	Text    string `xml:",chardata"`
}

type xmlCompression struct {
	Type string `xml:"type"`
}

// parseStoresXML parses stores.xml into one StoreConfig per <store>
// element.
func parseStoresXML(data []byte) ([]StoreConfig, error) {
	var doc xmlStores
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, WrapServerError(err, "parsing stores.xml")
	}

	configs := make([]StoreConfig, 0, len(doc.Stores))
	for _, s := range doc.Stores {
		keySpec, err := buildSerializerSpec(s.KeySerializer)
		if err != nil {
			return nil, WrapServerError(err, fmt.Sprintf("store %q key-serializer", s.Name))
		}
		valSpec, err := buildSerializerSpec(s.ValueSerializer)
		if err != nil {
			return nil, WrapServerError(err, fmt.Sprintf("store %q value-serializer", s.Name))
		}
		keyCompression, valueCompression := s.KeySerializer.Compression.Type, s.ValueSerializer.Compression.Type
		if keyCompression == "" {
			keyCompression = "none"
		}
		if valueCompression == "" {
			valueCompression = "none"
		}
		configs = append(configs, StoreConfig{
			Name:              s.Name,
			Persistence:       s.Persistence,
			RoutingStrategy:   s.RoutingStrategy,
			ReplicationFactor: s.ReplicationFactor,
			KeySerializer:     keySpec,
			ValueSerializer:   valSpec,
			KeyCompressor:     CompressorSpec{Type: keyCompression},
			ValueCompressor:   CompressorSpec{Type: valueCompression},
		})
	}
	return configs, nil
}

func buildSerializerSpec(x xmlSerializer) (SerializerSpec, error) {
	if x.Type == "" {
		return SerializerSpec{}, NewServerError("serializer missing type")
	}
	if x.Type == "identity" {
		return SerializerSpec{Type: "identity"}, nil
	}

	schemas := make(map[int]string, len(x.SchemaInfos))
	hasVersionTag := true
	for _, info := range x.SchemaInfos {
		if looksLikeNone(info.Version) {
			hasVersionTag = false
			schemas[0] = info.Text
			continue
		}
		version, err := strconv.Atoi(info.Version)
		if err != nil {
			return SerializerSpec{}, fmt.Errorf("invalid schema-info version %q: %w", info.Version, err)
		}
		schemas[version] = info.Text
	}
	if len(schemas) == 0 {
		return SerializerSpec{}, NewServerError("serializer has no schema-info elements")
	}
	return SerializerSpec{Type: x.Type, HasVersionTag: hasVersionTag, Schemas: schemas}, nil
}
