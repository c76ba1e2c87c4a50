// Package matrixdoc loads collection scheme documents and compiles them into
// inspection matrices. Documents may be YAML, JSON or JSON with comments and
// are validated against an embedded JSON schema before compilation.
package matrixdoc

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisFleet/internal/domain"
)

//go:embed schema.json
var schemaJSON []byte

const schemaName = "collection-schemes.json"

var documentSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaName, bytes.NewReader(schemaJSON)); err != nil {
		panic("matrixdoc: add schema resource: " + err.Error())
	}
	schema, err := compiler.Compile(schemaName)
	if err != nil {
		panic("matrixdoc: compile schema: " + err.Error())
	}
	return schema
}

// Document is a set of collection schemes.
type Document struct {
	Version   int      `json:"version"`
	DecoderID string   `json:"decoder_id"`
	Schemes   []Scheme `json:"schemes"`
}

type Scheme struct {
	ID                       string     `json:"id"`
	DecoderID                string     `json:"decoder_id"`
	Expression               Node       `json:"expression"`
	MinimumPublishIntervalMS uint64     `json:"minimum_publish_interval_ms"`
	AfterDurationMS          uint64     `json:"after_duration_ms"`
	RisingEdge               bool       `json:"rising_edge"`
	IncludeActiveDTCs        bool       `json:"include_active_dtcs"`
	ProbabilityToSend        *float64   `json:"probability_to_send"`
	Compress                 bool       `json:"compress"`
	Persist                  bool       `json:"persist"`
	Priority                 uint32     `json:"priority"`
	Signals                  []Signal   `json:"signals"`
	CANFrames                []CANFrame `json:"can_frames"`
}

type Signal struct {
	ID                  uint32 `json:"id"`
	BufferSize          uint32 `json:"buffer_size"`
	MinSampleIntervalMS uint64 `json:"min_sample_interval_ms"`
	WindowMS            uint64 `json:"window_ms"`
	Aggregation         string `json:"aggregation"`
	ConditionOnly       bool   `json:"condition_only"`
	Type                string `json:"type"`
}

type CANFrame struct {
	FrameID             uint32 `json:"frame_id"`
	ChannelID           uint32 `json:"channel_id"`
	BufferSize          uint32 `json:"buffer_size"`
	MinSampleIntervalMS uint64 `json:"min_sample_interval_ms"`
}

// Node is one expression node. Exactly one of the leaf fields or Op is set.
type Node struct {
	Const  *float64  `json:"const,omitempty"`
	Bool   *bool     `json:"bool,omitempty"`
	Signal *uint32   `json:"signal,omitempty"`
	Frame  *FrameRef `json:"frame,omitempty"`
	Op     string    `json:"op,omitempty"`
	Args   []Node    `json:"args,omitempty"`
}

type FrameRef struct {
	FrameID   uint32 `json:"frame_id"`
	ChannelID uint32 `json:"channel_id"`
	Byte      uint8  `json:"byte"`
}

// Parse decodes and validates a document. ext selects the syntax: ".json"
// and ".jsonc" are read as JSON with comments, anything else as YAML.
func Parse(data []byte, ext string) (*Document, error) {
	var (
		raw []byte
		err error
	)
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		raw = jsonc.ToJSON(data)
	default:
		raw, err = yamlToJSON(data)
		if err != nil {
			return nil, err
		}
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("matrixdoc: decode: %w", err)
	}
	if err := documentSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("matrixdoc: schema: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("matrixdoc: decode: %w", err)
	}
	return &doc, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("matrixdoc: yaml: %w", err)
	}
	if v == nil {
		v = map[string]any{}
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("matrixdoc: yaml: %w", err)
	}
	return out, nil
}

// LoadFile reads, validates and compiles the document at path.
func LoadFile(path string) (*domain.InspectionMatrix, *Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	doc, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	m, err := Compile(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, doc, nil
}

func ms(v uint64) time.Duration { return time.Duration(v) * time.Millisecond }
