// Package prompt stores the extraction prompts runs are pinned to.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattsoldo/email-extractor-sub001/errors"
)

// Prompt is a versionable extraction instruction.
type Prompt struct {
	ID           string          `json:"id" yaml:"id"`
	Name         string          `json:"name" yaml:"name"`
	Content      string          `json:"content" yaml:"content"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty" yaml:"-"`
	ContentHash  string          `json:"content_hash" yaml:"-"`
	CreatedAt    time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time       `json:"updated_at" yaml:"-"`
}

// Hash returns the sha256 of the prompt content and output schema. Runs
// record it so that editing a prompt in place does not look like a repeat.
func Hash(content string, schema json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write(schema)
	return hex.EncodeToString(h.Sum(nil))
}

// fileDefinition is the YAML layout read by LoadFile. The output schema may
// be written as YAML; it is stored as JSON.
type fileDefinition struct {
	ID           string                 `yaml:"id"`
	Name         string                 `yaml:"name"`
	Content      string                 `yaml:"content"`
	OutputSchema map[string]interface{} `yaml:"output_schema"`
}

// LoadFile reads a prompt definition from a YAML file.
func LoadFile(path string) (*Prompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read prompt file %s", path)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid prompt file %s", path)
	}
	return p, nil
}

// Parse decodes a YAML prompt definition.
func Parse(data []byte) (*Prompt, error) {
	var def fileDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.Wrap(err, "failed to decode prompt")
	}

	p := &Prompt{
		ID:      strings.TrimSpace(def.ID),
		Name:    strings.TrimSpace(def.Name),
		Content: def.Content,
	}
	if def.OutputSchema != nil {
		schema, err := json.Marshal(def.OutputSchema)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode output schema")
		}
		p.OutputSchema = schema
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.ContentHash = Hash(p.Content, p.OutputSchema)
	return p, nil
}

// Validate checks required fields
func (p *Prompt) Validate() error {
	if p.ID == "" {
		return errors.NewInvalidRequestError("prompt id is required")
	}
	if strings.TrimSpace(p.Content) == "" {
		return errors.NewInvalidRequestError("prompt %s has no content", p.ID)
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	return nil
}
