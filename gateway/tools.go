// Copyright 2025 ToolGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Side-effect classes. Only read responses are cacheable.
const (
	SideEffectRead    = "read"
	SideEffectWrite   = "write"
	SideEffectExecute = "execute"
)

// ToolDescriptor is one catalog entry for an invocable tool endpoint.
type ToolDescriptor struct {
	Name       string `yaml:"name"`
	Endpoint   string `yaml:"endpoint"`
	SideEffect string `yaml:"side_effect"`
	SchemaHash string `yaml:"schema_hash,omitempty"`
	// RateLimit overrides the gateway-wide default for this tool.
	// Zero means no override.
	RateLimit int `yaml:"rate_limit,omitempty"`
}

// Cacheable reports whether the tool's responses may be cached.
func (t *ToolDescriptor) Cacheable() bool {
	return t.SideEffect == SideEffectRead
}

// Catalog is the immutable set of tools the gateway will forward to. A tool
// not in the catalog does not exist as far as callers are concerned.
type Catalog struct {
	tools map[string]*ToolDescriptor
}

type catalogDocument struct {
	Tools []ToolDescriptor `yaml:"tools"`
}

// LoadCatalog reads and parses the YAML catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses a YAML catalog document and validates every entry.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tool catalog: %w", err)
	}

	tools := make(map[string]*ToolDescriptor, len(doc.Tools))
	for i := range doc.Tools {
		t := doc.Tools[i]
		if t.Name == "" {
			return nil, fmt.Errorf("tool catalog entry %d has no name", i)
		}
		if t.Endpoint == "" {
			return nil, fmt.Errorf("tool %q has no endpoint", t.Name)
		}
		switch t.SideEffect {
		case SideEffectRead, SideEffectWrite, SideEffectExecute:
		case "":
			// Unclassified tools are treated as effectful
			t.SideEffect = SideEffectWrite
		default:
			return nil, fmt.Errorf("tool %q has invalid side_effect %q", t.Name, t.SideEffect)
		}
		if _, exists := tools[t.Name]; exists {
			return nil, fmt.Errorf("tool %q declared twice", t.Name)
		}
		tools[t.Name] = &t
	}

	return &Catalog{tools: tools}, nil
}

// Lookup resolves a tool by name; a miss is ErrUnknownTool.
func (c *Catalog) Lookup(name string) (*ToolDescriptor, error) {
	if t, ok := c.tools[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
}

// Names lists the catalog's tool names for diagnostics.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	return names
}
