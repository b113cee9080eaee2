// Package config decodes the service topology file: which collections are
// served, on which paths, with which query operations and federated
// relations. Outer formats (HOCON and friends) are expected to be rendered to
// JSON before they get here.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Service is the whole topology for one process.
type Service struct {
	URL         string       `json:"url"`
	Port        int          `json:"port"`
	Graphlettes []Graphlette `json:"graphlettes"`
	Restlettes  []Restlette  `json:"restlettes"`
}

// Graphlette mounts one collection's query endpoint.
type Graphlette struct {
	Path       string       `json:"path"`
	Collection string       `json:"collection"`
	Entity     Entity       `json:"entity"`
	Types      []ObjectType `json:"types"`
	Operations []Operation  `json:"operations"`
}

// Restlette mounts one collection's CRUD endpoint. Schema, when present, is
// the JSON Schema every payload must satisfy.
type Restlette struct {
	Path       string          `json:"path"`
	Collection string          `json:"collection"`
	Schema     json.RawMessage `json:"schema,omitempty"`
}

type Entity struct {
	Name      string     `json:"name"`
	Fields    []Field    `json:"fields"`
	Relations []Relation `json:"relations,omitempty"`
}

type ObjectType struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
	List bool   `json:"list,omitempty"`
}

// Relation federates a field out to another service's operation. ValueField
// names the key on the parent record whose value becomes the argument.
type Relation struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Host       string `json:"host"`
	Operation  string `json:"operation"`
	Argument   string `json:"argument,omitempty"`
	ValueField string `json:"value_field"`
	List       bool   `json:"list,omitempty"`
}

// Operation declares one root query field. Kind is singleton or scalar; Field
// is "id" or a payload. dot path the argument is matched against.
type Operation struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Argument string `json:"argument"`
	Field    string `json:"field"`
}

// Load reads and validates a topology file.
func Load(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	var svc Service
	if err := decoder.Decode(&svc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := svc.Validate(); err != nil {
		return nil, err
	}
	return &svc, nil
}

func (s *Service) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", s.Port)
	}
	if len(s.Restlettes) > 0 && s.URL == "" {
		return fmt.Errorf("config: url required when restlettes are mounted")
	}

	seen := map[string]bool{}
	for _, g := range s.Graphlettes {
		if err := validPath(g.Path, seen); err != nil {
			return err
		}
		if g.Collection == "" {
			return fmt.Errorf("config: graphlette %s: collection required", g.Path)
		}
		if g.Entity.Name == "" || len(g.Entity.Fields) == 0 {
			return fmt.Errorf("config: graphlette %s: entity with fields required", g.Path)
		}
		if len(g.Operations) == 0 {
			return fmt.Errorf("config: graphlette %s: at least one operation required", g.Path)
		}
	}
	for _, r := range s.Restlettes {
		if err := validPath(r.Path, seen); err != nil {
			return err
		}
		if r.Collection == "" {
			return fmt.Errorf("config: restlette %s: collection required", r.Path)
		}
	}
	return nil
}

func validPath(path string, seen map[string]bool) error {
	if !strings.HasPrefix(path, "/") || path == "/" {
		return fmt.Errorf("config: path %q must start with / and not be the root", path)
	}
	if seen[path] {
		return fmt.Errorf("config: path %q mounted twice", path)
	}
	seen[path] = true
	return nil
}
