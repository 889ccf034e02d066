// Package repository turns raw module artifacts into registry descriptors.
// An artifact is a YAML or JSON manifest:
//
//	name: bank
//	type: Web
//	dependencies: [oodb]
//	issues: []
//	script: |
//	  function instantiate(ctx) { return "https://" + ctx.domain + "/" }
package repository

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/R3E-Network/apphost/internal/app/domain/module"
	apperrors "github.com/R3E-Network/apphost/internal/errors"
	"github.com/R3E-Network/apphost/pkg/logger"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// CompileError reports an artifact that cannot be turned into a descriptor.
type CompileError struct {
	Source string
	Reason string
}

func (e *CompileError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s", e.Source, e.Reason)
	}
	return e.Reason
}

// Registry stores parsed descriptors.
type Registry interface {
	Put(ctx context.Context, desc module.Descriptor) (module.Descriptor, error)
}

// Repository parses artifacts and submits them to the registry.
type Repository struct {
	registry Registry
	log      *logger.Logger
}

// New constructs a repository.
func New(registry Registry, log *logger.Logger) *Repository {
	if log == nil {
		log = logger.NewDefault("repository")
	}
	return &Repository{registry: registry, log: log}
}

// Submit parses raw and stores the result. Parse failures are InvalidInput.
func (r *Repository) Submit(ctx context.Context, raw []byte) (module.Descriptor, error) {
	desc, err := Parse(raw)
	if err != nil {
		return module.Descriptor{}, apperrors.InvalidInput(err.Error())
	}
	return r.registry.Put(ctx, desc)
}

// LoadDir submits every *.yaml, *.yml and *.json manifest in dir in lexical
// order. A missing directory is not an error.
func (r *Repository) LoadDir(ctx context.Context, dir string) ([]module.Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []module.Descriptor
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return out, fmt.Errorf("read manifest %s: %w", path, err)
		}
		desc, err := Parse(raw)
		if err != nil {
			return out, &CompileError{Source: path, Reason: err.Error()}
		}
		stored, err := r.registry.Put(ctx, desc)
		if err != nil {
			return out, fmt.Errorf("store module %s: %w", desc.Name, err)
		}
		r.log.WithField("module", stored.Name).WithField("path", path).Info("catalog module loaded")
		out = append(out, stored)
	}
	return out, nil
}

type manifest struct {
	Name         string   `yaml:"name"`
	Type         string   `yaml:"type"`
	Dependencies []string `yaml:"dependencies"`
	Issues       []string `yaml:"issues"`
	Script       string   `yaml:"script"`
}

// Parse decodes a YAML or JSON manifest. Structural problems that still allow
// a descriptor (duplicate or self dependencies) are reported as issues.
func Parse(raw []byte) (module.Descriptor, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return module.Descriptor{}, &CompileError{Reason: "empty artifact"}
	}

	var (
		m   manifest
		err error
	)
	if trimmed[0] == '{' {
		m, err = parseJSON(trimmed)
	} else {
		err = yaml.Unmarshal(trimmed, &m)
		if err != nil {
			err = &CompileError{Reason: "invalid YAML manifest: " + err.Error()}
		}
	}
	if err != nil {
		return module.Descriptor{}, err
	}
	return build(m)
}

func parseJSON(raw []byte) (manifest, error) {
	if !gjson.ValidBytes(raw) {
		return manifest{}, &CompileError{Reason: "invalid JSON manifest"}
	}
	doc := gjson.ParseBytes(raw)
	m := manifest{
		Name:   doc.Get("name").String(),
		Type:   doc.Get("type").String(),
		Script: doc.Get("script").String(),
	}
	for _, dep := range doc.Get("dependencies").Array() {
		if dep.IsObject() {
			m.Dependencies = append(m.Dependencies, dep.Get("name").String())
			continue
		}
		m.Dependencies = append(m.Dependencies, dep.String())
	}
	for _, issue := range doc.Get("issues").Array() {
		m.Issues = append(m.Issues, issue.String())
	}
	return m, nil
}

func build(m manifest) (module.Descriptor, error) {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		return module.Descriptor{}, &CompileError{Reason: "manifest has no name"}
	}
	if strings.ContainsAny(name, " \t\r\n/") {
		return module.Descriptor{}, &CompileError{Reason: fmt.Sprintf("invalid module name %q", name)}
	}

	typ := module.TypeWeb
	if strings.TrimSpace(m.Type) != "" {
		var ok bool
		typ, ok = module.ParseType(strings.TrimSpace(m.Type))
		if !ok {
			return module.Descriptor{}, &CompileError{Reason: fmt.Sprintf("unknown module type %q", m.Type)}
		}
	}

	desc := module.Descriptor{
		Name:         name,
		Type:         typ,
		IsWebModule:  typ == module.TypeWeb,
		Dependencies: []module.Dependency{},
		Issues:       []string{},
		Script:       m.Script,
	}
	for _, issue := range m.Issues {
		if issue = strings.TrimSpace(issue); issue != "" {
			desc.Issues = append(desc.Issues, issue)
		}
	}

	seen := make(map[string]bool, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		dep = strings.TrimSpace(dep)
		switch {
		case dep == "":
			desc.Issues = append(desc.Issues, "empty dependency name")
		case dep == name:
			desc.Issues = append(desc.Issues, "module depends on itself")
		case seen[dep]:
			desc.Issues = append(desc.Issues, fmt.Sprintf("duplicate dependency %q", dep))
		default:
			seen[dep] = true
			desc.Dependencies = append(desc.Dependencies, module.Dependency{Name: dep})
		}
	}
	return desc, nil
}
