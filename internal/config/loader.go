// Package config is the HCL front-end. It parses *.strata.hcl files
// into the validated declaration tree the engine plans from, keeping
// attribute values as unevaluated expression trees so references bind
// late, against applied state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/strata-io/strata/internal/expr"
	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/logging"
)

// DefaultExt is the configuration file suffix discovered by LoadDir.
const DefaultExt = ".strata.hcl"

var rootSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "resource", LabelNames: []string{"type", "name"}},
		{Type: "provider", LabelNames: []string{"name"}},
		{Type: "output", LabelNames: []string{"name"}},
	},
}

// LoadDir parses every configuration file in dir, lexically ordered,
// and merges them into one ConfigSet.
func LoadDir(dir string) (*ir.ConfigSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), DefaultExt) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s files in %s", DefaultExt, dir)
	}
	return LoadFiles(files...)
}

// LoadFiles parses and merges the given configuration files.
func LoadFiles(paths ...string) (*ir.ConfigSet, error) {
	parser := hclparse.NewParser()
	cfg := &ir.ConfigSet{
		Outputs:          make(map[string]expr.Value),
		ProviderSettings: make(map[string]map[string]string),
	}

	for _, path := range paths {
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parse %s: %w", path, diags)
		}
		if err := decodeFile(file.Body, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	logging.Debug("configuration loaded",
		"files", len(paths),
		"resources", len(cfg.Declarations),
		"outputs", len(cfg.Outputs))
	return cfg, nil
}

// ParseBytes parses a single in-memory document. Test helper and the
// backing for `strata validate` on stdin.
func ParseBytes(src []byte, filename string) (*ir.ConfigSet, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", filename, diags)
	}
	cfg := &ir.ConfigSet{
		Outputs:          make(map[string]expr.Value),
		ProviderSettings: make(map[string]map[string]string),
	}
	if err := decodeFile(file.Body, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(body hcl.Body, cfg *ir.ConfigSet) error {
	content, diags := body.Content(rootSchema)
	if diags.HasErrors() {
		return fmt.Errorf("decode: %w", diags)
	}

	for _, block := range content.Blocks {
		switch block.Type {
		case "provider":
			settings, err := decodeProvider(block)
			if err != nil {
				return err
			}
			cfg.ProviderSettings[block.Labels[0]] = settings
		case "resource":
			decl, err := decodeResource(block)
			if err != nil {
				return err
			}
			cfg.Declarations = append(cfg.Declarations, decl)
		case "output":
			v, err := decodeOutput(block)
			if err != nil {
				return err
			}
			cfg.Outputs[block.Labels[0]] = v
		}
	}
	return nil
}

func decodeProvider(block *hcl.Block) (map[string]string, error) {
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("provider %q: %w", block.Labels[0], diags)
	}
	settings := make(map[string]string, len(attrs))
	for name, attr := range attrs {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("provider %q: %s must be a literal: %w", block.Labels[0], name, diags)
		}
		gv, err := expr.GoValue(v)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %s: %w", block.Labels[0], name, err)
		}
		settings[name] = fmt.Sprintf("%v", gv)
	}
	return settings, nil
}

func decodeOutput(block *hcl.Block) (expr.Value, error) {
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("output %q: %w", block.Labels[0], diags)
	}
	attr, ok := attrs["value"]
	if !ok {
		return nil, fmt.Errorf("output %q: missing value", block.Labels[0])
	}
	for name := range attrs {
		if name != "value" {
			return nil, fmt.Errorf("output %q: unsupported attribute %q", block.Labels[0], name)
		}
	}
	syn, ok := attr.Expr.(hclsyntax.Expression)
	if !ok {
		return nil, fmt.Errorf("output %q: unsupported expression syntax", block.Labels[0])
	}
	return translateExpr(syn)
}

func decodeResource(block *hcl.Block) (*ir.Declaration, error) {
	resType, localName := block.Labels[0], block.Labels[1]
	decl := &ir.Declaration{
		Type:       resType,
		LocalName:  localName,
		Attributes: make(map[string]expr.Value),
	}

	syn, ok := block.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("resource %q: unsupported body syntax", localName)
	}

	for name, attr := range syn.Attributes {
		switch name {
		case "count":
			v, err := translateExpr(attr.Expr)
			if err != nil {
				return nil, fmt.Errorf("resource %q: count: %w", localName, err)
			}
			n, err := expr.LiteralInt(v)
			if err != nil {
				return nil, fmt.Errorf("resource %q: count must be a literal integer: %w", localName, err)
			}
			decl.Count = &n
		case "provider":
			p, err := keywordOrString(attr.Expr)
			if err != nil {
				return nil, fmt.Errorf("resource %q: provider: %w", localName, err)
			}
			decl.Provider = p
		case "depends_on":
			names, err := traversalList(attr.Expr)
			if err != nil {
				return nil, fmt.Errorf("resource %q: depends_on: %w", localName, err)
			}
			decl.DependsOn = names
		default:
			v, err := translateExpr(attr.Expr)
			if err != nil {
				return nil, fmt.Errorf("resource %q: %s: %w", localName, name, err)
			}
			decl.Attributes[name] = v
		}
	}

	for _, sub := range syn.Blocks {
		switch sub.Type {
		case "lifecycle":
			if err := decodeLifecycle(sub, &decl.Lifecycle); err != nil {
				return nil, fmt.Errorf("resource %q: %w", localName, err)
			}
		default:
			// Nested blocks become object-valued attributes, repeated
			// blocks a tuple of objects.
			obj, err := blockObject(sub)
			if err != nil {
				return nil, fmt.Errorf("resource %q: %s: %w", localName, sub.Type, err)
			}
			if prev, ok := decl.Attributes[sub.Type]; ok {
				if tup, ok := prev.(expr.Tuple); ok {
					tup.Elems = append(tup.Elems, obj)
					decl.Attributes[sub.Type] = tup
				} else {
					decl.Attributes[sub.Type] = expr.Tuple{Elems: []expr.Value{prev, obj}}
				}
			} else {
				decl.Attributes[sub.Type] = obj
			}
		}
	}

	return decl, nil
}

func decodeLifecycle(block *hclsyntax.Block, lc *ir.Lifecycle) error {
	for name, attr := range block.Body.Attributes {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() || v.Type() != cty.Bool {
			return fmt.Errorf("lifecycle: %s must be a literal bool", name)
		}
		switch name {
		case "replace_before_destroy", "create_before_destroy":
			lc.ReplaceBeforeDestroy = v.True()
		case "prevent_destroy":
			lc.PreventDestroy = v.True()
		default:
			return fmt.Errorf("lifecycle: unsupported setting %q", name)
		}
	}
	return nil
}

func blockObject(block *hclsyntax.Block) (expr.Value, error) {
	attrs := make(map[string]expr.Value, len(block.Body.Attributes))
	for name, attr := range block.Body.Attributes {
		v, err := translateExpr(attr.Expr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		attrs[name] = v
	}
	for _, nested := range block.Body.Blocks {
		obj, err := blockObject(nested)
		if err != nil {
			return nil, err
		}
		attrs[nested.Type] = obj
	}
	return expr.Object{Attrs: attrs}, nil
}

func validate(cfg *ir.ConfigSet) error {
	seen := make(map[string]bool, len(cfg.Declarations))
	for _, d := range cfg.Declarations {
		if seen[d.LocalName] {
			return fmt.Errorf("duplicate resource name %q", d.LocalName)
		}
		seen[d.LocalName] = true
	}

	// A resource without an explicit provider gets the sole configured
	// one; ambiguity is an error the operator has to resolve.
	var names []string
	for name := range cfg.ProviderSettings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, d := range cfg.Declarations {
		if d.Provider != "" {
			continue
		}
		if len(names) != 1 {
			return fmt.Errorf("resource %q names no provider and %d are configured", d.LocalName, len(names))
		}
		d.Provider = names[0]
	}
	return nil
}
