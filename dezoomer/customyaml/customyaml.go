// Package customyaml implements the custom YAML dezoomer: a user-authored
// document describing a URL template, a set of loop variables, and
// optionally another named dezoomer to hand the generated URLs to
// (composition), per spec §4.2/§6.
package customyaml

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lovasoa/dezoomify-go/dezoomer"
	"github.com/lovasoa/dezoomify-go/expr"
)

type variable struct {
	Name  string `yaml:"name"`
	Value *int64 `yaml:"value"`
	From  *int64 `yaml:"from"`
	To    *int64 `yaml:"to"`
	Step  *int64 `yaml:"step"`
}

func (v variable) isRange() bool { return v.From != nil && v.To != nil }

// values returns every value this variable takes, in ascending order.
func (v variable) values() ([]int64, error) {
	if v.Value != nil {
		return []int64{*v.Value}, nil
	}
	if !v.isRange() {
		return nil, fmt.Errorf("variable %q has neither value nor from/to", v.Name)
	}
	step := int64(1)
	if v.Step != nil {
		step = *v.Step
	}
	if step <= 0 {
		return nil, fmt.Errorf("variable %q has non-positive step %d", v.Name, step)
	}
	var out []int64
	for x := *v.From; x < *v.To; x += step {
		out = append(out, x)
	}
	return out, nil
}

type document struct {
	URLTemplate string            `yaml:"url_template"`
	Variables   []variable        `yaml:"variables"`
	Headers     map[string]string `yaml:"headers"`
	Dezoomer    string            `yaml:"dezoomer"`
}

// Dezoomer parses custom YAML documents. When composing into another named
// dezoomer it needs the registry those names are resolved against, plus a
// Fetcher to resolve that sub-dezoomer's own NeedsData round trips.
type Dezoomer struct {
	registry *dezoomer.Registry
	fetch    dezoomer.Fetcher
}

func New(registry *dezoomer.Registry, fetch dezoomer.Fetcher) *Dezoomer {
	return &Dezoomer{registry: registry, fetch: fetch}
}

func (Dezoomer) Name() string { return "customyaml" }

func (d *Dezoomer) Probe(ctx context.Context, in dezoomer.Input) (dezoomer.ZoomableImage, error) {
	if len(in.Body) == 0 {
		if !looksLikeYAML(in.URI) {
			return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer("URI does not look like a YAML document")
		}
		return dezoomer.ZoomableImage{}, dezoomer.NeedsData(in.URI)
	}

	var doc document
	if err := yaml.Unmarshal(in.Body, &doc); err != nil || doc.URLTemplate == "" {
		return dezoomer.ZoomableImage{}, dezoomer.WrongDezoomer(fmt.Sprintf("not a recognised custom YAML document: %v", err))
	}

	combos, err := cartesianProduct(doc.Variables)
	if err != nil {
		return dezoomer.ZoomableImage{}, dezoomer.BadMetadata(err.Error())
	}

	refs := make([]dezoomer.TileReference, 0, len(combos))
	urls := make([]string, 0, len(combos))
	for _, combo := range combos {
		url, err := expr.ExpandAll(doc.URLTemplate, combo)
		if err != nil {
			return dezoomer.ZoomableImage{}, dezoomer.BadMetadata(err.Error())
		}
		urls = append(urls, url)
		refs = append(refs, dezoomer.TileReference{URL: url, X: positionOf(combo, "x"), Y: positionOf(combo, "y")})
	}

	if doc.Dezoomer == "" {
		level := &templateLevel{refs: refs, headers: doc.Headers}
		return dezoomer.ZoomableImage{Levels: []dezoomer.ZoomLevel{level}}, nil
	}

	if d.registry == nil {
		return dezoomer.ZoomableImage{}, dezoomer.Fatal("document names a sub-dezoomer but no registry was configured")
	}

	var allLevels []dezoomer.ZoomLevel
	for _, url := range urls {
		img, err := d.registry.ProbeWith(ctx, doc.Dezoomer, dezoomer.Input{URI: url}, d.fetch)
		if err != nil {
			return dezoomer.ZoomableImage{}, dezoomer.Fatal(fmt.Sprintf("composing into %q at %s: %v", doc.Dezoomer, url, err))
		}
		allLevels = append(allLevels, img.Levels...)
	}
	if len(allLevels) == 0 {
		return dezoomer.ZoomableImage{}, dezoomer.NoLevelsFound()
	}
	return dezoomer.ZoomableImage{Levels: allLevels}, nil
}

func looksLikeYAML(uri string) bool {
	lower := strings.ToLower(uri)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}

// cartesianProduct enumerates every combination of the declared variables'
// values, in declared order (the first variable varies slowest).
func cartesianProduct(vars []variable) ([]expr.Vars, error) {
	if len(vars) == 0 {
		return nil, fmt.Errorf("document declares no variables")
	}

	valueSets := make([][]int64, len(vars))
	for i, v := range vars {
		vals, err := v.values()
		if err != nil {
			return nil, err
		}
		valueSets[i] = vals
	}

	combos := []expr.Vars{{}}
	for i, v := range vars {
		var next []expr.Vars
		for _, combo := range combos {
			for _, val := range valueSets[i] {
				c := make(expr.Vars, len(combo)+1)
				for k, vv := range combo {
					c[k] = vv
				}
				c[v.Name] = val
				next = append(next, c)
			}
		}
		combos = next
	}
	return combos, nil
}

// positionOf reads a loop variable by (case-insensitive) name as a tile's
// canvas position; by convention a custom template names its pixel-offset
// variables "x"/"y" when the tiles need placing at arbitrary coordinates
// rather than sequential indices.
func positionOf(combo expr.Vars, name string) uint32 {
	for k, v := range combo {
		if strings.EqualFold(k, name) && v >= 0 {
			return uint32(v)
		}
	}
	return 0
}

// templateLevel is the ZoomLevel for a document with no `dezoomer:` key:
// every variable combination is one tile reference directly. Dimensions are
// unknown (the YAML document never states a total width/height).
type templateLevel struct {
	refs    []dezoomer.TileReference
	headers map[string]string
}

func (t *templateLevel) Name() string                   { return "custom template" }
func (t *templateLevel) Dimensions() dezoomer.Dimensions { return dezoomer.Dimensions{} }
func (t *templateLevel) Headers() map[string]string      { return t.headers }
func (t *templateLevel) PreProcess(_ dezoomer.TileReference, body []byte) ([]byte, error) {
	return body, nil
}
func (t *templateLevel) PostProcess(_ dezoomer.TileReference, tile dezoomer.Tile) (dezoomer.Tile, error) {
	return tile, nil
}

func (t *templateLevel) Tiles(ctx context.Context) <-chan dezoomer.TileReference {
	out := make(chan dezoomer.TileReference)
	go func() {
		defer close(out)
		for _, ref := range t.refs {
			select {
			case out <- ref:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
