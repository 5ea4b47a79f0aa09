package facade

import (
	"context"
	"encoding/json"
	"strings"

	"golang.org/x/sync/errgroup"
)

const packageDescriptionLimit = 80

type optionEntry struct {
	Type_       string `json:"type"`
	Default     string `json:"default"`
	Description string `json:"description"`
}

type packageEntry struct {
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Search looks up name against both the options tree and the package
// set concurrently, the same pair of independent lookups the original
// joins with tokio::try_join! (spec §6 "devenv search").
func (d *Driver) Search(ctx context.Context, name string) ([]SearchResult, error) {
	if err := d.Assemble(ctx); err != nil {
		return nil, err
	}

	var options, packages []SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := d.searchOptions(gctx, name)
		options = r
		return err
	})
	g.Go(func() error {
		r, err := d.searchPackages(gctx, name)
		packages = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(packages, options...), nil
}

func (d *Driver) searchOptions(ctx context.Context, name string) ([]SearchResult, error) {
	out, err := d.orch.Eval(ctx, []string{"optionsJSON"})
	if err != nil {
		return nil, err
	}
	var all map[string]optionEntry
	if err := json.Unmarshal([]byte(out["optionsJSON"]), &all); err != nil {
		return nil, err
	}
	var results []SearchResult
	for key, v := range all {
		if !strings.Contains(key, name) {
			continue
		}
		results = append(results, SearchResult{Kind: "option", Name: key, Description: v.Description})
	}
	return results, nil
}

func (d *Driver) searchPackages(ctx context.Context, name string) ([]SearchResult, error) {
	out, err := d.orch.Eval(ctx, []string{"search:" + name})
	if err != nil {
		return nil, err
	}
	var all map[string]packageEntry
	if err := json.Unmarshal([]byte(out["search:"+name]), &all); err != nil {
		return nil, err
	}
	var results []SearchResult
	for key, v := range all {
		desc := v.Description
		if len(desc) > packageDescriptionLimit {
			desc = desc[:packageDescriptionLimit]
		}
		results = append(results, SearchResult{Kind: "package", Name: "pkgs." + packageAttrSuffix(key), Description: desc})
	}
	return results, nil
}

// packageAttrSuffix drops the first two dotted segments of a nixpkgs
// search key (legacyPackages.<system>.<name> -> <name>), matching the
// original's key.split('.').skip(2) rule.
func packageAttrSuffix(key string) string {
	parts := strings.Split(key, ".")
	if len(parts) <= 2 {
		return key
	}
	return strings.Join(parts[2:], ".")
}
