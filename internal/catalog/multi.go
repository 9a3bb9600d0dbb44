package catalog

import (
	"context"
	"fmt"
	"path/filepath"

	"fetchledger/internal/config"
)

// Multi concatenates sources in order.
type Multi []Source

func (m Multi) Name() string { return "catalog" }

// Artifacts returns every artifact from every source. A key listed twice is
// an error, since the ledger records each key once.
func (m Multi) Artifacts(ctx context.Context) ([]Artifact, error) {
	var out []Artifact
	owner := make(map[string]string)
	for _, src := range m {
		items, err := src.Artifacts(ctx)
		if err != nil {
			return nil, fmt.Errorf("catalog source %q: %w", src.Name(), err)
		}
		for _, a := range items {
			if prev, dup := owner[a.Key]; dup {
				return nil, fmt.Errorf("artifact key %q listed by %q and %q", a.Key, prev, src.Name())
			}
			owner[a.Key] = src.Name()
			out = append(out, a)
		}
	}
	return out, nil
}

// FromConfig builds a Multi from the configured sources. Relative
// destinations resolve under download_dir/<source name>.
func FromConfig(cfg *config.Config) (Multi, error) {
	sources := make(Multi, 0, len(cfg.Catalog.Sources))
	for _, src := range cfg.Catalog.Sources {
		root := filepath.Join(cfg.Paths.DownloadDir, src.Name)
		switch src.Kind {
		case config.SourceKindManifest:
			sources = append(sources, Manifest{Label: src.Name, Path: src.Path, Root: root})
		case config.SourceKindSHA256Sums:
			sources = append(sources, SumsList{Label: src.Name, Path: src.Path, Root: root})
		default:
			return nil, fmt.Errorf("catalog source %q: unsupported kind %q", src.Name, src.Kind)
		}
	}
	return sources, nil
}
