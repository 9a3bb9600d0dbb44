package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type manifestFile struct {
	Artifacts []manifestEntry `yaml:"artifacts"`
}

type manifestEntry struct {
	Key      string `yaml:"key"`
	Filename string `yaml:"filename"`
	Size     int64  `yaml:"size"`
	SHA256   string `yaml:"sha256"`
	Dest     string `yaml:"dest"`
}

// Manifest reads a YAML manifest. Relative destinations resolve under Root;
// an empty dest uses the filename.
type Manifest struct {
	Label string
	Path  string
	Root  string
}

func (m Manifest) Name() string { return m.Label }

func (m Manifest) Artifacts(ctx context.Context) ([]Artifact, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", m.Path, err)
	}
	var doc manifestFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse manifest %s: %w", m.Path, err)
	}

	out := make([]Artifact, 0, len(doc.Artifacts))
	for i, entry := range doc.Artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := strings.TrimSpace(entry.Key)
		filename := strings.TrimSpace(entry.Filename)
		if key == "" {
			key = filename
		}
		dest, explicit := strings.TrimSpace(entry.Dest), true
		if dest == "" {
			dest, explicit = filename, false
		}
		resolved, err := resolveDest(m.Root, dest, explicit)
		if err != nil {
			return nil, fmt.Errorf("manifest %s entry %d: %w", m.Path, i, err)
		}
		artifact := Artifact{
			Key:      key,
			Filename: filename,
			Size:     entry.Size,
			SHA256:   strings.ToLower(strings.TrimSpace(entry.SHA256)),
			Dest:     resolved,
		}
		if err := artifact.Validate(); err != nil {
			return nil, fmt.Errorf("manifest %s entry %d: %w", m.Path, i, err)
		}
		out = append(out, artifact)
	}
	return out, nil
}

// resolveDest places dest under root. Relative paths must stay inside root;
// absolute paths are accepted only when allowAbs is set.
func resolveDest(root, dest string, allowAbs bool) (string, error) {
	dest = filepath.FromSlash(dest)
	if filepath.IsAbs(dest) {
		if !allowAbs {
			return "", fmt.Errorf("%w: %q is absolute", ErrUnsafePath, dest)
		}
		return filepath.Clean(dest), nil
	}
	joined := filepath.Join(root, dest)
	rel, err := filepath.Rel(filepath.Clean(root), joined)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrUnsafePath, dest, root)
	}
	return joined, nil
}
