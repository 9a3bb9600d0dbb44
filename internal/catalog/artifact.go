package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fetchledger/internal/checksum"
)

// ErrUnsafePath rejects catalog paths that would land outside the download root.
var ErrUnsafePath = errors.New("unsafe destination path")

// Artifact is one downloadable file.
type Artifact struct {
	Key string
	// Filename is the path relative to a mirror base URL.
	Filename string
	// Size is the expected length in bytes; values <= 0 mean unknown.
	Size   int64
	SHA256 string
	// Dest is the absolute local path.
	Dest string
}

// URL joins the artifact filename onto a mirror base URL.
func (a Artifact) URL(mirror string) string {
	return strings.TrimRight(mirror, "/") + "/" + strings.TrimLeft(a.Filename, "/")
}

// Validate checks the fields every consumer relies on.
func (a Artifact) Validate() error {
	switch {
	case strings.TrimSpace(a.Key) == "":
		return errors.New("key is empty")
	case strings.TrimSpace(a.Filename) == "":
		return fmt.Errorf("artifact %q: filename is empty", a.Key)
	case !checksum.ValidDigest(a.SHA256):
		return fmt.Errorf("artifact %q: sha256 %q is not 64 hex characters", a.Key, a.SHA256)
	case strings.TrimSpace(a.Dest) == "":
		return fmt.Errorf("artifact %q: destination is empty", a.Key)
	}
	return nil
}

// Source yields artifacts.
type Source interface {
	Name() string
	Artifacts(ctx context.Context) ([]Artifact, error)
}

// Static is an in-memory Source.
type Static struct {
	Label string
	Items []Artifact
}

func (s Static) Name() string { return s.Label }

func (s Static) Artifacts(context.Context) ([]Artifact, error) {
	return append([]Artifact(nil), s.Items...), nil
}

// Index maps artifacts by key.
func Index(artifacts []Artifact) map[string]Artifact {
	out := make(map[string]Artifact, len(artifacts))
	for _, a := range artifacts {
		out[a.Key] = a
	}
	return out
}
