package catalog

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// SumsList reads a SHA256SUMS-style file: "<hex>  <path>" per line, with an
// optional '*' binary marker before the path. The path is both key and
// filename; sizes are unknown.
type SumsList struct {
	Label string
	Path  string
	Root  string
}

func (s SumsList) Name() string { return s.Label }

func (s SumsList) Artifacts(ctx context.Context) ([]Artifact, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read checksum list %s: %w", s.Path, err)
	}
	defer file.Close()

	var out []Artifact
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		digest, rest, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("checksum list %s line %d: expected \"<sha256>  <path>\"", s.Path, lineNo)
		}
		path := strings.TrimPrefix(strings.TrimLeft(rest, " "), "*")
		path = strings.TrimPrefix(path, "./")
		dest, err := resolveDest(s.Root, path, false)
		if err != nil {
			return nil, fmt.Errorf("checksum list %s line %d: %w", s.Path, lineNo, err)
		}
		artifact := Artifact{
			Key:      path,
			Filename: path,
			SHA256:   strings.ToLower(digest),
			Dest:     dest,
		}
		if err := artifact.Validate(); err != nil {
			return nil, fmt.Errorf("checksum list %s line %d: %w", s.Path, lineNo, err)
		}
		out = append(out, artifact)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read checksum list %s: %w", s.Path, err)
	}
	return out, nil
}
