// Package catalog enumerates the artifacts a run should fetch.
//
// A Source yields Artifact records. Two file adapters are provided: a YAML
// manifest and a SHA256SUMS-style list. Multi merges several sources and
// rejects duplicate keys.
package catalog
