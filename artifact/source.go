// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package artifact

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Source designates where a node binary comes from. It is a closed set:
// adding a source means a new variant plus one resolution implementation in
// the Provisioner.
type Source interface {
	// VersionKey uniquely identifies the resolved artifact for caching.
	VersionKey() string

	fmt.Stringer

	sealed()
}

// LocalSource builds the binary from a working tree on disk.
type LocalSource struct {
	// Dir is the root of the node project's working tree.
	Dir string
}

func (s LocalSource) VersionKey() string {
	return "local-" + shortHash(s.Dir)
}

func (s LocalSource) String() string {
	return fmt.Sprintf("local build of %s", s.Dir)
}

func (LocalSource) sealed() {}

// RevisionSource checks out a tag or commit into an isolated workspace and
// builds there.
type RevisionSource struct {
	// Repo is the git URL; empty means the default upstream.
	Repo string
	// Ref is a tag or commit hash.
	Ref string
}

func (s RevisionSource) VersionKey() string {
	return "rev-" + sanitize(s.Ref)
}

func (s RevisionSource) String() string {
	repo := s.Repo
	if repo == "" {
		repo = DefaultNodeRepo
	}
	return fmt.Sprintf("revision %s of %s", s.Ref, repo)
}

func (RevisionSource) sealed() {}

// RemoteSource fetches a pre-built binary over the network.
type RemoteSource struct {
	URL string
	// SHA256 is the expected hex checksum; empty disables verification.
	SHA256 string
}

func (s RemoteSource) VersionKey() string {
	if s.SHA256 != "" {
		return "remote-" + s.SHA256[:min(16, len(s.SHA256))]
	}
	return "remote-" + shortHash(s.URL)
}

func (s RemoteSource) String() string {
	return "remote artifact " + s.URL
}

func (RemoteSource) sealed() {}

// BinaryArtifact is a resolved, executable node binary. Immutable once
// materialized.
type BinaryArtifact struct {
	// Version is the cache key the artifact was resolved under.
	Version string `json:"version"`
	// Path is the executable on disk.
	Path string `json:"path"`
	// Source describes where the artifact came from.
	Source string `json:"source"`
}

func shortHash(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
