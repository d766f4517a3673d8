package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// Worktree is one entry from the porcelain `git worktree list` output.
// Worktrees are enumerated on demand and never persisted.
type Worktree struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Branch string `json:"branch"`
	Commit string `json:"commit"`
	IsMain bool   `json:"isMain"`
	IsBare bool   `json:"isBare"`
}

// RepoInfo describes a repository found by the scanner.
type RepoInfo struct {
	Path   string `json:"path"`
	Name   string `json:"name"`
	Branch string `json:"branch"`
}

// WorktreeID derives a stable opaque ID from a worktree path.
func WorktreeID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:8])
}
