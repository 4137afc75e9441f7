// Package common holds store configuration shared by backend implementations.
package common

import "strings"

// RewriterConfig rewrites the path under which blobs are stored by finding
// and replacing a portion of the blob's content path in the final
// constructed store path. Its use is uncommon, but it can help when
// migrating a blob namespace without disturbing blobs already written.
type RewriterConfig struct {
	// Find is the string to replace in the unmodified content path.
	Find string
	// Replace is the string with which Find is replaced in the constructed store path.
	Replace string
}

// RewritePath replaces the first occurrence of the find string with the
// replace string in content path |p| and appends it to the store path |s|.
// If find is empty or not found, the original |p| is appended.
func (cfg RewriterConfig) RewritePath(s, p string) string {
	if cfg.Find == "" {
		return s + p
	}
	return s + strings.Replace(p, cfg.Find, cfg.Replace, 1)
}
