// Package vpath implements the virtual path parser.
//
// A virtual path is what the kernel hands the filesystem:
// /<Client>/<System>/<map-entry-or-virtual-folder>/<subpath...>. The parser
// only consults the immutable configuration, never the disk, so it can run
// on any goroutine without suspension.
package vpath

import (
	"strings"

	"github.com/GlennPegden2/TransFS/internal/config"
)

// Kind classifies a parse result.
type Kind int

const (
	// KindNotFound means one of the leading segments had no configuration.
	KindNotFound Kind = iota

	// KindRoot is the mount root.
	KindRoot

	// KindClient is /<Client>.
	KindClient

	// KindSystem is /<Client>/<System>.
	KindSystem

	// KindInSystem is anything at or below a map entry or virtual folder.
	KindInSystem
)

// Parsed is the result of parsing one virtual path.
type Parsed struct {
	Kind   Kind
	Client *config.Client
	System *config.System

	// EntryName is the third path segment: a static/default/direct map key
	// or a dynamic-expanded virtual folder name.
	EntryName string

	// Entry is set when EntryName matched a static/default/direct map key.
	Entry config.MapEntry

	// Dynamic and Folder are set when EntryName matched a dynamic folder.
	Dynamic *config.DynamicMap
	Folder  *config.FileTypeFolder

	// Subpath is the remaining segments below the entry, possibly empty.
	Subpath []string
}

// Split breaks a virtual path into its non-empty segments.
func Split(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" && p != "." {
			out = append(out, p)
		}
	}

	return out
}

// Parse resolves a virtual path against the configuration.
//
// Client and system names match exactly; the entry segment matches either a
// configured map key or a dynamic-expanded folder name (case-sensitive).
// Anything that fails to match returns [KindNotFound].
func Parse(cfg *config.Config, path string) Parsed {
	return ParseSegments(cfg, Split(path))
}

// ParseSegments is [Parse] over pre-split segments.
func ParseSegments(cfg *config.Config, segs []string) Parsed {
	if len(segs) == 0 {
		return Parsed{Kind: KindRoot}
	}

	client, ok := cfg.Client(segs[0])
	if !ok {
		return Parsed{Kind: KindNotFound}
	}
	if len(segs) == 1 {
		return Parsed{Kind: KindClient, Client: client}
	}

	system, ok := client.System(segs[1])
	if !ok {
		return Parsed{Kind: KindNotFound, Client: client}
	}
	if len(segs) == 2 {
		return Parsed{Kind: KindSystem, Client: client, System: system}
	}

	p := Parsed{
		Kind:      KindInSystem,
		Client:    client,
		System:    system,
		EntryName: segs[2],
		Subpath:   segs[3:],
	}

	if entry, ok := system.Entry(segs[2]); ok {
		p.Entry = entry

		return p
	}
	if dyn, folder, ok := system.DynamicFolder(segs[2]); ok {
		p.Dynamic = dyn
		p.Folder = folder

		return p
	}

	return Parsed{Kind: KindNotFound, Client: client, System: system}
}
