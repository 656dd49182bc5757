package config

import (
	"fmt"
	"strings"
)

// ExtSpec is one extension rule of a dynamic virtual folder: files with the
// Source extension are presented carrying the Virtual extension. For a bare
// spec both sides are equal; for an aliased `SRC:VIRT` pair they differ.
//
// Source is matched case-insensitively against real files; Virtual keeps the
// exact spelling from the configuration, which is what listings display for
// aliased specs (bare specs display the real file name unchanged).
type ExtSpec struct {
	Source  string
	Virtual string
}

// Aliased reports whether the spec renames the extension.
func (e ExtSpec) Aliased() bool {
	return !strings.EqualFold(e.Source, e.Virtual)
}

// FileTypeFolder is one row of a dynamic entry's filetype map: a virtual
// folder name plus its ordered extension specs. Spec order is significant,
// the first listed source extension wins ties.
type FileTypeFolder struct {
	Name  string
	Specs []ExtSpec
}

// SpecForVirtualExt returns the first spec whose virtual extension matches
// the given extension (case-insensitive, no leading dot).
func (f *FileTypeFolder) SpecForVirtualExt(ext string) (ExtSpec, bool) {
	for _, s := range f.Specs {
		if strings.EqualFold(s.Virtual, ext) {
			return s, true
		}
	}

	return ExtSpec{}, false
}

// SpecForSourceExt returns the first spec whose source extension matches the
// given extension (case-insensitive, no leading dot).
func (f *FileTypeFolder) SpecForSourceExt(ext string) (ExtSpec, bool) {
	for _, s := range f.Specs {
		if strings.EqualFold(s.Source, ext) {
			return s, true
		}
	}

	return ExtSpec{}, false
}

// MatchesSource reports whether a real filename's extension is covered by
// one of the folder's source extensions.
func (f *FileTypeFolder) MatchesSource(filename string) (ExtSpec, bool) {
	ext := ExtOf(filename)
	if ext == "" {
		return ExtSpec{}, false
	}

	return f.SpecForSourceExt(ext)
}

// VirtualName returns the display name for a real filename under this spec:
// the stem keeps its case, the extension is substituted when aliased.
func (e ExtSpec) VirtualName(realName string) string {
	if !e.Aliased() {
		return realName
	}
	stem := strings.TrimSuffix(realName, "."+ExtOf(realName))

	return stem + "." + e.Virtual
}

// SourceName returns the real filename candidate for a virtual filename
// under this spec. Only meaningful for aliased specs; for bare specs the
// virtual name already is the source name.
func (e ExtSpec) SourceName(virtualName string) string {
	stem := strings.TrimSuffix(virtualName, "."+ExtOf(virtualName))

	return stem + "." + e.Source
}

// ExtOf returns the extension of a name without the leading dot, or "" when
// the name carries none.
func ExtOf(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 || idx == len(name)-1 {
		return ""
	}

	return name[idx+1:]
}

// parseFileTypeFolder parses one filetype row value, a comma-separated list
// of `EXT` or `SRC:VIRT` elements.
func parseFileTypeFolder(folder, specs string) (FileTypeFolder, error) {
	ftf := FileTypeFolder{Name: folder}

	for _, raw := range strings.Split(specs, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return ftf, fmt.Errorf("folder %q: %w", folder, errEmptyExtension)
		}

		if src, virt, found := strings.Cut(raw, ":"); found {
			src, virt = strings.TrimSpace(src), strings.TrimSpace(virt)
			if src == "" || virt == "" {
				return ftf, fmt.Errorf("folder %q: %w: %q", folder, errEmptyExtension, raw)
			}
			ftf.Specs = append(ftf.Specs, ExtSpec{Source: src, Virtual: virt})
		} else {
			ftf.Specs = append(ftf.Specs, ExtSpec{Source: raw, Virtual: raw})
		}
	}

	return ftf, nil
}

// checkAliases rejects chained aliases: a virtual extension of one aliased
// spec may not be the source extension of another in the same folder.
func (f *FileTypeFolder) checkAliases() error {
	for _, a := range f.Specs {
		if !a.Aliased() {
			continue
		}
		for _, b := range f.Specs {
			if b.Aliased() && strings.EqualFold(a.Virtual, b.Source) {
				return fmt.Errorf("%w: %s:%s feeds %s:%s",
					errAliasChain, a.Source, a.Virtual, b.Source, b.Virtual)
			}
		}
	}

	return nil
}
