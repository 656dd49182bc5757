// Package config implements the immutable TransFS configuration model.
//
// The configuration is read once at startup from YAML documents and parsed
// into tagged map-entry variants; all downstream code pattern-matches on the
// variant instead of probing runtime shapes. After Load returns, nothing in
// here is ever mutated again, so the model is shared freely by reference.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DynamicMapKey is the magic map name that expands into virtual folders.
const DynamicMapKey = "...SoftwareArchives..."

var (
	errNoClients      = errors.New("no clients configured")
	errDuplicateName  = errors.New("duplicate name")
	errUnknownShape   = errors.New("unrecognized map entry shape")
	errUnsafePath     = errors.New("unsafe path component")
	errMissingField   = errors.New("missing required field")
	errBadZipMode     = errors.New("invalid zip_mode")
	errAliasChain     = errors.New("chained extension alias")
	errEmptyExtension = errors.New("empty extension spec")
)

// ZipMode is the archive presentation policy of a map entry.
type ZipMode int

const (
	// ZipModeHierarchical always presents an archive as a browsable directory.
	ZipModeHierarchical ZipMode = iota

	// ZipModeFlatten hides a single-match archive and shows the member instead.
	ZipModeFlatten
)

// String returns the configuration spelling of the zip mode.
func (m ZipMode) String() string {
	if m == ZipModeFlatten {
		return "flatten"
	}

	return "hierarchical"
}

func parseZipMode(s string) (ZipMode, error) {
	switch s {
	case "", "hierarchical":
		return ZipModeHierarchical, nil
	case "flatten":
		return ZipModeFlatten, nil
	default:
		return ZipModeHierarchical, fmt.Errorf("%w: %q", errBadZipMode, s)
	}
}

// App holds the process-level settings.
type App struct {
	Mountpoint string `yaml:"mountpoint"`
	Filestore  string `yaml:"filestore"`
	CacheDir   string `yaml:"cache_dir"`
}

// Client is one named downstream consumer of the virtual tree.
type Client struct {
	Name              string    `yaml:"name"`
	DefaultTargetPath string    `yaml:"default_target_path"`
	Systems           []*System `yaml:"systems"`
}

// System returns the client's system with the given virtual dirname.
func (c *Client) System(name string) (*System, bool) {
	for _, s := range c.Systems {
		if s.Name == name {
			return s, true
		}
	}

	return nil, false
}

// System identifies one emulated platform under a client.
type System struct {
	Name                string     `yaml:"name"`
	Manufacturer        string     `yaml:"manufacturer"`
	CanonicalSystemName string     `yaml:"canonical_system_name"`
	LocalBasePath       string     `yaml:"local_base_path"`
	Maps                MapEntries `yaml:"maps"`
}

// Entry returns the static/default/direct map entry with the given virtual
// name, if one exists.
func (s *System) Entry(name string) (MapEntry, bool) {
	for _, m := range s.Maps {
		if _, ok := m.(*DynamicMap); ok {
			continue
		}
		if m.VirtualName() == name {
			return m, true
		}
	}

	return nil, false
}

// Dynamic returns the system's dynamic map entry, if one exists.
func (s *System) Dynamic() (*DynamicMap, bool) {
	for _, m := range s.Maps {
		if d, ok := m.(*DynamicMap); ok {
			return d, true
		}
	}

	return nil, false
}

// DynamicFolder returns the dynamic-expanded virtual folder with the given
// name, together with its owning dynamic entry.
func (s *System) DynamicFolder(name string) (*DynamicMap, *FileTypeFolder, bool) {
	d, ok := s.Dynamic()
	if !ok {
		return nil, nil, false
	}
	for i := range d.FileTypes {
		if d.FileTypes[i].Name == name {
			return d, &d.FileTypes[i], true
		}
	}

	return nil, nil, false
}

// MapEntry is one rule describing how one virtual child of a system is
// produced. The concrete type is one of [StaticMap], [DefaultSourceMap],
// [DynamicMap] or [DirectMountMap].
type MapEntry interface {
	// VirtualName is the top-level virtual name the entry binds. For a
	// dynamic entry this is [DynamicMapKey], not a browsable name.
	VirtualName() string
}

// StaticMap binds a virtual directory name to a relative source directory.
type StaticMap struct {
	Name      string
	SourceDir string
}

// VirtualName implements [MapEntry].
func (m *StaticMap) VirtualName() string { return m.Name }

// DefaultSourceMap binds a virtual filename to one physical file, optionally
// reaching through a ZIP archive for the actual bytes.
type DefaultSourceMap struct {
	Name            string
	SourceFilename  string
	Unzip           bool
	ZipInternalFile string
}

// VirtualName implements [MapEntry].
func (m *DefaultSourceMap) VirtualName() string { return m.Name }

// DirectMountMap binds a virtual directory to one physical directory with
// optional archive settings.
type DirectMountMap struct {
	Name        string
	MountDir    string
	SupportsZip bool
	ZipMode     ZipMode
}

// VirtualName implements [MapEntry].
func (m *DirectMountMap) VirtualName() string { return m.Name }

// DynamicMap is the SoftwareArchives macro entry, expanding into one virtual
// folder per filetype-map row.
type DynamicMap struct {
	SourceDir   string
	SupportsZip bool
	ZipMode     ZipMode
	FileTypes   []FileTypeFolder
}

// VirtualName implements [MapEntry].
func (m *DynamicMap) VirtualName() string { return DynamicMapKey }

// MapEntries is the ordered list of map entries of one system.
type MapEntries []MapEntry

// UnmarshalYAML decodes the `maps` list, which is a sequence of single-key
// mappings whose value shape selects the entry variant.
func (m *MapEntries) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: maps must be a list", value.Line)
	}

	entries := make(MapEntries, 0, len(value.Content))
	for _, item := range value.Content {
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return fmt.Errorf("line %d: map entry must be a single-key mapping", item.Line)
		}
		keyNode, valNode := item.Content[0], item.Content[1]

		entry, err := decodeMapEntry(keyNode.Value, valNode)
		if err != nil {
			return fmt.Errorf("line %d: entry %q: %w", keyNode.Line, keyNode.Value, err)
		}
		entries = append(entries, entry)
	}
	*m = entries

	return nil
}

// rawMapEntry is the superset of fields a non-dynamic entry value may carry.
// Unknown fields are ignored by yaml.v3 by default.
type rawMapEntry struct {
	SourceDir      string            `yaml:"source_dir"`
	MountDir       string            `yaml:"mount_dir"`
	SupportsZip    *bool             `yaml:"supports_zip"`
	ZipMode        string            `yaml:"zip_mode"`
	SourceFilename string            `yaml:"source_filename"`
	Unzip          bool              `yaml:"unzip"`
	ZipInternal    string            `yaml:"zip_internal_file"`
	DefaultSource  *rawDefaultSource `yaml:"default_source"`
}

type rawDefaultSource struct {
	SourceFilename string `yaml:"source_filename"`
	Unzip          bool   `yaml:"unzip"`
	ZipInternal    string `yaml:"zip_internal_file"`
}

type rawDynamicMap struct {
	SourceDir   string           `yaml:"source_dir"`
	SupportsZip *bool            `yaml:"supports_zip"`
	ZipMode     string           `yaml:"zip_mode"`
	FileTypes   []map[string]any `yaml:"filetypes"`
}

func decodeMapEntry(name string, valNode *yaml.Node) (MapEntry, error) {
	if name == DynamicMapKey {
		return decodeDynamicMap(valNode)
	}

	var raw rawMapEntry
	if err := valNode.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}

	switch {
	case raw.SourceDir != "":
		return &StaticMap{Name: name, SourceDir: raw.SourceDir}, nil

	case raw.MountDir != "":
		mode, err := parseZipMode(raw.ZipMode)
		if err != nil {
			return nil, err
		}
		supportsZip := false
		if raw.SupportsZip != nil {
			supportsZip = *raw.SupportsZip
		}

		return &DirectMountMap{
			Name:        name,
			MountDir:    raw.MountDir,
			SupportsZip: supportsZip,
			ZipMode:     mode,
		}, nil

	case raw.DefaultSource != nil:
		if raw.DefaultSource.SourceFilename == "" {
			return nil, fmt.Errorf("%w: default_source.source_filename", errMissingField)
		}

		return &DefaultSourceMap{
			Name:            name,
			SourceFilename:  raw.DefaultSource.SourceFilename,
			Unzip:           raw.DefaultSource.Unzip,
			ZipInternalFile: raw.DefaultSource.ZipInternal,
		}, nil

	case raw.SourceFilename != "":
		return &DefaultSourceMap{
			Name:            name,
			SourceFilename:  raw.SourceFilename,
			Unzip:           raw.Unzip,
			ZipInternalFile: raw.ZipInternal,
		}, nil

	default:
		return nil, errUnknownShape
	}
}

func decodeDynamicMap(valNode *yaml.Node) (MapEntry, error) {
	var raw rawDynamicMap
	if err := valNode.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	if raw.SourceDir == "" {
		return nil, fmt.Errorf("%w: source_dir", errMissingField)
	}

	mode, err := parseZipMode(raw.ZipMode)
	if err != nil {
		return nil, err
	}

	supportsZip := true // historical default for SoftwareArchives
	if raw.SupportsZip != nil {
		supportsZip = *raw.SupportsZip
	}

	folders := make([]FileTypeFolder, 0, len(raw.FileTypes))
	for _, row := range raw.FileTypes {
		if len(row) != 1 {
			return nil, fmt.Errorf("filetypes rows must be single-key mappings")
		}
		for folder, specsAny := range row {
			specsStr, ok := specsAny.(string)
			if !ok {
				return nil, fmt.Errorf("filetypes value for %q must be a string", folder)
			}
			ftf, err := parseFileTypeFolder(folder, specsStr)
			if err != nil {
				return nil, err
			}
			folders = append(folders, ftf)
		}
	}

	return &DynamicMap{
		SourceDir:   raw.SourceDir,
		SupportsZip: supportsZip,
		ZipMode:     mode,
		FileTypes:   folders,
	}, nil
}

// document is the top-level shape of one configuration file. The `sources`
// section belongs to the acquisition subsystem; the core tolerates it but
// never reads past the key.
type document struct {
	App     *App      `yaml:"app"`
	Clients []*Client `yaml:"clients"`
	Sources yaml.Node `yaml:"sources"`
}

// Config is the fully merged, validated configuration.
type Config struct {
	App     App
	Clients []*Client
}

// Client returns the client with the given name.
func (c *Config) Client(name string) (*Client, bool) {
	for _, cl := range c.Clients {
		if cl.Name == name {
			return cl, true
		}
	}

	return nil, false
}

// Load reads and merges the given YAML documents, validates the result and
// returns the immutable configuration. Later documents win for app settings;
// client lists are concatenated in document order.
func Load(paths ...string) (*Config, error) {
	cfg := &Config{}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
		if err := cfg.mergeBytes(data); err != nil {
			return nil, fmt.Errorf("config %q: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadBytes parses a single in-memory document; used by tests and callers
// that assemble configuration themselves.
func LoadBytes(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := cfg.mergeBytes(data); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) mergeBytes(data []byte) error {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse: %w", err)
	}

	if doc.App != nil {
		if doc.App.Mountpoint != "" {
			c.App.Mountpoint = doc.App.Mountpoint
		}
		if doc.App.Filestore != "" {
			c.App.Filestore = doc.App.Filestore
		}
		if doc.App.CacheDir != "" {
			c.App.CacheDir = doc.App.CacheDir
		}
	}
	c.Clients = append(c.Clients, doc.Clients...)

	return nil
}

func (c *Config) validate() error {
	if len(c.Clients) == 0 {
		return errNoClients
	}

	clientNames := make(map[string]bool)
	for _, cl := range c.Clients {
		if cl.Name == "" {
			return fmt.Errorf("%w: client name", errMissingField)
		}
		if clientNames[cl.Name] {
			return fmt.Errorf("%w: client %q", errDuplicateName, cl.Name)
		}
		clientNames[cl.Name] = true

		systemNames := make(map[string]bool)
		for _, sys := range cl.Systems {
			if sys.Name == "" {
				return fmt.Errorf("client %q: %w: system name", cl.Name, errMissingField)
			}
			if systemNames[sys.Name] {
				return fmt.Errorf("client %q: %w: system %q", cl.Name, errDuplicateName, sys.Name)
			}
			systemNames[sys.Name] = true

			if err := validateSystem(cl, sys); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateSystem(cl *Client, sys *System) error {
	if err := checkRelPath(sys.LocalBasePath); err != nil {
		return fmt.Errorf("system %q local_base_path: %w", sys.Name, err)
	}

	virtualNames := make(map[string]bool)
	claim := func(name string) error {
		norm := strings.ToLower(name)
		if virtualNames[norm] {
			return fmt.Errorf("client %q system %q: %w: virtual name %q",
				cl.Name, sys.Name, errDuplicateName, name)
		}
		virtualNames[norm] = true

		return nil
	}

	sawDynamic := false
	for _, m := range sys.Maps {
		switch e := m.(type) {
		case *StaticMap:
			if err := checkRelPath(e.SourceDir); err != nil {
				return fmt.Errorf("entry %q: %w", e.Name, err)
			}
			if err := claim(e.Name); err != nil {
				return err
			}

		case *DefaultSourceMap:
			if err := checkRelPath(e.SourceFilename); err != nil {
				return fmt.Errorf("entry %q: %w", e.Name, err)
			}
			if err := claim(e.Name); err != nil {
				return err
			}

		case *DirectMountMap:
			if err := checkRelPath(e.MountDir); err != nil {
				return fmt.Errorf("entry %q: %w", e.Name, err)
			}
			if err := claim(e.Name); err != nil {
				return err
			}

		case *DynamicMap:
			if sawDynamic {
				return fmt.Errorf("client %q system %q: %w: %s",
					cl.Name, sys.Name, errDuplicateName, DynamicMapKey)
			}
			sawDynamic = true
			if err := checkRelPath(e.SourceDir); err != nil {
				return fmt.Errorf("entry %s: %w", DynamicMapKey, err)
			}
			for i := range e.FileTypes {
				if err := claim(e.FileTypes[i].Name); err != nil {
					return err
				}
				if err := e.FileTypes[i].checkAliases(); err != nil {
					return fmt.Errorf("folder %q: %w", e.FileTypes[i].Name, err)
				}
			}
		}
	}

	return nil
}

// checkRelPath rejects absolute paths and any `..` component; configured
// paths must stay under the filestore root.
func checkRelPath(p string) error {
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: absolute path %q", errUnsafePath, p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q", errUnsafePath, p)
		}
	}

	return nil
}
