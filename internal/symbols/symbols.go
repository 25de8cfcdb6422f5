// Package symbols loads the optional symbol-table/device-identification
// side file and resolves an AX.25 destination callsign (or a MIC-E
// comment's prefix/suffix) to a vendor/model string.
//
// Adapted from doismellburning-samoyed's deviceid.go: same tocalls.yaml shape (a
// "tocalls" list of {tocall, vendor, model} plus "mice"/"micelegacy"
// lists for MIC-E prefix/suffix markers), same longest-match-first
// search order, reimplemented without the cgo/global-variable shims
// doismellburning-samoyed needed to interoperate with the surrounding C program.
package symbols

import (
	"cmp"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tocall is one destination-field vendor/model entry.
type Tocall struct {
	Call   string `yaml:"tocall"`
	Vendor string `yaml:"vendor"`
	Model  string `yaml:"model"`
}

// MicE is one MIC-E prefix/suffix vendor/model marker.
type MicE struct {
	Prefix string `yaml:"prefix"`
	Suffix string `yaml:"suffix"`
	Vendor string `yaml:"vendor"`
	Model  string `yaml:"model"`
}

type rawFile struct {
	Tocalls    []Tocall `yaml:"tocalls"`
	Mice       []MicE   `yaml:"mice"`
	MiceLegacy []MicE   `yaml:"micelegacy"`
}

// Table is a loaded, search-ordered device-identification table.
type Table struct {
	tocalls []Tocall
	mice    []MicE
}

// SearchLocations is the default lookup order for the side file, mirroring
// doismellburning-samoyed's fixed candidate path list.
var SearchLocations = []string{
	"tocalls.yaml",
	"data/tocalls.yaml",
	"/usr/local/share/aprxd/tocalls.yaml",
	"/usr/share/aprxd/tocalls.yaml",
}

// Load searches SearchLocations in order and parses the first file found.
// Absent any file, it returns an empty, harmless Table -- device-id
// resolution is optional per spec.md's symbol-table side file.
func Load() (*Table, error) {
	for _, path := range SearchLocations {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return Parse(data)
	}
	return &Table{}, nil
}

// Parse builds a Table from raw YAML bytes (exposed separately from Load
// so tests and alternate loaders can avoid touching the filesystem).
func Parse(data []byte) (*Table, error) {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	t := &Table{}
	for _, tc := range raw.Tocalls {
		tc.Call = strings.TrimRight(tc.Call, "?*n")
		t.tocalls = append(t.tocalls, tc)
	}
	t.mice = append(t.mice, raw.MiceLegacy...)
	t.mice = append(t.mice, raw.Mice...)

	slices.SortFunc(t.tocalls, func(a, b Tocall) int {
		if c := cmp.Compare(len(b.Call), len(a.Call)); c != 0 {
			return c
		}
		return strings.Compare(a.Call, b.Call)
	})
	slices.SortFunc(t.mice, func(a, b MicE) int {
		return cmp.Compare(len(b.Suffix), len(a.Suffix))
	})
	return t, nil
}

// LoadFrom parses the side file from a reader the caller has already
// opened (e.g. on a config-file-relative path).
func LoadFrom(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

const unknown = "UNKNOWN vendor/model"

// ResolveDest finds the vendor/model for an AX.25 destination address of
// the form APxxxx, by longest-prefix match.
func (t *Table) ResolveDest(dest string) string {
	for _, tc := range t.tocalls {
		if tc.Call == "" || !strings.HasPrefix(dest, tc.Call) {
			continue
		}
		return join(tc.Vendor, tc.Model)
	}
	return unknown
}

// ResolveMicE finds the vendor/model for a MIC-E comment by its suffix
// marker, returning the comment with that suffix (and the entry's prefix,
// if the comment also starts with it) trimmed off alongside the device
// string. Entries with no suffix never match.
func (t *Table) ResolveMicE(comment string) (trimmed, device string) {
	trimmed, device = comment, unknown
	for _, m := range t.mice {
		if m.Suffix != "" && strings.HasSuffix(trimmed, m.Suffix) {
			trimmed = trimmed[:len(trimmed)-len(m.Suffix)]
			if m.Prefix != "" && strings.HasPrefix(trimmed, m.Prefix) {
				trimmed = trimmed[len(m.Prefix):]
			}
			return trimmed, join(m.Vendor, m.Model)
		}
	}
	return trimmed, device
}

func join(vendor, model string) string {
	switch {
	case vendor != "" && model != "":
		return vendor + " " + model
	case vendor != "":
		return vendor
	case model != "":
		return model
	default:
		return unknown
	}
}
