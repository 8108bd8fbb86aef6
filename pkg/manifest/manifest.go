// Package manifest loads the batch of runs a command acts on.
//
// A run manifest is a YAML (or JSON) file with a runs section mapping each
// runcard to the run folder it is staged under. The same file usually
// carries run-specific configuration overrides; keys other than version,
// runcard_dir and runs are ignored here.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	runcard_dir: runcards/wm
//	runs:
//	  Ra_Wm.run: WM_VAL_Ra
//	  Rb_Wm.run: WM_VAL_Rb
//
// The list form allows per-run seeds:
//
//	runs:
//	  - runcard: Ra_Wm.run
//	    runfolder: WM_VAL_Ra
//	    base_seed: 400
//	    jobs: 100
package manifest

import (
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only manifest version understood.
const CurrentVersion = "1.0"

// Manifest is a validated run manifest.
type Manifest struct {
	Version string `yaml:"version"`

	// RuncardDir is resolved against the manifest's own directory when
	// relative. Empty means the configured runcard_dir.
	RuncardDir string `yaml:"runcard_dir,omitempty"`

	// Runs keeps file order.
	Runs RunList `yaml:"runs"`

	// Path is the file the manifest was read from, if any.
	Path string `yaml:"-"`
}

// Run is one (runcard, run folder) pair.
type Run struct {
	Runcard   string `yaml:"runcard" json:"runcard"`
	RunFolder string `yaml:"runfolder" json:"runfolder"`

	// BaseSeed and Jobs override production seeding for this run when set.
	BaseSeed int `yaml:"base_seed,omitempty" json:"base_seed,omitempty"`
	Jobs     int `yaml:"jobs,omitempty" json:"jobs,omitempty"`
}

// Identity matches jobstore.Record.Identity.
func (r Run) Identity() string { return r.Runcard + "/" + r.RunFolder }

// RunList decodes from either a runcard → run folder mapping or a sequence
// of Run objects.
type RunList []Run

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *RunList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(RunList, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: run folder for %q must be a string", v.Line, k.Value)
			}
			out = append(out, Run{Runcard: k.Value, RunFolder: v.Value})
		}
		*l = out
		return nil
	case yaml.SequenceNode:
		var runs []Run
		if err := node.Decode(&runs); err != nil {
			return err
		}
		*l = runs
		return nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*l = nil
			return nil
		}
	}
	return fmt.Errorf("line %d: runs must be a mapping or a list", node.Line)
}

// Select returns the runs whose runcard is in names, in manifest order. An
// empty names selects every run.
func (m *Manifest) Select(names ...string) (RunList, error) {
	if len(names) == 0 {
		return m.Runs, nil
	}
	var out RunList
	for _, name := range names {
		found := false
		for _, r := range m.Runs {
			if r.Runcard == name {
				out = append(out, r)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("runcard %q is not in the run manifest", name)
		}
	}
	return out, nil
}

// RuncardPath resolves the runcard file of r. fallbackDir is used when the
// manifest sets no runcard_dir.
func (m *Manifest) RuncardPath(r Run, fallbackDir string) string {
	dir := m.RuncardDir
	if dir == "" {
		dir = fallbackDir
	} else if !filepath.IsAbs(dir) && m.Path != "" {
		dir = filepath.Join(filepath.Dir(m.Path), dir)
	}
	return filepath.Join(dir, r.Runcard)
}
