package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Program selects the artifact naming scheme. Remote storage is shared
// across tool versions, so the templates below must not change.
type Program string

const (
	ProgramNNLOJET Program = "NNLOJET"
	ProgramHEJ     Program = "HEJ"
)

// ParseProgram accepts the program name case-insensitively.
func ParseProgram(s string) (Program, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NNLOJET":
		return ProgramNNLOJET, nil
	case "HEJ":
		return ProgramHEJ, nil
	}
	return "", fmt.Errorf("unknown program %q", s)
}

// Naming produces archive names for one program.
type Naming struct {
	Program Program
}

// WarmupArchive is the name of the warmup output in the warmup directory.
func (n Naming) WarmupArchive(runcard, runFolder string) string {
	if n.Program == ProgramHEJ {
		return fmt.Sprintf("%s+%s.tar.gz", runcard, runFolder)
	}
	return fmt.Sprintf("output%s-warm-%s.tar.gz", runcard, runFolder)
}

// OutputArchive is the name of one production seed's output.
func (n Naming) OutputArchive(runcard, runFolder string, seed int) string {
	if n.Program == ProgramHEJ {
		return fmt.Sprintf("output-%s-%s-%d.tar.gz", runcard, runFolder, seed)
	}
	return fmt.Sprintf("output%s-%s-%d.tar.gz", runcard, runFolder, seed)
}

// InputArchive is the bundle uploaded to the input directory.
func (n Naming) InputArchive(runcard, runFolder string) string {
	if n.Program == ProgramHEJ {
		return fmt.Sprintf("%s+%s.tar.gz", runcard, runFolder)
	}
	return runcard + runFolder + ".tar.gz"
}

// LocalOutputArchive is where a fetched seed archive lands before
// extraction.
func (n Naming) LocalOutputArchive(runFolder string, seed int) string {
	return fmt.Sprintf("%s-%d.tar.gz", runFolder, seed)
}

// Executable returns the path of the program binary inside srcDir.
func (n Naming) Executable(srcDir, name string) string {
	if n.Program == ProgramHEJ {
		return filepath.Join(srcDir, name)
	}
	return filepath.Join(srcDir, "driver", name)
}
