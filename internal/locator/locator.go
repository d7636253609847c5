package locator

import (
	"os"
	"os/exec"
	"upxunpack/internal/common"
)

const ToolName = "upx"

// CommonPaths are probed, in order, when upx is not on the search path.
var CommonPaths = []string{
	"/usr/bin/upx",
	"/usr/local/bin/upx",
	`C:\Program Files\UPX\upx.exe`,
	`C:\Program Files (x86)\UPX\upx.exe`,
	"./upx",
	"./upx.exe",
}

type Locator struct {
	Name       string
	Candidates []string
	LookPath   func(string) (string, error)
}

func New() *Locator {
	return &Locator{
		Name:       ToolName,
		Candidates: CommonPaths,
		LookPath:   exec.LookPath,
	}
}

// Locate returns the first upx found. The binary is not run or version checked.
func (l *Locator) Locate() (string, error) {
	if l.LookPath != nil {
		if path, err := l.LookPath(l.Name); err == nil {
			return path, nil
		}
	}
	for _, candidate := range l.Candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", common.ErrToolNotFound
}

func Locate() (string, error) {
	return New().Locate()
}
