package pesections

import (
	"fmt"
	"strings"
	"upxunpack/internal/common"

	"github.com/saferwall/pe"
	"golang.org/x/exp/slices"
)

// Section names UPX gives the sections of a packed PE.
var upxSectionNames = []string{"UPX0", "UPX1", "UPX2", ".UPX0", ".UPX1"}

type Factory struct {
}

func (f *Factory) Build(content []byte) common.Detector {
	return New(content)
}

type Inspector struct {
	content []byte
	parsed  *pe.File
	err     error
}

func New(content []byte) *Inspector {
	return &Inspector{content: content}
}

func (i *Inspector) Name() string {
	return "PE section table"
}

func (i *Inspector) Format() common.Format {
	return common.PE
}

func (i *Inspector) file() (*pe.File, error) {
	if i.parsed != nil || i.err != nil {
		return i.parsed, i.err
	}
	f, err := pe.NewBytes(i.content, &pe.Options{})
	if err != nil {
		i.err = fmt.Errorf("unable to open PE. %v", err)
		return nil, i.err
	}
	if err = f.Parse(); err != nil {
		i.err = fmt.Errorf("unable to parse PE. %v", err)
		return nil, i.err
	}
	i.parsed = f
	return f, nil
}

func (i *Inspector) CanIdentify() bool {
	_, err := i.file()
	return err == nil
}

// SectionNames returns the section names in table order.
func (i *Inspector) SectionNames() ([]string, error) {
	f, err := i.file()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, section := range f.Sections {
		names = append(names, strings.TrimRight(string(section.Header.Name[:]), "\x00"))
	}
	return names, nil
}

func (i *Inspector) LooksPacked() bool {
	names, err := i.SectionNames()
	if err != nil {
		return false
	}
	for _, name := range names {
		if slices.Contains(upxSectionNames, name) {
			return true
		}
	}
	return false
}

func (i *Inspector) Identified() (string, error) {
	f, err := i.file()
	if err != nil {
		return "", err
	}
	names, err := i.SectionNames()
	if err != nil {
		return "", err
	}

	var result string
	result += fmt.Sprintf("[+] Format: %s\n", common.FormatToString(i.Format()))
	result += fmt.Sprintf("[+] Machine: %v\n", f.NtHeader.FileHeader.Machine)
	result += fmt.Sprintf("[+] Sections (%d): %s\n", len(names), strings.Join(names, ", "))
	if i.LooksPacked() {
		result += "[+] UPX section names present\n"
	}
	return result, nil
}
