package elfinfo

import (
	"bytes"
	"fmt"
	"upxunpack/internal/common"
	"upxunpack/internal/signature"

	"github.com/Binject/debug/elf"
)

type Factory struct {
}

func (f *Factory) Build(content []byte) common.Detector {
	return New(content)
}

type Inspector struct {
	content []byte
}

func New(content []byte) *Inspector {
	return &Inspector{content: content}
}

func (i *Inspector) Name() string {
	return "ELF headers"
}

func (i *Inspector) Format() common.Format {
	return common.ELF
}

func (i *Inspector) open() (*elf.File, error) {
	f, err := elf.NewFile(bytes.NewReader(i.content))
	if err != nil {
		return nil, fmt.Errorf("unable to parse ELF. %v", err)
	}
	return f, nil
}

func (i *Inspector) CanIdentify() bool {
	f, err := i.open()
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// LooksPacked is true for an ELF with program headers but no section
// headers that also carries a UPX signature, which is how upx leaves them.
func (i *Inspector) LooksPacked() bool {
	f, err := i.open()
	if err != nil {
		return false
	}
	defer f.Close()
	return len(f.Sections) <= 1 && len(f.Progs) > 0 && signature.Match(i.content) != nil
}

func (i *Inspector) Identified() (string, error) {
	f, err := i.open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	var result string
	result += fmt.Sprintf("[+] Format: %s\n", common.FormatToString(i.Format()))
	result += fmt.Sprintf("[+] Class: %v\n", f.Class)
	result += fmt.Sprintf("[+] Machine: %v\n", f.Machine)
	result += fmt.Sprintf("[+] Program headers: %d\n", len(f.Progs))
	result += fmt.Sprintf("[+] Section headers: %d\n", len(f.Sections))
	if i.LooksPacked() {
		result += "[+] No section table and UPX signature present\n"
	}
	return result, nil
}
