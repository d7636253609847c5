package signature

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"upxunpack/internal/common"
)

// PrefixSize is how much of a file is searched for signatures.
const PrefixSize = 4096

// Section names and identifier strings written by UPX. Matched anywhere in the prefix.
var Signatures = [][]byte{
	[]byte("UPX!"),
	[]byte("UPX0"),
	[]byte("UPX1"),
	[]byte("UPX2"),
	[]byte("UPX "),
	[]byte("$Id: UPX"),
}

// LooksPacked reports whether the first PrefixSize bytes of the file at
// path contain a UPX signature. Read errors count as not detected.
func LooksPacked(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, PrefixSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false
	}
	return Match(buf[:n]) != nil
}

// Match returns the first signature found in data, or nil.
func Match(data []byte) []byte {
	if len(data) > PrefixSize {
		data = data[:PrefixSize]
	}
	for _, sig := range Signatures {
		if bytes.Contains(data, sig) {
			return sig
		}
	}
	return nil
}

type Factory struct {
}

func (f *Factory) Build(content []byte) common.Detector {
	return New(content)
}

type Detector struct {
	content []byte
}

func New(content []byte) *Detector {
	return &Detector{content: content}
}

func (d *Detector) Name() string {
	return "UPX signature scan"
}

func (d *Detector) Format() common.Format {
	return common.Unknown
}

func (d *Detector) CanIdentify() bool {
	return true
}

func (d *Detector) LooksPacked() bool {
	return Match(d.content) != nil
}

func (d *Detector) Identified() (string, error) {
	sig := Match(d.content)
	if sig == nil {
		return "[*] No UPX signature in the first 4096 bytes\n", nil
	}
	offset := bytes.Index(d.content[:min(len(d.content), PrefixSize)], sig)
	return fmt.Sprintf("[+] Signature %q at offset 0x%x\n", sig, offset), nil
}
