package common

import "errors"

var (
	ErrToolNotFound      = errors.New("UPX executable not found")
	ErrInputNotFound     = errors.New("input file not found")
	ErrNotDetected       = errors.New("file does not appear to be UPX-packed")
	ErrCopyFailed        = errors.New("failed to copy file")
	ErrTimeout           = errors.New("UPX unpacking timed out")
	ErrProcessFailed     = errors.New("UPX unpacking failed")
	ErrUnchanged         = errors.New("file unchanged, may not have been UPX packed")
	ErrUnverified        = errors.New("unable to verify unpacked output")
	ErrDirectoryNotFound = errors.New("directory not found")
)

// Task is a single file handed to the engine. An empty Destination is
// derived from Source.
type Task struct {
	Source      string
	Destination string
	Force       bool
}

type Result struct {
	File    string
	Success bool
	Message string
	Err     error
}

// Detector reports what it can tell about a file's packing without running upx.
type Detector interface {
	Name() string
	Format() Format
	Identified() (string, error)
	CanIdentify() bool
	LooksPacked() bool
}

type DetectorFactory interface {
	Build([]byte) Detector
}

type Format int

const (
	PE Format = iota
	ELF
	Unknown
)

func FormatToString(format Format) string {
	if format == PE {
		return "PE"
	} else if format == ELF {
		return "ELF"
	}
	return "UNKNOWN"
}
