package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
	"upxunpack/internal/common"
)

var packed = append([]byte("MZ\x90\x00 UPX0 UPX1 UPX!"), make([]byte, 256)...)

// writeStub writes an executable shell script standing in for upx.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skip on windows: shell script stubs")
	}
	path := filepath.Join(t.TempDir(), "upx")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func writeInput(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestDestinationFor(t *testing.T) {
	cases := map[string]string{
		"sample.exe":                  "sample_unpacked.exe",
		"dir/sample.tar.gz":           "dir/sample.tar_unpacked.gz",
		"noext":                       "noext_unpacked",
		"trailing.":                   "trailing._unpacked",
		filepath.Join("a", ".hidden"): filepath.Join("a", ".hidden_unpacked"),
	}
	for in, want := range cases {
		if got := DestinationFor(in); got != want {
			t.Fatalf("DestinationFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUnpackSuccess(t *testing.T) {
	stub := writeStub(t, `printf 'unpacked contents' > "$2"`)
	src := writeInput(t, "sample.exe", packed)

	result := New(stub, nil).UnpackOne(context.Background(), common.Task{Source: src})
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Message)
	}
	dest := DestinationFor(src)
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(data) != "unpacked contents" {
		t.Fatalf("unexpected dest contents %q", data)
	}
	if !strings.Contains(result.Message, dest) {
		t.Fatalf("message should name destination: %s", result.Message)
	}
	orig, _ := os.ReadFile(src)
	if !bytes.Equal(orig, packed) {
		t.Fatalf("source must not be modified")
	}
}

func TestUnpackPassesDecompressFlag(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	stub := writeStub(t, `echo "$@" > `+argsFile+`; echo changed >> "$2"`)
	src := writeInput(t, "sample.dll", packed)
	dest := filepath.Join(dir, "explicit.dll")

	result := New(stub, nil).UnpackOne(context.Background(), common.Task{Source: src, Destination: dest})
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Message)
	}
	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if strings.TrimSpace(string(args)) != "-d "+dest {
		t.Fatalf("unexpected args %q", args)
	}
}

func TestUnpackToolFailureRemovesDestination(t *testing.T) {
	stub := writeStub(t, `echo "upx: NotPackedException: not packed by UPX" >&2; exit 2`)
	src := writeInput(t, "sample.exe", packed)

	result := New(stub, nil).UnpackOne(context.Background(), common.Task{Source: src})
	if result.Success {
		t.Fatalf("expected failure")
	}
	if !errors.Is(result.Err, common.ErrProcessFailed) {
		t.Fatalf("expected ErrProcessFailed, got %v", result.Err)
	}
	if !strings.Contains(result.Message, "NotPackedException") {
		t.Fatalf("message should carry stderr: %s", result.Message)
	}
	if exists(DestinationFor(src)) {
		t.Fatalf("destination should be removed")
	}
}

func TestUnpackToolFailureWithoutStderr(t *testing.T) {
	stub := writeStub(t, `exit 1`)
	src := writeInput(t, "sample.exe", packed)

	result := New(stub, nil).UnpackOne(context.Background(), common.Task{Source: src})
	if !strings.Contains(result.Message, "unknown error") {
		t.Fatalf("unexpected message: %s", result.Message)
	}
}

func TestUnpackUnchangedKeepsDestination(t *testing.T) {
	stub := writeStub(t, `exit 0`)
	src := writeInput(t, "sample.exe", packed)

	result := New(stub, nil).UnpackOne(context.Background(), common.Task{Source: src})
	if result.Success {
		t.Fatalf("expected failure")
	}
	if !errors.Is(result.Err, common.ErrUnchanged) {
		t.Fatalf("expected ErrUnchanged, got %v", result.Err)
	}
	if !strings.Contains(result.Message, "unchanged") {
		t.Fatalf("unexpected message: %s", result.Message)
	}
	if !exists(DestinationFor(src)) {
		t.Fatalf("destination should be left in place")
	}
}

func TestUnpackTimeoutKeepsDestination(t *testing.T) {
	stub := writeStub(t, `exec sleep 301`)
	src := writeInput(t, "sample.exe", packed)

	e := New(stub, nil)
	e.Timeout = 200 * time.Millisecond
	start := time.Now()
	result := e.UnpackOne(context.Background(), common.Task{Source: src})
	if result.Success {
		t.Fatalf("expected failure")
	}
	if !errors.Is(result.Err, common.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", result.Err)
	}
	if !strings.Contains(result.Message, "timed out") {
		t.Fatalf("unexpected message: %s", result.Message)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
	if !exists(DestinationFor(src)) {
		t.Fatalf("destination should not be cleaned up on timeout")
	}
}

func TestUnpackMissingDestinationFails(t *testing.T) {
	stub := writeStub(t, `rm -f "$2"; exit 0`)
	src := writeInput(t, "sample.exe", packed)

	result := New(stub, nil).UnpackOne(context.Background(), common.Task{Source: src})
	if result.Success {
		t.Fatalf("expected failure when the output disappears")
	}
	if !errors.Is(result.Err, common.ErrUnverified) {
		t.Fatalf("expected ErrUnverified, got %v", result.Err)
	}
}

func TestUnpackTimeoutKillsChildren(t *testing.T) {
	stub := writeStub(t, `(sleep 1; echo late >> "$2") &
exec sleep 301`)
	src := writeInput(t, "sample.exe", packed)

	e := New(stub, nil)
	e.Timeout = 200 * time.Millisecond
	result := e.UnpackOne(context.Background(), common.Task{Source: src})
	if !errors.Is(result.Err, common.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", result.Err)
	}
	time.Sleep(2 * time.Second)
	data, err := os.ReadFile(DestinationFor(src))
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if !bytes.Equal(data, packed) {
		t.Fatalf("a child of the tool wrote to the destination after the timeout")
	}
}

func TestNewUsesDefaultTimeout(t *testing.T) {
	if e := New("upx", nil); e.Timeout != DefaultTimeout || DefaultTimeout != 300*time.Second {
		t.Fatalf("unexpected timeout %s", e.Timeout)
	}
}

func TestUnpackNotDetected(t *testing.T) {
	stub := writeStub(t, `echo changed >> "$2"`)
	src := writeInput(t, "plain.exe", []byte("MZ plain executable"))

	result := New(stub, nil).UnpackOne(context.Background(), common.Task{Source: src})
	if !errors.Is(result.Err, common.ErrNotDetected) {
		t.Fatalf("expected ErrNotDetected, got %v", result.Err)
	}
	if exists(DestinationFor(src)) {
		t.Fatalf("nothing should be written when not detected")
	}

	result = New(stub, nil).UnpackOne(context.Background(), common.Task{Source: src, Force: true})
	if !result.Success {
		t.Fatalf("force should bypass detection, got %s", result.Message)
	}
}

func TestUnpackMissingToolAndInput(t *testing.T) {
	src := writeInput(t, "sample.exe", packed)
	result := New("", nil).UnpackOne(context.Background(), common.Task{Source: src})
	if !errors.Is(result.Err, common.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", result.Err)
	}

	stub := writeStub(t, `exit 0`)
	missing := filepath.Join(t.TempDir(), "missing.exe")
	result = New(stub, nil).UnpackOne(context.Background(), common.Task{Source: missing})
	if !errors.Is(result.Err, common.ErrInputNotFound) {
		t.Fatalf("expected ErrInputNotFound, got %v", result.Err)
	}
	if result.File != missing {
		t.Fatalf("result should name the input, got %s", result.File)
	}
}

func TestUnpackCopyFailure(t *testing.T) {
	stub := writeStub(t, `exit 0`)
	src := writeInput(t, "sample.exe", packed)
	dest := filepath.Join(t.TempDir(), "no", "such", "dir", "out.exe")

	result := New(stub, nil).UnpackOne(context.Background(), common.Task{Source: src, Destination: dest})
	if !errors.Is(result.Err, common.ErrCopyFailed) {
		t.Fatalf("expected ErrCopyFailed, got %v", result.Err)
	}

	result = New(stub, nil).UnpackOne(context.Background(), common.Task{Source: src, Destination: src})
	if !errors.Is(result.Err, common.ErrCopyFailed) {
		t.Fatalf("copying onto the source should fail, got %v", result.Err)
	}
	data, _ := os.ReadFile(src)
	if !bytes.Equal(data, packed) {
		t.Fatalf("source must survive a copy onto itself")
	}
}

func TestUnpackStartFailure(t *testing.T) {
	src := writeInput(t, "sample.exe", packed)
	tool := filepath.Join(t.TempDir(), "nonexistent-upx")

	result := New(tool, nil).UnpackOne(context.Background(), common.Task{Source: src})
	if !errors.Is(result.Err, common.ErrProcessFailed) {
		t.Fatalf("expected ErrProcessFailed, got %v", result.Err)
	}
}

func TestCopyFilePreservesMetadata(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skip on windows: permission bits")
	}
	src := writeInput(t, "sample.exe", packed)
	if err := os.Chmod(src, 0o750); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	mtime := time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC)
	if err := os.Chtimes(src, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	dst := filepath.Join(t.TempDir(), "copy.exe")
	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile: %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o750 {
		t.Fatalf("mode %v", info.Mode().Perm())
	}
	if !info.ModTime().Equal(mtime) {
		t.Fatalf("mtime %v", info.ModTime())
	}
}

func TestVerboseLogsCommand(t *testing.T) {
	stub := writeStub(t, `echo changed >> "$2"`)
	src := writeInput(t, "sample.exe", packed)
	var log bytes.Buffer

	New(stub, &log).UnpackOne(context.Background(), common.Task{Source: src})
	if !strings.Contains(log.String(), "Running command: "+stub+" -d ") {
		t.Fatalf("missing command trace: %q", log.String())
	}
}
