package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"upxunpack/internal/common"
	"upxunpack/internal/hasher"
	"upxunpack/internal/signature"
)

// DefaultTimeout bounds a single upx invocation.
const DefaultTimeout = 300 * time.Second

const unpackedSuffix = "_unpacked"

type Engine struct {
	ToolPath string
	Timeout  time.Duration
	// Log receives verbose trace lines. Nil disables them.
	Log io.Writer
}

func New(toolPath string, log io.Writer) *Engine {
	return &Engine{
		ToolPath: toolPath,
		Timeout:  DefaultTimeout,
		Log:      log,
	}
}

// DestinationFor inserts the unpacked suffix before the extension of source.
func DestinationFor(source string) string {
	dir, base := filepath.Split(source)
	ext := filepath.Ext(base)
	if ext == base || ext == "." {
		ext = ""
	}
	stem := strings.TrimSuffix(base, ext)
	return dir + stem + unpackedSuffix + ext
}

func (e *Engine) UnpackOne(ctx context.Context, task common.Task) common.Result {
	dest, err := e.unpack(ctx, task)
	if err != nil {
		return common.Result{File: task.Source, Message: err.Error(), Err: err}
	}
	return common.Result{
		File:    task.Source,
		Success: true,
		Message: fmt.Sprintf("successfully unpacked to: %s", dest),
	}
}

func (e *Engine) unpack(ctx context.Context, task common.Task) (string, error) {
	if e.ToolPath == "" {
		return "", common.ErrToolNotFound
	}
	if _, err := os.Stat(task.Source); err != nil {
		return "", fmt.Errorf("%w: %s", common.ErrInputNotFound, task.Source)
	}
	if !task.Force && !signature.LooksPacked(task.Source) {
		return "", fmt.Errorf("%w: %s", common.ErrNotDetected, task.Source)
	}

	dest := task.Destination
	if dest == "" {
		dest = DestinationFor(task.Source)
	}
	if err := copyFile(task.Source, dest); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrCopyFailed, err)
	}

	original, origErr := hasher.File(task.Source)

	if err := e.run(ctx, dest); err != nil {
		return "", err
	}

	if origErr != nil {
		return "", fmt.Errorf("%w: unable to hash original. %v", common.ErrUnverified, origErr)
	}
	unpacked, err := hasher.File(dest)
	if err != nil {
		return "", fmt.Errorf("%w: unable to hash output. %v", common.ErrUnverified, err)
	}
	if unpacked == original {
		return "", common.ErrUnchanged
	}
	return dest, nil
}

func (e *Engine) run(ctx context.Context, dest string) error {
	timeout := e.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-d", dest}
	e.logf("[*] Running command: %s %s\n", e.ToolPath, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, e.ToolPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	configureProcess(cmd)
	cmd.Cancel = func() error {
		terminateProcess(cmd)
		return nil
	}
	// upx may leave children holding the pipes after the kill
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w after %s", common.ErrTimeout, timeout)
	}
	if stdout.Len() > 0 {
		e.logf("%s", stdout.String())
	}
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("%w: error running UPX. %v", common.ErrProcessFailed, err)
	}
	if _, statErr := os.Stat(dest); statErr == nil {
		os.Remove(dest)
	}
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Errorf("%w: %s", common.ErrProcessFailed, msg)
}

func (e *Engine) logf(format string, args ...any) {
	if e.Log == nil {
		return
	}
	fmt.Fprintf(e.Log, format, args...)
}

// copyFile copies content, permission bits and modification time.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}
	if existing, err := os.Stat(dst); err == nil && os.SameFile(info, existing) {
		return fmt.Errorf("%s and %s are the same file", src, dst)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
