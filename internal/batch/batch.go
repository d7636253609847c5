package batch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"upxunpack/internal/common"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/exp/slices"
)

const DefaultExtensions = ".exe,.dll,.sys,.bin"

// Unpacker is the single-file operation a Runner applies to every input.
type Unpacker interface {
	UnpackOne(context.Context, common.Task) common.Result
}

type Runner struct {
	unpacker Unpacker
}

func New(unpacker Unpacker) *Runner {
	return &Runner{unpacker: unpacker}
}

// UnpackMany processes paths one at a time, in order. A failure does not stop the run.
func (r *Runner) UnpackMany(ctx context.Context, paths []string) []common.Result {
	var results []common.Result
	for _, path := range paths {
		results = append(results, r.unpacker.UnpackOne(ctx, common.Task{Source: path}))
	}
	return results
}

// UnpackDirectory unpacks every regular file under root whose extension is in
// exts. Only root's own entries are visited unless recursive is set.
func (r *Runner) UnpackDirectory(ctx context.Context, root string, recursive bool, exts []string) ([]common.Result, error) {
	paths, err := Enumerate(root, recursive, exts)
	if err != nil {
		return nil, err
	}
	return r.UnpackMany(ctx, paths), nil
}

// Enumerate lists the files UnpackDirectory would process.
func Enumerate(root string, recursive bool, exts []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", common.ErrDirectoryNotFound, root)
	}

	pattern := "*"
	if recursive {
		pattern = "**/*"
	}
	fsys := os.DirFS(root)

	var paths []string
	// symlinked directories are not descended into; symlinked files still count
	err = doublestar.GlobWalk(fsys, pattern, func(path string, d fs.DirEntry) error {
		info, err := fs.Stat(fsys, path)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		if !slices.Contains(exts, strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		paths = append(paths, filepath.Join(root, filepath.FromSlash(path)))
		return nil
	}, doublestar.WithNoFollow())
	if err != nil {
		return nil, fmt.Errorf("unable to walk %s. %v", root, err)
	}
	return paths, nil
}

// ParseExtensions turns "exe, DLL" into [".exe", ".dll"].
func ParseExtensions(list string) []string {
	var exts []string
	for _, ext := range strings.Split(list, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !slices.Contains(exts, ext) {
			exts = append(exts, ext)
		}
	}
	return exts
}

// ReadList reads one path per line. Blank lines and lines starting with # are skipped.
func ReadList(r io.Reader) ([]string, error) {
	var paths []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return paths, nil
}
