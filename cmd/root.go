/*
Copyright © 2022 The upxunpack Authors
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"upxunpack/internal/batch"
	"upxunpack/internal/common"
	"upxunpack/internal/engine"
	"upxunpack/internal/locator"
	"upxunpack/internal/signature"

	"github.com/spf13/cobra"
)

type options struct {
	output     string
	directory  bool
	recursive  bool
	force      bool
	verbose    bool
	list       bool
	upxPath    string
	extensions string
}

var opts options

// locate is replaced in tests.
var locate = locator.Locate

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "upxunpack <input>",
	Short: "Unpacks UPX-compressed executables with the upx tool",
	Long: `Detects UPX-packed executables and runs "upx -d" against a copy of each,
verifying the result by comparing SHA-256 digests.

Input is a single file, a directory (-d, optionally -r), or a text file
listing one path per line (-l). UPX itself must be installed:
https://upx.github.io/`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		code := run(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		if code != 0 {
			os.Exit(code)
		}
	},
}

func run(ctx context.Context, out io.Writer, input string, opts options) int {
	if ctx == nil {
		ctx = context.Background()
	}

	toolPath := opts.upxPath
	if toolPath == "" {
		toolPath, _ = locate()
	}
	if toolPath == "" {
		fmt.Fprintf(out, "[!] ERROR: %v\n", common.ErrToolNotFound)
		fmt.Fprintln(out, "[!] Install UPX or specify its path with --upx-path")
		fmt.Fprintln(out, "[!] Download UPX from: https://upx.github.io/")
		return 1
	}
	fmt.Fprintf(out, "[*] Using UPX: %s\n", toolPath)

	var log io.Writer
	if opts.verbose {
		log = out
	}
	unpacker := engine.New(toolPath, log)
	runner := batch.New(unpacker)

	switch {
	case opts.directory:
		exts := batch.ParseExtensions(opts.extensions)
		info, err := os.Stat(input)
		if err != nil || !info.IsDir() {
			fmt.Fprintf(out, "[!] ERROR: %v: %s\n", common.ErrDirectoryNotFound, input)
			return 1
		}
		fmt.Fprintf(out, "[*] Processing directory: %s\n", input)
		fmt.Fprintf(out, "[*] Extensions: %s\n", strings.Join(exts, ", "))
		results, err := runner.UnpackDirectory(ctx, input, opts.recursive, exts)
		if err != nil {
			fmt.Fprintf(out, "[!] ERROR: %v\n", err)
			return 1
		}
		report(out, results)
		return 0

	case opts.list:
		f, err := os.Open(input)
		if err != nil {
			fmt.Fprintf(out, "[!] ERROR: %v: %s\n", common.ErrInputNotFound, input)
			return 1
		}
		paths, err := batch.ReadList(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(out, "[!] ERROR: unable to read file list. %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "[*] Processing file list: %s (%d entries)\n", input, len(paths))
		report(out, runner.UnpackMany(ctx, paths))
		return 0
	}

	if _, err := os.Stat(input); err != nil {
		fmt.Fprintf(out, "[!] ERROR: %v: %s\n", common.ErrInputNotFound, input)
		return 1
	}
	fmt.Fprintf(out, "[*] Processing file: %s\n", input)
	if signature.LooksPacked(input) {
		fmt.Fprintln(out, "[+] UPX signature detected")
	} else if !opts.force {
		fmt.Fprintln(out, "[!] WARNING: UPX signature not detected. Use --force to unpack anyway.")
	}

	result := unpacker.UnpackOne(ctx, common.Task{
		Source:      input,
		Destination: opts.output,
		Force:       opts.force,
	})
	if !result.Success {
		fmt.Fprintf(out, "[!] FAILED: %s\n", result.Message)
		return 1
	}
	fmt.Fprintf(out, "[+] SUCCESS: %s\n", result.Message)
	return 0
}

func report(out io.Writer, results []common.Result) {
	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded++
		}
	}
	fmt.Fprintf(out, "\n[*] Results: %d/%d files successfully unpacked\n", succeeded, len(results))
	for _, result := range results {
		status := "FAILED"
		if result.Success {
			status = "SUCCESS"
		}
		fmt.Fprintf(out, "[%s] %s: %s\n", status, result.File, result.Message)
	}
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	flags := rootCmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "Output file name (single file mode)")
	flags.BoolVarP(&opts.directory, "directory", "d", false, "Process a directory")
	flags.BoolVarP(&opts.recursive, "recursive", "r", false, "Process the directory recursively")
	flags.BoolVarP(&opts.force, "force", "f", false, "Unpack even if no UPX signature is detected")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output")
	flags.BoolVarP(&opts.list, "list", "l", false, "Treat input as a text file listing paths to unpack")
	flags.StringVar(&opts.upxPath, "upx-path", "", "Path to the UPX executable")
	flags.StringVar(&opts.extensions, "extensions", batch.DefaultExtensions, "File extensions to process in directory mode (comma-separated)")
}
