/*
Copyright © 2022 The upxunpack Authors
*/
package cmd

import (
	"fmt"
	"io"
	"os"
	"upxunpack/internal/common"
	"upxunpack/internal/elfinfo"
	"upxunpack/internal/pesections"
	"upxunpack/internal/signature"

	"github.com/spf13/cobra"
)

var detectorFactories = [...]common.DetectorFactory{
	&signature.Factory{},
	&pesections.Factory{},
	&elfinfo.Factory{},
}

// FindDetectors returns every detector that recognises content.
func FindDetectors(content []byte) []common.Detector {
	var detectors []common.Detector
	for _, factory := range detectorFactories {
		detector := factory.Build(content)
		if detector.CanIdentify() {
			detectors = append(detectors, detector)
		}
	}
	return detectors
}

// identifyCmd represents the identify command
var identifyCmd = &cobra.Command{
	Use:   "identify <file>",
	Short: "Report UPX packing indicators without unpacking",
	Long: `Report UPX packing indicators found in a file without running upx. Checks include:

* UPX signature strings in the first 4096 bytes
* UPX section names in a PE section table
* an ELF with no section table carrying a UPX signature`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := identify(cmd.OutOrStdout(), args[0]); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "[!] %v\n", err)
			os.Exit(1)
		}
	},
}

func identify(out io.Writer, path string) error {
	fmt.Fprintf(out, "[*] Input file: %s\n", path)
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	packed := false
	format := common.Unknown
	for _, detector := range FindDetectors(content) {
		if detector.Format() != common.Unknown {
			format = detector.Format()
		}
		fmt.Fprintf(out, "[*] %s\n", detector.Name())
		information, err := detector.Identified()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s", information)
		packed = packed || detector.LooksPacked()
	}

	if format == common.Unknown {
		fmt.Fprintf(out, "[*] Format: %s\n", common.FormatToString(format))
	}
	if packed {
		fmt.Fprintln(out, "[+] Verdict: UPX-packed")
	} else {
		fmt.Fprintln(out, "[*] Verdict: not detected as UPX-packed")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}
