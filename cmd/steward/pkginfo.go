package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/plist"
)

var pkginfoVersionKey string

var pkginfoCmd = &cobra.Command{
	Use:   "pkginfo ITEM",
	Short: "Extract metadata from an installer item",
	Long: `Inspect a package or disk image and print the pkginfo record that
would be imported for it: receipts, versions, sizes and install metadata.`,
	Args: cobra.ExactArgs(1),
	Run:  runPkginfo,
}

func init() {
	pkginfoCmd.Flags().StringVar(&pkginfoVersionKey, "version-key", "", "Bundle info key to read the version from")
	rootCmd.AddCommand(pkginfoCmd)
}

func runPkginfo(cmd *cobra.Command, args []string) {
	info, cleanup, err := extractMetadata(context.Background(), args[0], pkginfoVersionKey)
	defer cleanup()
	if err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
	data, err := plist.Marshal(info)
	if err != nil {
		logging.Errorf("could not encode pkginfo: %v", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
