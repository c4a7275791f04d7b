package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/stewardproject/steward/internal/catalog"
	"github.com/stewardproject/steward/internal/common/config"
	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/common/output"
	"github.com/stewardproject/steward/internal/repo"
	"github.com/stewardproject/steward/internal/repoimport"
)

var (
	importSubdirectory string
	importCatalog      string
	importForce        bool
)

var importCmd = &cobra.Command{
	Use:   "import ITEM",
	Short: "Import an installer item into the repository",
	Long: `Extract metadata from an installer item, check the repository's catalogs
for a matching entry, and upload the item and its pkginfo unless a match
already exists.`,
	Args: cobra.ExactArgs(1),
	Run:  runImport,
}

func init() {
	importCmd.Flags().StringVar(&importSubdirectory, "subdirectory", "", "Repo subdirectory for the uploaded files")
	importCmd.Flags().StringVar(&importCatalog, "catalog", "", "Catalog to tag the new pkginfo with")
	importCmd.Flags().BoolVarP(&importForce, "force", "f", false, "Import even when a matching item exists")
	repoCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) {
	itemPath := args[0]

	adminCfg, err := config.LoadAdminConfig()
	if err != nil {
		if !errors.Is(err, config.ErrAdminConfigNotFound) {
			logging.Errorf("loading admin config: %v", err)
			os.Exit(1)
		}
		adminCfg = &config.AdminConfig{}
	}
	repoURL := adminCfg.RepoURL
	if repoURL == "" {
		clientCfg, cfgErr := config.Load()
		if cfgErr != nil {
			logging.Errorf("loading config: %v", cfgErr)
			os.Exit(1)
		}
		repoURL = clientCfg.RepoURL
	}
	if repoURL == "" {
		logging.Errorf("no repository configured")
		os.Exit(1)
	}
	r, err := repo.Connect(repoURL)
	if err != nil {
		logging.Errorf("could not connect to repository %s: %v", repoURL, err)
		os.Exit(1)
	}

	subdirectory := importSubdirectory
	if subdirectory == "" {
		subdirectory = adminCfg.Subdirectory
	}
	catalogName := importCatalog
	if catalogName == "" {
		catalogName = adminCfg.DefaultCatalog
	}
	if catalogName == "" {
		catalogName = "testing"
	}

	ctx := context.Background()
	info, cleanup, err := extractMetadata(ctx, itemPath, "")
	defer cleanup()
	if err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
	info.Catalogs = []string{catalogName}

	if match := catalog.FindMatchInRepo(r, info); match != nil {
		if match.InstallerItemHash == info.InstallerItemHash {
			output.PrintWarning("This item is already in the repo as %s-%s.", match.Name, match.Version)
			if !importForce {
				return
			}
		} else {
			output.PrintInfo("A matching item exists as %s-%s; importing as a new version.", match.Name, match.Version)
			// carry forward identity and presentation from the match
			info.Name = match.Name
			if info.DisplayName == "" {
				info.DisplayName = match.DisplayName
			}
			if info.Description == "" {
				info.Description = match.Description
			}
			if info.Category == "" {
				info.Category = match.Category
			}
			if info.Developer == "" {
				info.Developer = match.Developer
			}
		}
	}

	itemIdentifier, err := repoimport.CopyInstallerItemToRepo(r, itemPath, info.Version, subdirectory)
	if err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
	// pkgs/-relative location is what catalogs reference
	info.InstallerItemLocation = itemIdentifier[len("pkgs/"):]

	pkginfoIdentifier, err := repoimport.CopyPkgInfoToRepo(r, info, subdirectory, adminCfg.PkginfoExtension)
	if err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}

	output.PrintSuccess("Imported %s to %s.", itemPath, itemIdentifier)
	output.PrintSuccess("Saved pkginfo to %s.", pkginfoIdentifier)
	if !repoimport.IconIsInRepo(r, info) {
		output.PrintWarning("No icon found in the repo for this item.")
	}
}
