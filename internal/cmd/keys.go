package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/cyclops-relay/cyclops/internal/core"
	"github.com/cyclops-relay/cyclops/internal/core/keys"
	"github.com/cyclops-relay/cyclops/internal/observability"
	"github.com/cyclops-relay/cyclops/internal/output"
)

var keysListReveal bool

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the project keys the relay accepts reports for",
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored project keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		stored, err := db.ListProjectKeys(cmd.Context())
		if err != nil {
			return err
		}
		return writeTable(cmd, "keys.list", output.ProjectKeysTable(stored, keysListReveal))
	},
}

var keysImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upsert project keys from a YAML file ('-' reads stdin)",
	Long: `Upsert project keys from YAML. The file is either a list of keys or a
mapping with a "keys" list:

  keys:
    - project_id: "42"
      public_key: 0123abcd
      secret_key: 4567ef01

Existing projects are updated; projects missing from the file are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		parsed, err := parseProjectKeys(data)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		count, err := db.UpsertProjectKeys(cmd.Context(), parsed)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d project key(s)\n", count)
		return err
	},
}

var keysRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run one credential refresh against the store and report the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		refresher := &keys.Refresher{
			Source: db,
			Cache:  keys.NewCache(),
			Logger: observability.CLILogger,
		}
		count, err := refresher.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %d project key(s)\n", count)
		return err
	},
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if strings.TrimSpace(path) == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

type projectKeysFile struct {
	Keys []core.ProjectKey `yaml:"keys"`
}

// parseProjectKeys decodes a key file and reports every invalid entry at once.
func parseProjectKeys(data []byte) ([]core.ProjectKey, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("key file is empty")
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("key file is empty")
	}

	var parsed []core.ProjectKey
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&parsed); err != nil {
			return nil, fmt.Errorf("parse key list: %w", err)
		}
	case yaml.MappingNode:
		var file projectKeysFile
		if err := root.Decode(&file); err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		parsed = file.Keys
	default:
		return nil, errors.New("key file must be a list or a mapping with a keys list")
	}

	if len(parsed) == 0 {
		return nil, errors.New("key file contains no keys")
	}

	var errs error
	seen := make(map[string]int, len(parsed))
	for i := range parsed {
		key := &parsed[i]
		key.ProjectID = strings.TrimSpace(key.ProjectID)
		key.PublicKey = strings.TrimSpace(key.PublicKey)
		key.SecretKey = strings.TrimSpace(key.SecretKey)

		if key.ProjectID == "" {
			errs = multierr.Append(errs, fmt.Errorf("entry %d: project_id is required", i+1))
			continue
		}
		if key.PublicKey == "" {
			errs = multierr.Append(errs, fmt.Errorf("entry %d (%s): public_key is required", i+1, key.ProjectID))
		}
		if first, dup := seen[key.ProjectID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("entry %d (%s): duplicate of entry %d", i+1, key.ProjectID, first))
		}
		seen[key.ProjectID] = i + 1
	}
	if errs != nil {
		return nil, errs
	}
	return parsed, nil
}

func init() {
	keysListCmd.Flags().BoolVar(&keysListReveal, "reveal", false, "Show secret keys in full")
	addOutputFlags(keysListCmd)

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysImportCmd)
	keysCmd.AddCommand(keysRefreshCmd)
	rootCmd.AddCommand(keysCmd)
}
