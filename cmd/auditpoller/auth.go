package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"

	"auditpoller/pkg/auth"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored API keys",
	Long: `Manage the Tenable.io API keys stored for each input.

Keys are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables AUDITPOLLER_<INPUT>_ACCESS_KEY / _SECRET_KEY (read only)

The config file then only holds <encrypted> in place of the keys.`,
}

var authSetCmd = &cobra.Command{
	Use:   "set <input>",
	Short: "Store the API key pair for an input",
	Long: `Prompt for the access and secret key of an input, store them and mask
them in the config file. Input is hidden when reading from a terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthSet,
}

var authDeleteCmd = &cobra.Command{
	Use:   "delete <input>",
	Short: "Remove the stored API keys of an input",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthDelete,
}

var authStatusCmd = &cobra.Command{
	Use:   "status [input...]",
	Short: "Show which inputs have stored API keys",
	RunE:  runAuthStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authDeleteCmd)
	authCmd.AddCommand(authStatusCmd)
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(nil)
	if err != nil {
		return err
	}
	input := args[0]
	if _, ok := cfg.Input(input); !ok {
		return fmt.Errorf("unknown input %q", input)
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	values := map[string]string{}
	for _, key := range []string{auth.KeyAccess, auth.KeySecret} {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s for %s: ", strings.ReplaceAll(key, "_", " "), input)
		value, err := readPassword(reader)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		if value == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
		values[key] = value
	}

	for key, value := range values {
		_ = manager.Delete(key, input)
		if err := manager.Set(key, input, value); err != nil {
			return fmt.Errorf("failed to store %s: %w", key, err)
		}
	}

	keys := []string{auth.KeyAccess, auth.KeySecret}
	saved, err := persistMaskedSecrets(cfg.Path(), input, keys)
	if err != nil {
		log.WithError(err).Warn("could not mask keys in the config file")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stored API keys for %s\n", input)
	if saved {
		fmt.Fprintf(cmd.OutOrStdout(), "Masked keys in %s\n", cfg.Path())
	}
	return nil
}

func runAuthDelete(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	input := args[0]
	removed := 0
	for _, key := range []string{auth.KeyAccess, auth.KeySecret} {
		err := manager.Delete(key, input)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, auth.ErrSecretNotFound):
		default:
			return err
		}
	}

	if removed == 0 {
		return fmt.Errorf("no stored API keys for %s", input)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed stored API keys for %s\n", input)
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(nil)
	if err != nil {
		return err
	}
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	inputs, err := selectInputs(cfg, args)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INPUT\tDOMAIN\tACCESS KEY\tSECRET KEY")
	for _, in := range inputs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", in.Name, in.Domain,
			keyStatus(manager, in.Name, auth.KeyAccess, in.AccessKey),
			keyStatus(manager, in.Name, auth.KeySecret, in.SecretKey))
	}
	return w.Flush()
}

func keyStatus(store auth.SecretStore, input, key, configured string) string {
	if configured != auth.Masked {
		return "in config (stored on next run)"
	}
	value, err := store.Get(key, input)
	if err != nil {
		return "MISSING"
	}
	return "stored " + auth.MaskSecret(value)
}

// readPassword reads a line without echo when stdin is a terminal
func readPassword(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
