package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/benwis/bmail/internal/app"
	"github.com/benwis/bmail/internal/bmail"
	"github.com/benwis/bmail/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config, prompts for the key passphrase if needed, and
// creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Send", "Watch").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	passphrase := ""
	if cfg.Key.PassphraseProtected {
		passphrase, err = promptPassphrase("Key passphrase: ")
		if err != nil {
			return nil, err
		}
	}

	a, err := app.NewApp(ctx, cfg, passphrase, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// promptPassphrase reads a passphrase from the terminal without echo.
func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pw), nil
}

var rootCmd = &cobra.Command{
	Use:   "bmail",
	Short: "Encrypted direct messages over your own repository",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init HANDLE",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(args[0], defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Handle: %s\n", args[0])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("\nAdd your app password to the config file, then run 'bmail key publish'.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Handle:   %s\n", cfg.User.Handle)
		fmt.Printf("PDS:      %s\n", cfg.Service.PDSURL)
		fmt.Printf("Firehose: %s\n", cfg.Service.FirehoseURL)
		fmt.Printf("Key Path: %s\n", cfg.Key.Path)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		return nil
	},
}

// key command
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the encryption key",
}

var keyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the local public key",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "KeyShow")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println(a.PublicKey())
		return nil
	},
}

var keyPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the public key to your profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "KeyPublish")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.PublishKey(cmd.Context()); err != nil {
			return fmt.Errorf("publishing key: %w", err)
		}

		fmt.Printf("Published public key for %s:\n%s\n", a.Local(), a.PublicKey())
		return nil
	},
}

var keyRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Generate a new key pair and republish it",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			fmt.Println("Rotating makes every message received under the current key permanently unreadable.")
			fmt.Println("Re-run with --yes to proceed.")
			return nil
		}

		a, err := newApp(cmd.Context(), "KeyRotate")
		if err != nil {
			return err
		}
		defer a.Close()

		publicKey, err := a.RotateKey(cmd.Context())
		if err != nil {
			return fmt.Errorf("rotating key: %w", err)
		}

		fmt.Printf("New public key:\n%s\n", publicKey)
		return nil
	},
}

// send command
var sendCmd = &cobra.Command{
	Use:   "send [MESSAGE]",
	Short: "Send an encrypted message",
	Long:  "Send an encrypted message to one or more recipients. With no MESSAGE argument, the message body is read from stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recipients, _ := cmd.Flags().GetStringSlice("to")
		if len(recipients) == 0 {
			return fmt.Errorf("at least one --to recipient is required")
		}

		var plaintext string
		if len(args) > 0 {
			plaintext = args[0]
		} else {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading message from stdin: %w", err)
			}
			plaintext = strings.TrimRight(string(data), "\n")
		}
		if plaintext == "" {
			return fmt.Errorf("empty message")
		}

		a, err := newApp(cmd.Context(), "Send")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Send(cmd.Context(), plaintext, recipients); err != nil {
			return fmt.Errorf("sending: %w", err)
		}

		fmt.Printf("Sent to %s\n", strings.Join(recipients, ", "))
		return nil
	},
}

// read command
var readCmd = &cobra.Command{
	Use:   "read HANDLE [HANDLE...]",
	Short: "Read a conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Read")
		if err != nil {
			return err
		}
		defer a.Close()

		transcript, err := a.Read(cmd.Context(), args)
		if err != nil {
			return fmt.Errorf("loading conversation: %w", err)
		}

		if transcript.Len() == 0 {
			fmt.Println("No messages.")
		}
		for _, entry := range transcript.Entries() {
			printEntry(a.Local(), entry)
		}
		if transcript.Skipped() > 0 {
			fmt.Printf("(%d unreadable message(s) skipped)\n", transcript.Skipped())
		}
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow incoming messages live",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Watch")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Watching as %s. Ctrl-C to stop.\n", a.Local())
		err = a.Watch(ctx, func(conversationKey string, entry bmail.Entry) {
			printEntry(a.Local(), entry)
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func printEntry(local bmail.Identity, entry bmail.Entry) {
	author := entry.Author.String()
	if entry.Author.Equal(local) {
		author = "me"
	}
	fmt.Printf("%s  %-20s  %s\n", entry.CreatedAt.Local().Format("2006-01-02 15:04"), author, entry.Plaintext)
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keyCmd.AddCommand(keyShowCmd)
	keyCmd.AddCommand(keyPublishCmd)
	keyCmd.AddCommand(keyRotateCmd)
	keyRotateCmd.Flags().Bool("yes", false, "Confirm losing access to previously received messages")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringSliceP("to", "t", nil, "Recipient handle or DID (repeatable)")
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(watchCmd)
}
