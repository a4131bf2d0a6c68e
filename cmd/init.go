package cmd

import (
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/arcward/discochat/discochat"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var (
	initGenerateToken  bool
	initOverwriteToken bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and set the admin API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			return errors.New(
				"environment variable DC_DATABASE_TYPE not set (must be one of: sqlite, postgres)",
			)
		}
		if cfg.Database == "" {
			return errors.New(
				"environment variable DC_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}

		// Run database migrations
		db, err := discochat.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			return fmt.Errorf("error creating database: %w", err)
		}
		writeDB := discochat.NewDatabase(db, nil, cfg.DatabaseType != discochat.DefaultDatabaseType)

		out := cmd.OutOrStdout()

		var token string
		switch {
		case initGenerateToken:
			token, err = discochat.GenerateAPIToken()
			if err != nil {
				return fmt.Errorf("error generating token: %w", err)
			}
		default:
			token, err = promptToken(out)
			if err != nil {
				return err
			}
		}

		err = discochat.SetAPIToken(ctx, writeDB, cfg, token, initOverwriteToken)
		switch {
		case errors.Is(err, discochat.ErrAPITokenSet):
			fmt.Fprintln(out, "API token is already set (use --overwrite to replace it).")
		case err != nil:
			return fmt.Errorf("error setting api token: %w", err)
		case initGenerateToken:
			fmt.Fprintf(out, "API token set: %s\n", token)
			fmt.Fprintln(out, "This won't be shown again.")
		default:
			fmt.Fprintln(out, "API token set successfully.")
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
		return nil
	},
}

// promptToken reads the token twice, without echoing it
func promptToken(out io.Writer) (string, error) {
	readPassword := customPasswordReader
	if readPassword == nil {
		readPassword = func() ([]byte, error) {
			return term.ReadPassword(int(syscall.Stdin))
		}
	}
	for {
		fmt.Fprint(out, "Enter admin API token: ")
		tokenBytes, err := readPassword()
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("error reading token: %w", err)
		}

		fmt.Fprint(out, "Confirm admin API token: ")
		confirmBytes, err := readPassword()
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("error reading token: %w", err)
		}

		switch token := string(tokenBytes); {
		case token == "":
			fmt.Fprintln(out, "Token can't be empty. Please try again.")
		case token != string(confirmBytes):
			fmt.Fprintln(out, "Tokens do not match. Please try again.")
		default:
			return token, nil
		}
	}
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(
		&initGenerateToken,
		"generate",
		false,
		"Generate a random token instead of prompting for one",
	)
	initCmd.Flags().BoolVar(
		&initOverwriteToken,
		"overwrite",
		false,
		"Replace an existing token",
	)
}
