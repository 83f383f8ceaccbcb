package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var tokenName string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "API token commands",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API token and its config entry",
	RunE:  runTokenGenerate,
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash [secret]",
	Short: "Hash an existing token for the config file",
	Long:  `Hash an existing token. The secret is read from the terminal when not given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTokenHash,
}

func init() {
	tokenGenerateCmd.Flags().StringVar(&tokenName, "name", "admin", "Token name, recorded as the deployer")

	tokenCmd.AddCommand(tokenGenerateCmd, tokenHashCmd)
	rootCmd.AddCommand(tokenCmd)
}

func hashToken(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}

// tokenEntry renders the api.tokens entry for a hashed token
func tokenEntry(name, hash string) string {
	return fmt.Sprintf("api:\n  tokens:\n    - name: %q\n      token_hash: %q\n", name, hash)
}

func runTokenGenerate(cmd *cobra.Command, args []string) error {
	secret := generateRandomString(40)
	hash, err := hashToken(secret)
	if err != nil {
		return err
	}

	fmt.Printf("Token: %s\n", secret)
	fmt.Println("Store it now, it cannot be recovered. Add to the config file:")
	fmt.Println()
	fmt.Print(tokenEntry(tokenName, hash))
	return nil
}

func runTokenHash(cmd *cobra.Command, args []string) error {
	var secret string
	if len(args) == 1 {
		secret = args[0]
	} else {
		fmt.Fprint(os.Stderr, "Enter token: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		secret = string(b)
	}
	if secret == "" {
		return fmt.Errorf("token cannot be empty")
	}

	hash, err := hashToken(secret)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
