package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login [code]",
	Short: "Authorize Gmail access for this machine",
	Long: `Print the Google consent URL and store the resulting token. Paste the
"code" query parameter of the redirect, or pass it as an argument.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.OAuth.Configured() {
		return fmt.Errorf("gmail.client_id and gmail.client_secret must be configured")
	}

	code := ""
	if len(args) == 1 {
		code = args[0]
	} else {
		pterm.Info.Println("Open this URL in a browser and approve access:")
		fmt.Println(a.OAuth.AuthCodeURL("cli"))
		pterm.Println()
		fmt.Print("Authorization code: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read code: %w", err)
		}
		code = line
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("authorization code is empty")
	}
	if err := a.Credentials.Complete(cmd.Context(), code); err != nil {
		return err
	}
	pterm.Success.Println("Signed in")
	return nil
}
