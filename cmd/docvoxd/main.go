package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/verity-labs/docvox/internal/cli"
	"github.com/verity-labs/docvox/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docvoxd",
		Short: "Docvox daemon and admin CLI",
		Long:  "Docvox daemon for running the chat API server and managing tenant websites",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.WebsiteCmd())
	rootCmd.AddCommand(admin.APIKeyCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
