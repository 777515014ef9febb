package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/verity-labs/docvox/internal/config"
	"github.com/verity-labs/docvox/internal/database"
	"github.com/verity-labs/docvox/internal/repository"
	"github.com/verity-labs/docvox/internal/service"
)

func WebsiteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "website",
		Short: "Manage websites",
		Long:  "Register, list, and remove tenant websites",
	}

	cmd.AddCommand(WebsiteCreateCmd())
	cmd.AddCommand(WebsiteListCmd())
	cmd.AddCommand(WebsiteDeleteCmd())

	return cmd
}

func WebsiteCreateCmd() *cobra.Command {
	var siteDomain string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a new website",
		Long:  "Register a website and print its widget public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runWebsiteCreate(args[0], siteDomain, outputFormat)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.Flags().StringVarP(&siteDomain, "domain", "d", "", "Domain the chat widget will be embedded on")
	_ = cmd.MarkFlagRequired("domain")

	return cmd
}

func runWebsiteCreate(name, siteDomain, outputFormat string) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	websiteRepo := repository.NewWebsiteRepository(pool)
	websiteSvc := service.NewWebsiteService(websiteRepo, &service.DefaultUUIDGenerator{})

	website, err := websiteSvc.Create(ctx, name, siteDomain)
	if err != nil {
		return fmt.Errorf("failed to create website: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"id":         website.ID,
			"name":       website.Name,
			"domain":     website.Domain,
			"public_key": website.PublicKey,
			"created_at": website.CreatedAt,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Website created: %s (%s)\n", website.Name, website.ID)
		fmt.Printf("Domain:     %s\n", website.Domain)
		fmt.Printf("Public key: %s\n", website.PublicKey)
	}

	return nil
}

func WebsiteListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all websites",
		Long:  "List all registered websites",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runWebsiteList(outputFormat)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runWebsiteList(outputFormat string) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	websiteRepo := repository.NewWebsiteRepository(pool)

	websites, err := websiteRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list websites: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(websites))
		for i, w := range websites {
			data[i] = map[string]interface{}{
				"id":         w.ID,
				"name":       w.Name,
				"domain":     w.Domain,
				"public_key": w.PublicKey,
				"created_at": w.CreatedAt,
			}
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		if len(websites) == 0 {
			fmt.Println("No websites found")
			return nil
		}
		fmt.Println("Websites:")
		for _, w := range websites {
			fmt.Printf("  %s  %s  %s\n", w.ID, w.Domain, w.Name)
		}
	}

	return nil
}

func WebsiteDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a website",
		Long:  "Delete a website and all of its documents, chunks, and chats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWebsiteDelete(args[0])
		},
	}
}

func runWebsiteDelete(id string) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	websiteRepo := repository.NewWebsiteRepository(pool)
	websiteSvc := service.NewWebsiteService(websiteRepo, &service.DefaultUUIDGenerator{})

	if err := websiteSvc.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete website: %w", err)
	}

	fmt.Printf("Website deleted: %s\n", id)
	return nil
}

func getDBPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}
