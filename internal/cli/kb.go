package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbflow/kbflow/internal/client"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage knowledge bases",
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all knowledge bases",
	RunE:  runKBList,
}

var kbShowCmd = &cobra.Command{
	Use:   "show <kb-id>",
	Short: "Show a knowledge base and its versions",
	Args:  cobra.ExactArgs(1),
	RunE:  runKBShow,
}

var (
	kbCreateDescription string

	kbCreateCmd = &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE:  runKBCreate,
	}
)

func init() {
	kbCreateCmd.Flags().StringVarP(&kbCreateDescription, "description", "d", "", "description of the knowledge base")

	kbCmd.AddCommand(kbListCmd)
	kbCmd.AddCommand(kbShowCmd)
	kbCmd.AddCommand(kbCreateCmd)
	rootCmd.AddCommand(kbCmd)
}

func runKBList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	kbs, err := apiClient.ListKnowledgeBases(ctx)
	if err != nil {
		return fmt.Errorf("list knowledge bases: %w", err)
	}

	if len(kbs) == 0 {
		fmt.Println("No knowledge bases found")
		return nil
	}

	fmt.Printf("%-38s %-24s %-12s %s\n", "ID", "NAME", "CREATED", "DESCRIPTION")
	fmt.Println("--------------------------------------------------------------------------------------------")
	for _, kb := range kbs {
		fmt.Printf("%-38s %-24s %-12s %s\n", kb.ID, kb.Name, kb.CreatedAt.Format("2006-01-02"), kb.Description)
	}

	return nil
}

func runKBShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	kb, err := apiClient.GetKnowledgeBase(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get knowledge base: %w", err)
	}
	store.SelectKnowledgeBase(kb)

	fmt.Printf("Knowledge base: %s\n", kb.Name)
	fmt.Printf("  ID: %s\n", kb.ID)
	if kb.Description != "" {
		fmt.Printf("  Description: %s\n", kb.Description)
	}
	fmt.Printf("  Created: %s\n", kb.CreatedAt.Format(time.RFC3339))

	versions, err := apiClient.ListVersions(ctx, kb.ID)
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}

	if len(versions) == 0 {
		fmt.Println("\nNo versions yet")
		return nil
	}

	fmt.Printf("\n%-38s %-12s %-8s %-8s %s\n", "VERSION", "STATUS", "FILES", "INDEXED", "CREATED")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, v := range versions {
		fmt.Printf("%-38s %-12s %-8d %-8d %s\n",
			v.ID, v.Status, v.FileCount, v.IndexedCount, v.CreatedAt.Format("2006-01-02 15:04"))
	}

	return nil
}

func runKBCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	kb, err := apiClient.CreateKnowledgeBase(ctx, client.CreateKnowledgeBaseInput{
		Name:        args[0],
		Description: kbCreateDescription,
	})
	if err != nil {
		return fmt.Errorf("create knowledge base: %w", err)
	}

	fmt.Printf("Created knowledge base %s (%s)\n", kb.Name, kb.ID)
	return nil
}
