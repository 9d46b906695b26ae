package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/facematch"
)

var descriptorsCmd = &cobra.Command{
	Use:   "descriptors",
	Short: "Manage the stored face descriptors of a user",
}

var descriptorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored descriptors grouped by label",
	RunE:  runDescriptorsList,
}

var descriptorsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete descriptors by id",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDescriptorsDelete,
}

var descriptorsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every descriptor of the user",
	RunE:  runDescriptorsClear,
}

func init() {
	rootCmd.AddCommand(descriptorsCmd)
	descriptorsCmd.AddCommand(descriptorsListCmd, descriptorsDeleteCmd, descriptorsClearCmd)

	descriptorsCmd.PersistentFlags().String("email", "", "Account whose descriptors are managed (required)")
	_ = descriptorsCmd.MarkPersistentFlagRequired("email")
	descriptorsListCmd.Flags().Bool("ids", false, "Print every descriptor id")
	descriptorsClearCmd.Flags().Bool("yes", false, "Do not ask for confirmation")
}

func runDescriptorsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, user, store, err := openUserStore(ctx, mustGetString(cmd, "email"))
	if err != nil {
		return err
	}
	defer closeStorage()

	descs, err := store.List(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to list descriptors: %w", err)
	}
	if len(descs) == 0 {
		fmt.Printf("No descriptors stored for %s\n", user.Email)
		return nil
	}

	showIDs := mustGetBool(cmd, "ids")

	fmt.Printf("%d descriptors for %s:\n", len(descs), user.Email)
	for _, g := range database.GroupByLabel(descs) {
		fmt.Printf("  %-30s %d\n", g.Label, len(g.Descriptors))
		if !showIDs {
			continue
		}
		for _, d := range descs {
			if facematch.NormalizeLabel(d.Label) == facematch.NormalizeLabel(g.Label) {
				fmt.Printf("    %s  %s  %s\n", d.ID, d.Model, d.CreatedAt.Format("2006-01-02 15:04"))
			}
		}
	}
	return nil
}

func runDescriptorsDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, user, store, err := openUserStore(ctx, mustGetString(cmd, "email"))
	if err != nil {
		return err
	}
	defer closeStorage()

	var failed int
	for _, id := range args {
		if err := store.Delete(ctx, user.ID, id); err != nil {
			fmt.Printf("  %s: %v\n", id, err)
			failed++
			continue
		}
		fmt.Printf("  %s: deleted\n", id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d descriptors could not be deleted", failed, len(args))
	}
	return nil
}

func runDescriptorsClear(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, user, store, err := openUserStore(ctx, mustGetString(cmd, "email"))
	if err != nil {
		return err
	}
	defer closeStorage()

	count, err := store.Count(ctx, user.ID)
	if err != nil {
		return err
	}
	if count == 0 {
		fmt.Printf("No descriptors stored for %s\n", user.Email)
		return nil
	}
	if !mustGetBool(cmd, "yes") {
		fmt.Printf("Delete all %d descriptors of %s? [y/N] ", count, user.Email)
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	n, err := store.DeleteAll(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to delete descriptors: %w", err)
	}
	fmt.Printf("Deleted %d descriptors\n", n)
	return nil
}
