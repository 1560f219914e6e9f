package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var subsCmd = &cobra.Command{
	Use:   "subs",
	Short: "Manage restock alert subscriptions.",
}

var subsAddCmd = &cobra.Command{
	Use:   "add <subscriber> [product]",
	Short: "Subscribe to a product by id, name or keyword, or to every product.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		product := ""
		if len(args) == 2 {
			product = args[1]
		}
		result, err := monitor.Service.Subscribe(cmd.Context(), args[0], product)
		if err != nil {
			return err
		}
		if !result.Created {
			fmt.Printf("'%s' is already subscribed to '%s'\n", args[0], result.Target)
			return nil
		}
		fmt.Printf("subscribed '%s' to '%s'\n", args[0], result.Target)
		return nil
	},
}

var subsRemoveCmd = &cobra.Command{
	Use:   "remove <subscriber> [product]",
	Short: "Remove one subscription, or all of a subscriber's subscriptions.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		product := ""
		if len(args) == 2 {
			product = args[1]
		}
		removed, err := monitor.Service.Unsubscribe(cmd.Context(), args[0], product)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d subscription(s)\n", removed)
		return nil
	},
}

var subsListCmd = &cobra.Command{
	Use:   "list <subscriber>",
	Short: "List a subscriber's subscriptions.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subscriptions, err := monitor.Service.ListSubscriptions(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Target", "Product", "Orphaned", "Since"})
		for _, sub := range subscriptions {
			name := sub.ProductName
			if sub.Wildcard() {
				name = "(every product)"
			}
			t.AppendRow(table.Row{sub.Target, name, sub.Orphaned, formatTime(sub.CreatedAt)})
		}
		t.Render()
		return nil
	},
}

var subsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete subscriptions to products that were removed.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := monitor.Service.PruneOrphanedSubscriptions(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d subscription(s)\n", count)
		return nil
	},
}

func init() {
	subsCmd.AddCommand(subsAddCmd, subsRemoveCmd, subsListCmd, subsPruneCmd)
	rootCmd.AddCommand(subsCmd)
}
