package commands

import (
	"fmt"
	"strconv"

	"restock-monitor/internal/service"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Manage monitored products.",
}

var addRequest service.AddProductRequest

var productsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a product to monitor.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := monitor.Service.AddProduct(cmd.Context(), addRequest)
		if err != nil {
			return err
		}
		fmt.Printf("added '%s'\n", id)
		return nil
	},
}

var productsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Stop monitoring a product, its subscriptions are kept until pruned.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := monitor.Service.RemoveProduct(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("removed '%s'\n", args[0])
		return nil
	},
}

var productsToggleCmd = &cobra.Command{
	Use:   "toggle <id> <on|off>",
	Short: "Enable or disable monitoring of a product.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled bool
		switch args[1] {
		case "on":
			enabled = true
		case "off":
			enabled = false
		default:
			return fmt.Errorf("expected 'on' or 'off', got '%s'", args[1])
		}
		return monitor.Service.ToggleProduct(cmd.Context(), args[0], enabled)
	},
}

var productsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every product with its last known status.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		products, err := monitor.Service.ListProducts(cmd.Context())
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"ID", "Name", "Store", "Strategy", "Enabled", "Status", "Last checked", "Last restock", "Failures", "Last error"})
		for _, p := range products {
			t.AppendRow(table.Row{
				p.ID,
				p.Name,
				p.Store,
				p.Strategy,
				p.Enabled,
				p.Status,
				formatTime(p.LastChecked),
				formatTime(p.LastRestock),
				strconv.Itoa(p.ConsecutiveFailures),
				p.LastError,
			})
		}
		t.Render()
		return nil
	},
}

var productsCheckCmd = &cobra.Command{
	Use:   "check [id]",
	Short: "Check one product, or every enabled product, without alerting anyone.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var outcomes []service.CheckOutcome
		if len(args) == 1 {
			result, err := monitor.Service.CheckProduct(cmd.Context(), args[0])
			outcomes = append(outcomes, service.CheckOutcome{
				ProductID: args[0],
				Result:    result,
				Err:       err,
			})
		} else {
			var err error
			outcomes, err = monitor.Service.CheckAllProducts(cmd.Context())
			if err != nil {
				return err
			}
		}

		t := newTable()
		t.AppendHeader(table.Row{"ID", "In stock", "Previous", "Transition", "Error"})
		for _, outcome := range outcomes {
			message := ""
			if outcome.Err != nil {
				message = outcome.Err.Error()
			}
			t.AppendRow(table.Row{
				outcome.ProductID,
				outcome.Result.Observation.InStock,
				outcome.Result.Previous,
				outcome.Result.Transition,
				message,
			})
		}
		t.Render()
		return nil
	},
}

var productsSetStatusCmd = &cobra.Command{
	Use:   "set-status <id> <in_stock|out_of_stock|unknown>",
	Short: "Override the last known status of a product.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return monitor.Service.SetStatus(cmd.Context(), args[0], args[1])
	},
}

var productsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Mark every product out of stock so its next in stock observation alerts.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := monitor.Service.ResetAllStatuses(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("reset %d product(s)\n", count)
		return nil
	},
}

func init() {
	flags := productsAddCmd.Flags()
	flags.StringVar(&addRequest.ID, "id", "", "Product id, derived from the store and name when empty.")
	flags.StringVar(&addRequest.Name, "name", "", "Display name of the product.")
	flags.StringVar(&addRequest.Store, "store", "", "Store selling the product.")
	flags.StringVar(&addRequest.URL, "url", "", "Product page to monitor.")
	flags.StringVar(&addRequest.CheckoutURL, "checkout-url", "", "Link sent in alerts, defaults to the product page.")
	flags.StringVar(&addRequest.Selector, "selector", "", "CSS selector of the stock indicator.")
	flags.StringVar(&addRequest.Marker, "marker", "", "Text (or class/attribute value) that means in stock.")
	flags.StringVar(&addRequest.Strategy, "strategy", "static", "Fetch strategy, static or dynamic.")
	flags.BoolVar(&addRequest.Disabled, "disabled", false, "Add the product without monitoring it.")

	productsCmd.AddCommand(
		productsAddCmd,
		productsRemoveCmd,
		productsToggleCmd,
		productsListCmd,
		productsCheckCmd,
		productsSetStatusCmd,
		productsResetCmd,
	)
	rootCmd.AddCommand(productsCmd)
}
