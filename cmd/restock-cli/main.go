package main

import (
	"context"

	"restock-monitor/cmd/restock-cli/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
