package main

import "context"

// migrate runs a goose command against the embedded migrations. args[0] is the command.
func (cli *commandLine) migrate(ctx context.Context, args []string) error {
	return migrateFunc(ctx, cli.db, args[0], args[1:]...)
}
