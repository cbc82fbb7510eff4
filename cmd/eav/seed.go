package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/congraphcms/eav-sub001/pkg/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed FILE",
	Short: "Create locales, entity types, attributes and attribute sets from a YAML file",
	Long: `Create the metadata defined in a YAML seed file. Definitions whose code
already exists are skipped, so a seed can be applied repeatedly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := seed.Load(args[0])
		if err != nil {
			return err
		}

		app, shutdown, err := boot(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer shutdown()

		eng, err := app.engine()
		if err != nil {
			return err
		}
		result, err := seed.NewSeeder(eng, app.logger).Apply(cmd.Context(), doc)
		if err != nil {
			return fmt.Errorf("seed failed after %d created: %w", result.Created, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %d, skipped %d\n", result.Created, result.Skipped)
		return nil
	},
}
