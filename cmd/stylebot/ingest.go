package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/stylebot/ai/catalog"
	"github.com/hrygo/stylebot/ai/vector"
	"github.com/hrygo/stylebot/server"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <catalog-dir>",
	Short: "Embed and index the product and policy YAML files in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		instanceProfile := loadProfile()
		ctx := context.Background()

		records, err := catalog.NewLoader(args[0]).LoadDir()
		if err != nil {
			return errors.Wrap(err, "failed to load catalog")
		}
		if len(records) == 0 {
			fmt.Println("No catalog records found")
			return nil
		}

		storeInstance, err := openStore(ctx, instanceProfile)
		if err != nil {
			return err
		}
		defer storeInstance.Close()

		embedder, err := server.NewEmbedder(instanceProfile)
		if err != nil {
			return err
		}
		embedConfig := embedder.Config()
		if err := embedConfig.Validate(); err != nil {
			return errors.Wrap(err, "cannot embed the catalog")
		}
		vectors := vector.NewStore(
			vector.NewStoreIndex(storeInstance, embedder.Config().Model),
			embedder,
			vector.DefaultConfig(),
		)

		upserted, err := vectors.Upsert(ctx, records)
		slog.Info("catalog ingested", "records", len(records), "upserted", upserted)
		if err != nil {
			return errors.Wrapf(err, "indexed %d of %d records", upserted, len(records))
		}
		fmt.Printf("Indexed %d records. Flush the semantic cache of running servers with DELETE /api/v1/cache.\n", upserted)
		return nil
	},
}
