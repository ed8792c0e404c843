package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"datamarket/config"
	"datamarket/internal/adapter/storage/filestore"
	pgStorage "datamarket/internal/adapter/storage/postgres"
	"datamarket/internal/core/domain"
	"datamarket/internal/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type datasetAddOptions struct {
	owner       string
	name        string
	description string
	file        string
	price       int64
}

func newDatasetCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Manage listed datasets",
	}
	cmd.AddCommand(newDatasetAddCmd(opts))
	return cmd
}

func newDatasetAddCmd(opts *rootOptions) *cobra.Command {
	var o datasetAddOptions

	cmd := &cobra.Command{
		Use:   "add",
		Short: "List a file from the file store as a dataset",
		Long: `add hashes a file under storage.file_root and records it as a dataset
owned by a registered provider. The printed checksum is the value to anchor
in the purchase transaction's metadata.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDatasetAdd(cmd, opts, o)
		},
	}

	cmd.Flags().StringVar(&o.owner, "owner", "", "wallet address of the providing user")
	cmd.Flags().StringVar(&o.name, "name", "", "dataset name")
	cmd.Flags().StringVar(&o.description, "description", "", "dataset description")
	cmd.Flags().StringVar(&o.file, "file", "", "path of the file relative to storage.file_root")
	cmd.Flags().Int64Var(&o.price, "price", 0, "price in lovelace")
	for _, f := range []string{"owner", "name", "file"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func runDatasetAdd(cmd *cobra.Command, opts *rootOptions, o datasetAddOptions) error {
	if o.price < 0 {
		return errors.New("price must not be negative")
	}

	cfg, log, err := opts.load(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		return errNeedsPostgres
	}

	ctx := cmd.Context()
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	users := pgStorage.NewUserRepo(pool)
	owner, err := users.GetByWalletAddress(ctx, o.owner)
	if err != nil {
		return err
	}
	if owner == nil {
		return fmt.Errorf("no user owns wallet %s", o.owner)
	}
	if !owner.IsProvider() {
		return fmt.Errorf("user %s is not a provider", owner.ID)
	}

	files := filestore.NewOS(cfg.Storage.FileRoot)
	body, size, err := files.Open(ctx, o.file)
	if err != nil {
		return fmt.Errorf("opening %s: %w", o.file, err)
	}
	defer body.Close()

	datasets := pgStorage.NewDatasetRepo(pool)
	integrity := service.NewIntegrityService(nil, datasets, nil, files, nil, service.DefaultMetadataLayout, log)

	var records recordCounter
	checksum, err := integrity.ComputeChecksum(io.TeeReader(body, &records))
	if err != nil {
		return fmt.Errorf("hashing %s: %w", o.file, err)
	}

	ds := &domain.Dataset{
		ID:          uuid.New(),
		OwnerID:     owner.ID,
		Name:        o.name,
		Description: o.description,
		Checksum:    checksum,
		FilePath:    o.file,
		FileSize:    size,
		RecordCount: records.count(),
		Price:       o.price,
		CreatedAt:   time.Now().UTC(),
	}
	if err := datasets.Create(ctx, ds); err != nil {
		return err
	}

	log.Info().
		Str("dataset_id", ds.ID.String()).
		Str("checksum", checksum).
		Int64("records", ds.RecordCount).
		Msg("Dataset listed")
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ds.ID, checksum)
	return nil
}

// recordCounter counts newline-terminated records, plus a final
// unterminated one.
type recordCounter struct {
	lines   int64
	partial bool
}

func (r *recordCounter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r.lines += int64(bytes.Count(p, []byte{'\n'}))
	r.partial = p[len(p)-1] != '\n'
	return len(p), nil
}

func (r *recordCounter) count() int64 {
	if r.partial {
		return r.lines + 1
	}
	return r.lines
}
