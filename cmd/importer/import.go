package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"unicode/utf8"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	natsadapter "github.com/samirrijal/planb/internal/adapters/nats"
	"github.com/samirrijal/planb/internal/adapters/postgres"
	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/ports"
	"github.com/samirrijal/planb/internal/core/reconcile"
	"github.com/samirrijal/planb/internal/core/usecases"
)

var importOpts struct {
	mode           string
	identifyBy     string
	deleteExisting bool
	delimiter      string
	publish        bool
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import places from a CSV file (or stdin with -)",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	f := importCmd.Flags()
	f.StringVarP(&importOpts.mode, "mode", "m", string(domain.ImportInsert), "insert, update or upsert")
	f.StringVar(&importOpts.identifyBy, "identify-by", string(domain.IdentifyByID), "match key for update/upsert: id, name or coordinates")
	f.BoolVar(&importOpts.deleteExisting, "delete-existing", false, "delete every place before an insert")
	f.StringVarP(&importOpts.delimiter, "delimiter", "d", ";", "field separator")
	f.BoolVar(&importOpts.publish, "publish", true, "announce the import on NATS so API caches are refreshed")
	rootCmd.AddCommand(importCmd)
}

func openInput(name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(name)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	delim, size := utf8.DecodeRuneInString(importOpts.delimiter)
	if size == 0 || size != len(importOpts.delimiter) {
		return fmt.Errorf("delimiter must be a single character, got %q", importOpts.delimiter)
	}

	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	rows, warnings, err := usecases.ParseCSV(in, delim)
	for _, w := range warnings {
		slog.Warn("skipped row", "reason", w)
	}
	if err != nil {
		return err
	}

	db, err := postgres.New(ctx, cfg.Database.DSN(), 4)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	var events ports.EventPublisher
	if importOpts.publish {
		pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable, import will not be announced", "error", err)
		} else {
			defer pub.Close()
			events = pub
		}
	}

	engine := reconcile.New(
		reconcile.WithReference(domain.GeoPoint{Lon: cfg.Map.ReferenceLon, Lat: cfg.Map.ReferenceLat}),
		reconcile.WithMaxDistanceKm(cfg.Map.MaxDistanceKm),
	)
	svc := usecases.NewImportService(postgres.NewPlaceRepo(db), engine, events, nil)

	importCfg := domain.ImportConfig{
		Mode:           domain.ImportMode(importOpts.mode),
		IdentifyBy:     domain.IdentifyBy(importOpts.identifyBy),
		DeleteExisting: importOpts.deleteExisting,
	}

	res, err := svc.Import(ctx, rows, importCfg, progressFunc(len(rows)))
	if res != nil {
		printResult(cmd.OutOrStdout(), res)
	}
	return err
}

// progressFunc draws a bar when stderr is a terminal.
func progressFunc(total int) usecases.ProgressFunc {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Importing places"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	return func(done, _ int) {
		_ = bar.Set(done)
	}
}

func printResult(w io.Writer, res *domain.ImportResult) {
	fmt.Fprintf(w, "total: %d  inserted: %d  updated: %d  skipped: %d  errors: %d\n",
		res.Total, res.Inserted, res.Updated, res.Skipped, len(res.Errors))
	for _, e := range res.Errors {
		fmt.Fprintln(w, "  "+e)
	}
}
