package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tablescan/am"
	"github.com/teranos/tablescan/inputjob"
	"github.com/teranos/tablescan/logger"
	"github.com/teranos/tablescan/metastore"
	"github.com/teranos/tablescan/sym"
)

// CatalogCmd represents the catalog command
var CatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: sym.Catalog + " Manage the local metastore catalog",
	Long: sym.Catalog + ` catalog - the local metadata service

The catalog holds the namespaces, tables and partitions that plan resolves
descriptors against. It lives in the same database as the job queue.

Examples:
  tablescan catalog seed warehouse.toml                    # Load tables from a seed file
  tablescan catalog tables sales_db                        # List tables in a namespace
  tablescan catalog partitions sales_db orders --filter "region='US'"`,
}

var catalogSeedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Create namespaces, tables and partitions from a TOML seed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		stats, err := runCatalogSeed(cmd.Context(), cfg, args[0])
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Seeded %d namespace(s), %d table(s), %d partition(s)",
			stats.Namespaces, stats.Tables, stats.Partitions)
		return nil
	},
}

var catalogTablesCmd = &cobra.Command{
	Use:   "tables [namespace]",
	Short: "List tables in a namespace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		namespace := cfg.Planner.DefaultNamespace
		if len(args) == 1 {
			namespace = args[0]
		}
		return runCatalogTables(cmd.Context(), cfg, namespace, cmd.OutOrStdout())
	},
}

var catalogPartitionsCmd = &cobra.Command{
	Use:   "partitions <namespace> <table>",
	Short: "List the partitions of a table matching a filter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("filter")
		maxParts, _ := cmd.Flags().GetInt("max")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runCatalogPartitions(cmd.Context(), cfg, args[0], args[1], filter, maxParts, cmd.OutOrStdout())
	},
}

func init() {
	catalogPartitionsCmd.Flags().String("filter", "", "Partition filter, e.g. \"region='US' and dt >= '2024-01-01'\"")
	catalogPartitionsCmd.Flags().Int("max", inputjob.UnlimitedPartitions, "Maximum partitions to list (-1 = all)")

	CatalogCmd.AddCommand(catalogSeedCmd)
	CatalogCmd.AddCommand(catalogTablesCmd)
	CatalogCmd.AddCommand(catalogPartitionsCmd)
}

func openCatalog(cfg *am.Config) (*metastore.Catalog, func(), error) {
	catalog, closeFn, err := metastore.OpenCatalog(cfg.Metastore.Address, logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	return catalog, func() { closeFn() }, nil
}

func runCatalogSeed(ctx context.Context, cfg *am.Config, path string) (metastore.SeedStats, error) {
	seed, err := metastore.LoadSeed(path)
	if err != nil {
		return metastore.SeedStats{}, err
	}
	catalog, closeFn, err := openCatalog(cfg)
	if err != nil {
		return metastore.SeedStats{}, err
	}
	defer closeFn()
	return catalog.ApplySeed(ctx, seed)
}

func runCatalogTables(ctx context.Context, cfg *am.Config, namespace string, out io.Writer) error {
	catalog, closeFn, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	tables, err := catalog.ListTables(ctx, namespace)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		fmt.Fprintf(out, "%s No tables in %s\n", sym.Catalog, inputjob.NormalizeNamespace(namespace))
		return nil
	}

	data := pterm.TableData{{"TABLE", "PARTITION KEYS", "FORMAT", "LOCATION"}}
	for _, t := range tables {
		data = append(data, []string{
			t.QualifiedName(),
			strings.Join(t.PartitionKeyNames(), ","),
			t.StorageFormat.StorageDriver,
			t.Location,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render()
}

func runCatalogPartitions(ctx context.Context, cfg *am.Config, namespace, table, filter string, maxParts int, out io.Writer) error {
	catalog, closeFn, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	info, err := catalog.GetTable(ctx, namespace, table)
	if err != nil {
		return err
	}
	parts, err := catalog.ListPartitions(ctx, namespace, table, filter, maxParts)
	if err != nil {
		return err
	}

	keys := info.PartitionKeyNames()
	data := pterm.TableData{{"PARTITION", "LOCATION", "PROPERTIES"}}
	for _, p := range parts {
		data = append(data, []string{p.Spec(keys), p.Location, formatProperties(p.Properties)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTotal: %d partition(s)\n", len(parts))
	return nil
}

func formatProperties(props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + props[k]
	}
	return strings.Join(pairs, " ")
}
