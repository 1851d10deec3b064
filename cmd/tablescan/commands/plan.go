package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tablescan/am"
	"github.com/teranos/tablescan/dispatch"
	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/inputjob"
	"github.com/teranos/tablescan/internal/util"
	"github.com/teranos/tablescan/logger"
	"github.com/teranos/tablescan/metastore"
	"github.com/teranos/tablescan/planner"
	"github.com/teranos/tablescan/sym"
)

// PlanCmd resolves a table scan into an input descriptor
var PlanCmd = &cobra.Command{
	Use:   "plan",
	Short: sym.Plan + " Resolve a table scan into an input descriptor",
	Long: sym.Plan + ` plan - resolve a table scan

Looks up the table and the partitions matching --filter in the catalog at
--address (sqlite://<path>) and prints the resolved descriptor. With --submit the descriptor is queued for
the workers, which read one partition per job.

Submitting the same descriptor again while its job is still queued or
running returns the existing job.

Examples:
  tablescan plan --namespace sales_db --table orders --filter "region='US'"
  tablescan plan --table events --format yaml
  tablescan plan --namespace sales_db --table orders --properties 'owner=etl comment="nightly run"' --submit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts, err := planOptionsFromFlags(cmd, cfg)
		if err != nil {
			return err
		}

		jobID, err := runPlan(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if jobID != "" {
			pterm.Success.Printfln("Submitted as job %s", jobID)
			pterm.Info.Println("Run 'tablescan worker' to read the partitions")
		}
		return nil
	},
}

func init() {
	f := PlanCmd.Flags()
	f.String("namespace", "", "Namespace (database) of the table (default from planner.default_namespace)")
	f.String("table", "", "Table to scan")
	f.String("filter", "", "Partition filter, e.g. \"region='US' and dt >= '2024-01-01'\"")
	f.String("address", "", "Catalog address, sqlite://<path> (default from metastore.address)")
	f.String("principal", "", "Metadata service principal, _HOST is expanded from the address (default from metastore.principal)")
	f.String("properties", "", "Extra descriptor properties as shell-quoted key=value pairs")
	f.String("format", "json", "Output format: json, yaml")
	f.Bool("submit", false, "Queue the descriptor for the workers")
}

type planOptions struct {
	request planner.Request
	format  string
	submit  bool
	trace   bool
}

func planOptionsFromFlags(cmd *cobra.Command, cfg *am.Config) (planOptions, error) {
	f := cmd.Flags()
	opts := planOptions{
		request: planner.Request{
			Namespace:          cfg.Planner.DefaultNamespace,
			MetastoreAddress:   cfg.Metastore.Address,
			MetastorePrincipal: cfg.MetastorePrincipal(),
		},
	}
	opts.request.Table, _ = f.GetString("table")
	opts.request.Filter, _ = f.GetString("filter")
	opts.format, _ = f.GetString("format")
	opts.submit, _ = f.GetBool("submit")
	verbosity, _ := f.GetCount("verbose")
	opts.trace = logger.ShouldLogTrace(verbosity)

	if f.Changed("namespace") {
		opts.request.Namespace, _ = f.GetString("namespace")
	}
	if f.Changed("address") {
		opts.request.MetastoreAddress, _ = f.GetString("address")
	}
	if f.Changed("principal") {
		principal, _ := f.GetString("principal")
		opts.request.MetastorePrincipal = nil
		if principal != "" {
			opts.request.MetastorePrincipal = util.Ptr(principal)
		}
	}

	raw, _ := f.GetString("properties")
	props, err := planner.ParseProperties(raw)
	if err != nil {
		return opts, err
	}
	opts.request.Properties = props
	return opts, nil
}

// runPlan resolves opts.request, writes the descriptor to out and, when
// asked to, submits it. It returns the job id of a submitted descriptor.
func runPlan(ctx context.Context, cfg *am.Config, opts planOptions, out io.Writer) (string, error) {
	if err := opts.request.Validate(); err != nil {
		return "", err
	}
	catalog, closeCatalog, err := metastore.OpenCatalog(opts.request.MetastoreAddress, logger.Logger)
	if err != nil {
		return "", err
	}
	defer closeCatalog()

	database, err := openDatabase(cfg)
	if err != nil {
		return "", err
	}
	defer database.Close()

	resolver := inputjob.NewResolver(catalog,
		inputjob.WithAddress(opts.request.MetastoreAddress),
		inputjob.WithLogger(logger.Logger),
		inputjob.WithRateLimit(cfg.Metastore.RequestsPerSecond, cfg.Metastore.Burst),
		inputjob.WithMaxPartitions(cfg.Metastore.MaxPartitions),
	)
	p := planner.New(resolver, dispatch.NewQueue(database), logger.Logger)

	d, err := p.Plan(ctx, opts.request)
	if err != nil {
		return "", err
	}

	data, err := encodeDescriptor(d, opts.format)
	if err != nil {
		return "", err
	}
	if opts.trace {
		logger.Debugw("Encoded descriptor", logger.FieldSize, len(data), "payload", string(data))
	}
	if _, err := out.Write(data); err != nil {
		return "", err
	}

	if !opts.submit {
		return "", nil
	}
	return p.Submit(ctx, d)
}

func encodeDescriptor(d *inputjob.Descriptor, format string) ([]byte, error) {
	switch format {
	case "json", "":
		raw, err := inputjob.Marshal(d)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return nil, errors.Wrap(err, "failed to indent descriptor")
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	case "yaml":
		return inputjob.EncodeYAML(d)
	default:
		return nil, errors.WithHint(errors.NewInvalidRequestError("unknown output format %q", format),
			"use json or yaml")
	}
}
