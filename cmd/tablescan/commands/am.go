package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tablescan/am"
	"github.com/teranos/tablescan/errors"
	"github.com/teranos/tablescan/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage tablescan configuration",
	Long: sym.AM + ` am - Manage tablescan configuration ("I am")

Configuration sources (later overrides earlier):
1. Built-in defaults
2. System config (/etc/tablescan/am.toml)
3. User config (~/.tablescan/am.toml)
4. Project config (./am.toml, searched upwards)
5. Environment variables (TABLESCAN_* prefix)

Examples:
  tablescan am show                 # Show effective configuration
  tablescan am show --format yaml   # Show it as YAML
  tablescan am where                # Show which source set each value
  tablescan am init                 # Write a default ./am.toml
  tablescan am validate             # Validate the effective configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		cfg, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		data, err := am.Encode(cfg, format)
		if err != nil {
			return err
		}
		if format == am.FormatTOML || format == am.FormatYAML {
			fmt.Fprintln(cmd.OutOrStdout(), "# tablescan configuration")
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where each setting is loaded from",
	RunE: func(cmd *cobra.Command, args []string) error {
		data := pterm.TableData{{"KEY", "VALUE", "SOURCE", "FROM"}}
		for _, s := range am.Introspect() {
			value := fmt.Sprintf("%v", s.Value)
			if len(value) > 50 {
				value = value[:47] + "..."
			}
			data = append(data, []string{s.Key, value, string(s.Source), s.SourcePath})
		}
		return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render()
	},
}

var amInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default am.toml",
	Long: `Write the default configuration to ./am.toml, or to --path.

An existing file is left alone unless --force is given; it is then rotated
to .back1 (keeping up to three backups).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		force, _ := cmd.Flags().GetBool("force")
		if err := am.WriteDefault(path, force); err != nil {
			return err
		}
		pterm.Success.Printfln("Wrote default configuration to %s", path)
		return nil
	},
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		pterm.Success.Println("Configuration is valid")
		return nil
	},
}

func init() {
	amShowCmd.Flags().String("format", am.FormatTOML, "Output format: toml, json, yaml")
	amInitCmd.Flags().String("path", am.DefaultConfigFile, "Where to write the configuration")
	amInitCmd.Flags().Bool("force", false, "Overwrite an existing file after backing it up")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
	AmCmd.AddCommand(amValidateCmd)
}
