package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/scanlink/pkg/config"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func newStatusCmd(env *environment) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the paired rig and link settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, env, nil)
			if err != nil {
				return err
			}
			defer a.close()
			cmd.SilenceUsage = true

			report := a.statusReport()
			if asJSON || a.cfg.OutputFormat == config.OutputJSON {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for pair := report.Oldest(); pair != nil; pair = pair.Next() {
				if pair.Key == "accessory" {
					continue
				}
				fmt.Fprintf(w, "%s:\t%v\n", pair.Key, pair.Value)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

// statusReport lists the settings in display order.
func (a *app) statusReport() *orderedmap.OrderedMap[string, any] {
	id, paired := a.registry.CurrentIdentity()

	report := orderedmap.New[string, any]()
	report.Set("paired", paired)
	report.Set("rig", describeIdentity(id))
	if paired {
		acc := orderedmap.New[string, any]()
		acc.Set("id", id.ID)
		acc.Set("name", id.Name)
		report.Set("accessory", acc)
	}
	report.Set("backend", a.backendName())
	report.Set("service_uuid", a.cfg.ServiceUUID)
	report.Set("characteristic_uuid", a.cfg.CharacteristicUUID)
	report.Set("auto_reconnect", a.cfg.AutoReconnect)
	if a.rig != nil {
		report.Set("registry", "memory")
	} else {
		report.Set("registry", a.cfg.RegistryPath)
	}
	return report
}
