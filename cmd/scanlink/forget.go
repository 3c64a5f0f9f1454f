package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newForgetCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Forget the paired rig",
		Long: `Removes the stored rig. Commands that connect fail until a new rig is
picked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, env, nil)
			if err != nil {
				return err
			}
			defer a.close()
			cmd.SilenceUsage = true

			out := cmd.OutOrStdout()
			id, ok := a.registry.CurrentIdentity()
			if !ok {
				fmt.Fprintln(out, "No rig paired")
				return nil
			}
			if err := a.registry.Remove(id); err != nil {
				return err
			}
			fmt.Fprintf(out, "Forgot %s\n", id)
			return nil
		},
	}
}
