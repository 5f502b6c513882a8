package main

import (
	"fmt"

	"github.com/goliatone/go-replica/pkg/message"
	"github.com/goliatone/go-replica/settings"
	"github.com/spf13/cobra"
)

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Print the background snapshot or one setting",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			remote, err := fetchState(cmd.Context(), cfg.Hub.URL)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return printJSON(cmd.OutOrStdout(), remote)
			}
			value, ok := remote.State[args[0]]
			if !ok {
				return fmt.Errorf("unknown setting %q", args[0])
			}
			return printJSON(cmd.OutOrStdout(), value)
		},
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set key=value...",
		Short: "Apply a partial update through the background",
		Long: `Send key=value pairs to the background, which applies them and
propagates the result. Values are read as JSON when they parse, so
isBlockMuteEnabled=false sets a boolean and theme=dark a string.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			partial, err := parseAssignments(args)
			if err != nil {
				return err
			}
			resp, err := sendToBackground(cmd.Context(), message.RolePage, message.PartialUpdate{Partial: partial})
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore every setting to its default",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := sendToBackground(cmd.Context(), message.RoleUI, message.PartialUpdate{Partial: settings.DefaultSnapshot()})
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Ask the background to refresh remote selectors now",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := sendToBackground(cmd.Context(), message.RoleUI, message.ManualUpdate{})
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
}

func evalCmd() *cobra.Command {
	var engine string

	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate a rule against the background snapshot",
		Example: `  replicad eval 'isBlockMuteEnabled && themeOverride == "dark"'
  replicad eval --engine cel 'size(selectors) > 0'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := sendToBackground(cmd.Context(), message.RoleUI, message.EvaluateRule{Expr: args[0], Engine: engine})
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVarP(&engine, "engine", "e", "", "Rule engine (expr, cel or js); empty selects the default")

	return cmd
}

func optionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options [highlight]",
		Short: "Ask the background to open the options surface",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := message.OpenOptions{}
			if len(args) == 1 {
				payload.Highlight = args[0]
			}
			resp, err := sendToBackground(cmd.Context(), message.RoleUI, payload)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
}
