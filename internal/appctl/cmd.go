package appctl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "APPCTL"

// NewRootCommand builds the appctl command tree. Settings come from flags, then
// APPCTL_* environment variables, then ~/.appctl.yaml.
func NewRootCommand(out io.Writer) *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "appctl",
		Short:         "appctl - AppController operator CLI",
		Long:          `appctl talks to one node agent of an AppScale deployment`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v, cmd)
		},
	}
	rootCmd.SetOut(out)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file (default $HOME/.appctl.yaml)")
	rootCmd.PersistentFlags().String("server", "localhost:17443", "Controller address")
	rootCmd.PersistentFlags().String("secret", "", "Deployment secret")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "Request timeout")
	for _, name := range []string{"server", "secret", "timeout"} {
		_ = v.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	client := func() *Client {
		return NewClient(v.GetString("server"), v.GetString("secret"), v.GetDuration("timeout"))
	}

	rootCmd.AddCommand(statusCmd(client))
	rootCmd.AddCommand(roleInfoCmd(client))
	rootCmd.AddCommand(publicIPsCmd(client))
	rootCmd.AddCommand(doneCmd(client))
	rootCmd.AddCommand(addRoleCmd(client))
	rootCmd.AddCommand(removeRoleCmd(client))
	rootCmd.AddCommand(killCmd(client))
	rootCmd.AddCommand(setParametersCmd(client))

	return rootCmd
}

func loadConfig(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		v.SetConfigFile(filepath.Join(home, ".appctl.yaml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if path, _ := cmd.Flags().GetString("config"); path == "" {
				return nil
			}
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the node's status record",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().Status()
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func roleInfoCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "role-info",
		Short: "List every node and its roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := client().RoleInfo()
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", rec.PublicIP, rec.PrivateIP, strings.Join(rec.Jobs, ","))
			}
			return nil
		},
	}
}

func publicIPsCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "public-ips",
		Short: "List the deployment's public addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			ips, err := client().PublicIPs()
			if err != nil {
				return err
			}
			for _, ip := range ips {
				fmt.Fprintln(cmd.OutOrStdout(), ip)
			}
			return nil
		},
	}
}

func doneCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "done",
		Short: "Report whether the node finished applying its roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			done, err := client().Done()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), done)
			return nil
		},
	}
}

func addRoleCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "add-role <role>",
		Short: "Assign a role to the node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().AddRole(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func removeRoleCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-role <role>",
		Short: "Remove a role from the node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().RemoveRole(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func killCmd(client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "kill",
		Short: "Stop the node agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Kill(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func setParametersCmd(client func() *Client) *cobra.Command {
	var (
		locations   []string
		credentials []string
		appNames    []string
	)
	cmd := &cobra.Command{
		Use:   "set-parameters",
		Short: "Register the deployment on the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().SetParameters(locations, credentials, appNames); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&locations, "location", nil, "Node role string, repeat per node")
	cmd.Flags().StringSliceVar(&credentials, "credentials", nil, "Flat key,value credential list")
	cmd.Flags().StringSliceVar(&appNames, "apps", nil, "Application names")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}
