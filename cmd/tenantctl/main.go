// Copyright 2025 The Tenantd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikelane/tenantd/internal/api"
	"github.com/mikelane/tenantd/internal/credentials"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/provisioner"
)

type options struct {
	server  string
	secret  string
	output  string
	timeout time.Duration
}

func main() {
	// Local .env files may carry TENANTD_URL and the signing secret
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "tenantctl",
		Short:         "Manage tenants through the tenantd API",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "text", "json":
				return nil
			default:
				return fmt.Errorf("invalid --output %q (expected text|json)", opts.output)
			}
		},
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("TENANTD_URL", "http://localhost:8082"), "tenantd API address")
	flags.StringVar(&opts.secret, "signing-secret", os.Getenv("TENANTD_API_SIGNING_SECRET"), "Secret used to sign requests")
	flags.StringVarP(&opts.output, "output", "o", "text", "Output format (text|json)")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Minute, "Request timeout")

	rootCmd.AddCommand(
		newCreateCmd(opts),
		newDeleteCmd(opts),
		newGetCmd(opts),
		newListCmd(opts),
		newRestartCmd(opts),
		newScaleCmd(opts),
		newQuotaCmd(opts),
		newDatabaseCmd(opts),
	)
	return rootCmd
}

func (o *options) client() *api.Client {
	return api.NewClient(o.server, o.secret, nil)
}

func (o *options) withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func newCreateCmd(opts *options) *cobra.Command {
	var (
		req      api.CreateTenantRequest
		database string
	)

	cmd := &cobra.Command{
		Use:   "create TENANT_NAME",
		Short: "Provision a new tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			if database != "" {
				req.Database = &credentials.Credentials{ConnectionString: database}
			}

			ctx, cancel := opts.withTimeout(cmd)
			defer cancel()

			result, err := opts.client().CreateTenant(ctx, req)
			if result != nil {
				if printErr := opts.print(cmd, result, func(w io.Writer) { printResult(w, result) }); printErr != nil {
					return printErr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&req.AppType, "app-type", "", "Application type from the catalog")
	cmd.Flags().StringVar(&req.Quota.CPU, "cpu", "", "CPU quota, e.g. 2 or 500m")
	cmd.Flags().StringVar(&req.Quota.Memory, "memory", "", "Memory quota, e.g. 4Gi or 4GB")
	cmd.Flags().StringVar(&req.CredentialKey, "credential-key", "", "Shared credential key overriding the app type's")
	cmd.Flags().StringVar(&database, "database-url", "", "Connection string of a tenant-owned database")
	_ = cmd.MarkFlagRequired("app-type")
	return cmd
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete TENANT_NAME",
		Short: "Delete a tenant and everything it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.withTimeout(cmd)
			defer cancel()

			result, err := opts.client().DeleteTenant(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd, result, func(w io.Writer) {
				if !result.Existed {
					fmt.Fprintf(w, "tenant %s did not exist; removed %d routing objects\n", result.Tenant, result.Ingresses)
					return
				}
				fmt.Fprintf(w, "deleted tenant %s (%d routing objects)\n", result.Tenant, result.Ingresses)
			})
		},
	}
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get TENANT_NAME",
		Short: "Show tenant details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.withTimeout(cmd)
			defer cancel()

			tenant, err := opts.client().GetTenant(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd, tenant, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "Name:\t%s\n", tenant.Name)
				fmt.Fprintf(tw, "App type:\t%s\n", tenant.AppType)
				fmt.Fprintf(tw, "Phase:\t%s\n", tenant.Phase)
				fmt.Fprintf(tw, "URL:\t%s\n", tenant.URL)
				fmt.Fprintf(tw, "Quota:\tcpu=%s memory=%s\n", tenant.Quota.CPU, tenant.Quota.Memory)
				if tenant.Cost != nil {
					fmt.Fprintf(tw, "Cost:\t%s %s/month\n", tenant.Cost.MonthlyCost, tenant.Cost.Currency)
				}
				for _, d := range tenant.Deployments {
					fmt.Fprintf(tw, "Deployment:\t%s %d/%d available (%s)\n", d.Name, d.AvailableReplicas, d.Replicas, d.Image)
				}
				_ = tw.Flush()
			})
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.withTimeout(cmd)
			defer cancel()

			tenants, err := opts.client().ListTenants(ctx)
			if err != nil {
				return err
			}
			return opts.print(cmd, tenants, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tAPP TYPE\tPHASE\tAGE")
				for _, t := range tenants {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.AppType, t.Phase, age(t.CreatedAt))
				}
				_ = tw.Flush()
			})
		},
	}
}

func newRestartCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "restart TENANT_NAME",
		Short: "Restart every deployment of a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.withTimeout(cmd)
			defer cancel()

			result, err := opts.client().RestartTenant(ctx, args[0])
			if err != nil {
				return err
			}
			if err := opts.print(cmd, result, func(w io.Writer) {
				fmt.Fprintf(w, "restarted: %s\n", strings.Join(result.Restarted, ", "))
				for name, msg := range result.Failed {
					fmt.Fprintf(w, "failed: %s: %s\n", name, msg)
				}
			}); err != nil {
				return err
			}
			if len(result.Failed) > 0 {
				return fmt.Errorf("%d deployments failed to restart", len(result.Failed))
			}
			return nil
		},
	}
}

func newScaleCmd(opts *options) *cobra.Command {
	var (
		component string
		replicas  int32
	)

	cmd := &cobra.Command{
		Use:   "scale TENANT_NAME",
		Short: "Set the replica count of a tenant component",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.withTimeout(cmd)
			defer cancel()

			result, err := opts.client().ScaleTenant(ctx, args[0], component, replicas)
			if err != nil {
				return err
			}
			return opts.print(cmd, result, func(w io.Writer) {
				fmt.Fprintf(w, "scaled %s %s to %d replicas\n", result.Tenant, result.Component, result.Replicas)
			})
		},
	}
	cmd.Flags().StringVar(&component, "component", "client", "Component to scale (server|client)")
	cmd.Flags().Int32Var(&replicas, "replicas", 1, "Desired replicas (0-10)")
	return cmd
}

func newQuotaCmd(opts *options) *cobra.Command {
	var quota namespace.Quota

	cmd := &cobra.Command{
		Use:   "quota TENANT_NAME",
		Short: "Replace a tenant's resource quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.withTimeout(cmd)
			defer cancel()

			result, err := opts.client().UpdateQuota(ctx, args[0], quota)
			if err != nil {
				return err
			}
			return opts.print(cmd, result, func(w io.Writer) {
				fmt.Fprintf(w, "quota of %s is now cpu=%s memory=%s\n", result.Tenant, result.Quota.CPU, result.Quota.Memory)
			})
		},
	}
	cmd.Flags().StringVar(&quota.CPU, "cpu", "", "CPU quota")
	cmd.Flags().StringVar(&quota.Memory, "memory", "", "Memory quota")
	cmd.Flags().StringVar(&quota.Pods, "pods", "", "Pod limit")
	return cmd
}

func newDatabaseCmd(opts *options) *cobra.Command {
	var creds credentials.Credentials

	cmd := &cobra.Command{
		Use:   "add-database TENANT_NAME",
		Short: "Store database credentials for a tenant and attach them to its server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.withTimeout(cmd)
			defer cancel()

			result, err := opts.client().AddDatabaseSecret(ctx, args[0], creds)
			if err != nil {
				return err
			}
			return opts.print(cmd, result, func(w io.Writer) {
				fmt.Fprintf(w, "created secret %s (%s)\n", result.SecretName, result.Engine)
			})
		},
	}
	cmd.Flags().StringVar(&creds.ConnectionString, "url", "", "Connection string")
	cmd.Flags().StringVar(&creds.Username, "username", "", "Database user")
	cmd.Flags().StringVar(&creds.Password, "password", "", "Database password")
	cmd.Flags().StringVar(&creds.DatabaseName, "database", "", "Database name")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func (o *options) print(cmd *cobra.Command, v any, text func(io.Writer)) error {
	w := cmd.OutOrStdout()
	if o.output == "json" {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	text(w)
	return nil
}

func printResult(w io.Writer, r *provisioner.Result) {
	for _, s := range r.Steps {
		line := fmt.Sprintf("%-22s %s", s.Step, s.Status)
		if s.Message != "" {
			line += "  " + s.Message
		}
		fmt.Fprintln(w, line)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "\nfailed at %s: %s\n", r.FailedStep, r.Error)
		if r.RolledBack {
			if r.RollbackSucceeded {
				fmt.Fprintln(w, "rollback: completed")
			} else {
				fmt.Fprintf(w, "rollback: incomplete (%s); the tenant is marked Failed for cleanup\n", r.RollbackError)
			}
		}
		return
	}
	fmt.Fprintf(w, "\ntenant %s is %s at %s\n", r.Tenant.Name, r.Tenant.Phase, r.Ingress.URL)
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
