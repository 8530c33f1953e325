package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaopang/geoprobe/internal/core"
)

func newAccountsCommand(configPath *string) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List configured accounts and their status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			names := a.registry.Names()
			if provider != "" {
				names = []string{provider}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tACCOUNT\tSTATUS\tTOKEN\tLAST USED\tERRORS")
			for _, name := range names {
				p, err := a.platform(name)
				if err != nil {
					return err
				}
				for _, acc := range p.Pool.List() {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
						name,
						acc.ID,
						acc.Status,
						maskToken(acc.Token),
						formatTime(acc.LastUsed),
						acc.ErrorCount,
					)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "only show accounts of this platform")
	cmd.AddCommand(newAccountsLoginCommand(configPath))
	return cmd
}

func newAccountsLoginCommand(configPath *string) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "login <account-id>",
		Short: "Log an account in and persist its token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.platform(provider)
			if err != nil {
				return err
			}
			acc, ok := p.Pool.Get(args[0])
			if !ok {
				return fmt.Errorf("account %s not found in %s", args[0], p.Name)
			}
			auth := p.Provider.Authenticator()
			if auth.NeedsManualLogin() {
				return fmt.Errorf("%s requires manual login, use the admin API", p.Name)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			token, err := auth.Login(ctx, acc)
			if err != nil {
				return err
			}
			p.Pool.SetToken(acc, token)
			fmt.Printf("%s/%s logged in\n", p.Name, acc.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "platform name")
	return cmd
}

func maskToken(token string) string {
	if token == "" {
		return "-"
	}
	return core.MaskSecret(token)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
