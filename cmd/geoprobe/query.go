package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xiaopang/geoprobe/internal/model"
)

func newQueryCommand(configPath *string) *cobra.Command {
	var (
		provider string
		thinking bool
		noSearch bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "query <prompt>",
		Short: "Send one prompt to a platform and print the parsed answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.platform(provider)
			if err != nil {
				return err
			}
			params := model.NewTextParams(strings.Join(args, " "))
			params.EnableThinking = thinking
			params.EnableSearch = !noSearch

			result, err := p.Call(ctx, params)
			if err != nil {
				return err
			}
			if asJSON {
				result.RawResponse = ""
				enc := json.NewEncoder(os.Stdout)
				enc.SetEscapeHTML(false)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printResult(result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "platform name (deepseek, doubao)")
	cmd.Flags().BoolVar(&thinking, "thinking", false, "enable deep thinking")
	cmd.Flags().BoolVar(&noSearch, "no-search", false, "disable web search")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func printResult(r *model.CallResult) {
	if r.Reasoning != "" {
		fmt.Printf("--- reasoning ---\n%s\n\n", r.Reasoning)
	}
	fmt.Printf("--- answer ---\n%s\n", r.Content)

	if len(r.Sources) > 0 {
		fmt.Printf("\n--- sources (%d) ---\n", len(r.Sources))
		for i, s := range r.Sources {
			fmt.Printf("[%d] %s\n    %s\n", i+1, s.Title, s.URL)
		}
	}
	if len(r.Rankings) > 0 {
		fmt.Printf("\n--- rankings ---\n")
		for _, rk := range r.Rankings {
			fmt.Printf("%d. %s", rk.Rank, rk.Name)
			if len(rk.Sources) > 0 {
				fmt.Printf(" (%d sources)", len(rk.Sources))
			}
			fmt.Println()
		}
	}
}
