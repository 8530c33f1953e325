package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xiaopang/geoprobe/internal/config"
	"github.com/xiaopang/geoprobe/internal/crawler"
	"github.com/xiaopang/geoprobe/internal/model"
)

func newCrawlCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run keyword batches against a platform",
		Long:  "Create crawl jobs, run or resume them, and export results and brand statistics.",
	}

	cmd.AddCommand(newCrawlNewCommand(configPath))
	cmd.AddCommand(newCrawlEditCommand(configPath))
	cmd.AddCommand(newCrawlListCommand(configPath))
	cmd.AddCommand(newCrawlRunCommand(configPath, "resume", "Resume the latest run, skipping keywords that already have results"))
	cmd.AddCommand(newCrawlRunCommand(configPath, "rerun", "Start a fresh run over all keywords"))
	cmd.AddCommand(newCrawlExportCommand(configPath))
	cmd.AddCommand(newCrawlStatsCommand(configPath))
	cmd.AddCommand(newCrawlEndCommand(configPath))
	return cmd
}

// withCrawler 打开运行时组件并构造任务管理器
func withCrawler(ctx context.Context, configPath string, fn func(a *app, m *crawler.Manager) error) error {
	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a, crawler.NewManager(a.store, a.cfg.Crawler.JobsDir))
}

func newEngine(a *app, m *crawler.Manager, job *model.Job) (*crawler.Engine, error) {
	p, err := a.platform(job.Provider)
	if err != nil {
		return nil, err
	}
	cc := a.cfg.Crawler
	return crawler.NewEngine(p, m, config.Duration(cc.NoAccountBackoff), cc.ProgressEvery, crawler.WithRunLogs()), nil
}

func newCrawlNewCommand(configPath *string) *cobra.Command {
	var (
		keywordsFile string
		keywords     []string
		target       string
		provider     string
		start        bool
	)

	cmd := &cobra.Command{
		Use:   "new <job>",
		Short: "Create a crawl job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kws, err := collectKeywords(keywordsFile, keywords)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withCrawler(ctx, *configPath, func(a *app, m *crawler.Manager) error {
				if provider == "" {
					p, err := a.platform("")
					if err != nil {
						return err
					}
					provider = p.Name
				}
				job, err := m.CreateJob(args[0], kws, target, provider)
				if err != nil {
					return err
				}
				fmt.Printf("job %s created with %d keywords (provider: %s)\n", job.Name, job.TotalKeywords(), job.Provider)
				if !start {
					return nil
				}
				engine, err := newEngine(a, m, job)
				if err != nil {
					return err
				}
				run, err := engine.Start(ctx, job.Name)
				printRun(run)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&keywordsFile, "file", "f", "", "file with one keyword per line")
	cmd.Flags().StringArrayVarP(&keywords, "keyword", "k", nil, "keyword (repeatable)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "target product to highlight in statistics")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "platform name")
	cmd.Flags().BoolVar(&start, "start", false, "start the first run right away")
	return cmd
}

func newCrawlEditCommand(configPath *string) *cobra.Command {
	var (
		keywordsFile string
		keywords     []string
		target       string
	)

	cmd := &cobra.Command{
		Use:   "edit <job>",
		Short: "Replace a job's keywords or target product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kws, err := collectKeywords(keywordsFile, keywords)
			if err != nil {
				return err
			}
			return withCrawler(cmd.Context(), *configPath, func(_ *app, m *crawler.Manager) error {
				job, err := m.EditJob(args[0], kws, target)
				if err != nil {
					return err
				}
				fmt.Printf("job %s: %d keywords, target %q\n", job.Name, job.TotalKeywords(), job.TargetProduct)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&keywordsFile, "file", "f", "", "file with one keyword per line")
	cmd.Flags().StringArrayVarP(&keywords, "keyword", "k", nil, "keyword (repeatable)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "target product")
	return cmd
}

func newCrawlListCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List crawl jobs and their latest run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCrawler(cmd.Context(), *configPath, func(_ *app, m *crawler.Manager) error {
				names, err := m.ListJobs()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "JOB\tPROVIDER\tKEYWORDS\tLATEST RUN\tSTATUS\tPROCESSED\tFAILED")
				for _, name := range names {
					job, err := m.LoadJob(name)
					if err != nil {
						return err
					}
					run := job.LatestRun()
					if run == nil {
						fmt.Fprintf(w, "%s\t%s\t%d\t-\t-\t-\t-\n", job.Name, job.Provider, job.TotalKeywords())
						continue
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\t%d\n",
						job.Name, job.Provider, job.TotalKeywords(),
						run.ID, run.Status, run.ProcessedKeywords, run.FailedKeywords)
				}
				return w.Flush()
			})
		},
	}
}

func newCrawlRunCommand(configPath *string, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Ctrl+C 暂停运行，之后可以 resume
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withCrawler(ctx, *configPath, func(a *app, m *crawler.Manager) error {
				job, err := m.LoadJob(args[0])
				if err != nil {
					return err
				}
				engine, err := newEngine(a, m, job)
				if err != nil {
					return err
				}
				var run *model.Run
				if use == "resume" {
					run, err = engine.Resume(ctx, job.Name)
				} else {
					run, err = engine.Rerun(ctx, job.Name)
				}
				printRun(run)
				if errors.Is(err, context.Canceled) {
					fmt.Printf("paused; continue with: geoprobe crawl resume %s\n", job.Name)
					return nil
				}
				return err
			})
		},
	}
}

func newCrawlExportCommand(configPath *string) *cobra.Command {
	var (
		runID  string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <job>",
		Short: "Export run results as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCrawler(cmd.Context(), *configPath, func(_ *app, m *crawler.Manager) error {
				id, err := resolveRun(m, args[0], runID)
				if err != nil {
					return err
				}
				var w io.Writer = os.Stdout
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				n, err := m.Export(w, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "exported %d results from %s\n", n, id)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run id (default: latest run)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func newCrawlStatsCommand(configPath *string) *cobra.Command {
	var (
		runID string
		top   int
	)

	cmd := &cobra.Command{
		Use:   "stats <job>",
		Short: "Show brand statistics of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCrawler(cmd.Context(), *configPath, func(_ *app, m *crawler.Manager) error {
				id, err := resolveRun(m, args[0], runID)
				if err != nil {
					return err
				}
				stats, err := m.Stats(args[0], id)
				if err != nil {
					return err
				}
				if top > 0 && len(stats) > top {
					stats = stats[:top]
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "#\tBRAND\tMENTIONS\tKEYWORDS\tAVG RANK\tBEST RANK")
				for i, st := range stats {
					name := st.Name
					if st.IsTarget {
						name += " *"
					}
					fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%.2f\t%d\n", i+1, name, st.Mentions, st.Keywords, st.AvgRank, st.BestRank)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run id (default: latest run)")
	cmd.Flags().IntVar(&top, "top", 20, "number of brands to show (0 for all)")
	return cmd
}

func newCrawlEndCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "end <job>",
		Short: "Mark the latest run as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCrawler(cmd.Context(), *configPath, func(_ *app, m *crawler.Manager) error {
				run, err := m.EndLatestRun(args[0])
				if err != nil {
					return err
				}
				printRun(run)
				return nil
			})
		},
	}
}

func resolveRun(m *crawler.Manager, jobName, runID string) (string, error) {
	if runID != "" {
		return runID, nil
	}
	_, run, err := m.LatestRun(jobName)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// collectKeywords 合并文件和命令行中的关键词，去重交给 Manager
func collectKeywords(path string, keywords []string) ([]string, error) {
	out := append([]string(nil), keywords...)
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			out = append(out, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if len(out) == 0 {
		return nil, crawler.ErrNoKeywords
	}
	return out, nil
}

func printRun(run *model.Run) {
	if run == nil {
		return
	}
	fmt.Printf("run %s: %s, %d processed, %d failed\n", run.ID, run.Status, run.ProcessedKeywords, run.FailedKeywords)
}
