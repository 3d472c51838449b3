package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/config"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"

	"github.com/spf13/cobra"
)

const probeTimeout = 15 * time.Second

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check Telegram and model provider connectivity",
		Long:  "Verifies the bot token with getMe and the API key with the provider's model list. Reports pass/fail for each check.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			defer cancel()

			failed := 0
			out := cmd.OutOrStdout()

			if err := config.RequireCredentials(cfg, true, false); err != nil {
				printFail(out, "Telegram", err.Error())
				failed++
			} else if tg, err := newTelegram(cfg); err != nil {
				printFail(out, "Telegram", err.Error())
				failed++
			} else if err := tg.Probe(ctx); err != nil {
				printFail(out, "Telegram", err.Error())
				failed++
			} else {
				printPass(out, "Telegram", "getMe ok")
			}

			if err := config.RequireCredentials(cfg, false, true); err != nil {
				printFail(out, "Provider", err.Error())
				failed++
			} else {
				an := newAnalyzer(cfg)
				if err := an.Healthy(ctx); err != nil {
					printFail(out, "Provider", err.Error())
					failed++
				} else {
					printPass(out, "Provider", an.Model())
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func printPass(w io.Writer, name, detail string) {
	fmt.Fprintf(w, "  ✓ %-12s %s\n", name, detail)
}

func printFail(w io.Writer, name, detail string) {
	fmt.Fprintf(w, "  ✗ %-12s %s\n", name, detail)
}

func analyzeCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "analyze [image]",
		Short: "Analyze a chart image file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.RequireCredentials(cfg, false, true); err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			text, err := newAnalyzer(cfg).Analyze(cmd.Context(), domain.AnalysisRequest{DisplayName: name, Image: data})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "cli", "display name used for attribution")
	return cmd
}
