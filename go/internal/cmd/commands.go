package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/shifter/go/internal/shift/events"
	"github.com/mcdev12/shifter/go/internal/shift/participant"
	"github.com/mcdev12/shifter/go/internal/shift/settings"
	"github.com/mcdev12/shifter/go/internal/shift/status"
	"github.com/mcdev12/shifter/go/internal/shift/transport"
)

const commandTimeout = 5 * time.Second

// Set with -ldflags at build time
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// NewRootCmd builds the shifter command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "shifter",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Shared color theme and font family shift interval",
		Long: `shifter keeps one shift interval per server id across every editor window.
The first window to run becomes the coordinator; the others follow it and
take over when it exits.`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			debug, _ := cmd.Flags().GetBool("debug")
			setupLogging(getEnv("LOG_LEVEL", "info"), debug)
		},
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				log.Error().Err(err).Msg("failed to display help")
			}
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("settings", "", "Settings file (default $SHIFTER_SETTINGS or shifter.yaml)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newControlCmd("start", "Start or resume the shift interval", (*participant.Participant).StartShiftInterval))
	rootCmd.AddCommand(newControlCmd("pause", "Pause the shift interval", (*participant.Participant).PauseShiftInterval))
	rootCmd.AddCommand(newControlCmd("reset", "Restart both shift timers from now", (*participant.Participant).ResetShiftInterval))
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func configFor(cmd *cobra.Command) (*Config, *settings.File, error) {
	path, err := cmd.Flags().GetString("settings")
	if err != nil {
		return nil, nil, err
	}
	return loadConfig(path)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Join the shift interval and keep it running until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, file, err := configFor(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, file)
		},
	}
}

// newControlCmd builds a one-shot command that joins as a participant,
// issues fn and leaves
func newControlCmd(use, short string, fn func(*participant.Participant, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := configFor(cmd)
			if err != nil {
				return err
			}

			return withParticipant(cmd.Context(), cfg, func(ctx context.Context, p *participant.Participant) error {
				if err := fn(p, ctx); err != nil {
					return fmt.Errorf("%s failed: %w", use, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), statusText(p.LastUpdateStatusMessage()))
				return nil
			})
		},
	}
}

type statusOutput struct {
	ServerID  string           `json:"server_id"`
	Text      string           `json:"text"`
	Remaining status.Remaining `json:"remaining"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the shared status bar text",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, file, err := configFor(cmd)
			if err != nil {
				return err
			}
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}

			return withParticipant(cmd.Context(), cfg, func(ctx context.Context, p *participant.Participant) error {
				st := p.LastUpdateStatusMessage()
				if format != "json" {
					fmt.Fprintln(cmd.OutOrStdout(), statusText(st))
					return nil
				}

				out := statusOutput{
					ServerID:  cfg.ServerID,
					Text:      st.Text,
					Remaining: status.RemainingTime(time.Now(), st, file.ColorThemeInterval(), file.FontFamilyInterval()),
				}
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format status: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{
				Version:   version,
				Commit:    commit,
				BuildDate: buildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}

			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "shifter %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return nil
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}

func withParticipant(ctx context.Context, cfg *Config, fn func(context.Context, *participant.Participant) error) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout+commandTimeout)
	defer cancel()

	p, err := participant.Connect(ctx, participant.Options{
		ConnectionOptions: events.ConnectionOptions{
			ServerID: cfg.ServerID,
			Address:  cfg.Address(),
		},
		ConnectTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		if errors.Is(err, transport.ErrConnectionRefused) {
			return fmt.Errorf("no shift interval is running for %q", cfg.ServerID)
		}
		return err
	}
	defer func() {
		if err := p.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to leave shift interval")
		}
	}()

	return fn(ctx, p)
}

func statusText(st events.UpdateStatus) string {
	if st.Text == "" {
		return "shift interval not started"
	}
	return st.Text
}
