package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"reviewscout/internal/model"
	"reviewscout/internal/service"
)

func AnalyzeCmd() *cobra.Command {
	var (
		file       string
		notes      string
		exclusions []string
		format     string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Extract proposal metadata, suggested reviewers and search queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			text, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, s *Services) error {
				result, err := s.Analyzer.Analyze(ctx, service.AnalysisRequest{
					ProposalText: string(text),
					Notes:        notes,
					Exclusions:   exclusions,
				})
				if err != nil {
					return err
				}
				for _, issue := range result.Validation.Issues {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", issue)
				}
				return writeOutput(cmd.OutOrStdout(), format, result)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Proposal text file (default stdin)")
	cmd.Flags().StringVar(&notes, "notes", "", "Additional notes from the program officer")
	cmd.Flags().StringSliceVarP(&exclusions, "exclude", "x", nil, "People who must not be suggested")
	cmd.Flags().StringVarP(&format, "output", "o", "json", "Output format: json or yaml")
	return cmd
}

func DiscoverCmd() *cobra.Command {
	var (
		file         string
		analysisFile string
		notes        string
		exclusions   []string
		format       string
		quiet        bool
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Verify suggested reviewers and discover new ones from bibliographic indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			var (
				analysis *model.AnalysisResult
				text     []byte
				err      error
			)
			if analysisFile != "" {
				data, err := readInput(cmd, analysisFile)
				if err != nil {
					return err
				}
				if analysis, err = decodeAnalysis(data); err != nil {
					return err
				}
			} else if text, err = readInput(cmd, file); err != nil {
				return err
			}

			return withServices(cmd, func(ctx context.Context, s *Services) error {
				if analysis == nil {
					analysis, err = s.Analyzer.Analyze(ctx, service.AnalysisRequest{
						ProposalText: string(text),
						Notes:        notes,
						Exclusions:   exclusions,
					})
					if err != nil {
						return err
					}
				}

				progress := make(chan model.ProgressEvent, 64)
				done := make(chan struct{})
				go func() {
					defer close(done)
					for ev := range progress {
						if !quiet {
							fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s: %s\n", ev.Stage, ev.Status, ev.Message)
						}
					}
				}()
				result, err := s.Discovery.Discover(ctx, service.DiscoveryRequest{
					Analysis:   analysis,
					Exclusions: exclusions,
				}, progress)
				close(progress)
				<-done
				if err != nil {
					return err
				}
				for _, d := range result.Degraded {
					fmt.Fprintf(cmd.ErrOrStderr(), "degraded: %s\n", d)
				}
				return writeOutput(cmd.OutOrStdout(), format, result)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Proposal text file (default stdin)")
	cmd.Flags().StringVarP(&analysisFile, "analysis", "a", "", "Saved analysis result (json or yaml) instead of a proposal")
	cmd.Flags().StringVar(&notes, "notes", "", "Additional notes from the program officer")
	cmd.Flags().StringSliceVarP(&exclusions, "exclude", "x", nil, "People who must not be suggested")
	cmd.Flags().StringVarP(&format, "output", "o", "json", "Output format: json or yaml")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress to stderr")
	return cmd
}
