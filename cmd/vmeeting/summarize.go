package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hainguyenvie/vmeeting/internal/backend"
	"github.com/hainguyenvie/vmeeting/internal/config"
	"github.com/hainguyenvie/vmeeting/internal/summary"
)

func newSummarizeCmd(cfg config.Config) *cobra.Command {
	var (
		meetingID string
		prompt    string
	)

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Generate a summary for a recorded meeting",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := backend.NewClient(cfg.BackendURL)
			segs, err := client.GetTranscripts(cmd.Context(), meetingID)
			if err != nil {
				return err
			}
			if len(segs) == 0 {
				return fmt.Errorf("meeting %s has no transcripts", meetingID)
			}

			var lines []string
			for _, seg := range segs {
				if seg.SpeakerID != "" {
					lines = append(lines, seg.SpeakerID+": "+seg.Text)
				} else {
					lines = append(lines, seg.Text)
				}
			}

			res, err := client.GenerateSummary(cmd.Context(), summary.Request{
				Transcript:   strings.Join(lines, "\n"),
				TemplateID:   cfg.SummaryTemplateID,
				Provider:     cfg.SummaryProvider,
				Model:        cfg.SummaryModel,
				APIKey:       cfg.SummaryAPIKey,
				CustomPrompt: prompt,
				MeetingID:    meetingID,
			})
			if err != nil {
				return err
			}

			out := res.Markdown
			if out == "" {
				out = res.Summary
			}
			fmt.Println(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&meetingID, "meeting", "", "meeting id")
	cmd.Flags().StringVar(&prompt, "prompt", "", "extra instructions for the summary")
	_ = cmd.MarkFlagRequired("meeting")
	return cmd
}
