package main

import (
	"context"
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/hainguyenvie/vmeeting/internal/audio"
	"github.com/hainguyenvie/vmeeting/internal/backend"
	"github.com/hainguyenvie/vmeeting/internal/config"
	"github.com/hainguyenvie/vmeeting/internal/rtc"
	"github.com/hainguyenvie/vmeeting/internal/session"
	"github.com/hainguyenvie/vmeeting/internal/storage"
	"github.com/hainguyenvie/vmeeting/internal/summary"
	"github.com/hainguyenvie/vmeeting/internal/tui"
)

func newRecordCmd(cfg config.Config) *cobra.Command {
	var (
		meetingID string
		title     string
		device    string
		rtcAddr   string
		archive   bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a meeting with live transcription",
		RunE: func(cmd *cobra.Command, args []string) error {
			if meetingID == "" {
				meetingID = uuid.New().String()
				log.Printf("record: new meeting %s", meetingID)
			}

			source, err := buildSource(cfg, device, rtcAddr)
			if err != nil {
				return err
			}

			be := backend.NewClient(cfg.BackendURL)
			sess := session.Dial(session.Config{
				MeetingID: meetingID,
				BaseURL:   cfg.BackendURL,
				WSBaseURL: cfg.WSBackendURL,
				Capture: audio.Config{
					SampleRate:    cfg.SampleRate,
					FrameDuration: cfg.FrameDuration,
					StopGrace:     cfg.StopGrace,
				},
				PreviewTimeout: cfg.PreviewTimeout,
			}, source, be)
			sess.Summarizer().SetModelConfig(summary.ModelConfig{
				TemplateID: cfg.SummaryTemplateID,
				Provider:   cfg.SummaryProvider,
				Model:      cfg.SummaryModel,
				APIKey:     cfg.SummaryAPIKey,
			})

			program := tea.NewProgram(tui.New(sess, title), tea.WithAltScreen())
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("run ui: %w", err)
			}

			if archive {
				return archiveMeeting(cmd.Context(), cfg, meetingID, sess)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&meetingID, "meeting", "", "meeting id (defaults to a new one)")
	cmd.Flags().StringVar(&title, "title", "Meeting", "title shown in the header")
	cmd.Flags().StringVar(&device, "device", "", "override the ffmpeg capture device")
	cmd.Flags().StringVar(&rtcAddr, "rtc-listen", "", "take audio from a browser via WebRTC; listen address for signaling (e.g. :8787)")
	cmd.Flags().BoolVar(&archive, "archive", false, "upload transcript and summary to Supabase storage on exit")
	return cmd
}

// buildSource picks the audio source: local ffmpeg capture by default, or a
// WebRTC peer when an rtc signaling address is given.
func buildSource(cfg config.Config, device, rtcAddr string) (audio.Source, error) {
	if rtcAddr == "" {
		if err := audio.CheckFFmpeg(); err != nil {
			return nil, err
		}
		src := audio.NewFFmpegSource(cfg.SampleRate)
		if device != "" {
			src.Device = device
		}
		return src, nil
	}

	src := rtc.NewRemoteSource(cfg.ICEServersJSON)
	e := echo.New()
	e.HideBanner = true
	e.GET("/ws/rtc", func(c echo.Context) error {
		rtc.ServeSignaling(c.Response(), c.Request(), src)
		return nil
	})
	go func() {
		if err := e.Start(rtcAddr); err != nil {
			log.Printf("record: rtc signaling server: %v", err)
		}
	}()
	log.Printf("record: waiting for a browser peer on ws://%s/ws/rtc", rtcAddr)
	return src, nil
}

// archiveMeeting uploads the reconciled transcript, and the summary when one
// exists, to the configured storage bucket.
func archiveMeeting(ctx context.Context, cfg config.Config, meetingID string, sess *session.Session) error {
	store := storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseBucket)
	if !store.Configured() {
		return fmt.Errorf("archive requested but SUPABASE_URL/SUPABASE_SERVICE_ROLE_KEY are not set")
	}

	text := sess.Reconciler().Text()
	if text == "" {
		log.Printf("record: nothing to archive for %s", meetingID)
		return nil
	}
	key := storage.MeetingObjectKey(meetingID, "transcript.txt")
	if err := store.Upload(ctx, key, "text/plain; charset=utf-8", []byte(text)); err != nil {
		return fmt.Errorf("archive transcript: %w", err)
	}
	fmt.Fprintf(os.Stderr, "archived %s\n", key)

	if res := sess.Summarizer().Summary(); res != nil {
		body := res.Markdown
		if body == "" {
			body = res.Summary
		}
		key = storage.MeetingObjectKey(meetingID, "summary.md")
		if err := store.Upload(ctx, key, "text/markdown; charset=utf-8", []byte(body)); err != nil {
			return fmt.Errorf("archive summary: %w", err)
		}
		fmt.Fprintf(os.Stderr, "archived %s\n", key)
	}
	return nil
}
