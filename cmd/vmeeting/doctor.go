package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/hainguyenvie/vmeeting/internal/audio"
	"github.com/hainguyenvie/vmeeting/internal/config"
	"github.com/hainguyenvie/vmeeting/internal/storage"
)

func newDoctorCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that recording prerequisites are in place",
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := false
			report := func(name string, err error) {
				if err != nil {
					failed = true
					fmt.Printf("✗ %s: %v\n", name, err)
					return
				}
				fmt.Printf("✓ %s\n", name)
			}

			report("ffmpeg", audio.CheckFFmpeg())
			report("backend "+cfg.BackendURL, pingBackend(cfg.BackendURL))

			store := storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseBucket)
			if store.Configured() {
				fmt.Printf("✓ supabase storage (bucket %s)\n", cfg.SupabaseBucket)
			} else {
				fmt.Println("- supabase storage not configured (archival disabled)")
			}
			if cfg.SummaryAPIKey == "" {
				fmt.Println("- SUMMARY_API_KEY not set (backend default key will be used)")
			}

			if failed {
				return fmt.Errorf("some checks failed")
			}
			return nil
		},
	}
}

func pingBackend(baseURL string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned %d", resp.StatusCode)
	}
	return nil
}
