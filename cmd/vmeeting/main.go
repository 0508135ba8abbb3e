package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/hainguyenvie/vmeeting/internal/config"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	root := &cobra.Command{
		Use:   "vmeeting",
		Short: "Record meetings, stream live transcription, and summarize",
		Long:  "vmeeting streams meeting audio to a transcription backend, reconciles live and final transcript passes into one timeline, and generates summaries on demand.",
	}

	cfg := config.Load()
	root.AddCommand(
		newRecordCmd(cfg),
		newServeCmd(cfg),
		newSummarizeCmd(cfg),
		newDoctorCmd(cfg),
	)

	if err := root.Execute(); err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}
