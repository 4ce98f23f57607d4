package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func rootCMD() *cobra.Command {
	var root = &cobra.Command{
		Use:          "chatbase",
		Short:        "Chatbot platform API: ingestion, retrieval and chat",
		SilenceUsage: true,
	}
	root.AddCommand(serveCMD(), migrateCMD(), quotaCMD())
	return root
}

func main() {
	if err := rootCMD().Execute(); err != nil {
		log.Printf("chatbase: %v", err)
		os.Exit(1)
	}
}
