package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "roadbook"}

	root.AddCommand(serveCMD(), askCMD(), indexCMD(), diagnoseCMD(), pdfgenCMD(), migrateCMD())
	_ = root.Execute()
}
