package cmd

import (
	"fmt"

	"github.com/guptarohit/asciigraph"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hic-eventgen/hic-eventgen/hic"
)

var inspectPlotHeight int

var inspectCmd = &cobra.Command{
	Use:   "inspect <results>",
	Short: "Summarize a results stream",
	Long:  "Decode a binary results stream and print per-event observables plus a terminal plot of dNch/deta across events.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		recs, err := hic.ReadResults(args[0])
		if err != nil {
			logrus.Fatalf("reading results: %v", err)
		}
		if len(recs) == 0 {
			fmt.Println("results stream is empty")
			return
		}

		var sumNch, sumET float64
		dnch := make([]float64, len(recs))
		for i, r := range recs {
			dnch[i] = r.DNchDeta
			sumNch += r.DNchDeta
			sumET += r.DETDeta
		}

		fmt.Printf("=== Results: %s ===\n", args[0])
		fmt.Printf("Events               : %d\n", len(recs))
		fmt.Printf("Mean dNch/deta       : %.2f\n", sumNch/float64(len(recs)))
		fmt.Printf("Mean dET/deta        : %.2f GeV\n", sumET/float64(len(recs)))
		fmt.Printf("%-8s %12s %10s %10s %10s\n", "event", "entropy", "nsamples", "dNch/deta", "dET/deta")
		for i, r := range recs {
			fmt.Printf("%-8d %12.1f %10d %10.2f %10.2f\n", i, r.InitialEntropy, r.NSamples, r.DNchDeta, r.DETDeta)
		}
		if len(recs) > 1 {
			fmt.Println("\ndNch/deta by event:")
			fmt.Println(asciigraph.Plot(dnch, asciigraph.Height(inspectPlotHeight)))
		}
	},
}

func init() {
	inspectCmd.Flags().IntVar(&inspectPlotHeight, "plot-height", 10, "Height of the dNch/deta terminal plot")
	rootCmd.AddCommand(inspectCmd)
}
