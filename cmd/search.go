package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var flagK int

var searchCmd = &cobra.Command{
	Use:   "search <path> <query>",
	Short: "Query an indexed repository directly (retrieval debugging)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		query := strings.Join(args[1:], " ")

		ret, idx, err := openRetriever(root)
		if err != nil {
			return err
		}
		defer idx.Close()

		results, err := ret.Retrieve(cmd.Context(), query, flagK)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%d. chunk %d (score %.4f)\n%s\n\n", i+1, r.ChunkID, r.Score, r.Text)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&flagK, "k", 5, "number of chunks to retrieve")
	rootCmd.AddCommand(searchCmd)
}
