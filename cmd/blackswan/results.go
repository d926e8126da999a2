package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/blackswanwtf/blackswan-analysis-service/internal/store"
)

var resultsLimit int

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Read stored analysis results",
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the most recent analysis",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, _, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		res, err := application.Store().Latest(cmd.Context())
		if err != nil {
			return err
		}
		if res == nil {
			return errors.New("no analyses stored yet")
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Print recent analyses, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, _, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		res, err := application.Store().Recent(cmd.Context(), resultsLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print one analysis by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, _, err := loadApplication(cmd.Context())
		if err != nil {
			return err
		}
		defer application.Close()

		res, err := application.Store().ByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if res == nil {
			return fmt.Errorf("analysis %s not found", args[0])
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	recentCmd.Flags().IntVarP(&resultsLimit, "limit", "l", store.DefaultLimit, fmt.Sprintf("Number of results (max %d)", store.MaxLimit))

	resultsCmd.AddCommand(latestCmd, recentCmd, getCmd)
	rootCmd.AddCommand(resultsCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
