package handlers

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lloydsdigest/internal/config"
	"lloydsdigest/internal/render"
	"lloydsdigest/internal/tui"
)

// NewReviewCmd creates the review command
func NewReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review [digest.json]",
		Short: "Browse a rendered digest in the terminal",
		Long: `Open a digest JSON file in an interactive terminal browser. Without an
argument the newest digest in the output directory is opened.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := reviewPath(args)
			if err != nil {
				return err
			}
			doc, err := render.LoadDocument(path)
			if err != nil {
				return err
			}
			return tui.Run(*doc)
		},
	}
}

func reviewPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	dir := config.Get().Output.Directory
	path, err := render.LatestDocumentPath(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("no digest found in %s; run `lloydsdigest run` first", dir)
	}
	return path, err
}
