package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"echo-study/internal/document"
	"echo-study/internal/services"
)

func quizCmd() *cobra.Command {
	var (
		userID     string
		title      string
		count      int
		difficulty string
		types      []string
	)

	cmd := &cobra.Command{
		Use:   "quiz [file or url]",
		Short: "Generate a quiz from a lecture document and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ref := args[0]
			if !document.IsRemote(ref) {
				stored, err := storeLocal(a.svc.Documents, ref)
				if err != nil {
					return err
				}
				defer os.Remove(stored)
				ref = stored
			}
			if title == "" {
				base := filepath.Base(args[0])
				title = base[:len(base)-len(filepath.Ext(base))]
			}

			res, err := a.svc.Quizzes.Generate(cmd.Context(), services.QuizRequest{
				UserID:     userID,
				Title:      title,
				Source:     services.SourcePDF,
				PDFPath:    ref,
				Types:      types,
				Count:      count,
				Difficulty: difficulty,
			})
			if err != nil {
				return err
			}
			log.Info().Int64("quiz_id", res.QuizID).Int("questions", len(res.Questions)).Int("requested", res.Requested).Msg("quiz generated")

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "cli", "Owner of the stored quiz")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Quiz title (defaults to the file name)")
	cmd.Flags().IntVarP(&count, "count", "n", 10, "Number of questions")
	cmd.Flags().StringVarP(&difficulty, "difficulty", "d", "medium", "Question difficulty")
	cmd.Flags().StringSliceVar(&types, "types", nil, "Allowed question types (mcq, truefalse, short)")

	return cmd
}

// storeLocal copies a local file into the upload directory, where quiz
// generation is allowed to read it.
func storeLocal(docs *services.DocumentService, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	stored, _, err := docs.Save(filepath.Base(path), f)
	if err != nil {
		return "", err
	}
	return stored, nil
}
