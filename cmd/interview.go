package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"repovet/internal/interview"
)

var flagReport string

var interviewCmd = &cobra.Command{
	Use:   "interview <path>",
	Short: "Run a technical interview grounded in an indexed repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		ret, idx, err := openRetriever(root)
		if err != nil {
			return err
		}
		defer idx.Close()

		chat, err := newChat()
		if err != nil {
			return err
		}

		generator := &interview.QuestionGenerator{
			Retriever:       ret,
			LLM:             chat,
			Count:           cfg.Interview.QuestionCount,
			TopK:            cfg.Interview.TopK,
			MaxContextChars: cfg.Interview.MaxContextChars,
			Log:             logger,
		}

		logger.Info("generating questions", "count", cfg.Interview.QuestionCount)
		questions, err := generator.Generate(ctx)
		if err != nil {
			return err
		}

		// Collect all answers first; evaluation runs afterwards so a slow
		// grading backend never blocks the conversation.
		answers := make([]string, len(questions))
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		fmt.Println()
		for i, q := range questions {
			fmt.Printf("Question %d of %d:\n%s\n\n> ", q.Number, len(questions), q.Text)
			if !scanner.Scan() {
				break
			}
			answers[i] = strings.TrimSpace(scanner.Text())
			fmt.Println()
		}
		if err := scanner.Err(); err != nil {
			return err
		}

		evaluator := &interview.Evaluator{
			Retriever:       ret,
			LLM:             chat,
			TopK:            cfg.Interview.TopK,
			MaxContextChars: cfg.Interview.MaxContextChars,
			Log:             logger,
		}

		// Evaluations are independent per question; grade them concurrently
		// but keep report order aligned with question order.
		logger.Info("evaluating answers")
		evaluations := make([]interview.Evaluation, len(questions))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(2)
		for i, q := range questions {
			g.Go(func() error {
				ev, err := evaluator.Evaluate(gctx, q, answers[i])
				if err != nil {
					return err
				}
				evaluations[i] = ev
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		report := interview.NewReport(root, questions, evaluations)
		fmt.Println("Interview complete.")
		fmt.Println()
		for _, ev := range report.Evaluations {
			fmt.Printf("Q%d: %d/%d\n    %s\n", ev.QuestionNumber, ev.Marks, interview.MaxMarks, ev.Justification)
		}
		fmt.Printf("\nTotal: %d/%d\n", report.TotalMarks, report.MaxMarks)

		reportPath := flagReport
		if reportPath == "" {
			reportPath = filepath.Join(filepath.Dir(dbPath(root)),
				fmt.Sprintf("report-%s.json", time.Now().UTC().Format("20060102-150405")))
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(reportPath, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		logger.Info("report written", "path", reportPath)
		return nil
	},
}

func init() {
	interviewCmd.Flags().StringVar(&flagReport, "report", "", "report output path (default <repo>/.repovet/report-<timestamp>.json)")
	rootCmd.AddCommand(interviewCmd)
}
