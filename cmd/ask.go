package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"repovet/internal/rag"
)

var flagAskK int

var askCmd = &cobra.Command{
	Use:   "ask <path>",
	Short: "Ask free-form questions about an indexed repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		ret, idx, err := openRetriever(root)
		if err != nil {
			return err
		}
		defer idx.Close()

		chat, err := newChat()
		if err != nil {
			return err
		}

		session := &rag.Session{
			Retriever:       ret,
			LLM:             chat,
			TopK:            flagAskK,
			MaxContextChars: cfg.Interview.MaxContextChars,
		}

		fmt.Println("repovet ask (type /help for commands, /exit to quit)")
		fmt.Println()

		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				break
			}
			question := strings.TrimSpace(scanner.Text())
			if question == "" {
				continue
			}

			switch question {
			case "/exit", "/quit":
				return nil
			case "/clear":
				session.Reset()
				fmt.Println("Conversation cleared.")
				continue
			case "/help":
				fmt.Println("Commands:")
				fmt.Println("  /clear  - clear conversation history")
				fmt.Println("  /exit   - quit")
				fmt.Println("  /help   - show this help")
				continue
			}

			answer, err := session.Ask(cmd.Context(), question)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			fmt.Println()
			fmt.Println(answer)
			fmt.Println()
		}
		return scanner.Err()
	},
}

func init() {
	askCmd.Flags().IntVar(&flagAskK, "k", 5, "number of chunks to retrieve per question")
	rootCmd.AddCommand(askCmd)
}
