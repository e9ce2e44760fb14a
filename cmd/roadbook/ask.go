package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/roadbook/config"
	"github.com/mohammad-safakhou/roadbook/internal/agent"
	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
)

var (
	answerText  = color.New(color.FgWhite, color.Bold).SprintFunc()
	citationRef = color.New(color.FgGreen).SprintFunc()
	imageRef    = color.New(color.FgCyan).SprintFunc()
	warnText    = color.New(color.FgYellow).SprintFunc()
)

func askCMD() *cobra.Command {
	var cfgPath string
	var state string
	var topK int
	var noImages bool
	var interactive bool
	var stream bool

	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against the driving manuals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			ag, _, tele, err := buildAgent(ctx, cfg)
			if err != nil {
				return err
			}
			defer tele.Shutdown()

			if interactive {
				return runREPL(ctx, ag, state, noImages)
			}
			if len(args) == 0 {
				return fmt.Errorf("a question is required (or use --interactive)")
			}
			req := core.AskRequest{
				Query:         strings.Join(args, " "),
				StateHint:     state,
				TopK:          topK,
				DisableImages: noImages,
			}
			var res core.AskResult
			if stream {
				res, err = ag.AskStream(ctx, req, func(delta string) { fmt.Print(delta) })
				fmt.Println()
			} else {
				res, err = ag.Ask(ctx, req)
			}
			if err != nil {
				return err
			}
			printResult(res, !stream)
			return nil
		},
	}
	ask.Flags().StringVar(&state, "state", "", "US state to scope retrieval (e.g. California)")
	ask.Flags().IntVar(&topK, "top-k", 0, "number of chunks to retrieve (0 = configured default)")
	ask.Flags().BoolVar(&noImages, "no-images", false, "suppress images in the answer")
	ask.Flags().BoolVarP(&interactive, "interactive", "i", false, "interactive session")
	ask.Flags().BoolVar(&stream, "stream", false, "stream the answer as it is generated")
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return ask
}

func printResult(res core.AskResult, withText bool) {
	if withText {
		fmt.Println(answerText(res.Response.Text))
	}
	if len(res.Response.Citations) > 0 {
		fmt.Println()
		for _, cit := range res.Response.Citations {
			fmt.Println(citationRef(fmt.Sprintf("  [%d] %s, page %d", cit.Index, cit.DocumentName, cit.PageNumber)))
		}
	}
	for _, img := range res.Response.Images {
		fmt.Println(imageRef(fmt.Sprintf("  image: %s (relevance %.2f)", img.URL, img.RelevanceScore)))
	}
	if res.CacheHit {
		fmt.Println(warnText("  (cached answer)"))
	}
	fmt.Printf("  %d tokens, $%.4f, %s\n", res.TokensUsed, res.Cost, res.Elapsed.Round(1e6))
}

// runREPL is a conversational loop. Session commands:
//
//	/state <name>   scope retrieval to a state
//	/images on|off  toggle image filtering
//	/history        show the conversation so far
//	/clear          forget the conversation
//	/exit           quit
func runREPL(ctx context.Context, ag *agent.Agent, state string, noImages bool) error {
	var history []core.Message
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	fmt.Println("roadbook interactive session. /exit to quit.")
	for {
		if state != "" {
			fmt.Printf("[%s] > ", state)
		} else {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			fields := strings.Fields(line)
			switch fields[0] {
			case "/exit", "/quit":
				return nil
			case "/clear":
				history = nil
				fmt.Println("conversation cleared")
			case "/history":
				for _, m := range history {
					fmt.Printf("  %s: %s\n", m.Role, m.Content)
				}
			case "/state":
				if len(fields) > 1 {
					state = strings.Join(fields[1:], " ")
					fmt.Printf("state set to %s\n", state)
				} else {
					state = ""
					fmt.Println("state cleared")
				}
			case "/images":
				if len(fields) > 1 && fields[1] == "off" {
					noImages = true
				} else {
					noImages = false
				}
				fmt.Printf("images %v\n", map[bool]string{true: "off", false: "on"}[noImages])
			default:
				fmt.Println(warnText("unknown command: " + fields[0]))
			}
			continue
		}

		res, err := ag.AskStream(ctx, core.AskRequest{
			Query:         line,
			StateHint:     state,
			History:       history,
			DisableImages: noImages,
		}, func(delta string) { fmt.Print(delta) })
		fmt.Println()
		if err != nil {
			fmt.Println(warnText("error: " + err.Error()))
			continue
		}
		printResult(res, false)
		history = append(history,
			core.Message{Role: "user", Content: line},
			core.Message{Role: "assistant", Content: res.Response.Text},
		)
	}
}
