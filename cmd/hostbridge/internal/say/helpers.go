package say

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal"
	"github.com/tinyland-inc/hostbridge/pkg/client"
	"github.com/tinyland-inc/hostbridge/pkg/model"
)

func sayCmd(ctx context.Context, message string, opts options) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	priority, _ := model.ParsePriority(opts.priority)
	c, st, err := internal.NewClient(cfg, client.WithPriority(priority))
	if err != nil {
		return fmt.Errorf("error opening bridge: %w", err)
	}
	defer st.Close()

	speak := func(text string) error {
		p := model.SpeechSay{Message: text, Voice: opts.voice, Rate: opts.rate}
		return internal.Call(ctx, c, p, opts.wait, opts.timeout)
	}

	if message != "" {
		return speak(message)
	}

	fmt.Println("Interactive mode (Ctrl+C to exit)")
	interactiveMode(speak)
	return nil
}

func interactiveMode(speak func(string) error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "say> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".hostbridge_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(os.Stdin, speak)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !handleLine(line, speak) {
			return
		}
	}
}

func simpleInteractiveMode(in io.Reader, speak func(string) error) {
	reader := bufio.NewReader(in)
	for {
		fmt.Print("say> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !handleLine(line, speak) {
			return
		}
	}
}

// handleLine speaks one line of input. It returns false when the user
// asked to leave.
func handleLine(line string, speak func(string) error) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" {
		fmt.Println("Goodbye!")
		return false
	}
	if err := speak(input); err != nil {
		fmt.Printf("Error: %v\n", err)
	}
	return true
}
