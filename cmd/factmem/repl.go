package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/dotsetgreg/factmem/pkg/memory"
)

func runRepl(svc *memory.Service) {
	prompt := fmt.Sprintf("%s > ", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".factmem_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleRepl(svc)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !dispatch(svc, strings.TrimSpace(line)) {
			return
		}
	}
}

func simpleRepl(svc *memory.Service) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s > ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if !dispatch(svc, strings.TrimSpace(line)) {
			return
		}
	}
}

// dispatch executes one repl line; returns false to exit.
func dispatch(svc *memory.Service, input string) bool {
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" {
		fmt.Println("Goodbye!")
		return false
	}

	ctx := context.Background()
	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "help":
		printReplHelp()

	case "store":
		parts := strings.SplitN(rest, " ", 3)
		if len(parts) < 3 {
			fmt.Println("Usage: store <entity> <key> <value>")
			return true
		}
		updated, err := svc.StoreFact(ctx, parts[0], parts[1], parts[2], "stable")
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return true
		}
		if updated {
			fmt.Println("Updated.")
		} else {
			fmt.Println("Stored.")
		}

	case "search":
		if rest == "" {
			fmt.Println("Usage: search <query>")
			return true
		}
		facts := svc.Search(ctx, rest, 10)
		if len(facts) == 0 {
			fmt.Println("No matching memories found.")
			return true
		}
		for i, f := range facts {
			fmt.Printf("%d. %s\n", i+1, formatFact(f))
		}

	case "entity":
		if rest == "" {
			fmt.Println("Usage: entity <name>")
			return true
		}
		facts := svc.EntityFacts(ctx, rest)
		if len(facts) == 0 {
			fmt.Printf("No facts found for entity %q.\n", rest)
			return true
		}
		for _, f := range facts {
			fmt.Printf("- %s = %s (%s)\n", f.Key, f.Value, f.TTLClass)
		}

	case "semantic":
		if rest == "" {
			fmt.Println("Usage: semantic <query>")
			return true
		}
		matches, err := svc.SemanticSearch(ctx, rest, 5, 0)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return true
		}
		if len(matches) == 0 {
			fmt.Println("No semantically similar memories found.")
			return true
		}
		for i, m := range matches {
			fmt.Printf("%d. %s (%.0f%% similar)\n", i+1, formatMatch(m), m.Similarity*100)
		}

	case "recall":
		block := svc.TurnStart(ctx, rest)
		if block == "" {
			fmt.Println("Nothing to recall.")
			return true
		}
		fmt.Println(block)

	case "add-entity":
		if rest == "" {
			fmt.Println("Usage: add-entity <name>")
			return true
		}
		if err := svc.RegisterEntity(ctx, rest); err != nil {
			fmt.Printf("Error: %v\n", err)
			return true
		}
		fmt.Printf("Entity %q registered.\n", rest)

	case "consolidate":
		fmt.Printf("Consolidated %d duplicate facts.\n", svc.Consolidate(ctx))

	case "sweep":
		fmt.Printf("Swept %d expired facts.\n", svc.Sweep(ctx))

	case "stats":
		st := svc.Stats(ctx)
		fmt.Printf("Live facts: %d, vectors: %d, entities: %d\n", st.LiveFacts, st.Vectors, st.Entities)

	default:
		fmt.Printf("Unknown command %q. Type help for commands.\n", cmd)
	}
	return true
}

func printReplHelp() {
	fmt.Println(strings.TrimSpace(`
Commands:
  store <entity> <key> <value>   Save a fact (stable TTL)
  search <query>                 Full-text search
  entity <name>                  Facts about one entity
  semantic <query>               Vector similarity search
  recall <prompt>                Show the context block for a prompt
  add-entity <name>              Register an entity name
  consolidate                    Merge duplicate facts
  sweep                          Delete expired facts
  stats                          Store contents
  exit                           Leave`))
}
