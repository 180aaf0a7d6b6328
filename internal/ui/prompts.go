package ui

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// readLine reads one trimmed line from stdin. ok is false on read errors
// such as a closed stdin.
func readLine() (line string, ok bool) {
	reader := bufio.NewReader(os.Stdin)
	raw, err := reader.ReadString('\n')
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(raw), true
}

// PromptYesNo asks a yes/no question and returns the answer. Empty input,
// non-interactive mode, and read errors all fall back to defaultYes so
// scripts never hang on a prompt.
func PromptYesNo(question string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}
	prompt := fmt.Sprintf("%s %s ", question, hint)

	if !IsTerminal() {
		fmt.Printf("%s(non-interactive, defaulting to %t)\n", prompt, defaultYes)
		return defaultYes
	}

	fmt.Print(prompt)
	line, ok := readLine()
	if !ok {
		fmt.Printf("(error reading input, defaulting to %t)\n", defaultYes)
		return defaultYes
	}

	switch strings.ToLower(line) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	return defaultYes
}

// Prompt asks for a string value, returning defaultValue when the user
// presses Enter or when stdin is not a terminal.
func Prompt(question, defaultValue string) string {
	prompt := fmt.Sprintf("%s (default: %q): ", question, defaultValue)

	if !IsTerminal() {
		fmt.Printf("%s(non-interactive, defaulting to %q)\n", prompt, defaultValue)
		return defaultValue
	}

	fmt.Print(prompt)
	line, ok := readLine()
	if !ok || line == "" {
		return defaultValue
	}
	return line
}
