package grants

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/rill-lang/rillsec/internal/domain/capabilities"
)

// Decision is the operator's answer to one grant request.
type Decision string

const (
	// DecisionAllow approves the grant for this run only.
	DecisionAllow Decision = "allow"
	// DecisionAlways approves the grant and persists it.
	DecisionAlways Decision = "always"
	// DecisionDeny refuses the grant.
	DecisionDeny Decision = "deny"
)

// TerminalPrompter asks the operator about requested grants on the
// terminal.
type TerminalPrompter struct{}

// NewTerminalPrompter creates a new TerminalPrompter.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{}
}

// IsInteractive checks if we're running in an interactive terminal.
func (p *TerminalPrompter) IsInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// Prompt asks about one grant, showing its risk assessment. The default
// selection is deny.
func (p *TerminalPrompter) Prompt(grant capabilities.GrantSpec) (Decision, error) {
	decision := DecisionDeny

	err := huh.NewSelect[Decision]().
		Title(fmt.Sprintf("Grant capability %s?", grant.String())).
		Description(fmt.Sprintf("[%s] %s", grant.Risk(), grant.RiskDescription())).
		Options(
			huh.NewOption("Deny", DecisionDeny).Selected(true),
			huh.NewOption("Allow once", DecisionAllow),
			huh.NewOption("Always allow", DecisionAlways),
		).
		Value(&decision).
		Run()
	if err != nil {
		// Ctrl-C or a closed terminal counts as a refusal.
		return DecisionDeny, nil
	}
	return decision, nil
}

// FormatNonInteractiveError explains how to approve grants when no
// terminal is available to prompt on.
func (p *TerminalPrompter) FormatNonInteractiveError(missing capabilities.GrantSet) error {
	var msg strings.Builder
	msg.WriteString("policy requests unapproved grants (running in non-interactive mode)\n\n")
	msg.WriteString("Requested grants:\n")
	for _, grant := range missing {
		msg.WriteString(fmt.Sprintf("  - [%s] %s\n", grant.Risk(), grant.String()))
	}
	msg.WriteString("\nTo approve:\n")
	msg.WriteString("  1. Run interactively and answer the prompts\n")
	msg.WriteString("  2. Run `rillsec grants approve --policy <file>`\n")
	msg.WriteString("  3. Edit the grant store directly (rillsec grants list shows its path)\n")

	return fmt.Errorf("%s", msg.String())
}
