package grants

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/rill-lang/rillsec/internal/domain/capabilities"
)

// ApprovalPolicy selects how the gatekeeper treats grants that are not
// yet approved.
type ApprovalPolicy string

const (
	// PolicyStrict auto-denies broad grants and prompts for the rest.
	PolicyStrict ApprovalPolicy = "strict"
	// PolicyStandard prompts for every unapproved grant.
	PolicyStandard ApprovalPolicy = "standard"
	// PolicyPermissive approves every requested grant without asking.
	PolicyPermissive ApprovalPolicy = "permissive"
)

// Prompter is the interactive side of approval.
type Prompter interface {
	IsInteractive() bool
	Prompt(capabilities.GrantSpec) (Decision, error)
	FormatNonInteractiveError(capabilities.GrantSet) error
}

// Store persists approved grants between runs.
type Store interface {
	Load() (capabilities.GrantSet, error)
	Save(capabilities.GrantSet) error
}

// DeniedError reports grants the flow refused. The approved remainder is
// still returned alongside it so callers can proceed degraded if they
// choose.
type DeniedError struct {
	Denied capabilities.GrantSet
}

func (e *DeniedError) Error() string {
	names := make([]string, len(e.Denied))
	for i, grant := range e.Denied {
		names[i] = grant.String()
	}
	return fmt.Sprintf("grants denied: %s", strings.Join(names, ", "))
}

// Gatekeeper runs the approval flow for a policy's requested grants
// against the persisted store.
type Gatekeeper struct {
	store    Store
	prompter Prompter
	policy   ApprovalPolicy
	logger   *slog.Logger
}

// NewGatekeeper builds a gatekeeper with the given approval policy.
func NewGatekeeper(store Store, prompter Prompter, policy ApprovalPolicy) *Gatekeeper {
	return &Gatekeeper{
		store:    store,
		prompter: prompter,
		policy:   policy,
		logger:   slog.Default().With("component", "gatekeeper"),
	}
}

// Approve resolves the requested grants to the approved set for this
// run. Already-persisted grants pass silently; the rest go through the
// approval policy. "Always" answers are persisted. When any grant ends
// up denied the approved remainder is returned together with a
// *DeniedError.
func (g *Gatekeeper) Approve(requested capabilities.GrantSet) (capabilities.GrantSet, error) {
	persisted, err := g.store.Load()
	if err != nil {
		return nil, err
	}

	approved := capabilities.NewGrantSet()
	denied := capabilities.NewGrantSet()
	var toPersist capabilities.GrantSet

	missing := requested.Missing(persisted)
	for _, grant := range requested {
		if !missing.Contains(grant) {
			approved.Add(grant)
			continue
		}

		switch g.decide(grant) {
		case DecisionAlways:
			approved.Add(grant)
			toPersist = append(toPersist, grant)
		case DecisionAllow:
			approved.Add(grant)
		default:
			denied.Add(grant)
		}
	}

	if len(toPersist) > 0 {
		for _, grant := range toPersist {
			persisted.Add(grant)
		}
		if err := g.store.Save(persisted); err != nil {
			return nil, err
		}
	}

	if len(denied) > 0 {
		return approved, &DeniedError{Denied: denied}
	}
	return approved, nil
}

// decide applies the approval policy to one unapproved grant.
func (g *Gatekeeper) decide(grant capabilities.GrantSpec) Decision {
	switch g.policy {
	case PolicyPermissive:
		g.logger.Debug("auto-approving grant", "grant", grant.String())
		return DecisionAllow
	case PolicyStrict:
		if grant.IsBroad() {
			g.logger.Warn("auto-denying broad grant", "grant", grant.String(), "risk", grant.Risk().String())
			return DecisionDeny
		}
	}

	if !g.prompter.IsInteractive() {
		g.logger.Warn("cannot prompt for grant", "grant", grant.String())
		return DecisionDeny
	}

	decision, err := g.prompter.Prompt(grant)
	if err != nil {
		return DecisionDeny
	}
	return decision
}
