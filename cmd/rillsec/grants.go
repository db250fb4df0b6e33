package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rill-lang/rillsec/internal/config"
	"github.com/rill-lang/rillsec/internal/domain/capabilities"
	"github.com/rill-lang/rillsec/internal/infrastructure/grants"
)

var (
	grantsStorePath string

	addType        string
	addResources   []string
	addOperations  []string
	addHosts       []string
	addPorts       []int
	addMaxUses     uint64
	addDescription string

	approvePolicyPath string
	approveMode       string
)

// grantsCmd groups the grant store subcommands.
var grantsCmd = &cobra.Command{
	Use:   "grants",
	Short: "Manage persisted capability grants",
}

var grantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approved grants",
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		set, err := store.Load()
		if err != nil {
			return err
		}

		fmt.Printf("Grant store: %s\n", store.Path())
		if len(set) == 0 {
			fmt.Println("No grants approved.")
			return nil
		}
		for _, grant := range set {
			fmt.Printf("  [%s] %s\n", grant.Risk(), grant.String())
		}
		return nil
	},
}

var grantsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Approve a grant directly",
	RunE: func(_ *cobra.Command, _ []string) error {
		grant := capabilities.GrantSpec{
			Type: addType,
			Constraint: capabilities.Constraint{
				ResourcePatterns:  addResources,
				AllowedOperations: addOperations,
				AllowedHosts:      addHosts,
				AllowedPorts:      addPorts,
				MaxUsageCount:     addMaxUses,
			},
			Description: addDescription,
		}

		// Minting validates the grant without keeping the token.
		if _, err := grant.Mint("rillsec"); err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		set, err := store.Load()
		if err != nil {
			return err
		}
		set.Add(grant)
		if err := store.Save(set); err != nil {
			return err
		}

		fmt.Printf("Approved: [%s] %s\n", grant.Risk(), grant.String())
		return nil
	},
}

var grantsRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Withdraw an approved grant",
	RunE: func(_ *cobra.Command, _ []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		set, err := store.Load()
		if err != nil {
			return err
		}

		target := capabilities.GrantSpec{
			Type:       addType,
			Constraint: capabilities.Constraint{ResourcePatterns: addResources},
		}
		if !set.Contains(target) {
			return fmt.Errorf("no such grant: %s", target.String())
		}
		set.Remove(target)
		if err := store.Save(set); err != nil {
			return err
		}

		fmt.Printf("Removed: %s\n", target.String())
		return nil
	},
}

var grantsApproveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Run the approval flow for a policy's requested grants",
	RunE: func(_ *cobra.Command, _ []string) error {
		policy, err := config.LoadPolicy(approvePolicyPath)
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		keeper := grants.NewGatekeeper(store, grants.NewTerminalPrompter(),
			grants.ApprovalPolicy(approveMode))

		approved, err := keeper.Approve(policy.Grants)
		if err != nil {
			var denied *grants.DeniedError
			if errors.As(err, &denied) {
				fmt.Fprintf(os.Stderr, "Denied %d grant(s)\n", len(denied.Denied))
			} else {
				return err
			}
		}

		fmt.Printf("Approved %d of %d requested grant(s)\n", len(approved), len(policy.Grants))
		return nil
	},
}

func openStore() (*grants.FileStore, error) {
	path := grantsStorePath
	if path == "" {
		var err error
		path, err = grants.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return grants.NewFileStore(path), nil
}

func init() {
	rootCmd.AddCommand(grantsCmd)
	grantsCmd.AddCommand(grantsListCmd, grantsAddCmd, grantsRemoveCmd, grantsApproveCmd)

	grantsCmd.PersistentFlags().StringVar(&grantsStorePath, "store", "", "Grant store path (default: ~/.rillsec/grants.yaml)")

	grantsAddCmd.Flags().StringVar(&addType, "type", "", "Capability type (e.g. filesystem.read)")
	grantsAddCmd.Flags().StringSliceVar(&addResources, "resources", nil, "Resource glob patterns")
	grantsAddCmd.Flags().StringSliceVar(&addOperations, "operations", nil, "Allowed operations")
	grantsAddCmd.Flags().StringSliceVar(&addHosts, "hosts", nil, "Allowed host patterns")
	grantsAddCmd.Flags().IntSliceVar(&addPorts, "ports", nil, "Allowed ports")
	grantsAddCmd.Flags().Uint64Var(&addMaxUses, "max-uses", 0, "Usage ceiling (0 = unlimited)")
	grantsAddCmd.Flags().StringVar(&addDescription, "description", "", "Grant description")
	_ = grantsAddCmd.MarkFlagRequired("type")

	grantsRemoveCmd.Flags().StringVar(&addType, "type", "", "Capability type")
	grantsRemoveCmd.Flags().StringSliceVar(&addResources, "resources", nil, "Resource glob patterns")
	_ = grantsRemoveCmd.MarkFlagRequired("type")

	grantsApproveCmd.Flags().StringVarP(&approvePolicyPath, "policy", "p", "", "Policy file to approve grants from")
	grantsApproveCmd.Flags().StringVar(&approveMode, "approval", string(grants.PolicyStandard), "Approval policy: strict, standard, permissive")
	_ = grantsApproveCmd.MarkFlagRequired("policy")
}
