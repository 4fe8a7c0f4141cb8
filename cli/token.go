package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/tokenstamp/workflow"
)

var tokenFlagKeys = map[string]string{
	"source":       "token.source",
	"module":       "token.module-path",
	"token-label":  "token.token-criteria.label",
	"token-serial": "token.token-criteria.serial",
	"pin-entry":    "token.pin-entry",
	"pin-env":      "token.pin-env",
	"pkcs12":       "token.pfx-file",
}

func (a *app) tokenCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Read the identity from the token without stamping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, tokenFlagKeys)
			if err != nil {
				return err
			}
			if err := applySlot(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Token.Validate(); err != nil {
				return err
			}

			log, err := a.logger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			id, err := workflow.NewTokenSource(cfg.Token, a.prompt, log).Read(cmd.Context()).Get()
			if err != nil {
				return err
			}
			if asJSON {
				return a.printJSON(id)
			}
			fmt.Fprintf(a.out, "Username:  %s\n", id.Username)
			fmt.Fprintf(a.out, "Timestamp: %s\n", id.Timestamp)
			if id.CertificateSubject != "" {
				fmt.Fprintf(a.out, "Subject:   %s\n", id.CertificateSubject)
			}
			return nil
		},
	}
	addTokenFlags(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the identity as JSON")
	return cmd
}
