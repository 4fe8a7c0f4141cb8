package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/tokenstamp/config"
	"github.com/georgepadayatti/tokenstamp/stamp"
	"github.com/georgepadayatti/tokenstamp/workflow"
)

var stampFlagKeys = map[string]string{
	"phrase":       "phrase",
	"source":       "token.source",
	"module":       "token.module-path",
	"token-label":  "token.token-criteria.label",
	"token-serial": "token.token-criteria.serial",
	"pin-entry":    "token.pin-entry",
	"pin-env":      "token.pin-env",
	"pkcs12":       "token.pfx-file",
	"offset-x":     "stamp.offset-x",
	"offset-y":     "stamp.offset-y",
	"font-size":    "stamp.font-size",
	"fallback":     "stamp.fallback-on-missing",
	"highlight":    "stamp.highlight",
	"verify":       "verify.enabled",
}

// addTokenFlags registers the flags selecting and unlocking the token.
func addTokenFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("source", "", "identity source (pkcs11, pkcs12)")
	f.String("module", "", "path to the PKCS#11 module")
	f.Int("slot", 0, "index of the slot to use (default: first slot with a token)")
	f.String("token-label", "", "select the token by label")
	f.String("token-serial", "", "select the token by serial number")
	f.String("pin-entry", "", "how to obtain the PIN (PROMPT, STATIC, ENV)")
	f.String("pin-env", "", "environment variable holding the PIN in ENV mode")
	f.String("pkcs12", "", "PKCS#12 file for the pkcs12 source")
}

// applySlot sets the slot only when --slot was given, since an unset int
// flag would otherwise pin slot 0.
func applySlot(cmd *cobra.Command, cfg *config.Config) error {
	if !cmd.Flags().Changed("slot") {
		return nil
	}
	slot, err := cmd.Flags().GetInt("slot")
	if err != nil {
		return err
	}
	cfg.Token.SlotNo = &slot
	return nil
}

func (a *app) stampCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stamp [input.pdf] [output.pdf]",
		Short: "Stamp the token identity next to a phrase",
		Long: `Read the identity from the token and draw a stamp near every occurrence
of the phrase. When the phrase does not occur, page 1 is stamped at a fixed
position unless --fallback=false is given.`,
		Example: `  tokenstamp stamp --module /usr/lib/libeps2003.so contract.pdf contract-signed.pdf
  tokenstamp stamp --phrase "Approved by" --pin-entry ENV contract.pdf out.pdf
  tokenstamp stamp --source pkcs12 --pkcs12 id.p12 contract.pdf out.pdf`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, stampFlagKeys)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Input = args[0]
			}
			if len(args) > 1 {
				cfg.Output = args[1]
			}
			if err := applySlot(cmd, cfg); err != nil {
				return err
			}

			log, err := a.logger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			report, err := workflow.Run(cmd.Context(), cfg, workflow.Deps{
				Prompt: a.prompt,
				Logger: log,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return a.printJSON(report)
			}
			a.printReport(report)
			return nil
		},
	}

	f := cmd.Flags()
	f.String("phrase", "", `phrase to anchor the stamp to (default "AUTHORISED SIGNATORY")`)
	addTokenFlags(cmd)
	f.Float64("offset-x", stamp.DefaultOffsets().X, "horizontal stamp offset from the phrase")
	f.Float64("offset-y", stamp.DefaultOffsets().Y, "vertical stamp offset above the phrase")
	f.Float64("font-size", 0, "stamp font size (0 keeps the layout default)")
	f.Bool("fallback", true, "stamp page 1 when the phrase is not found")
	f.Bool("highlight", true, "outline each matched phrase")
	f.Bool("verify", true, "validate the output after writing")
	f.BoolVar(&asJSON, "json", false, "print the run report as JSON")
	return cmd
}

func (a *app) printReport(r *workflow.Report) {
	fmt.Fprintf(a.out, "Stamped %s\n", r.Output)
	fmt.Fprintf(a.out, "  Signed by: %s\n", r.Identity.Username)
	fmt.Fprintf(a.out, "  Timestamp: %s\n", r.Identity.Timestamp)
	if r.Fallback {
		fmt.Fprintln(a.out, "  Phrase not found; stamped page 1")
	}
	for _, p := range r.Placements {
		fmt.Fprintf(a.out, "  Stamp: %s\n", p)
	}
	fmt.Fprintf(a.out, "  Run: %s\n", r.RunID)
}
