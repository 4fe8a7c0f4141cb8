package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/tokenstamp/locate"
	"github.com/georgepadayatti/tokenstamp/pdf/generic"
)

// LocateResult is one occurrence with its rectangles for JSON output.
type LocateResult struct {
	Page  int           `json:"page"`
	Start int           `json:"start"`
	End   int           `json:"end"`
	Rects []locate.Rect `json:"rects,omitempty"`
}

func (a *app) locateCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "locate <input.pdf>",
		Short: "List the occurrences of a phrase",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, map[string]string{"phrase": "phrase"})
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Input = args[0]
			}
			if err := cfg.ValidateDocument(); err != nil {
				return err
			}

			doc, err := locate.OpenFile(cfg.Input)
			if err != nil {
				return err
			}
			occurrences, err := locate.Find(doc, cfg.Phrase)
			if err != nil {
				return err
			}

			results := make([]LocateResult, 0, len(occurrences))
			for _, occ := range occurrences {
				rects, err := doc.Rects(occ)
				if err != nil {
					return err
				}
				results = append(results, LocateResult{Page: occ.Page, Start: occ.Start, End: occ.End, Rects: rects})
			}

			if asJSON {
				return a.printJSON(results)
			}
			if len(results) == 0 {
				fmt.Fprintf(a.out, "%q not found in %s\n", cfg.Phrase, cfg.Input)
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(a.out, "page %d [%d:%d]", r.Page, r.Start, r.End)
				for _, rect := range r.Rects {
					fmt.Fprintf(a.out, " (%s %s %s %s)",
						generic.FormatNumber(rect.LLX), generic.FormatNumber(rect.LLY),
						generic.FormatNumber(rect.URX), generic.FormatNumber(rect.URY))
				}
				fmt.Fprintln(a.out)
			}
			return nil
		},
	}
	cmd.Flags().String("phrase", "", `phrase to search for (default "AUTHORISED SIGNATORY")`)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print occurrences as JSON")
	return cmd
}
