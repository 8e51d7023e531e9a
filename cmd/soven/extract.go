package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/soven/internal/extract"
	"github.com/MrWong99/soven/internal/personality"
	"github.com/MrWong99/soven/internal/voicematch"
	"github.com/MrWong99/soven/pkg/voice"
)

type extractOptions struct {
	file           string
	preferAmerican bool
	gender         string
	top            int
}

type extractOutput struct {
	Result   extract.Result         `json:"result"`
	Fallback bool                   `json:"fallback"`
	Error    string                 `json:"error,omitempty"`
	Voices   []voicematch.Selection `json:"voices"`
}

func newExtractCmd(root *rootOptions) *cobra.Command {
	opts := &extractOptions{}
	cmd := &cobra.Command{
		Use:   "extract [narrative]",
		Short: "Extract traits from a narrative and rank matching voices",
		Long: `Extract personality traits from a narrative with the configured LLM and
rank the best matching catalog voices. Nothing is stored.

The narrative is the argument, the --file contents, or stdin when neither is
given. Without an LLM the default traits are used.

Examples:
  soven extract "Frank's mom was a tired waitress who worked doubles"
  soven extract -f frank.txt --gender M --top 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(true)
			if err != nil {
				return err
			}
			narrative, err := readNarrative(cmd.InOrStdin(), opts.file, args)
			if err != nil {
				return err
			}
			prefs := personality.Preferences{PreferAmerican: &opts.preferAmerican, ExplicitGender: strings.ToUpper(opts.gender)}
			if err := prefs.Validate(); err != nil {
				return err
			}

			llmProvider, err := buildLLM(cfg.Providers.LLM, newProviderRegistry(), nil)
			if err != nil {
				return err
			}
			extractOpts := []extract.Option{extract.WithTimeout(cfg.Extraction.Timeout.Std())}
			if cfg.Extraction.Temperature > 0 {
				extractOpts = append(extractOpts, extract.WithTemperature(cfg.Extraction.Temperature))
			}

			out := extractOutput{}
			out.Result, err = extract.New(llmProvider, extractOpts...).Extract(cmd.Context(), narrative, extract.Hints{})
			if err != nil {
				out.Result, out.Fallback, out.Error = extract.Fallback(), true, err.Error()
			}

			cat := voice.Builtin()
			if path := cfg.Voices.CatalogFile; path != "" {
				if cat, err = voice.LoadFile(path); err != nil {
					return err
				}
			}
			ranked := voicematch.New(cat).Rank(out.Result.Traits, narrative, prefs)
			out.Voices = ranked[:min(max(opts.top, 1), len(ranked))]

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "read the narrative from a file")
	cmd.Flags().BoolVar(&opts.preferAmerican, "prefer-american", true, "prefer American accents")
	cmd.Flags().StringVar(&opts.gender, "gender", "", `explicit voice gender ("M" or "F")`)
	cmd.Flags().IntVar(&opts.top, "top", 3, "number of ranked voices to print")
	return cmd
}

func readNarrative(stdin io.Reader, file string, args []string) (string, error) {
	var (
		raw []byte
		err error
	)
	switch {
	case len(args) == 1:
		raw = []byte(args[0])
	case file != "":
		raw, err = os.ReadFile(file)
	default:
		raw, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", fmt.Errorf("read narrative: %w", err)
	}
	narrative := strings.TrimSpace(string(raw))
	if narrative == "" {
		return "", errors.New("narrative must not be empty")
	}
	return narrative, nil
}
