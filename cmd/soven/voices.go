package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/soven/internal/config"
	"github.com/MrWong99/soven/pkg/provider/tts"
	"github.com/MrWong99/soven/pkg/voice"
)

type voicesOptions struct {
	catalog string
	asJSON  bool
	probe   bool
}

func newVoicesCmd(root *rootOptions) *cobra.Command {
	opts := &voicesOptions{}
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the voice catalog",
		Long: `List the voice catalog in matching order.

With --probe the configured TTS provider is asked which speakers it serves
and each entry is marked as available or missing.

Examples:
  soven voices
  soven voices --catalog voices.yaml --json
  soven -c config.yaml voices --probe`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig(true)
			if err != nil {
				return err
			}
			path := opts.catalog
			if path == "" {
				path = cfg.Voices.CatalogFile
			}
			cat := voice.Builtin()
			if path != "" {
				if cat, err = voice.LoadFile(path); err != nil {
					return err
				}
			}

			var served map[tts.Voice]bool
			if opts.probe {
				if served, err = probeVoices(cmd.Context(), cfg); err != nil {
					return err
				}
			}

			if opts.asJSON {
				return writeVoicesJSON(cmd.OutOrStdout(), cat, served)
			}
			return writeVoicesTable(cmd.OutOrStdout(), cat, served)
		},
	}
	cmd.Flags().StringVar(&opts.catalog, "catalog", "", "catalog file (default: voices.catalog_file or the built-in catalog)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of a table")
	cmd.Flags().BoolVar(&opts.probe, "probe", false, "check availability against the configured TTS provider")
	return cmd
}

// probeVoices returns the set of voices the configured TTS backend reports.
func probeVoices(ctx context.Context, cfg *config.Config) (map[tts.Voice]bool, error) {
	if cfg.Providers.TTS.Name == "" {
		return nil, fmt.Errorf("--probe needs providers.tts in the config file")
	}
	p, err := newProviderRegistry().CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, err
	}
	vl, ok := p.(tts.VoiceLister)
	if !ok {
		return nil, fmt.Errorf("tts provider %q cannot list voices", cfg.Providers.TTS.Name)
	}
	voices, err := vl.ListVoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	served := make(map[tts.Voice]bool, len(voices))
	for _, v := range voices {
		served[v] = true
	}
	return served, nil
}

func available(served map[tts.Voice]bool, e voice.Entry) bool {
	return served[tts.Voice{Model: e.Model, Speaker: e.Speaker}]
}

func writeVoicesTable(w io.Writer, cat *voice.Catalog, served map[tts.Voice]bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "CODE\tGENDER\tAGE\tACCENT\tREGION\tDESCRIPTION"
	if served != nil {
		header += "\tSERVED"
	}
	fmt.Fprintln(tw, header)
	for _, e := range cat.All() {
		row := []string{e.Code, e.Gender, strconv.Itoa(e.Age), e.Accent, e.Region, e.Description}
		if served != nil {
			mark := "no"
			if available(served, e) {
				mark = "yes"
			}
			row = append(row, mark)
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

type voiceRow struct {
	voice.Entry
	Served *bool `json:"served,omitempty"`
}

func writeVoicesJSON(w io.Writer, cat *voice.Catalog, served map[tts.Voice]bool) error {
	rows := make([]voiceRow, 0, cat.Len())
	for _, e := range cat.All() {
		row := voiceRow{Entry: e}
		if served != nil {
			ok := available(served, e)
			row.Served = &ok
		}
		rows = append(rows, row)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
