package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/geobatch/pkg/geocode"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured geocoding providers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		registry := buildRegistry("", geocode.NopSink{})
		formatProviders(os.Stdout, registry.All())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

// effectiveRate describes the request throttle applied per provider. HERE
// and Google run unthrottled and rely on quota responses.
func effectiveRate(name string) string {
	switch name {
	case "osm":
		rate := cfg.Geocode.OSMRatePerSec
		if rate <= 0 || rate > 1 {
			rate = 1
		}
		return fmt.Sprintf("%.1f req/s", rate)
	case "opencage", "geocode_xyz":
		return "1.0 req/s"
	default:
		return "unthrottled"
	}
}

func capabilityList(c geocode.Capabilities) string {
	var caps []string
	if c.FreeText {
		caps = append(caps, "free-text")
	}
	if c.Structured {
		caps = append(caps, "structured")
	}
	if c.PlaceLookup {
		caps = append(caps, "place-lookup")
	}
	if len(caps) == 0 {
		return "-"
	}
	return strings.Join(caps, ",")
}

func formatProviders(out io.Writer, providers []geocode.Provider) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROVIDER\tCREDENTIALS\tCAPABILITIES\tRATE")
	_, _ = fmt.Fprintln(w, "--------\t-----------\t------------\t----")

	for _, p := range providers {
		creds := "missing"
		if p.Available() {
			creds = "configured"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			p.Name(),
			creds,
			capabilityList(p.Capabilities()),
			effectiveRate(p.Name()),
		)
	}
	_ = w.Flush()
}
