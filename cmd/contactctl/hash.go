package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/contacthub/internal/fingerprint"
	"github.com/JonMunkholm/contacthub/internal/importer"
	"github.com/JonMunkholm/contacthub/internal/mapping"
)

// headerLayout is the find-or-create request body for a file's header row.
type headerLayout struct {
	EntityType          mapping.EntityType `json:"entityType"`
	Headers             []string           `json:"headers"`
	HeaderNormalized    []string           `json:"headerNormalized"`
	HeaderHash          string             `json:"headerHash"`
	HeaderHashAlgorithm string             `json:"headerHashAlgorithm"`
}

func newHashCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "hash <file.csv>",
		Short: "Print the normalized headers and header hash of a CSV file",
		Long: "Reads only the header row. With --json the output is a request body\n" +
			"for POST /v1/mappings/find-or-create. Use - to read standard input.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := hashFile(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return printLayout(cmd.OutOrStdout(), layout, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print a find-or-create request body")
	return cmd
}

func hashFile(stdin io.Reader, path string) (headerLayout, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return headerLayout{}, withCode(exitUsage, err)
		}
		defer f.Close()
		r = f
	}

	headers, err := importer.ReadHeader(r)
	if err != nil {
		return headerLayout{}, fmt.Errorf("read %s: %w", path, err)
	}
	normalized := fingerprint.NormalizeHeaders(headers)
	return headerLayout{
		EntityType:          mapping.EntityContact,
		Headers:             headers,
		HeaderNormalized:    normalized,
		HeaderHash:          fingerprint.Headers(normalized),
		HeaderHashAlgorithm: fingerprint.Algorithm,
	}, nil
}

func printLayout(w io.Writer, layout headerLayout, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(layout)
	}
	_, err := fmt.Fprintf(w, "headers:    %s\nnormalized: %s\nalgorithm:  %s\nhash:       %s\n",
		strings.Join(layout.Headers, " | "),
		strings.Join(layout.HeaderNormalized, " | "),
		layout.HeaderHashAlgorithm,
		layout.HeaderHash,
	)
	return err
}
