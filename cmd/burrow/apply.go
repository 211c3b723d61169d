package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// manifest is one YAML document of an apply file
type manifest struct {
	Collection string      `yaml:"collection"`
	Records    []yaml.Node `yaml:"records"`
}

var applyCmd = &cobra.Command{
	Use:   "apply -f FILE",
	Short: "Create or update records from a YAML file",
	Long: `Apply reads one or more YAML documents, each naming a collection and a
list of records, and writes every record locally. Records without an id get
one assigned. Changes are queued and pushed to the remote when it is
reachable.

Example:
  collection: students
  records:
    - nisn: "0012"
      name: Ani
      class: 7A
      gender: P`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (- for stdin)")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")

	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		in = f
	}

	records, err := decodeManifests(in)
	if err != nil {
		return err
	}

	a, err := openLocal()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	for _, r := range records {
		action, err := a.mgr.Apply(r.collection, r.record)
		if err != nil {
			return fmt.Errorf("failed to apply %s record: %w", r.collection, err)
		}
		fmt.Fprintf(out, "%s/%s %s\n", r.collection, r.record.RecordID(), pastTense(action))
	}

	a.pushPending(cmd)
	return nil
}

type pendingRecord struct {
	collection types.Collection
	record     types.Record
}

// decodeManifests reads every document of a multi-document YAML stream
func decodeManifests(in io.Reader) ([]pendingRecord, error) {
	dec := yaml.NewDecoder(in)
	var out []pendingRecord
	for doc := 1; ; doc++ {
		var m manifest
		if err := dec.Decode(&m); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}
		if m.Collection == "" && len(m.Records) == 0 {
			continue
		}

		c, err := types.ParseCollection(m.Collection)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", doc, err)
		}
		for i := range m.Records {
			rec, _ := types.NewRecord(c)
			if err := m.Records[i].Decode(rec); err != nil {
				return nil, fmt.Errorf("document %d, record %d: %w", doc, i+1, err)
			}
			out = append(out, pendingRecord{collection: c, record: rec})
		}
	}
	return out, nil
}

func pastTense(a types.Action) string {
	switch a {
	case types.ActionCreate:
		return "created"
	case types.ActionUpdate:
		return "updated"
	default:
		return "deleted"
	}
}
