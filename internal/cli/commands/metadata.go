package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ngdi-portal/portal/internal/cli/client"
)

// NewMetadataCmd creates the metadata command group
func NewMetadataCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "metadata",
		Aliases: []string{"md"},
		Short:   "Manage metadata records",
	}

	cmd.AddCommand(newMetadataListCmd(env))
	cmd.AddCommand(newMetadataGetCmd(env))
	cmd.AddCommand(newMetadataCreateCmd(env))
	cmd.AddCommand(newMetadataUpdateCmd(env))
	cmd.AddCommand(newMetadataDeleteCmd(env))

	return cmd
}

func newMetadataListCmd(env *Env) *cobra.Command {
	var page, limit int

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List metadata records",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := env.authedClient()
			if err != nil {
				return err
			}

			result, err := c.ListMetadata(cmd.Context(), page, limit)
			if err != nil {
				return fmt.Errorf("failed to list metadata: %w", err)
			}

			if len(result.Items) == 0 {
				env.printf("No metadata records found.\n")
				return nil
			}

			w := tabwriter.NewWriter(env.Out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tORGANIZATION\tKEYWORDS\tUPDATED")
			for _, rec := range result.Items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.ID,
					rec.Title,
					rec.Organization,
					strings.Join(rec.Keywords, ","),
					rec.UpdatedAt.Format("2006-01-02 15:04"),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			env.printf("\nPage %d (%d per page), %d total\n", result.Page, result.Limit, result.Total)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 0, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 0, "Records per page")

	return cmd
}

func newMetadataGetCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a metadata record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := env.authedClient()
			if err != nil {
				return err
			}

			rec, err := c.GetMetadata(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get metadata: %w", err)
			}
			return printJSON(env, rec)
		},
	}
}

// recordFlags are the writable fields shared by create and update
type recordFlags struct {
	file         string
	title        string
	abstract     string
	organization string
	keywords     []string
	bbox         string
}

func (f *recordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Read the record from a JSON file (flags override its fields)")
	cmd.Flags().StringVar(&f.title, "title", "", "Title")
	cmd.Flags().StringVar(&f.abstract, "abstract", "", "Abstract")
	cmd.Flags().StringVar(&f.organization, "organization", "", "Responsible organization")
	cmd.Flags().StringSliceVar(&f.keywords, "keyword", nil, "Keyword (repeatable)")
	cmd.Flags().StringVar(&f.bbox, "bbox", "", "Extent as west,south,east,north")
}

func (f *recordFlags) input() (client.MetadataInput, error) {
	var in client.MetadataInput

	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return in, fmt.Errorf("failed to read %s: %w", f.file, err)
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return in, fmt.Errorf("failed to parse %s: %w", f.file, err)
		}
	}

	if f.title != "" {
		in.Title = f.title
	}
	if f.abstract != "" {
		in.Abstract = f.abstract
	}
	if f.organization != "" {
		in.Organization = f.organization
	}
	if len(f.keywords) > 0 {
		in.Keywords = f.keywords
	}
	if f.bbox != "" {
		bbox, err := parseBBox(f.bbox)
		if err != nil {
			return in, err
		}
		in.BBox = bbox
	}

	return in, nil
}

func parseBBox(s string) (*client.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must be west,south,east,north")
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox value %q: %w", p, err)
		}
		v[i] = f
	}
	return &client.BoundingBox{West: v[0], South: v[1], East: v[2], North: v[3]}, nil
}

func newMetadataCreateCmd(env *Env) *cobra.Command {
	var flags recordFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a metadata record",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := flags.input()
			if err != nil {
				return err
			}

			c, err := env.authedClient()
			if err != nil {
				return err
			}

			rec, err := c.CreateMetadata(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("failed to create metadata: %w", err)
			}

			env.printf("✓ Created %s (%s)\n", rec.ID, rec.Title)
			return nil
		},
	}
	flags.register(cmd)

	return cmd
}

func newMetadataUpdateCmd(env *Env) *cobra.Command {
	var flags recordFlags

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a metadata record; unset flags keep their current values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := env.authedClient()
			if err != nil {
				return err
			}

			current, err := c.GetMetadata(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get metadata: %w", err)
			}

			changes, err := flags.input()
			if err != nil {
				return err
			}
			in := merge(current, changes)

			rec, err := c.UpdateMetadata(cmd.Context(), args[0], in)
			if err != nil {
				return fmt.Errorf("failed to update metadata: %w", err)
			}

			env.printf("✓ Updated %s (%s)\n", rec.ID, rec.Title)
			return nil
		},
	}
	flags.register(cmd)

	return cmd
}

// merge overlays the non-empty fields of changes on the current record
func merge(current *client.Metadata, changes client.MetadataInput) client.MetadataInput {
	in := client.MetadataInput{
		Title:        current.Title,
		Abstract:     current.Abstract,
		Organization: current.Organization,
		Keywords:     current.Keywords,
		BBox:         current.BBox,
		Properties:   current.Properties,
	}
	if changes.Title != "" {
		in.Title = changes.Title
	}
	if changes.Abstract != "" {
		in.Abstract = changes.Abstract
	}
	if changes.Organization != "" {
		in.Organization = changes.Organization
	}
	if changes.Keywords != nil {
		in.Keywords = changes.Keywords
	}
	if changes.BBox != nil {
		in.BBox = changes.BBox
	}
	if changes.Properties != nil {
		in.Properties = changes.Properties
	}
	return in
}

func newMetadataDeleteCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a metadata record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := env.authedClient()
			if err != nil {
				return err
			}

			if err := c.DeleteMetadata(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete metadata: %w", err)
			}

			env.printf("✓ Deleted %s\n", args[0])
			return nil
		},
	}
}

func printJSON(env *Env, v interface{}) error {
	enc := json.NewEncoder(env.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
