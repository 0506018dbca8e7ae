package cli

import (
	"fmt"
	"os"

	"github.com/foomo/geocat-mcp/service"
	"github.com/spf13/cobra"
)

func newSubtemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subtemplate",
		Short: "Manage subtemplates",
	}
	cmd.AddCommand(newSubtemplateCreateCmd())
	return cmd
}

func newSubtemplateCreateCmd() *cobra.Command {
	var (
		file      string
		validated bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a subtemplate, the contact template unless --file is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			template := service.ContactTemplate
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				template = string(data)
			}

			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := service.NewSubtemplateService(rt.client).CreateNewSubtemplate(cmd.Context(), template, validated, func() {
				fmt.Fprintln(cmd.ErrOrStderr(), "creating subtemplate...")
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Subtemplate xml file")
	cmd.Flags().BoolVar(&validated, "validated", false, "Create a validated subtemplate")
	return cmd
}
