package cli

import (
	"encoding/json"
	"fmt"

	"github.com/foomo/geocat-mcp/service"
	"github.com/foomo/geocat-mcp/service/vo"
	"github.com/spf13/cobra"
)

func newKeywordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyword",
		Short: "Create and update thesaurus keywords",
	}
	cmd.AddCommand(newKeywordCreateCmd(), newKeywordUpdateCmd())
	return cmd
}

// keywordFlags are the localized texts given as lang=text pairs
type keywordFlags struct {
	labels map[string]string
	descs  map[string]string
}

func (f *keywordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringToStringVar(&f.labels, "label", nil, "Label per language, e.g. --label ger=Wald")
	cmd.Flags().StringToStringVar(&f.descs, "desc", nil, "Description per language, e.g. --desc ger=Bäume")
}

func (f *keywordFlags) apply(editor *service.KeywordEditor, form vo.LocalizedText) error {
	for _, m := range []map[string]string{f.labels, f.descs} {
		for lang := range m {
			if !knownLang(vo.Lang(lang)) {
				return fmt.Errorf("unsupported language %q", lang)
			}
		}
	}
	for _, lang := range vo.Languages {
		text := form.Get(lang)
		label, desc := text.Label, text.Desc
		if v, ok := f.labels[string(lang)]; ok {
			label = v
		}
		if v, ok := f.descs[string(lang)]; ok {
			desc = v
		}
		editor.SetText(lang, label, desc)
	}
	return nil
}

func knownLang(lang vo.Lang) bool {
	for _, l := range vo.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newKeywordCreateCmd() *cobra.Command {
	flags := &keywordFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a keyword, nothing is sent when all texts are empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			editor := service.NewKeywordEditor(rt.client, rt.logger.Named("keyword"))
			if err := flags.apply(editor, editor.Form()); err != nil {
				return err
			}
			result, err := editor.CreateNewObject(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	flags.register(cmd)
	return cmd
}

func newKeywordUpdateCmd() *cobra.Command {
	flags := &keywordFlags{}
	cmd := &cobra.Command{
		Use:   "update <url>",
		Short: "Update the texts of a keyword given by its listing url",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			editor := service.NewKeywordEditor(rt.client, rt.logger.Named("keyword"))
			edit, err := editor.Edit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := flags.apply(editor, edit.Form); err != nil {
				return err
			}
			if err := edit.Finish(cmd.Context()); err != nil {
				return err
			}
			edit.Form = editor.Form()
			return printJSON(cmd, edit)
		},
	}
	flags.register(cmd)
	return cmd
}
