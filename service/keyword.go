package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/foomo/geocat-mcp/service/vo"
	"go.uber.org/zap"
)

const (
	KeywordNamespace       = "http://geocat.ch/concept#"
	CustomKeywordNamespace = "http://custom.shared.obj.ch/concept#"
	KeywordRef             = "local._none_.geocat.ch"
	NonValidatedKeywordRef = "local._none_.non_validated"
	// KeywordListLocation is shown after a keyword was created
	KeywordListLocation = "/validated/keywords"
)

// ParseKeywordRow extracts thesaurus and keyword id from the url of a listed
// keyword, the first occurrence of a parameter wins
func ParseKeywordRow(rowURL string) (thesaurus, id string) {
	query := rowURL
	if i := strings.Index(rowURL, "?"); i >= 0 {
		query = rowURL[i+1:]
	}
	var haveThesaurus, haveID bool
	for _, part := range strings.Split(query, "&") {
		key, value, _ := strings.Cut(part, "=")
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			decoded = value
		}
		switch {
		case key == "thesaurus" && !haveThesaurus:
			thesaurus, haveThesaurus = decoded, true
		case key == "id" && !haveID:
			id, haveID = decoded, true
		}
	}
	return thesaurus, id
}

// SplitKeywordID splits a keyword uri into namespace and code
func SplitKeywordID(id string) (namespace, code string) {
	namespace, code, _ = strings.Cut(id, "#")
	if i := strings.Index(code, "#"); i >= 0 {
		code = code[:i]
	}
	return namespace, code
}

// CreateUpdateParams builds the thesaurus update form, only non empty labels
// and descriptions are sent
func CreateUpdateParams(form vo.LocalizedText) (params url.Values, isEmpty bool) {
	params = url.Values{
		"ref":       {KeywordRef},
		"refType":   {"_none_"},
		"namespace": {CustomKeywordNamespace},
		"id":        {""},
	}
	isEmpty = true
	for _, lang := range vo.Languages {
		text := form.Get(lang)
		if text.Label != "" {
			isEmpty = false
			params.Set("loc_"+string(lang)+"_label", text.Label)
		}
		if text.Desc != "" {
			isEmpty = false
			params.Set("loc_"+string(lang)+"_definition", text.Desc)
		}
	}
	return params, isEmpty
}

func fetchKeyword(ctx context.Context, c *Client, thesaurus, id string) (vo.LocalizedText, error) {
	var data map[string]struct {
		Label      string `json:"label"`
		Definition string `json:"definition"`
	}
	err := c.GetJSON(ctx, EndpointKeywordGet, url.Values{
		"lang":      {vo.LanguagesCSV},
		"id":        {id},
		"thesaurus": {thesaurus},
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("failed to load keyword %s: %w", id, err)
	}
	text := vo.NewLocalizedText()
	for _, lang := range vo.Languages {
		v := data[string(lang)]
		text.Get(lang).Label = v.Label
		text.Get(lang).Desc = v.Definition
	}
	return text, nil
}

func updateKeyword(ctx context.Context, c *Client, params url.Values, query url.Values) error {
	if _, err := c.PostForm(ctx, EndpointKeywordUpdate, query, params); err != nil {
		return fmt.Errorf("failed to update keyword: %w", err)
	}
	return nil
}

// KeywordEditor edits thesaurus keywords in all supported languages
type KeywordEditor struct {
	client *Client
	logger *zap.Logger

	mu   sync.Mutex
	form vo.LocalizedText
}

func NewKeywordEditor(client *Client, logger *zap.Logger) *KeywordEditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordEditor{
		client: client,
		logger: logger,
		form:   vo.NewLocalizedText(),
	}
}

// Form returns a copy of the current form state
func (e *KeywordEditor) Form() vo.LocalizedText {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.form.Copy()
}

func (e *KeywordEditor) SetText(lang vo.Lang, label, desc string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.form.Get(lang)
	t.Label = label
	t.Desc = desc
}

func (e *KeywordEditor) SetForm(form vo.LocalizedText) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.form = form.Copy()
}

// KeywordEdit is an opened keyword, Finish submits the form for it
type KeywordEdit struct {
	Thesaurus string           `json:"thesaurus"`
	ID        string           `json:"id"`
	Form      vo.LocalizedText `json:"form"`
	editor    *KeywordEditor
}

func (k *KeywordEdit) Finish(ctx context.Context) error {
	return k.editor.SubmitEdit(ctx, k.Thesaurus, k.ID)
}

// Edit loads the keyword a listing row points to into the form
func (e *KeywordEditor) Edit(ctx context.Context, rowURL string) (*KeywordEdit, error) {
	thesaurus, id := ParseKeywordRow(rowURL)
	if id == "" {
		return nil, fmt.Errorf("no keyword id in %q", rowURL)
	}
	text, err := fetchKeyword(ctx, e.client, thesaurus, id)
	if err != nil {
		return nil, err
	}
	e.SetForm(text)
	return &KeywordEdit{
		Thesaurus: thesaurus,
		ID:        id,
		Form:      text.Copy(),
		editor:    e,
	}, nil
}

// SubmitEdit updates an existing keyword with the form state. An empty form
// is sent as well and clears the keyword.
func (e *KeywordEditor) SubmitEdit(ctx context.Context, thesaurus, id string) error {
	params, isEmpty := CreateUpdateParams(e.Form())
	namespace, code := SplitKeywordID(id)
	params.Set("newid", code)
	params.Set("oldid", code)
	params.Set("namespace", namespace)
	params.Set("ref", thesaurus)
	if isEmpty {
		e.logger.Warn("updating keyword with empty labels and descriptions", zap.String("id", id), zap.String("thesaurus", thesaurus))
	}
	return updateKeyword(ctx, e.client, params, nil)
}

type CreateResult struct {
	Created bool `json:"created"`
	// Location is the view to continue with
	Location string `json:"location,omitempty"`
}

// CreateNewObject creates a keyword from the form, an empty form is a no-op
func (e *KeywordEditor) CreateNewObject(ctx context.Context) (*CreateResult, error) {
	params, isEmpty := CreateUpdateParams(e.Form())
	if isEmpty {
		return &CreateResult{Created: false}, nil
	}
	params.Set("namespace", KeywordNamespace)
	if err := updateKeyword(ctx, e.client, params, nil); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.form.Clear()
	e.mu.Unlock()
	return &CreateResult{Created: true, Location: KeywordListLocation}, nil
}
