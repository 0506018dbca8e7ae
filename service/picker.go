package service

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/foomo/geocat-mcp/service/vo"
	"github.com/foomo/geocat-mcp/snippet"
	"go.uber.org/zap"
)

// PickerState is the state of a picker, idle -> loading -> listed ->
// embedding | xlinking -> saved
type PickerState string

const (
	StateIdle      PickerState = "idle"
	StateLoading   PickerState = "loading"
	StateListed    PickerState = "listed"
	StateEmbedding PickerState = "embedding"
	StateXLinking  PickerState = "xlinking"
	StateSaved     PickerState = "saved"
	StateFailed    PickerState = "failed"
)

// RoleCodelist holds the contact role codes
const RoleCodelist = "gmd:CI_RoleCode"

var dynamicVariable = regexp.MustCompile(`{.*}`)

// PickerConfig describes where a picker inserts shared objects
type PickerConfig struct {
	ID         string  `json:"id"`
	Kind       vo.Kind `json:"type"`
	MetadataID string  `json:"metadataId"`
	// ElementName is the qualified name of the inserted element, e.g. gmd:contact
	ElementName string `json:"elementName"`
	// ElementRef is the editor reference of the parent element
	ElementRef string `json:"elementRef"`
	// DomID is where the editor shows an added element, the catalog does not need it
	DomID string `json:"domId,omitempty"`
	// TemplateAddAction saves the record right after Add
	TemplateAddAction bool `json:"templateAddAction,omitempty"`
	// Variables is the process expression sent with subtemplate retrieval,
	// e.g. gmd:role/gmd:CI_RoleCode/@codeListValue~{role}
	Variables string `json:"variables,omitempty"`
}

// Progress is called once per entry of AddEntry when its fetch finished
type Progress func(index int, fragment vo.Fragment, err error)

type AddEntryOption func(*addEntryOptions)

type addEntryOptions struct {
	progress Progress
}

func WithProgress(p Progress) AddEntryOption {
	return func(o *addEntryOptions) {
		o.progress = p
	}
}

// Picker lists shared objects of one type and inserts the selected ones into
// the record being edited
type Picker struct {
	cfg     PickerConfig
	kind    FragmentKind
	service *service

	mu          sync.Mutex
	state       PickerState
	objects     []vo.Fragment
	snippet     string
	role        string
	regionType  string
	searchValue string
	extent      ExtentProps
	loadSeq     uint64
}

func (p *Picker) ID() string {
	return p.cfg.ID
}

func (p *Picker) Kind() vo.Kind {
	return p.cfg.Kind
}

func (p *Picker) Config() PickerConfig {
	return p.cfg
}

func (p *Picker) State() PickerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Picker) Objects() []vo.Fragment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]vo.Fragment(nil), p.objects...)
}

// Snippet is the last assembled snippet
func (p *Picker) Snippet() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snippet
}

// SnippetRef is the editor field the snippet is submitted with
func (p *Picker) SnippetRef() string {
	return snippet.BuildXMLFieldName(p.cfg.ElementRef, p.cfg.ElementName)
}

func (p *Picker) HasDynamicVariable() bool {
	return p.cfg.Variables != "" && dynamicVariable.MatchString(p.cfg.Variables)
}

func (p *Picker) SetRole(role string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.role = role
}

func (p *Picker) SetRegionType(regionType string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.regionType = regionType
}

func (p *Picker) SetSearchValue(q string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.searchValue = q
}

func (p *Picker) SetExtentProps(props ExtentProps) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extent = props
}

func (p *Picker) ExtentProps() ExtentProps {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extent
}

func (p *Picker) setState(s PickerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// LoadSO lists the shared objects matching the current search value. When
// loads overlap only the latest one updates the list, an outdated answer is
// returned to its caller but not stored.
func (p *Picker) LoadSO(ctx context.Context) ([]vo.Fragment, error) {
	p.mu.Lock()
	p.loadSeq++
	seq := p.loadSeq
	p.state = StateLoading
	var validated string
	if p.cfg.Kind == vo.KindExtents && p.regionType != "" {
		validated = "gn:" + p.regionType
	}
	q := p.searchValue
	p.mu.Unlock()

	objects, err := p.service.LoadRecords(ctx, p.cfg.Kind, q, validated)

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.loadSeq {
		p.service.logger.Debug("dropping outdated shared object list", zap.String("picker", p.cfg.ID), zap.Uint64("seq", seq))
		return objects, err
	}
	if err != nil {
		p.state = StateFailed
		return nil, err
	}
	p.objects = objects
	p.state = StateListed
	return objects, nil
}

// Add inserts an empty element without using a shared object
func (p *Picker) Add(ctx context.Context) error {
	err := p.service.editor.Add(ctx, AddRequest{
		MetadataID: p.cfg.MetadataID,
		Ref:        p.cfg.ElementRef,
		Name:       p.cfg.ElementName,
		Position:   "before",
	})
	if err != nil {
		return err
	}
	if p.cfg.TemplateAddAction {
		if err := p.service.editor.Save(ctx, p.cfg.MetadataID, nil); err != nil {
			return err
		}
		p.service.notify(Event{Type: EventSaved, MetadataID: p.cfg.MetadataID, Picker: p.cfg.ID})
	}
	return nil
}

// process builds the process parameter of the subtemplate retrieval
func (p *Picker) process(role string) string {
	if p.HasDynamicVariable() && role != "" {
		return strings.Replace(p.cfg.Variables, "{role}", role, 1)
	}
	return p.cfg.Variables
}

func xlinkAttrs(f vo.Fragment) []snippet.Attr {
	attrs := []snippet.Attr{{Key: "xlink:show", Value: "embed"}}
	if !f.Validated {
		attrs = append(attrs, snippet.Attr{Key: "xlink:role", Value: snippet.RoleNonValidated})
	}
	return attrs
}

// AddEntry fetches all entries in parallel, joins the snippets in selection
// order and saves the record. If any entry fails nothing is saved and the
// returned error is a *BatchError.
func (p *Picker) AddEntry(ctx context.Context, entries []vo.Fragment, role string, usingXlink bool, opts ...AddEntryOption) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("no entries selected")
	}
	o := &addEntryOptions{}
	for _, opt := range opts {
		opt(o)
	}

	p.mu.Lock()
	if role == "" {
		role = p.role
	}
	extent := p.extent
	p.snippet = ""
	if usingXlink {
		p.state = StateXLinking
	} else {
		p.state = StateEmbedding
	}
	p.mu.Unlock()

	process := p.process(role)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	logger := p.service.logger.With(zap.String("picker", p.cfg.ID), zap.String("type", string(p.cfg.Kind)))
	snippets, err := gather(ctx, ids, p.service.insert.Concurrency, p.service.insert.Timeout, func(ctx context.Context, i int) (string, error) {
		entry := entries[i]
		s, err := p.buildSnippet(ctx, entry, process, extent, usingXlink)
		if err != nil {
			logger.Warn("failed to fetch shared object", zap.String("uuid", entry.ID), zap.Error(err))
		}
		if o.progress != nil {
			o.progress(i, entry, err)
		}
		return s, err
	})
	if err != nil {
		p.setState(StateFailed)
		return "", err
	}

	joined := snippet.Join(snippets)
	p.mu.Lock()
	p.snippet = joined
	p.mu.Unlock()

	if err := p.service.editor.Save(ctx, p.cfg.MetadataID, url.Values{p.SnippetRef(): {joined}}); err != nil {
		p.setState(StateFailed)
		return joined, err
	}
	p.setState(StateSaved)
	logger.Info("inserted shared objects", zap.Int("count", len(entries)), zap.Bool("xlink", usingXlink))
	p.service.notify(Event{
		Type:       EventSaved,
		MetadataID: p.cfg.MetadataID,
		Picker:     p.cfg.ID,
		Snippet:    joined,
	})
	return joined, nil
}

func (p *Picker) buildSnippet(ctx context.Context, entry vo.Fragment, process string, extent ExtentProps, usingXlink bool) (string, error) {
	xml, href, err := p.kind.fetch(ctx, p.service.client, fetchRequest{
		fragment: entry,
		process:  process,
		extent:   extent,
	})
	if err != nil {
		return "", err
	}
	if usingXlink {
		return snippet.BuildXMLForXlink(p.cfg.ElementName, href, xlinkAttrs(entry)...)
	}
	return snippet.BuildXML(p.cfg.ElementName, string(xml))
}

// Roles returns the contact role codes of the record schema
func (p *Picker) Roles(ctx context.Context) ([]CodelistEntry, error) {
	if p.cfg.Kind != vo.KindContacts {
		return nil, fmt.Errorf("roles are only available for contacts")
	}
	return p.service.Codelist(ctx, RoleCodelist)
}

// RegionTypes returns the categories extents can be filtered by
func (p *Picker) RegionTypes(ctx context.Context) ([]RegionType, error) {
	if p.cfg.Kind != vo.KindExtents {
		return nil, fmt.Errorf("region types are only available for extents")
	}
	return p.service.RegionTypes(ctx)
}
