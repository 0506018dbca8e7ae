package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/foomo/geocat-mcp/service/vo"
	"github.com/foomo/geocat-mcp/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ExtentCRS              = "EPSG:21781"
	NonValidatedExtentType = "gn:non_validated"
	// EditorLocation is the editor of a subtemplate record
	EditorLocation = "catalog.edit#/metadata/%s/tab/simple"
)

var (
	ErrSessionNotFound = errors.New("edit session not found")
	ErrNoTarget        = errors.New("no picker to insert the shared object into")
	subtemplateHref    = regexp.MustCompile(`local://subtemplate\?uuid=([^&]+).*`)
)

// EditRequest opens an edit session, without XLink a new shared object is created
type EditRequest struct {
	Kind       vo.Kind `json:"type,omitempty"`
	XLink      string  `json:"xlink,omitempty"`
	MetadataID string  `json:"metadataId,omitempty"`
	// Target is the picker a newly created shared object is inserted with,
	// defaults to the first registered picker of the type
	Target string `json:"target,omitempty"`
}

// EditSession is the state of one shared object edit
type EditSession struct {
	ID         string           `json:"id"`
	Kind       vo.Kind          `json:"type"`
	XLink      string           `json:"xlink,omitempty"`
	MetadataID string           `json:"metadataId,omitempty"`
	Target     string           `json:"target,omitempty"`
	Extent     *vo.ExtentForm   `json:"extent,omitempty"`
	Keyword    vo.LocalizedText `json:"keyword,omitempty"`
	KeywordID  string           `json:"keywordId,omitempty"`
	Thesaurus  string           `json:"thesaurus,omitempty"`
	// Created is the href of a new shared object already stored in the
	// catalog, a retried finish only repeats the insertion
	Created string `json:"created,omitempty"`
}

// IsNew tells if the session creates a shared object
func (s *EditSession) IsNew() bool {
	return s.XLink == ""
}

// EditUpdate replaces the form of a session wholesale
type EditUpdate struct {
	Extent  *vo.ExtentForm   `json:"extent,omitempty"`
	Keyword vo.LocalizedText `json:"keyword,omitempty"`
}

type EditResult struct {
	Kind    vo.Kind `json:"type"`
	XLink   string  `json:"xlink,omitempty"`
	Snippet string  `json:"snippet,omitempty"`
	Saved   bool    `json:"saved"`
	Skipped bool    `json:"skipped,omitempty"`
}

type ResolveResult struct {
	EditorURL string       `json:"editorUrl,omitempty"`
	Session   *EditSession `json:"session,omitempty"`
}

func (s *service) EditEntry(ctx context.Context, req EditRequest) (*EditSession, error) {
	kind := req.Kind
	if kind == "" && req.XLink != "" {
		k, err := KindOfXLink(req.XLink)
		if err != nil {
			return nil, err
		}
		kind = k
	}
	es := &EditSession{
		ID:         uuid.NewString(),
		Kind:       kind,
		XLink:      req.XLink,
		MetadataID: req.MetadataID,
		Target:     req.Target,
	}
	switch kind {
	case vo.KindExtents:
		if err := s.openExtent(ctx, es); err != nil {
			return nil, err
		}
	case vo.KindKeywords:
		if err := s.openKeyword(ctx, es); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q cannot be edited", ErrUnknownKind, kind)
	}
	if err := s.sessions.Save(ctx, es.ID, es, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("failed to store edit session: %w", err)
	}
	s.logger.Info("opened edit session", zap.String("session", es.ID), zap.String("type", string(kind)), zap.Bool("new", es.IsNew()))
	return es, nil
}

// extentFeature is the json shape of xml.extent.get
type extentFeature struct {
	FeatureType struct {
		Geom  string            `json:"geom"`
		Desc  map[string]string `json:"desc"`
		GeoID map[string]string `json:"geoId"`
	} `json:"featureType"`
}

func xlinkParams(xlink string) url.Values {
	_, query, _ := strings.Cut(xlink, "?")
	params, _ := url.ParseQuery(query)
	return params
}

func (s *service) openExtent(ctx context.Context, es *EditSession) error {
	form := vo.ExtentFormTemplate()
	es.Extent = form
	if es.IsNew() {
		form.TypeName = NonValidatedExtentType
		form.Geom = vo.DefaultExtentGeom
		return nil
	}

	params := xlinkParams(es.XLink)
	form.ID = params.Get("id")
	form.TypeName = params.Get("typename")

	var features []extentFeature
	err := s.client.GetJSON(ctx, EndpointExtentGet, url.Values{
		"id":             {form.ID},
		"typename":       {form.TypeName},
		"format":         {"wkt"},
		"crs":            {ExtentCRS},
		paramContentType: {"json"},
	}, &features)
	if err != nil {
		return fmt.Errorf("failed to load extent %s: %w", form.ID, err)
	}
	if len(features) == 0 {
		return fmt.Errorf("extent %s not found", form.ID)
	}
	ft := features[0].FeatureType
	form.Geom = ft.Geom
	for _, lang := range vo.Languages {
		form.Desc.Get(lang).Label = ft.Desc[string(lang)]
		form.GeoID.Get(lang).Label = ft.GeoID[string(lang)]
	}
	return nil
}

func (s *service) openKeyword(ctx context.Context, es *EditSession) error {
	if es.IsNew() {
		es.Keyword = vo.NewLocalizedText()
		return nil
	}
	es.Thesaurus, es.KeywordID = ParseKeywordRow(es.XLink)
	text, err := fetchKeyword(ctx, s.client, es.Thesaurus, es.KeywordID)
	if err != nil {
		return err
	}
	es.Keyword = text
	return nil
}

func (s *service) loadSession(ctx context.Context, id string) (*EditSession, error) {
	es := &EditSession{}
	if err := s.sessions.Load(ctx, id, es); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	return es, nil
}

func (s *service) CancelEdit(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}

// FinishEdit persists the edited shared object. The session is kept when
// persisting fails so the edit can be retried.
func (s *service) FinishEdit(ctx context.Context, sessionID string, update EditUpdate) (*EditResult, error) {
	es, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var result *EditResult
	switch es.Kind {
	case vo.KindExtents:
		if update.Extent != nil {
			es.Extent = update.Extent
		}
		result, err = s.finishExtent(ctx, es)
	case vo.KindKeywords:
		if update.Keyword != nil {
			es.Keyword = update.Keyword
		}
		result, err = s.finishKeyword(ctx, es)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, es.Kind)
	}
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("failed to delete edit session", zap.String("session", sessionID), zap.Error(err))
	}
	if !result.Skipped {
		s.notify(Event{Type: EventEdited, MetadataID: es.MetadataID, XLink: result.XLink})
	}
	return result, nil
}

func extentForm(form *vo.ExtentForm) url.Values {
	values := url.Values{
		"id":             {form.ID},
		"typename":       {form.TypeName},
		"format":         {form.Format},
		"geomType":       {form.GeomType},
		"typeCode":       {fmt.Sprint(form.TypeCode)},
		"geom":           {form.Geom},
		"crs":            {ExtentCRS},
		paramContentType: {"json"},
	}
	for _, lang := range vo.Languages {
		values.Set("desc_"+string(lang), form.Desc.Get(lang).Label)
		values.Set("geoId_"+string(lang), form.GeoID.Get(lang).Label)
	}
	return values
}

func (s *service) finishExtent(ctx context.Context, es *EditSession) (*EditResult, error) {
	if es.Extent == nil {
		return nil, fmt.Errorf("extent session %s has no form", es.ID)
	}
	if es.IsNew() {
		return s.finishNewExtent(ctx, es)
	}
	if _, err := s.client.PostForm(ctx, EndpointExtentUpdate, nil, extentForm(es.Extent)); err != nil {
		return nil, fmt.Errorf("failed to store extent: %w", err)
	}
	result := &EditResult{Kind: vo.KindExtents, XLink: es.XLink}
	if es.MetadataID != "" {
		if err := s.editor.Save(ctx, es.MetadataID, nil); err != nil {
			return nil, err
		}
		result.Saved = true
	}
	return result, nil
}

// finishNewExtent stores a new extent once and inserts it with the target
// picker. The stored href is kept in the session for retries.
func (s *service) finishNewExtent(ctx context.Context, es *EditSession) (*EditResult, error) {
	target, err := s.target(es)
	if err != nil {
		return nil, err
	}
	if es.Created == "" {
		body, err := s.client.PostForm(ctx, EndpointExtentAdd, nil, extentForm(es.Extent))
		if err != nil {
			return nil, fmt.Errorf("failed to store extent: %w", err)
		}
		var hrefs []string
		if err := json.Unmarshal(body, &hrefs); err != nil || len(hrefs) == 0 {
			return nil, fmt.Errorf("unexpected answer storing extent: %s", string(body))
		}
		es.Created = hrefs[0]
		if err := s.sessions.Save(ctx, es.ID, es, s.sessionTTL); err != nil {
			s.logger.Warn("failed to remember stored extent", zap.String("session", es.ID), zap.Error(err))
		}
	} else {
		s.logger.Info("extent already stored, retrying insertion", zap.String("session", es.ID), zap.String("href", es.Created))
	}

	href := es.Created
	result := &EditResult{Kind: vo.KindExtents, XLink: href}
	entry := vo.Fragment{
		ID:    xlinkParams(href).Get("id"),
		Kind:  vo.KindExtents,
		XLink: href,
	}
	snip, err := target.AddEntry(ctx, []vo.Fragment{entry}, "", true)
	if err != nil {
		return nil, err
	}
	result.Snippet = snip
	result.Saved = true
	return result, nil
}

// target finds the picker a new shared object is inserted with
func (s *service) target(es *EditSession) (*Picker, error) {
	if es.Target != "" {
		if p := s.registry.Get(es.Target); p != nil {
			return p, nil
		}
		return nil, fmt.Errorf("%w: picker %q is not registered", ErrNoTarget, es.Target)
	}
	if p := s.registry.First(es.Kind); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: no %s picker registered", ErrNoTarget, es.Kind)
}

func (s *service) finishKeyword(ctx context.Context, es *EditSession) (*EditResult, error) {
	params, isEmpty := CreateUpdateParams(es.Keyword)
	params.Set("namespace", KeywordNamespace)
	params.Set("ref", NonValidatedKeywordRef)
	if !es.IsNew() {
		_, code := SplitKeywordID(es.KeywordID)
		params.Set("newid", code)
		params.Set("oldid", code)
	}
	result := &EditResult{Kind: vo.KindKeywords, XLink: es.XLink}
	if isEmpty {
		result.Skipped = true
		return result, nil
	}
	if err := updateKeyword(ctx, s.client, params, url.Values{paramContentType: {"json"}}); err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveUpdate opens what is needed to update the shared object behind href:
// subtemplates are edited as records, anything else in an edit session
func (s *service) ResolveUpdate(ctx context.Context, href, metadataID string) (*ResolveResult, error) {
	if m := subtemplateHref.FindStringSubmatch(href); m != nil {
		id, err := s.findSubtemplate(ctx, m[1])
		if err != nil {
			return nil, err
		}
		return &ResolveResult{EditorURL: fmt.Sprintf(EditorLocation, id)}, nil
	}
	es, err := s.EditEntry(ctx, EditRequest{XLink: href, MetadataID: metadataID})
	if err != nil {
		return nil, err
	}
	return &ResolveResult{Session: es}, nil
}

func (s *service) findSubtemplate(ctx context.Context, subtemplateUUID string) (string, error) {
	var data struct {
		Metadata []struct {
			Info struct {
				ID string `json:"id"`
			} `json:"geonet:info"`
		} `json:"metadata"`
	}
	err := s.client.GetJSON(ctx, EndpointSearch, url.Values{
		"_uuid":          {subtemplateUUID},
		paramContentType: {"json"},
		"fast":           {"index"},
		"_isTemplate":    {"s"},
	}, &data)
	if err != nil {
		return "", fmt.Errorf("failed to search subtemplate %s: %w", subtemplateUUID, err)
	}
	if len(data.Metadata) == 0 {
		return "", fmt.Errorf("subtemplate %s not found", subtemplateUUID)
	}
	return data.Metadata[0].Info.ID, nil
}
