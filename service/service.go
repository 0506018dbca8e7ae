package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/foomo/geocat-mcp/service/vo"
	"github.com/foomo/geocat-mcp/session"
	"go.uber.org/zap"
)

const (
	// MaxResults bounds shared object listings
	MaxResults         = 20
	DefaultDescription = "No description provided"
)

type Service interface {
	LoadRecords(ctx context.Context, kind vo.Kind, searchValue, validated string) ([]vo.Fragment, error)
	Codelist(ctx context.Context, name string) ([]CodelistEntry, error)
	RegionTypes(ctx context.Context) ([]RegionType, error)

	NewPicker(cfg PickerConfig) (*Picker, error)
	Registry() *Registry
	// Subscribe adds a notifier for editor events
	Subscribe(n Notifier)

	EditEntry(ctx context.Context, req EditRequest) (*EditSession, error)
	FinishEdit(ctx context.Context, sessionID string, update EditUpdate) (*EditResult, error)
	CancelEdit(ctx context.Context, sessionID string) error
	ResolveUpdate(ctx context.Context, href, metadataID string) (*ResolveResult, error)
}

type EventType string

const (
	EventSaved EventType = "snippet_saved"
	// EventEdited is sent when an edit session persisted a shared object
	EventEdited EventType = "shared_object_edited"
)

type Event struct {
	Type       EventType `json:"type"`
	MetadataID string    `json:"metadataId,omitempty"`
	Picker     string    `json:"picker,omitempty"`
	Snippet    string    `json:"snippet,omitempty"`
	XLink      string    `json:"xlink,omitempty"`
}

// Notifier is informed about changes to the record being edited
type Notifier interface {
	Notify(event Event)
}

type InsertSettings struct {
	// Timeout bounds a whole AddEntry batch
	Timeout time.Duration
	// Concurrency limits parallel fetches of a batch
	Concurrency int
}

type Option func(*service)

func WithNotifier(n Notifier) Option {
	return func(s *service) {
		s.notifiers = append(s.notifiers, n)
	}
}

func WithInsertSettings(settings InsertSettings) Option {
	return func(s *service) {
		s.insert = settings
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *service) {
		s.sessionTTL = ttl
	}
}

func WithRegistry(r *Registry) Option {
	return func(s *service) {
		s.registry = r
	}
}

type service struct {
	client     *Client
	editor     Editor
	sessions   session.Store
	registry   *Registry
	notifierMu sync.RWMutex
	notifiers  []Notifier
	logger     *zap.Logger
	insert     InsertSettings
	sessionTTL time.Duration
}

func NewService(
	client *Client,
	editor Editor,
	sessions session.Store,
	logger *zap.Logger,
	opts ...Option,
) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if editor == nil {
		editor = NewHTTPEditor(client)
	}
	if sessions == nil {
		sessions = session.NewMemoryStore()
	}
	s := &service{
		client:   client,
		editor:   editor,
		sessions: sessions,
		registry: NewRegistry(),
		logger:   logger,
		insert: InsertSettings{
			Timeout:     30 * time.Second,
			Concurrency: 4,
		},
		sessionTTL: time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Registry() *Registry {
	return s.registry
}

func (s *service) Subscribe(n Notifier) {
	s.notifierMu.Lock()
	defer s.notifierMu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

func (s *service) notify(event Event) {
	s.notifierMu.RLock()
	defer s.notifierMu.RUnlock()
	for _, n := range s.notifiers {
		n.Notify(event)
	}
}

var descReplacer = strings.NewReplacer("&lt;", "<", "&gt;", ">")

// NormalizeFragment prepares a listed fragment for display
func NormalizeFragment(f *vo.Fragment) {
	if f.URL != "" {
		f.URL = StripLocal(f.URL)
	}
	if f.Desc != "" {
		f.Desc = descReplacer.Replace(f.Desc)
	} else {
		f.Desc = DefaultDescription
	}
}

// LoadRecords lists at most MaxResults shared objects of a type
func (s *service) LoadRecords(ctx context.Context, kind vo.Kind, searchValue, validated string) ([]vo.Fragment, error) {
	params := url.Values{
		"type":       {string(kind)},
		"maxResults": {fmt.Sprint(MaxResults)},
	}
	if validated != "" {
		params.Set("validated", validated)
	}
	if searchValue != "" {
		params.Set("q", searchValue)
	}
	var fragments []vo.Fragment
	err := s.client.GetJSON(ctx, EndpointList, params, &fragments)
	if err != nil {
		s.logger.Error("failed to load shared objects", zap.String("type", string(kind)), zap.Error(err))
		return nil, fmt.Errorf("failed to load shared objects: %w", err)
	}
	for i := range fragments {
		NormalizeFragment(&fragments[i])
		if fragments[i].Kind == "" {
			fragments[i].Kind = kind
		}
	}
	return fragments, nil
}

type CodelistEntry struct {
	Code        string `json:"code"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Codelist returns the entries of a codelist of the catalog schema
func (s *service) Codelist(ctx context.Context, name string) ([]CodelistEntry, error) {
	var codelists []struct {
		Entry []CodelistEntry `json:"entry"`
	}
	err := s.client.GetJSON(ctx, EndpointCodelist, url.Values{
		"schema": {s.client.Settings().Schema},
		"name":   {name},
	}, &codelists)
	if err != nil {
		return nil, fmt.Errorf("failed to load codelist %s: %w", name, err)
	}
	if len(codelists) == 0 {
		return nil, nil
	}
	return codelists[0].Entry, nil
}

type RegionType struct {
	ID    string            `json:"id"`
	Label map[string]string `json:"label,omitempty"`
}

func (s *service) RegionTypes(ctx context.Context) ([]RegionType, error) {
	var regionTypes []RegionType
	if err := s.client.GetJSON(ctx, EndpointCategories+string(vo.KindExtents), nil, &regionTypes); err != nil {
		return nil, fmt.Errorf("failed to load region types: %w", err)
	}
	return regionTypes, nil
}

// NewPicker creates and registers a picker
func (s *service) NewPicker(cfg PickerConfig) (*Picker, error) {
	kind, err := KindFor(cfg.Kind)
	if err != nil {
		return nil, err
	}
	if cfg.ElementName == "" {
		return nil, fmt.Errorf("element name is required")
	}
	if cfg.ID == "" {
		cfg.ID = string(cfg.Kind) + "-" + cfg.ElementRef
	}
	p := &Picker{
		cfg:     cfg,
		kind:    kind,
		service: s,
		state:   StateIdle,
	}
	if cfg.Kind == vo.KindExtents {
		p.extent = DefaultExtentProps()
	}
	s.registry.Register(p)
	return p, nil
}
