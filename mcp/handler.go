package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/foomo/geocat-mcp/layers"
	"github.com/foomo/geocat-mcp/render"
	"github.com/foomo/geocat-mcp/service"
	"github.com/foomo/geocat-mcp/service/vo"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const Version = "0.1.0"

// Services are what the tools operate on, nil members disable their tools
type Services struct {
	SharedObjects service.Service
	// Catalog backs keyword and subtemplate creation
	Catalog *service.Client
	Layers  *layers.Manager
	Logger  *zap.Logger
}

// ListSharedObjectsRequest lists through a registered picker when Picker is
// set, the picker then keeps the listing and drops outdated answers
type ListSharedObjectsRequest struct {
	Picker     string  `json:"picker"`
	Type       vo.Kind `json:"type"`
	Query      string  `json:"q"`
	RegionType string  `json:"regionType"`
}

type ListedSharedObject struct {
	vo.Fragment
	Title       string      `json:"title,omitempty"`
	Description vo.Markdown `json:"description"`
}

type ListSharedObjectsResponse struct {
	Records []ListedSharedObject `json:"records"`
}

// PickerRequest selects the picker by id, a picker is created from the given
// configuration when there is none yet
type PickerRequest struct {
	Picker            string  `json:"picker"`
	Type              vo.Kind `json:"type"`
	MetadataID        string  `json:"metadataId"`
	ElementName       string  `json:"elementName"`
	ElementRef        string  `json:"elementRef"`
	Variables         string  `json:"variables"`
	DomID             string  `json:"domId"`
	TemplateAddAction bool    `json:"templateAddAction"`
}

type AddSharedObjectsRequest struct {
	PickerRequest
	Role    string        `json:"role"`
	XLink   bool          `json:"xlink"`
	Entries []vo.Fragment `json:"entries"`
}

type AddSharedObjectsResponse struct {
	Picker  string `json:"picker"`
	Snippet string `json:"snippet"`
}

type AddElementResponse struct {
	Picker string `json:"picker"`
	Saved  bool   `json:"saved"`
}

// EditSharedObjectRequest opens an edit session. A new extent is inserted
// with the picker named by Target or, given an element, with the picker for it.
type EditSharedObjectRequest struct {
	Type        vo.Kind `json:"type"`
	XLink       string  `json:"xlink"`
	MetadataID  string  `json:"metadataId"`
	Target      string  `json:"target"`
	ElementName string  `json:"elementName"`
	ElementRef  string  `json:"elementRef"`
}

type ListRolesRequest struct {
	Picker string `json:"picker"`
}

type ListRegionTypesRequest struct {
	Picker string `json:"picker"`
}

type FinishEditRequest struct {
	Session string           `json:"session"`
	Extent  *vo.ExtentForm   `json:"extent"`
	Keyword vo.LocalizedText `json:"keyword"`
	Cancel  bool             `json:"cancel"`
}

type CreateKeywordRequest struct {
	Keyword vo.LocalizedText `json:"keyword"`
}

type UpdateKeywordRequest struct {
	URL     string           `json:"url"`
	Keyword vo.LocalizedText `json:"keyword"`
}

type CreateSubtemplateRequest struct {
	Template  string `json:"template"`
	Validated bool   `json:"validated"`
}

type ResolveSharedObjectRequest struct {
	Href       string `json:"href"`
	MetadataID string `json:"metadataId"`
}

type ListLayersRequest struct {
	All bool `json:"all"`
}

type MoveLayerRequest struct {
	Name  string `json:"name"`
	Delta int    `json:"delta"`
}

type RemoveLayerRequest struct {
	Name string `json:"name"`
}

type LayersResponse struct {
	Layers []*vo.Layer `json:"layers"`
}

var kindNames = []string{
	string(vo.KindContacts),
	string(vo.KindExtents),
	string(vo.KindKeywords),
	string(vo.KindFormats),
}

// NewServer creates a new MCP server with the shared object and layer tools
func NewServer(services Services) *server.MCPServer {
	if services.Logger == nil {
		services.Logger = zap.NewNop()
	}
	s := server.NewMCPServer(
		"Geocat Shared Objects MCP",
		Version,
		server.WithToolCapabilities(false),
	)

	if services.SharedObjects != nil {
		addSharedObjectTools(s, services)
	}
	if services.Catalog != nil {
		addCatalogTools(s, services)
	}
	if services.Layers != nil {
		addLayerTools(s, services.Layers)
	}
	return s
}

func addSharedObjectTools(s *server.MCPServer, services Services) {
	svc := services.SharedObjects

	s.AddTool(mcp.NewTool("listSharedObjects",
		mcp.WithDescription("List reusable shared objects of a type, at most 20 per search"),
		mcp.WithString("picker", mcp.Description("List with a registered picker, its type is used")),
		mcp.WithString("type",
			mcp.Description("Type of the shared objects, required without picker"),
			mcp.Enum(kindNames...),
		),
		mcp.WithString("q", mcp.Description("Search value")),
		mcp.WithString("regionType", mcp.Description("Region type filter for extents, e.g. kantone")),
	), mcp.NewTypedToolHandler(getListSharedObjectsHandler(svc)))

	s.AddTool(mcp.NewTool("addSharedObjects",
		mcp.WithDescription("Insert shared objects into a metadata record, either embedded or as xlinks, and save the record"),
		mcp.WithString("picker", mcp.Description("Id of a registered picker, defaults to <type>-<elementRef>")),
		mcp.WithString("type", mcp.Required(), mcp.Enum(kindNames...)),
		mcp.WithString("metadataId", mcp.Required(), mcp.Description("Id of the record being edited")),
		mcp.WithString("elementName", mcp.Required(), mcp.Description("Qualified name of the inserted element, e.g. gmd:contact")),
		mcp.WithString("elementRef", mcp.Required(), mcp.Description("Editor reference of the parent element")),
		mcp.WithString("variables", mcp.Description("Process expression for subtemplates, {role} is replaced by the role")),
		mcp.WithString("role", mcp.Description("Contact role code, see listRoles")),
		mcp.WithBoolean("xlink", mcp.Description("Reference the shared objects instead of embedding them")),
		mcp.WithArray("entries",
			mcp.Required(),
			mcp.Description("Selected shared objects as returned by listSharedObjects"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	), mcp.NewTypedToolHandler(getAddSharedObjectsHandler(svc, services.Logger)))

	s.AddTool(mcp.NewTool("addElement",
		mcp.WithDescription("Insert an empty element into a metadata record without using a shared object"),
		mcp.WithString("picker", mcp.Description("Id of a registered picker, defaults to <type>-<elementRef>")),
		mcp.WithString("type", mcp.Required(), mcp.Enum(kindNames...)),
		mcp.WithString("metadataId", mcp.Required(), mcp.Description("Id of the record being edited")),
		mcp.WithString("elementName", mcp.Required(), mcp.Description("Qualified name of the inserted element, e.g. gmd:contact")),
		mcp.WithString("elementRef", mcp.Required(), mcp.Description("Editor reference of the parent element")),
		mcp.WithString("domId", mcp.Description("Element the new one is placed before in the editor")),
		mcp.WithBoolean("templateAddAction", mcp.Description("Save the record right after adding")),
	), mcp.NewTypedToolHandler(getAddElementHandler(svc)))

	s.AddTool(mcp.NewTool("listRoles",
		mcp.WithDescription("List the contact role codes of the record schema"),
		mcp.WithString("picker", mcp.Description("Contacts picker to list the roles for")),
	), mcp.NewTypedToolHandler(getListRolesHandler(svc)))

	s.AddTool(mcp.NewTool("listRegionTypes",
		mcp.WithDescription("List the region types extents can be filtered by"),
		mcp.WithString("picker", mcp.Description("Extents picker to list the region types for")),
	), mcp.NewTypedToolHandler(getListRegionTypesHandler(svc)))

	s.AddTool(mcp.NewTool("editSharedObject",
		mcp.WithDescription("Open an edit session for an extent or keyword, without xlink a new one is created"),
		mcp.WithString("type", mcp.Enum(string(vo.KindExtents), string(vo.KindKeywords))),
		mcp.WithString("xlink", mcp.Description("Reference of the shared object to edit")),
		mcp.WithString("metadataId", mcp.Description("Record to save after editing")),
		mcp.WithString("target", mcp.Description("Picker a new shared object is inserted with")),
		mcp.WithString("elementName", mcp.Description("Element a new extent is inserted as, creates the target picker")),
		mcp.WithString("elementRef", mcp.Description("Editor reference of the parent element of a new extent")),
	), mcp.NewTypedToolHandler(getEditSharedObjectHandler(svc)))

	s.AddTool(mcp.NewTool("finishEdit",
		mcp.WithDescription("Persist or cancel an edit session"),
		mcp.WithString("session", mcp.Required()),
		mcp.WithObject("extent", mcp.Description("Edited extent form")),
		mcp.WithObject("keyword", mcp.Description("Edited keyword labels per language")),
		mcp.WithBoolean("cancel"),
	), mcp.NewTypedToolHandler(getFinishEditHandler(svc)))

	s.AddTool(mcp.NewTool("resolveSharedObject",
		mcp.WithDescription("Find how the shared object behind an xlink is updated: an editor location for subtemplates, an edit session otherwise"),
		mcp.WithString("href", mcp.Required()),
		mcp.WithString("metadataId"),
	), mcp.NewTypedToolHandler(getResolveSharedObjectHandler(svc)))
}

func addCatalogTools(s *server.MCPServer, services Services) {
	s.AddTool(mcp.NewTool("createKeyword",
		mcp.WithDescription("Create a validated keyword, nothing happens when all labels and descriptions are empty"),
		mcp.WithObject("keyword",
			mcp.Required(),
			mcp.Description("Labels and descriptions keyed by language (eng, fre, ger, ita, roh)"),
		),
	), mcp.NewTypedToolHandler(getCreateKeywordHandler(services.Catalog, services.Logger)))

	s.AddTool(mcp.NewTool("updateKeyword",
		mcp.WithDescription("Update the labels of an existing keyword"),
		mcp.WithString("url", mcp.Required(), mcp.Description("Listing url carrying thesaurus and id")),
		mcp.WithObject("keyword", mcp.Required()),
	), mcp.NewTypedToolHandler(getUpdateKeywordHandler(services.Catalog, services.Logger)))

	s.AddTool(mcp.NewTool("createSubtemplate",
		mcp.WithDescription("Create a subtemplate, defaults to the contact template"),
		mcp.WithString("template", mcp.Description("Subtemplate xml")),
		mcp.WithBoolean("validated"),
	), mcp.NewTypedToolHandler(getCreateSubtemplateHandler(services.Catalog)))
}

func addLayerTools(s *server.MCPServer, manager *layers.Manager) {
	s.AddTool(mcp.NewTool("listLayers",
		mcp.WithDescription("List the map layers top most first"),
		mcp.WithBoolean("all", mcp.Description("Include background layers")),
	), mcp.NewTypedToolHandler(getListLayersHandler(manager)))

	s.AddTool(mcp.NewTool("moveLayer",
		mcp.WithDescription("Move a layer by delta positions in the layer collection"),
		mcp.WithString("name", mcp.Required()),
		mcp.WithNumber("delta", mcp.Required()),
	), mcp.NewTypedToolHandler(getMoveLayerHandler(manager)))

	s.AddTool(mcp.NewTool("removeLayer",
		mcp.WithDescription("Remove a layer from the map"),
		mcp.WithString("name", mcp.Required()),
	), mcp.NewTypedToolHandler(getRemoveLayerHandler(manager)))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	responseBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(responseBytes)), nil
}

func getListSharedObjectsHandler(svc service.Service) func(ctx context.Context, request mcp.CallToolRequest, args ListSharedObjectsRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args ListSharedObjectsRequest) (*mcp.CallToolResult, error) {
		records, err := listRecords(ctx, svc, args)
		if err != nil {
			var toolErr toolError
			if errors.As(err, &toolErr) {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("failed to list shared objects: %v", err)), nil
		}
		response := ListSharedObjectsResponse{Records: make([]ListedSharedObject, 0, len(records))}
		for _, record := range records {
			desc, err := render.Description(record.Desc)
			if err != nil {
				desc = vo.Markdown(record.Desc)
			}
			response.Records = append(response.Records, ListedSharedObject{
				Fragment:    record,
				Title:       render.Title(record.Desc),
				Description: desc,
			})
		}
		return jsonResult(response)
	}
}

// toolError is a request the caller has to correct
type toolError string

func (e toolError) Error() string {
	return string(e)
}

func listRecords(ctx context.Context, svc service.Service, args ListSharedObjectsRequest) ([]vo.Fragment, error) {
	if args.Picker != "" {
		picker := svc.Registry().Get(args.Picker)
		if picker == nil {
			return nil, toolError(fmt.Sprintf("picker %q is not registered", args.Picker))
		}
		if args.Type != "" && args.Type != picker.Kind() {
			return nil, toolError(fmt.Sprintf("picker %q lists %s, not %s", args.Picker, picker.Kind(), args.Type))
		}
		picker.SetSearchValue(args.Query)
		picker.SetRegionType(args.RegionType)
		return picker.LoadSO(ctx)
	}
	kind, err := vo.ParseKind(string(args.Type))
	if err != nil {
		return nil, toolError(err.Error())
	}
	var validated string
	if kind == vo.KindExtents && args.RegionType != "" {
		validated = "gn:" + args.RegionType
	}
	return svc.LoadRecords(ctx, kind, args.Query, validated)
}

// pickerFor returns the registered picker or creates one from the request.
// A registered picker is only reused for the record and element it was
// created for.
func pickerFor(svc service.Service, args PickerRequest) (*service.Picker, error) {
	if args.Picker != "" {
		if p := svc.Registry().Get(args.Picker); p != nil {
			if err := checkPicker(p.Config(), args); err != nil {
				return nil, err
			}
			return p, nil
		}
	}
	kind, err := vo.ParseKind(string(args.Type))
	if err != nil {
		return nil, err
	}
	if args.MetadataID == "" {
		return nil, fmt.Errorf("metadataId is required")
	}
	return svc.NewPicker(service.PickerConfig{
		ID:                args.Picker,
		Kind:              kind,
		MetadataID:        args.MetadataID,
		ElementName:       args.ElementName,
		ElementRef:        args.ElementRef,
		Variables:         args.Variables,
		DomID:             args.DomID,
		TemplateAddAction: args.TemplateAddAction,
	})
}

// checkPicker rejects requests that name a registered picker but a different
// record or element, empty fields use the picker's
func checkPicker(cfg service.PickerConfig, args PickerRequest) error {
	for _, f := range []struct{ name, got, want string }{
		{"type", string(args.Type), string(cfg.Kind)},
		{"metadataId", args.MetadataID, cfg.MetadataID},
		{"elementName", args.ElementName, cfg.ElementName},
		{"elementRef", args.ElementRef, cfg.ElementRef},
		{"variables", args.Variables, cfg.Variables},
	} {
		if f.got != "" && f.got != f.want {
			return fmt.Errorf("picker %q is registered with %s %q, not %q", cfg.ID, f.name, f.want, f.got)
		}
	}
	return nil
}

func getAddSharedObjectsHandler(svc service.Service, logger *zap.Logger) func(ctx context.Context, request mcp.CallToolRequest, args AddSharedObjectsRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args AddSharedObjectsRequest) (*mcp.CallToolResult, error) {
		if len(args.Entries) == 0 {
			return mcp.NewToolResultError("entries are required"), nil
		}
		picker, err := pickerFor(svc, args.PickerRequest)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		logger := logger.With(zap.String("picker", picker.ID()))
		if r, ok := httpRequestFromContext(ctx); ok {
			logger = logger.With(zap.String("remoteAddr", r.RemoteAddr))
		}
		snippet, err := picker.AddEntry(ctx, args.Entries, args.Role, args.XLink)
		if err != nil {
			logger.Warn("failed to add shared objects", zap.Error(err))
			if ids := failedIDs(err); len(ids) > 0 {
				return mcp.NewToolResultError(fmt.Sprintf("failed to add shared objects, nothing was saved (failed: %s): %v", strings.Join(ids, ", "), err)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("failed to add shared objects: %v", err)), nil
		}
		return jsonResult(AddSharedObjectsResponse{Picker: picker.ID(), Snippet: snippet})
	}
}

func getAddElementHandler(svc service.Service) func(ctx context.Context, request mcp.CallToolRequest, args PickerRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args PickerRequest) (*mcp.CallToolResult, error) {
		picker, err := pickerFor(svc, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := picker.Add(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to add element: %v", err)), nil
		}
		return jsonResult(AddElementResponse{Picker: picker.ID(), Saved: picker.Config().TemplateAddAction})
	}
}

func getListRolesHandler(svc service.Service) func(ctx context.Context, request mcp.CallToolRequest, args ListRolesRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args ListRolesRequest) (*mcp.CallToolResult, error) {
		var (
			roles []service.CodelistEntry
			err   error
		)
		if args.Picker != "" {
			picker := svc.Registry().Get(args.Picker)
			if picker == nil {
				return mcp.NewToolResultError(fmt.Sprintf("picker %q is not registered", args.Picker)), nil
			}
			roles, err = picker.Roles(ctx)
		} else {
			roles, err = svc.Codelist(ctx, service.RoleCodelist)
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list roles: %v", err)), nil
		}
		return jsonResult(roles)
	}
}

func getListRegionTypesHandler(svc service.Service) func(ctx context.Context, request mcp.CallToolRequest, args ListRegionTypesRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args ListRegionTypesRequest) (*mcp.CallToolResult, error) {
		var (
			regionTypes []service.RegionType
			err         error
		)
		if args.Picker != "" {
			picker := svc.Registry().Get(args.Picker)
			if picker == nil {
				return mcp.NewToolResultError(fmt.Sprintf("picker %q is not registered", args.Picker)), nil
			}
			regionTypes, err = picker.RegionTypes(ctx)
		} else {
			regionTypes, err = svc.RegionTypes(ctx)
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list region types: %v", err)), nil
		}
		return jsonResult(regionTypes)
	}
}

func failedIDs(err error) []string {
	var ids []string
	var batchErr *service.BatchError
	if errors.As(err, &batchErr) {
		for _, f := range batchErr.Failed {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

func getEditSharedObjectHandler(svc service.Service) func(ctx context.Context, request mcp.CallToolRequest, args EditSharedObjectRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args EditSharedObjectRequest) (*mcp.CallToolResult, error) {
		if args.Type == "" && args.XLink == "" {
			return mcp.NewToolResultError("type or xlink is required"), nil
		}
		target := args.Target
		if args.XLink == "" && args.Type == vo.KindExtents && args.ElementName != "" {
			picker, err := pickerFor(svc, PickerRequest{
				Picker:      args.Target,
				Type:        args.Type,
				MetadataID:  args.MetadataID,
				ElementName: args.ElementName,
				ElementRef:  args.ElementRef,
			})
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			target = picker.ID()
		}
		es, err := svc.EditEntry(ctx, service.EditRequest{
			Kind:       args.Type,
			XLink:      args.XLink,
			MetadataID: args.MetadataID,
			Target:     target,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to open edit session: %v", err)), nil
		}
		return jsonResult(es)
	}
}

func getFinishEditHandler(svc service.Service) func(ctx context.Context, request mcp.CallToolRequest, args FinishEditRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args FinishEditRequest) (*mcp.CallToolResult, error) {
		if args.Session == "" {
			return mcp.NewToolResultError("session is required"), nil
		}
		if args.Cancel {
			if err := svc.CancelEdit(ctx, args.Session); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to cancel edit: %v", err)), nil
			}
			return jsonResult(map[string]bool{"cancelled": true})
		}
		result, err := svc.FinishEdit(ctx, args.Session, service.EditUpdate{
			Extent:  args.Extent,
			Keyword: args.Keyword,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to finish edit: %v", err)), nil
		}
		return jsonResult(result)
	}
}

func getResolveSharedObjectHandler(svc service.Service) func(ctx context.Context, request mcp.CallToolRequest, args ResolveSharedObjectRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args ResolveSharedObjectRequest) (*mcp.CallToolResult, error) {
		if args.Href == "" {
			return mcp.NewToolResultError("href is required"), nil
		}
		result, err := svc.ResolveUpdate(ctx, args.Href, args.MetadataID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to resolve shared object: %v", err)), nil
		}
		return jsonResult(result)
	}
}

// every call works on its own editor, the form state is not shared between calls
func getCreateKeywordHandler(client *service.Client, logger *zap.Logger) func(ctx context.Context, request mcp.CallToolRequest, args CreateKeywordRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args CreateKeywordRequest) (*mcp.CallToolResult, error) {
		editor := service.NewKeywordEditor(client, logger)
		if args.Keyword != nil {
			editor.SetForm(args.Keyword)
		}
		result, err := editor.CreateNewObject(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create keyword: %v", err)), nil
		}
		return jsonResult(result)
	}
}

func getUpdateKeywordHandler(client *service.Client, logger *zap.Logger) func(ctx context.Context, request mcp.CallToolRequest, args UpdateKeywordRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args UpdateKeywordRequest) (*mcp.CallToolResult, error) {
		if args.URL == "" {
			return mcp.NewToolResultError("url is required"), nil
		}
		editor := service.NewKeywordEditor(client, logger)
		edit, err := editor.Edit(ctx, args.URL)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load keyword: %v", err)), nil
		}
		for lang, text := range args.Keyword {
			if text != nil {
				editor.SetText(lang, text.Label, text.Desc)
			}
		}
		if err := edit.Finish(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to update keyword: %v", err)), nil
		}
		edit.Form = editor.Form()
		return jsonResult(edit)
	}
}

func getCreateSubtemplateHandler(client *service.Client) func(ctx context.Context, request mcp.CallToolRequest, args CreateSubtemplateRequest) (*mcp.CallToolResult, error) {
	subtemplates := service.NewSubtemplateService(client)
	return func(ctx context.Context, request mcp.CallToolRequest, args CreateSubtemplateRequest) (*mcp.CallToolResult, error) {
		template := args.Template
		if template == "" {
			template = service.ContactTemplate
		}
		result, err := subtemplates.CreateNewSubtemplate(ctx, template, args.Validated, nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create subtemplate: %v", err)), nil
		}
		return jsonResult(result)
	}
}

func getListLayersHandler(manager *layers.Manager) func(ctx context.Context, request mcp.CallToolRequest, args ListLayersRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args ListLayersRequest) (*mcp.CallToolResult, error) {
		if args.All {
			all := manager.Layers().Array()
			reversed := make([]*vo.Layer, 0, len(all))
			for i := len(all) - 1; i >= 0; i-- {
				reversed = append(reversed, all[i])
			}
			return jsonResult(LayersResponse{Layers: reversed})
		}
		return jsonResult(LayersResponse{Layers: manager.Display()})
	}
}

func getMoveLayerHandler(manager *layers.Manager) func(ctx context.Context, request mcp.CallToolRequest, args MoveLayerRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args MoveLayerRequest) (*mcp.CallToolResult, error) {
		layer := manager.Find(args.Name)
		if layer == nil {
			return mcp.NewToolResultError(fmt.Sprintf("layer %q not found", args.Name)), nil
		}
		if err := manager.MoveLayer(layer, args.Delta); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(LayersResponse{Layers: manager.Display()})
	}
}

func getRemoveLayerHandler(manager *layers.Manager) func(ctx context.Context, request mcp.CallToolRequest, args RemoveLayerRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args RemoveLayerRequest) (*mcp.CallToolResult, error) {
		layer := manager.Find(args.Name)
		if layer == nil {
			return mcp.NewToolResultError(fmt.Sprintf("layer %q not found", args.Name)), nil
		}
		manager.RemoveLayerFromMap(layer)
		return jsonResult(LayersResponse{Layers: manager.Display()})
	}
}
