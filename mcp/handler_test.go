package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foomo/geocat-mcp/layers"
	"github.com/foomo/geocat-mcp/service"
	"github.com/foomo/geocat-mcp/service/vo"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// recordEditor records the ids of the records it was asked to change
type recordEditor struct {
	mu    sync.Mutex
	adds  []string
	saves []string
}

func (e *recordEditor) Add(ctx context.Context, req service.AddRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adds = append(e.adds, req.MetadataID)
	return nil
}

func (e *recordEditor) Save(ctx context.Context, metadataID string, fields url.Values) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.saves = append(e.saves, metadataID)
	return nil
}

// newCatalog serves the given bodies by service name
func newCatalog(t *testing.T, bodies map[string]string) *service.Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/srv/eng/")
		body, ok := bodies[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if name == service.EndpointSubtemplate && r.URL.Query().Get("uuid") == "broken" {
			http.Error(w, "broken", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	client, err := service.NewClient(service.CatalogSettings{BaseURL: ts.URL + "/srv/eng"}, ts.Client(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func newTestService(t *testing.T, bodies map[string]string) (service.Service, *service.Client, *recordEditor) {
	t.Helper()
	client := newCatalog(t, bodies)
	editor := &recordEditor{}
	return service.NewService(client, editor, nil, zaptest.NewLogger(t)), client, editor
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func callRequest(name string, args any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Request: mcp.Request{
			Method: "tools/call",
		},
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestNewServer(t *testing.T) {
	assert.NotNil(t, NewServer(Services{}))

	svc, client, _ := newTestService(t, nil)
	s := NewServer(Services{
		SharedObjects: svc,
		Catalog:       client,
		Layers:        layers.NewManager(layers.NewCollection(), nil),
	})
	assert.NotNil(t, s)
}

func TestListSharedObjectsHandler(t *testing.T) {
	svc, _, _ := newTestService(t, map[string]string{
		service.EndpointList: `[{"id": "1", "desc": "&lt;b&gt;Swisstopo&lt;/b&gt; Bern", "validated": "true"}]`,
	})
	handler := getListSharedObjectsHandler(svc)
	args := ListSharedObjectsRequest{Type: vo.KindContacts, Query: "swiss"}

	result, err := handler(context.Background(), callRequest("listSharedObjects", args), args)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var response ListSharedObjectsResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &response))
	require.Len(t, response.Records, 1)
	assert.Equal(t, "1", response.Records[0].ID)
	assert.Equal(t, "Swisstopo", response.Records[0].Title)
	assert.Equal(t, vo.Markdown("**Swisstopo** Bern"), response.Records[0].Description)
	assert.True(t, bool(response.Records[0].Validated))
}

func TestListSharedObjectsHandlerValidation(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	handler := getListSharedObjectsHandler(svc)
	_, err := svc.NewPicker(service.PickerConfig{ID: "c", Kind: vo.KindContacts, MetadataID: "42", ElementName: "gmd:contact"})
	require.NoError(t, err)

	for _, args := range []ListSharedObjectsRequest{
		{Type: "roads"},
		{},
		{Picker: "missing"},
		{Picker: "c", Type: vo.KindExtents},
	} {
		result, err := handler(context.Background(), callRequest("listSharedObjects", args), args)
		require.NoError(t, err)
		assert.True(t, result.IsError, args)
	}
}

func TestListSharedObjectsHandlerPicker(t *testing.T) {
	svc, _, _ := newTestService(t, map[string]string{
		service.EndpointList: `[{"id": "2", "desc": "Bern", "validated": "true"}]`,
	})
	handler := getListSharedObjectsHandler(svc)
	picker, err := svc.NewPicker(service.PickerConfig{ID: "e", Kind: vo.KindExtents, MetadataID: "42", ElementName: "gmd:extent"})
	require.NoError(t, err)

	args := ListSharedObjectsRequest{Picker: "e", Query: "bern", RegionType: "kantone"}
	result, err := handler(context.Background(), callRequest("listSharedObjects", args), args)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var response ListSharedObjectsResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &response))
	require.Len(t, response.Records, 1)
	assert.Equal(t, service.StateListed, picker.State())
	require.Len(t, picker.Objects(), 1)
	assert.Equal(t, "2", picker.Objects()[0].ID)
}

func TestAddSharedObjectsHandler(t *testing.T) {
	svc, _, editor := newTestService(t, map[string]string{
		service.EndpointSubtemplate: `<gmd:CI_ResponsibleParty xmlns:gmd="http://www.isotc211.org/2005/gmd"/>`,
	})
	handler := getAddSharedObjectsHandler(svc, zaptest.NewLogger(t))
	args := AddSharedObjectsRequest{
		PickerRequest: contactPicker("42"),
		Entries:       []vo.Fragment{{ID: "a"}, {ID: "b"}},
	}

	result, err := handler(context.Background(), callRequest("addSharedObjects", args), args)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var response AddSharedObjectsResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &response))
	assert.Equal(t, "contacts-17", response.Picker)
	assert.Equal(t, 1, strings.Count(response.Snippet, "&&&"))
	assert.Equal(t, []string{"42"}, editor.saves)
	assert.NotNil(t, svc.Registry().Get("contacts-17"))
}

func contactPicker(metadataID string) PickerRequest {
	return PickerRequest{
		Type:        vo.KindContacts,
		MetadataID:  metadataID,
		ElementName: "gmd:contact",
		ElementRef:  "17",
	}
}

func TestAddSharedObjectsHandlerPickerMismatch(t *testing.T) {
	svc, _, editor := newTestService(t, map[string]string{
		service.EndpointSubtemplate: `<a/>`,
	})
	handler := getAddSharedObjectsHandler(svc, zaptest.NewLogger(t))
	ctx := context.Background()

	args := AddSharedObjectsRequest{PickerRequest: contactPicker("42"), Entries: []vo.Fragment{{ID: "a"}}}
	args.Picker = "p1"
	result, err := handler(ctx, callRequest("addSharedObjects", args), args)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	// another record through the same picker
	args.MetadataID = "43"
	result, err = handler(ctx, callRequest("addSharedObjects", args), args)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), `metadataId "42", not "43"`)

	args.MetadataID = "42"
	args.ElementRef = "18"
	result, err = handler(ctx, callRequest("addSharedObjects", args), args)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	// the picker id alone is enough
	args = AddSharedObjectsRequest{PickerRequest: PickerRequest{Picker: "p1"}, Entries: []vo.Fragment{{ID: "b"}}}
	result, err = handler(ctx, callRequest("addSharedObjects", args), args)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Equal(t, []string{"42", "42"}, editor.saves)
}

func TestAddSharedObjectsHandlerErrors(t *testing.T) {
	svc, _, editor := newTestService(t, map[string]string{
		service.EndpointSubtemplate: `<a/>`,
	})
	handler := getAddSharedObjectsHandler(svc, zaptest.NewLogger(t))
	ctx := context.Background()

	for name, args := range map[string]AddSharedObjectsRequest{
		"no entries":  {PickerRequest: PickerRequest{Type: vo.KindContacts, MetadataID: "1", ElementName: "gmd:contact"}},
		"no metadata": {PickerRequest: PickerRequest{Type: vo.KindContacts, ElementName: "gmd:contact"}, Entries: []vo.Fragment{{ID: "a"}}},
		"bad type":    {PickerRequest: PickerRequest{Type: "roads", MetadataID: "1", ElementName: "gmd:contact"}, Entries: []vo.Fragment{{ID: "a"}}},
	} {
		result, err := handler(ctx, callRequest("addSharedObjects", args), args)
		require.NoError(t, err, name)
		assert.True(t, result.IsError, name)
	}

	args := AddSharedObjectsRequest{
		PickerRequest: contactPicker("1"),
		Entries:       []vo.Fragment{{ID: "a"}, {ID: "broken"}},
	}
	result, err := handler(ctx, callRequest("addSharedObjects", args), args)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "failed: broken")
	assert.Empty(t, editor.saves)
}

func TestAddSharedObjectsHandlerLogsRemoteAddr(t *testing.T) {
	svc, _, _ := newTestService(t, map[string]string{
		service.EndpointSubtemplate: `<a/>`,
	})
	core, logs := observer.New(zapcore.WarnLevel)
	handler := getAddSharedObjectsHandler(svc, zap.New(core))

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	ctx := httpContextFunc(context.Background(), r)
	got, ok := httpRequestFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, r, got)

	args := AddSharedObjectsRequest{PickerRequest: contactPicker("1"), Entries: []vo.Fragment{{ID: "broken"}}}
	result, err := handler(ctx, callRequest("addSharedObjects", args), args)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	entries := logs.FilterField(zap.String("remoteAddr", r.RemoteAddr)).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "failed to add shared objects", entries[0].Message)

	_, ok = httpRequestFromContext(context.Background())
	assert.False(t, ok)
}

func TestEditHandlers(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	editArgs := EditSharedObjectRequest{Type: vo.KindKeywords}
	result, err := getEditSharedObjectHandler(svc)(ctx, callRequest("editSharedObject", editArgs), editArgs)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var es service.EditSession
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &es))
	require.NotEmpty(t, es.ID)

	finishArgs := FinishEditRequest{Session: es.ID}
	result, err = getFinishEditHandler(svc)(ctx, callRequest("finishEdit", finishArgs), finishArgs)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var edit service.EditResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &edit))
	assert.True(t, edit.Skipped)

	result, err = getFinishEditHandler(svc)(ctx, callRequest("finishEdit", finishArgs), finishArgs)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	emptyArgs := EditSharedObjectRequest{}
	result, err = getEditSharedObjectHandler(svc)(ctx, callRequest("editSharedObject", emptyArgs), emptyArgs)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestEditNewExtentHandlers(t *testing.T) {
	svc, _, editor := newTestService(t, map[string]string{
		service.EndpointExtentAdd: `["local://xml.extent.get?id=99&typename=gn:non_validated&*"]`,
		service.EndpointExtentGet: `<gmd:EX_Extent xmlns:gmd="http://www.isotc211.org/2005/gmd"/>`,
	})
	ctx := context.Background()

	editArgs := EditSharedObjectRequest{Type: vo.KindExtents, MetadataID: "42", ElementName: "gmd:extent", ElementRef: "30"}
	result, err := getEditSharedObjectHandler(svc)(ctx, callRequest("editSharedObject", editArgs), editArgs)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var es service.EditSession
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &es))
	assert.Equal(t, "extents-30", es.Target)
	require.NotNil(t, svc.Registry().Get("extents-30"))

	finishArgs := FinishEditRequest{Session: es.ID}
	result, err = getFinishEditHandler(svc)(ctx, callRequest("finishEdit", finishArgs), finishArgs)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var edit service.EditResult
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &edit))
	assert.True(t, edit.Saved)
	assert.Contains(t, edit.Snippet, "uuid=99")
	assert.Equal(t, []string{"42"}, editor.saves)

	// the target has to be the picker of the same record
	editArgs.MetadataID = "43"
	editArgs.Target = "extents-30"
	result, err = getEditSharedObjectHandler(svc)(ctx, callRequest("editSharedObject", editArgs), editArgs)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestAddElementHandler(t *testing.T) {
	svc, _, editor := newTestService(t, nil)
	ctx := context.Background()

	args := PickerRequest{
		Type:              vo.KindFormats,
		MetadataID:        "42",
		ElementName:       "gmd:distributionFormat",
		ElementRef:        "50",
		DomID:             "gn-el-50",
		TemplateAddAction: true,
	}
	result, err := getAddElementHandler(svc)(ctx, callRequest("addElement", args), args)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.JSONEq(t, `{"picker": "formats-50", "saved": true}`, resultText(t, result))
	assert.Equal(t, []string{"42"}, editor.adds)
	assert.Equal(t, []string{"42"}, editor.saves)

	args = PickerRequest{Type: vo.KindFormats, ElementName: "gmd:distributionFormat"}
	result, err = getAddElementHandler(svc)(ctx, callRequest("addElement", args), args)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListRolesAndRegionTypesHandlers(t *testing.T) {
	svc, _, _ := newTestService(t, map[string]string{
		service.EndpointCodelist:               `[{"entry": [{"code": "author", "label": "Author"}]}]`,
		service.EndpointCategories + "extents": `[{"id": "kantone", "label": {"eng": "Cantons"}}]`,
	})
	ctx := context.Background()
	_, err := svc.NewPicker(service.PickerConfig{ID: "c", Kind: vo.KindContacts, MetadataID: "42", ElementName: "gmd:contact"})
	require.NoError(t, err)

	for _, picker := range []string{"", "c"} {
		args := ListRolesRequest{Picker: picker}
		result, err := getListRolesHandler(svc)(ctx, callRequest("listRoles", args), args)
		require.NoError(t, err)
		require.False(t, result.IsError, resultText(t, result))
		var roles []service.CodelistEntry
		require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &roles))
		require.Len(t, roles, 1)
		assert.Equal(t, "author", roles[0].Code)
	}

	args := ListRegionTypesRequest{}
	result, err := getListRegionTypesHandler(svc)(ctx, callRequest("listRegionTypes", args), args)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	var regionTypes []service.RegionType
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &regionTypes))
	require.Len(t, regionTypes, 1)
	assert.Equal(t, "kantone", regionTypes[0].ID)

	// contacts have no region types
	args = ListRegionTypesRequest{Picker: "c"}
	result, err = getListRegionTypesHandler(svc)(ctx, callRequest("listRegionTypes", args), args)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	rolesArgs := ListRolesRequest{Picker: "missing"}
	result, err = getListRolesHandler(svc)(ctx, callRequest("listRoles", rolesArgs), rolesArgs)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCreateKeywordHandler(t *testing.T) {
	_, client, _ := newTestService(t, map[string]string{
		service.EndpointKeywordUpdate: `{}`,
	})
	handler := getCreateKeywordHandler(client, zaptest.NewLogger(t))
	ctx := context.Background()

	args := CreateKeywordRequest{}
	result, err := handler(ctx, callRequest("createKeyword", args), args)
	require.NoError(t, err)
	assert.JSONEq(t, `{"created": false}`, resultText(t, result))

	args = CreateKeywordRequest{Keyword: vo.LocalizedText{vo.LangGerman: {Label: "Wald"}}}
	result, err = handler(ctx, callRequest("createKeyword", args), args)
	require.NoError(t, err)
	assert.JSONEq(t, `{"created": true, "location": "/validated/keywords"}`, resultText(t, result))
}

func TestCreateSubtemplateHandler(t *testing.T) {
	_, client, _ := newTestService(t, map[string]string{
		service.EndpointInsert: `{"id": "5", "uuid": "u-5"}`,
	})
	handler := getCreateSubtemplateHandler(client)
	args := CreateSubtemplateRequest{}

	result, err := handler(context.Background(), callRequest("createSubtemplate", args), args)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": "5", "uuid": "u-5"}`, resultText(t, result))
}

func TestLayerHandlers(t *testing.T) {
	manager := layers.NewManager(layers.NewCollection(
		&vo.Layer{Name: "osm", Background: true},
		&vo.Layer{Name: "a"},
		&vo.Layer{Name: "b"},
	), layers.Selected)
	ctx := context.Background()

	layerNames := func(result *mcp.CallToolResult) []string {
		var response LayersResponse
		require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &response))
		var names []string
		for _, l := range response.Layers {
			names = append(names, l.Name)
		}
		return names
	}

	listArgs := ListLayersRequest{All: true}
	result, err := getListLayersHandler(manager)(ctx, callRequest("listLayers", listArgs), listArgs)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "osm"}, layerNames(result))

	moveArgs := MoveLayerRequest{Name: "b", Delta: -1}
	result, err = getMoveLayerHandler(manager)(ctx, callRequest("moveLayer", moveArgs), moveArgs)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, layerNames(result))

	moveArgs = MoveLayerRequest{Name: "b", Delta: 5}
	result, err = getMoveLayerHandler(manager)(ctx, callRequest("moveLayer", moveArgs), moveArgs)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	removeArgs := RemoveLayerRequest{Name: "a"}
	result, err = getRemoveLayerHandler(manager)(ctx, callRequest("removeLayer", removeArgs), removeArgs)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, layerNames(result))

	result, err = getRemoveLayerHandler(manager)(ctx, callRequest("removeLayer", removeArgs), removeArgs)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestInsertSSE(t *testing.T) {
	svc, _, _ := newTestService(t, map[string]string{
		service.EndpointSubtemplate: `<a/>`,
	})
	handler := NewMcpHTTPSSEServer(zaptest.NewLogger(t), NewServer(Services{SharedObjects: svc}), svc, "/mcp", nil)
	t.Cleanup(handler.GetSSEServer().Close)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	body, err := json.Marshal(AddSharedObjectsRequest{
		PickerRequest: contactPicker("42"),
		Entries:       []vo.Fragment{{ID: "a"}, {ID: "b"}, {ID: "c"}},
	})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/mcp/sse/insert", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	stream, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(stream)
	assert.Contains(t, text, "event: insert_start")
	assert.Equal(t, 3, strings.Count(text, "event: insert_progress"))
	assert.Contains(t, text, "event: insert_result")
	assert.Contains(t, text, "event: insert_complete")
}

func TestInsertSSEValidation(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	sse := NewMCPSSEServer(zaptest.NewLogger(t), nil, svc, nil)
	t.Cleanup(sse.Close)

	rec := httptest.NewRecorder()
	sse.HandleInsertSSE(rec, httptest.NewRequest(http.MethodPost, "/sse/insert", strings.NewReader(`{"entries": []}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	sse.HandleInsertSSE(rec, httptest.NewRequest(http.MethodGet, "/sse/insert", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBroadcastEditorEvents(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	handler := NewMcpHTTPSSEServer(zaptest.NewLogger(t), NewServer(Services{SharedObjects: svc}), svc, "/mcp", nil)
	sse := handler.GetSSEServer()
	t.Cleanup(sse.Close)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/mcp/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	events := make(chan string, 10)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				events <- name
			}
		}
		close(events)
	}()

	require.Equal(t, "connected", <-events)
	assert.Len(t, sse.GetConnectedClients(), 1)

	sse.Notify(service.Event{Type: service.EventSaved, MetadataID: "42"})
	select {
	case name := <-events:
		assert.Equal(t, string(service.EventSaved), name)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
	assert.Equal(t, 1, sse.GetStats()["connectedClients"])
}
