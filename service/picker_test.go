package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foomo/geocat-mcp/service/vo"
	"github.com/foomo/geocat-mcp/snippet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contactPicker(t *testing.T, s Service, variables string) *Picker {
	t.Helper()
	p, err := s.NewPicker(PickerConfig{
		ID:          "contact-picker",
		Kind:        vo.KindContacts,
		MetadataID:  "42",
		ElementName: "gmd:contact",
		ElementRef:  "17",
		Variables:   variables,
	})
	require.NoError(t, err)
	return p
}

func TestAddEntryPreservesSelectionOrder(t *testing.T) {
	c := newCatalog(t)
	// later entries answer first
	delays := map[string]time.Duration{"a": 60 * time.Millisecond, "b": 30 * time.Millisecond, "c": 0}
	c.handle(EndpointSubtemplate, func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("uuid")
		time.Sleep(delays[id])
		fmt.Fprintf(w, `<gmd:CI_ResponsibleParty xmlns:gmd="http://www.isotc211.org/2005/gmd" id="%s"/>`, id)
	})
	notifier := &recordingNotifier{}
	s, editor := newTestService(t, c, WithNotifier(notifier))
	p := contactPicker(t, s, "")

	entries := []vo.Fragment{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	var mu sync.Mutex
	var progress []string
	joined, err := p.AddEntry(context.Background(), entries, "", false, WithProgress(func(i int, f vo.Fragment, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, err)
		progress = append(progress, f.ID)
	}))
	require.NoError(t, err)

	var want []string
	for _, id := range []string{"a", "b", "c"} {
		s, err := snippet.BuildXML("gmd:contact", fmt.Sprintf(`<gmd:CI_ResponsibleParty xmlns:gmd="http://www.isotc211.org/2005/gmd" id="%s"/>`, id))
		require.NoError(t, err)
		want = append(want, s)
	}
	assert.Equal(t, strings.Join(want, "&&&"), joined)
	assert.Equal(t, joined, p.Snippet())
	assert.Equal(t, StateSaved, p.State())
	assert.ElementsMatch(t, []string{"a", "b", "c"}, progress)

	require.Len(t, editor.saves, 1)
	assert.Equal(t, "42", editor.saves[0].MetadataID)
	assert.Equal(t, joined, editor.saves[0].Fields.Get("_X17_gmdCOLONcontact"))

	require.Len(t, notifier.events, 1)
	assert.Equal(t, EventSaved, notifier.events[0].Type)
	assert.Equal(t, joined, notifier.events[0].Snippet)
}

func TestAddEntryXlink(t *testing.T) {
	c := newCatalog(t)
	c.respond(EndpointSubtemplate, `<gmd:CI_ResponsibleParty xmlns:gmd="http://www.isotc211.org/2005/gmd"/>`)
	s, editor := newTestService(t, c)
	p := contactPicker(t, s, "gmd:role/gmd:CI_RoleCode/@codeListValue~{role}")
	require.True(t, p.HasDynamicVariable())

	entries := []vo.Fragment{
		{ID: "v", Validated: true, XLink: "local://subtemplate?uuid=v"},
		{ID: "n", Validated: false, XLink: "local://subtemplate?uuid=n"},
	}
	joined, err := p.AddEntry(context.Background(), entries, "author", true)
	require.NoError(t, err)

	parts := strings.Split(joined, snippet.Separator)
	require.Len(t, parts, 2)
	process := "gmd:role/gmd:CI_RoleCode/@codeListValue~author"
	validated, err := snippet.BuildXMLForXlink("gmd:contact", "local://subtemplate?uuid=v&process="+process,
		snippet.Attr{Key: "xlink:show", Value: "embed"})
	require.NoError(t, err)
	nonValidated, err := snippet.BuildXMLForXlink("gmd:contact", "local://subtemplate?uuid=n&process="+process,
		snippet.Attr{Key: "xlink:show", Value: "embed"},
		snippet.Attr{Key: "xlink:role", Value: snippet.RoleNonValidated})
	require.NoError(t, err)
	assert.Equal(t, validated, parts[0])
	assert.Equal(t, nonValidated, parts[1])

	reqs := c.requestsTo(EndpointSubtemplate)
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.Equal(t, process, r.Query.Get("process"))
	}
	require.Len(t, editor.saves, 1)
}

func TestAddEntryRoleFromPicker(t *testing.T) {
	c := newCatalog(t)
	c.respond(EndpointSubtemplate, `<a/>`)
	s, _ := newTestService(t, c)
	p := contactPicker(t, s, "role~{role}")
	p.SetRole("owner")

	_, err := p.AddEntry(context.Background(), []vo.Fragment{{ID: "x"}}, "", false)
	require.NoError(t, err)
	assert.Equal(t, "role~owner", c.requestsTo(EndpointSubtemplate)[0].Query.Get("process"))
}

func TestAddEntryStaticVariables(t *testing.T) {
	c := newCatalog(t)
	c.respond(EndpointSubtemplate, `<a/>`)
	s, _ := newTestService(t, c)
	p := contactPicker(t, s, "static-process")
	assert.False(t, p.HasDynamicVariable())

	_, err := p.AddEntry(context.Background(), []vo.Fragment{{ID: "x"}}, "author", false)
	require.NoError(t, err)
	assert.Equal(t, "static-process", c.requestsTo(EndpointSubtemplate)[0].Query.Get("process"))
}

func TestAddEntryFailingBranch(t *testing.T) {
	c := newCatalog(t)
	c.handle(EndpointSubtemplate, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("uuid") == "broken" {
			http.Error(w, "gone", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `<a/>`)
	})
	s, editor := newTestService(t, c)
	p := contactPicker(t, s, "")

	_, err := p.AddEntry(context.Background(), []vo.Fragment{{ID: "ok"}, {ID: "broken"}, {ID: "ok2"}}, "", false)
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 3, batchErr.Total)
	require.Len(t, batchErr.Failed, 1)
	assert.Equal(t, 1, batchErr.Failed[0].Index)
	assert.Equal(t, "broken", batchErr.Failed[0].ID)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)

	assert.Empty(t, editor.saves)
	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, "", p.Snippet())
}

func TestAddEntryTimeout(t *testing.T) {
	c := newCatalog(t)
	c.handle(EndpointSubtemplate, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	s, editor := newTestService(t, c, WithInsertSettings(InsertSettings{Timeout: 50 * time.Millisecond, Concurrency: 2}))
	p := contactPicker(t, s, "")

	_, err := p.AddEntry(context.Background(), []vo.Fragment{{ID: "slow"}}, "", false)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Empty(t, editor.saves)
}

func TestAddEntryExtents(t *testing.T) {
	c := newCatalog(t)
	c.respond(EndpointExtentGet, `<gmd:EX_Extent xmlns:gmd="http://www.isotc211.org/2005/gmd"/>`)
	s, _ := newTestService(t, c)
	p, err := s.NewPicker(PickerConfig{Kind: vo.KindExtents, MetadataID: "42", ElementName: "gmd:extent", ElementRef: "30"})
	require.NoError(t, err)
	assert.Equal(t, DefaultExtentProps(), p.ExtentProps())

	entry := vo.Fragment{ID: "5", Validated: true, XLink: "local://xml.extent.get?id=5&typename=gn:kantone&*"}
	joined, err := p.AddEntry(context.Background(), []vo.Fragment{entry}, "", true)
	require.NoError(t, err)

	reqs := c.requestsTo(EndpointExtentGet)
	require.Len(t, reqs, 1)
	assert.Equal(t, "5", reqs[0].Query.Get("id"))
	assert.Equal(t, "GMD_BBOX", reqs[0].Query.Get("format"))
	assert.Equal(t, "true", reqs[0].Query.Get("extentTypeCode"))

	want, err := snippet.BuildXMLForXlink("gmd:extent",
		"local://xml.extent.get?id=5&typename=gn:kantone&format=GMD_BBOX&extentTypeCode=true&uuid=5",
		snippet.Attr{Key: "xlink:show", Value: "embed"})
	require.NoError(t, err)
	assert.Equal(t, want, joined)
}

func TestAddEntryKeywords(t *testing.T) {
	c := newCatalog(t)
	c.respond("che.keyword.get", `<gmd:MD_Keywords xmlns:gmd="http://www.isotc211.org/2005/gmd"/>`)
	s, _ := newTestService(t, c)
	p, err := s.NewPicker(PickerConfig{Kind: vo.KindKeywords, MetadataID: "42", ElementName: "gmd:descriptiveKeywords", ElementRef: "31"})
	require.NoError(t, err)

	joined, err := p.AddEntry(context.Background(), []vo.Fragment{{ID: "k", XLink: "local://che.keyword.get?thesaurus=t&id=k"}}, "", false)
	require.NoError(t, err)
	assert.Contains(t, joined, "<gmd:MD_Keywords")
	require.Len(t, c.requestsTo("che.keyword.get"), 1)

	_, err = p.AddEntry(context.Background(), []vo.Fragment{{ID: "no-link"}}, "", false)
	require.Error(t, err)
}

func TestAddEntryNothingSelected(t *testing.T) {
	c := newCatalog(t)
	s, _ := newTestService(t, c)
	p := contactPicker(t, s, "")
	_, err := p.AddEntry(context.Background(), nil, "", false)
	require.Error(t, err)
}

func TestLoadSO(t *testing.T) {
	c := newCatalog(t)
	c.respond(EndpointList, `[{"id": "1", "validated": "true"}]`)
	s, _ := newTestService(t, c)
	p, err := s.NewPicker(PickerConfig{Kind: vo.KindExtents, ElementName: "gmd:extent", ElementRef: "30"})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, p.State())

	p.SetRegionType("kantone")
	p.SetSearchValue("bern")
	objects, err := p.LoadSO(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, objects, p.Objects())
	assert.Equal(t, StateListed, p.State())

	req := c.requestsTo(EndpointList)[0]
	assert.Equal(t, "gn:kantone", req.Query.Get("validated"))
	assert.Equal(t, "bern", req.Query.Get("q"))
	assert.Equal(t, "extents", req.Query.Get("type"))
}

func TestLoadSODropsOutdatedAnswers(t *testing.T) {
	c := newCatalog(t)
	release := make(chan struct{})
	c.handle(EndpointList, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "old" {
			<-release
			_, _ = io.WriteString(w, `[{"id": "old"}]`)
			return
		}
		_, _ = io.WriteString(w, `[{"id": "new"}]`)
	})
	s, _ := newTestService(t, c)
	p := contactPicker(t, s, "")

	p.SetSearchValue("old")
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.LoadSO(context.Background())
	}()
	require.Eventually(t, func() bool { return len(c.requestsTo(EndpointList)) == 1 }, time.Second, 5*time.Millisecond)

	p.SetSearchValue("new")
	_, err := p.LoadSO(context.Background())
	require.NoError(t, err)
	close(release)
	<-done

	objects := p.Objects()
	require.Len(t, objects, 1)
	assert.Equal(t, "new", objects[0].ID)
}

func TestAdd(t *testing.T) {
	c := newCatalog(t)
	s, editor := newTestService(t, c)
	p, err := s.NewPicker(PickerConfig{
		Kind:              vo.KindFormats,
		MetadataID:        "42",
		ElementName:       "gmd:distributionFormat",
		ElementRef:        "50",
		DomID:             "gn-el-50",
		TemplateAddAction: true,
	})
	require.NoError(t, err)

	require.NoError(t, p.Add(context.Background()))
	require.Len(t, editor.adds, 1)
	assert.Equal(t, AddRequest{MetadataID: "42", Ref: "50", Name: "gmd:distributionFormat", Position: "before"}, editor.adds[0])
	require.Len(t, editor.saves, 1)
}

func TestGather(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	results, err := gather(context.Background(), ids, 2, time.Second, func(ctx context.Context, i int) (string, error) {
		time.Sleep(time.Duration(len(ids)-i) * 5 * time.Millisecond)
		return strings.ToUpper(ids[i]), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, results)

	_, err = gather(context.Background(), ids, 0, 0, func(ctx context.Context, i int) (string, error) {
		if i%2 == 1 {
			return "", fmt.Errorf("odd %d", i)
		}
		return "ok", nil
	})
	var batchErr *BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Failed, 2)
	assert.Equal(t, "b", batchErr.Failed[0].ID)
	assert.Equal(t, "d", batchErr.Failed[1].ID)
	assert.Contains(t, err.Error(), "2 of 4 entries failed")
}

func TestRegistry(t *testing.T) {
	c := newCatalog(t)
	s, _ := newTestService(t, c)
	first, err := s.NewPicker(PickerConfig{ID: "e1", Kind: vo.KindExtents, ElementName: "gmd:extent"})
	require.NoError(t, err)
	second, err := s.NewPicker(PickerConfig{ID: "e2", Kind: vo.KindExtents, ElementName: "gmd:extent"})
	require.NoError(t, err)

	r := s.Registry()
	assert.Same(t, first, r.First(vo.KindExtents))
	assert.Same(t, second, r.Get("e2"))
	assert.Nil(t, r.First(vo.KindKeywords))

	r.Unregister("e1")
	assert.Same(t, second, r.First(vo.KindExtents))
	assert.Len(t, r.List(), 1)
}
