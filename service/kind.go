package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/foomo/geocat-mcp/service/vo"
)

var ErrUnknownKind = errors.New("unknown shared object type")

// ExtentProps are the output options of extents
type ExtentProps struct {
	Format   string `json:"format"`
	TypeCode string `json:"typeCode"`
}

func DefaultExtentProps() ExtentProps {
	return ExtentProps{
		Format:   "GMD_BBOX",
		TypeCode: "true",
	}
}

// fetchRequest carries everything a kind needs to retrieve one fragment
type fetchRequest struct {
	fragment vo.Fragment
	process  string
	extent   ExtentProps
}

// FragmentKind knows how fragments of one type are retrieved and referenced
type FragmentKind interface {
	Kind() vo.Kind
	// fetch returns the fragment xml and the href an xlink snippet points to
	fetch(ctx context.Context, c *Client, req fetchRequest) (xml []byte, href string, err error)
}

// KindFor resolves the behaviour of a shared object type
func KindFor(kind vo.Kind) (FragmentKind, error) {
	switch kind {
	case vo.KindContacts, vo.KindFormats:
		return subtemplateKind{kind: kind}, nil
	case vo.KindExtents:
		return extentKind{}, nil
	case vo.KindKeywords:
		return keywordKind{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// KindOfXLink guesses the type of an existing reference
func KindOfXLink(xlink string) (vo.Kind, error) {
	switch {
	case strings.Contains(xlink, EndpointExtentGet):
		return vo.KindExtents, nil
	case strings.Contains(xlink, "keyword"):
		return vo.KindKeywords, nil
	case strings.Contains(xlink, EndpointSubtemplate):
		return vo.KindContacts, nil
	default:
		return "", fmt.Errorf("%w: cannot infer type of %q", ErrUnknownKind, xlink)
	}
}

// contacts and formats are subtemplates
type subtemplateKind struct {
	kind vo.Kind
}

func (k subtemplateKind) Kind() vo.Kind {
	return k.kind
}

func (k subtemplateKind) fetch(ctx context.Context, c *Client, req fetchRequest) ([]byte, string, error) {
	xml, err := c.Get(ctx, EndpointSubtemplate, url.Values{
		"uuid":    {req.fragment.ID},
		"process": {req.process},
	})
	if err != nil {
		return nil, "", err
	}
	return xml, req.fragment.XLink + "&process=" + req.process, nil
}

type extentKind struct{}

func (extentKind) Kind() vo.Kind {
	return vo.KindExtents
}

// ExtentXLink fills the output options into the wildcard of an extent reference
func ExtentXLink(xlink string, props ExtentProps) string {
	return strings.Replace(xlink, "*", "format="+props.Format+"&extentTypeCode="+props.TypeCode, 1)
}

func (extentKind) fetch(ctx context.Context, c *Client, req fetchRequest) ([]byte, string, error) {
	if req.fragment.XLink == "" {
		return nil, "", fmt.Errorf("extent %s has no xlink", req.fragment.ID)
	}
	xlink := ExtentXLink(req.fragment.XLink, req.extent)
	xml, err := c.Get(ctx, StripLocal(xlink), nil)
	if err != nil {
		return nil, "", err
	}
	return xml, xlink + "&uuid=" + req.fragment.ID, nil
}

type keywordKind struct{}

func (keywordKind) Kind() vo.Kind {
	return vo.KindKeywords
}

func (keywordKind) fetch(ctx context.Context, c *Client, req fetchRequest) ([]byte, string, error) {
	if req.fragment.XLink == "" {
		return nil, "", fmt.Errorf("keyword %s has no xlink", req.fragment.ID)
	}
	xml, err := c.Get(ctx, StripLocal(req.fragment.XLink), nil)
	if err != nil {
		return nil, "", err
	}
	return xml, req.fragment.XLink, nil
}
