// Package snippet builds the XML snippets handed to the metadata editor
package snippet

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Separator joins the snippets of a multi entry insertion
const Separator = "&&&"

const (
	NamespaceXLink = "http://www.w3.org/1999/xlink"
	// RoleNonValidated marks references to fragments that are not validated yet
	RoleNonValidated = "http://www.geonetwork.org/non_valid_obj"
)

var Namespaces = map[string]string{
	"gmd":    "http://www.isotc211.org/2005/gmd",
	"gco":    "http://www.isotc211.org/2005/gco",
	"srv":    "http://www.isotc211.org/2005/srv",
	"gml":    "http://www.opengis.net/gml",
	"che":    "http://www.geocat.ch/2008/che",
	"geonet": "http://www.fao.org/geonetwork",
	"xlink":  NamespaceXLink,
}

// Attr is an ordered attribute
type Attr struct {
	Key   string
	Value string
}

func newElement(elementName string) (*etree.Document, *etree.Element, error) {
	if elementName == "" {
		return nil, nil, fmt.Errorf("element name is required")
	}
	doc := etree.NewDocument()
	el := doc.CreateElement(elementName)
	if prefix, _, ok := strings.Cut(elementName, ":"); ok {
		ns, known := Namespaces[prefix]
		if !known {
			return nil, nil, fmt.Errorf("unknown namespace prefix %q", prefix)
		}
		el.CreateAttr("xmlns:"+prefix, ns)
	}
	return doc, el, nil
}

// BuildXML wraps a fragment into an element of the given name
func BuildXML(elementName, fragment string) (string, error) {
	doc, el, err := newElement(elementName)
	if err != nil {
		return "", err
	}
	fragment = strings.TrimSpace(fragment)
	if fragment != "" {
		fragmentDoc := etree.NewDocument()
		if err := fragmentDoc.ReadFromString(fragment); err != nil {
			return "", fmt.Errorf("failed to parse fragment: %w", err)
		}
		root := fragmentDoc.Root()
		if root == nil {
			return "", fmt.Errorf("fragment has no root element")
		}
		el.AddChild(root.Copy())
	}
	s, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("failed to write snippet: %w", err)
	}
	return s, nil
}

// BuildXMLForXlink creates an empty element pointing to href
func BuildXMLForXlink(elementName, href string, attrs ...Attr) (string, error) {
	doc, el, err := newElement(elementName)
	if err != nil {
		return "", err
	}
	if el.SelectAttr("xmlns:xlink") == nil {
		el.CreateAttr("xmlns:xlink", NamespaceXLink)
	}
	el.CreateAttr("xlink:href", href)
	for _, a := range attrs {
		el.CreateAttr(a.Key, a.Value)
	}
	s, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("failed to write snippet: %w", err)
	}
	return s, nil
}

// BuildXMLFieldName is the name of the editor form field carrying a snippet
func BuildXMLFieldName(elementRef, elementName string) string {
	return "_X" + elementRef + "_" + strings.ReplaceAll(elementName, ":", "COLON")
}

func Join(snippets []string) string {
	return strings.Join(snippets, Separator)
}
