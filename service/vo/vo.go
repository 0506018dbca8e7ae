package vo

import (
	"encoding/json"
	"fmt"
)

type Markdown string

// Kind tags the type of a shared object
type Kind string

const (
	KindContacts Kind = "contacts"
	KindExtents  Kind = "extents"
	KindKeywords Kind = "keywords"
	KindFormats  Kind = "formats"
)

var Kinds = []Kind{KindContacts, KindExtents, KindKeywords, KindFormats}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown shared object type %q", s)
}

// Flag decodes the catalog's "true"/"false" strings as well as real booleans
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = Flag(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid validated flag %s: %w", string(data), err)
	}
	*f = Flag(s == "true")
	return nil
}

// Fragment is one entry of a shared object listing
type Fragment struct {
	ID        string `json:"id"` // uuid of the shared object
	Kind      Kind   `json:"type,omitempty"`
	Validated Flag   `json:"validated"` // approval status
	URL       string `json:"url,omitempty"`
	XLink     string `json:"xlink,omitempty"` // external reference to the retrieval endpoint
	Desc      string `json:"desc,omitempty"`  // human readable description, may contain markup
}

type Lang string

const (
	LangEnglish Lang = "eng"
	LangFrench  Lang = "fre"
	LangGerman  Lang = "ger"
	LangItalian Lang = "ita"
	LangRomansh Lang = "roh"
)

// Languages is the fixed set of languages shared objects are edited in
var Languages = []Lang{LangEnglish, LangFrench, LangGerman, LangItalian, LangRomansh}

// LanguagesCSV is the lang parameter of the keyword services
const LanguagesCSV = "eng,fre,ger,roh,ita"

type Text struct {
	Label string `json:"label"`
	Desc  string `json:"desc"`
}

// LocalizedText maps every supported language to a label and a description
type LocalizedText map[Lang]*Text

func NewLocalizedText() LocalizedText {
	t := make(LocalizedText, len(Languages))
	for _, lang := range Languages {
		t[lang] = &Text{}
	}
	return t
}

// Get never returns nil, missing languages are added on the fly unless t is nil
func (t LocalizedText) Get(lang Lang) *Text {
	if v, ok := t[lang]; ok && v != nil {
		return v
	}
	v := &Text{}
	if t != nil {
		t[lang] = v
	}
	return v
}

func (t LocalizedText) IsEmpty() bool {
	for _, lang := range Languages {
		v := t.Get(lang)
		if v.Label != "" || v.Desc != "" {
			return false
		}
	}
	return true
}

func (t LocalizedText) Clear() {
	for _, lang := range Languages {
		v := t.Get(lang)
		v.Label = ""
		v.Desc = ""
	}
}

func (t LocalizedText) Copy() LocalizedText {
	c := NewLocalizedText()
	for lang, v := range t {
		if v == nil {
			continue
		}
		cv := *v
		c[lang] = &cv
	}
	return c
}

// ExtentForm is the mutable form of the extent editor
type ExtentForm struct {
	ID       string        `json:"id"`
	TypeName string        `json:"typename"`
	Format   string        `json:"format"`
	GeomType string        `json:"geomType"`
	TypeCode bool          `json:"typeCode"`
	Geom     string        `json:"geom"` // WKT
	Desc     LocalizedText `json:"desc"`
	GeoID    LocalizedText `json:"geoId"`
}

const DefaultExtentGeom = "POLYGON((481500 88000,481500 297250,832500 297250,832500 88000,481500 88000))"

// ExtentFormTemplate returns a fresh form for every edit session
func ExtentFormTemplate() *ExtentForm {
	return &ExtentForm{
		Format:   "gmd_complete",
		GeomType: "polygon",
		TypeCode: true,
		Desc:     NewLocalizedText(),
		GeoID:    NewLocalizedText(),
	}
}

type Layer struct {
	Name       string `json:"name"`
	Title      string `json:"title"`
	Visible    bool   `json:"visible"`
	Background bool   `json:"background,omitempty"`
}
