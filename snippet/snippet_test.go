package snippet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildXML(t *testing.T) {
	s, err := BuildXML("gmd:contact", `<?xml version="1.0" encoding="UTF-8"?>
<che:CHE_CI_ResponsibleParty xmlns:che="http://www.geocat.ch/2008/che"><che:individualFirstName/></che:CHE_CI_ResponsibleParty>`)
	require.NoError(t, err)
	assert.Equal(t,
		`<gmd:contact xmlns:gmd="http://www.isotc211.org/2005/gmd"><che:CHE_CI_ResponsibleParty xmlns:che="http://www.geocat.ch/2008/che"><che:individualFirstName/></che:CHE_CI_ResponsibleParty></gmd:contact>`,
		s,
	)
}

func TestBuildXMLInvalid(t *testing.T) {
	_, err := BuildXML("gmd:contact", "<open>")
	require.Error(t, err)

	_, err = BuildXML("foo:contact", "")
	require.Error(t, err)
}

func TestBuildXMLForXlink(t *testing.T) {
	s, err := BuildXMLForXlink("gmd:contact", "local://subtemplate?uuid=1&process=",
		Attr{Key: "xlink:show", Value: "embed"},
		Attr{Key: "xlink:role", Value: RoleNonValidated},
	)
	require.NoError(t, err)
	assert.Equal(t,
		`<gmd:contact xmlns:gmd="http://www.isotc211.org/2005/gmd" xmlns:xlink="http://www.w3.org/1999/xlink" xlink:href="local://subtemplate?uuid=1&amp;process=" xlink:show="embed" xlink:role="http://www.geonetwork.org/non_valid_obj"/>`,
		s,
	)
}

func TestBuildXMLFieldName(t *testing.T) {
	assert.Equal(t, "_X42_gmdCOLONcontact", BuildXMLFieldName("42", "gmd:contact"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "a&&&b&&&c", Join([]string{"a", "b", "c"}))
	assert.Equal(t, "", Join(nil))
}
