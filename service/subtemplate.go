package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// ContactTemplate seeds new contact subtemplates
const ContactTemplate = `<che:CHE_CI_ResponsibleParty xmlns:che="http://www.geocat.ch/2008/che"` +
	` xmlns:gco="http://www.isotc211.org/2005/gco"` +
	` xmlns:gmd="http://www.isotc211.org/2005/gmd"` +
	` xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"` +
	` xmlns:geonet="http://www.fao.org/geonetwork"` +
	` gco:isoType="gmd:CI_ResponsibleParty">` +
	`<gmd:organisationName xsi:type="gmd:PT_FreeText_PropertyType">` +
	`<gmd:PT_FreeText>` +
	`<gmd:textGroup><gmd:LocalisedCharacterString locale="#DE">~~ Template First Name ~~</gmd:LocalisedCharacterString></gmd:textGroup>` +
	`<gmd:textGroup><gmd:LocalisedCharacterString locale="#FR">~~ Template First Name ~~</gmd:LocalisedCharacterString></gmd:textGroup>` +
	`<gmd:textGroup><gmd:LocalisedCharacterString locale="#IT">~~ Template First Name ~~</gmd:LocalisedCharacterString></gmd:textGroup>` +
	`<gmd:textGroup><gmd:LocalisedCharacterString locale="#EN">~~ Template First Name ~~</gmd:LocalisedCharacterString></gmd:textGroup>` +
	`</gmd:PT_FreeText>` +
	`</gmd:organisationName>` +
	`<gmd:contactInfo>` +
	`<gmd:CI_Contact>` +
	`<gmd:phone><che:CHE_CI_Telephone gco:isoType="gmd:CI_Telephone"><gmd:voice><gco:CharacterString/></gmd:voice></che:CHE_CI_Telephone></gmd:phone>` +
	`<gmd:address>` +
	`<che:CHE_CI_Address gco:isoType="gmd:CI_Address">` +
	`<gmd:city><gco:CharacterString/></gmd:city>` +
	`<gmd:electronicMailAddress><gco:CharacterString>~~ Template Email ~~</gco:CharacterString></gmd:electronicMailAddress>` +
	`<che:streetName><gco:CharacterString/></che:streetName>` +
	`<che:streetNumber><gco:CharacterString/></che:streetNumber>` +
	`</che:CHE_CI_Address>` +
	`</gmd:address>` +
	`</gmd:CI_Contact>` +
	`</gmd:contactInfo>` +
	`<gmd:role><gmd:CI_RoleCode codeList="http://www.isotc211.org/2005/resources/codeList.xml#CI_RoleCode" codeListValue="pointOfContact"/></gmd:role>` +
	`<che:individualFirstName><gco:CharacterString>~~ Template First Name ~~</gco:CharacterString></che:individualFirstName>` +
	`<che:individualLastName><gco:CharacterString>~~ Template Last Name ~~</gco:CharacterString></che:individualLastName>` +
	`</che:CHE_CI_ResponsibleParty>`

// FormURLEncode encodes data as a form body, keys sorted
func FormURLEncode(data map[string]string) string {
	values := url.Values{}
	for k, v := range data {
		values.Set(k, v)
	}
	return values.Encode()
}

type SubtemplateService struct {
	client *Client
}

func NewSubtemplateService(client *Client) *SubtemplateService {
	return &SubtemplateService{client: client}
}

// InsertResult is the answer of the catalog to an insert
type InsertResult struct {
	ID   string `json:"id"`
	UUID string `json:"uuid"`
}

// SubtemplateForm is the insert form for a subtemplate
func (s *SubtemplateService) SubtemplateForm(template string, validated bool) map[string]string {
	extra := "nonvalidated"
	if validated {
		extra = "validated"
	}
	return map[string]string{
		"insert_mode":    "0",
		"template":       "s",
		"fullPrivileges": "y",
		"data":           template,
		"group":          "0",
		"extra":          extra,
		"schema":         s.client.Settings().Schema,
	}
}

// CreateNewSubtemplate stores template as a new subtemplate. before is called
// ahead of the request, e.g. to show progress.
func (s *SubtemplateService) CreateNewSubtemplate(ctx context.Context, template string, validated bool, before func()) (*InsertResult, error) {
	if before != nil {
		before()
	}
	form := url.Values{}
	for k, v := range s.SubtemplateForm(template, validated) {
		form.Set(k, v)
	}
	body, err := s.client.PostForm(ctx, EndpointInsert, url.Values{paramContentType: {"json"}}, form)
	if err != nil {
		return nil, fmt.Errorf("failed to create subtemplate: %w", err)
	}
	return decodeInsertResult(body)
}

func decodeInsertResult(body []byte) (*InsertResult, error) {
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("<")) {
		return nil, ErrMalformedResponse
	}
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode insert response: %w", err)
	}
	ret := &InsertResult{}
	if v, ok := raw["id"]; ok && v != nil {
		ret.ID = fmt.Sprint(v)
	}
	if v, ok := raw["uuid"]; ok && v != nil {
		ret.UUID = fmt.Sprint(v)
	}
	return ret, nil
}
