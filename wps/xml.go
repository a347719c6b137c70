// Copyright 2026 The Swallow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wps

import (
	"encoding/xml"
	"strconv"
	"time"

	"github.com/cedadev/swallow"
	"github.com/cedadev/swallow/config"
)

const (
	Version = "1.0.0"

	NamespaceWPS   = "http://www.opengis.net/wps/1.0.0"
	NamespaceOWS   = "http://www.opengis.net/ows/1.1"
	NamespaceXLink = "http://www.w3.org/1999/xlink"
	NamespaceXSI   = "http://www.w3.org/2001/XMLSchema-instance"

	schemas = "http://schemas.opengis.net/wps/1.0.0/"
)

// Documents are written with literal prefixes, so every root element
// declares the namespaces itself.
type namespaces struct {
	WPS    string `xml:"xmlns:wps,attr,omitempty"`
	OWS    string `xml:"xmlns:ows,attr"`
	XLink  string `xml:"xmlns:xlink,attr,omitempty"`
	XSI    string `xml:"xmlns:xsi,attr"`
	Schema string `xml:"xsi:schemaLocation,attr"`
}

func newNamespaces(schema string) namespaces {
	return namespaces{
		WPS:    NamespaceWPS,
		OWS:    NamespaceOWS,
		XLink:  NamespaceXLink,
		XSI:    NamespaceXSI,
		Schema: NamespaceWPS + " " + schemas + schema,
	}
}

type owsMetadata struct {
	Title string `xml:"xlink:title,attr,omitempty"`
	Href  string `xml:"xlink:href,attr,omitempty"`
	Role  string `xml:"xlink:role,attr,omitempty"`
}

type link struct {
	Href string `xml:"xlink:href,attr"`
}

// processBrief is the part of a process shared by every document.
type processBrief struct {
	Version    string        `xml:"wps:processVersion,attr,omitempty"`
	Identifier string        `xml:"ows:Identifier"`
	Title      string        `xml:"ows:Title"`
	Abstract   string        `xml:"ows:Abstract,omitempty"`
	Metadata   []owsMetadata `xml:"ows:Metadata,omitempty"`
}

func brief(d *swallow.ProcessDescription, meta bool) processBrief {
	b := processBrief{
		Version:    d.Version,
		Identifier: d.Identifier,
		Title:      d.Title,
		Abstract:   d.Abstract,
	}
	if meta {
		for _, m := range d.Metadata {
			b.Metadata = append(b.Metadata, owsMetadata(m))
		}
	}
	return b
}

// ExceptionReport

type owsException struct {
	Code    swallow.ExceptionCode `xml:"exceptionCode,attr"`
	Locator string                `xml:"locator,attr,omitempty"`
	Text    string                `xml:"ows:ExceptionText,omitempty"`
}

type exceptionReport struct {
	XMLName xml.Name `xml:"ows:ExceptionReport"`
	OWS     string   `xml:"xmlns:ows,attr,omitempty"`
	XSI     string   `xml:"xmlns:xsi,attr,omitempty"`
	Schema  string   `xml:"xsi:schemaLocation,attr,omitempty"`
	Version string   `xml:"version,attr"`
	Lang    string   `xml:"xml:lang,attr,omitempty"`

	Exceptions []owsException `xml:"ows:Exception"`
}

func newExceptionReport(x *swallow.Exception, lang string) *exceptionReport {
	return &exceptionReport{
		OWS:     NamespaceOWS,
		XSI:     NamespaceXSI,
		Schema:  NamespaceOWS + " http://schemas.opengis.net/ows/1.1.0/owsExceptionReport.xsd",
		Version: Version,
		Lang:    lang,
		Exceptions: []owsException{{
			Code:    x.Code,
			Locator: x.Locator,
			Text:    x.Text,
		}},
	}
}

// Capabilities

type operation struct {
	Name string `xml:"name,attr"`
	Get  link   `xml:"ows:DCP>ows:HTTP>ows:Get"`
	Post link   `xml:"ows:DCP>ows:HTTP>ows:Post"`
}

type serviceContact struct {
	Name     string `xml:"ows:IndividualName,omitempty"`
	Position string `xml:"ows:PositionName,omitempty"`
	Email    string `xml:"ows:ContactInfo>ows:Address>ows:ElectronicMailAddress,omitempty"`
	URL      *link  `xml:"ows:ContactInfo>ows:OnlineResource,omitempty"`
}

type capabilities struct {
	XMLName xml.Name `xml:"wps:Capabilities"`
	namespaces
	Service        string `xml:"service,attr"`
	Version        string `xml:"version,attr"`
	Lang           string `xml:"xml:lang,attr"`
	UpdateSequence string `xml:"updateSequence,attr,omitempty"`

	Title              string         `xml:"ows:ServiceIdentification>ows:Title"`
	Abstract           string         `xml:"ows:ServiceIdentification>ows:Abstract,omitempty"`
	Keywords           []string       `xml:"ows:ServiceIdentification>ows:Keywords>ows:Keyword,omitempty"`
	ServiceType        string         `xml:"ows:ServiceIdentification>ows:ServiceType"`
	ServiceTypeVersion string         `xml:"ows:ServiceIdentification>ows:ServiceTypeVersion"`
	ProviderName       string         `xml:"ows:ServiceProvider>ows:ProviderName"`
	ProviderSite       *link          `xml:"ows:ServiceProvider>ows:ProviderSite,omitempty"`
	Contact            serviceContact `xml:"ows:ServiceProvider>ows:ServiceContact"`

	Operations []operation    `xml:"ows:OperationsMetadata>ows:Operation"`
	Processes  []processBrief `xml:"wps:ProcessOfferings>wps:Process"`
	Default    string         `xml:"wps:Languages>wps:Default>ows:Language"`
	Supported  []string       `xml:"wps:Languages>wps:Supported>ows:Language"`
}

func newCapabilities(meta config.Metadata, url, lang string, serial int64, procs []swallow.Process) *capabilities {
	c := &capabilities{
		namespaces:         newNamespaces("wpsGetCapabilities_response.xsd"),
		Service:            "WPS",
		Version:            Version,
		Lang:               lang,
		UpdateSequence:     strconv.FormatInt(serial, 10),
		Title:              meta.Title,
		Abstract:           meta.Abstract,
		Keywords:           meta.Keywords,
		ServiceType:        "WPS",
		ServiceTypeVersion: Version,
		ProviderName:       meta.ProviderName,
		Contact: serviceContact{
			Name:     meta.ContactName,
			Position: meta.ContactPosition,
			Email:    meta.ContactEmail,
		},
		Default:   lang,
		Supported: []string{lang},
	}
	if meta.ProviderURL != "" {
		c.ProviderSite = &link{Href: meta.ProviderURL}
	}
	if meta.ContactURL != "" {
		c.Contact.URL = &link{Href: meta.ContactURL}
	}
	for _, op := range []string{"GetCapabilities", "DescribeProcess", "Execute"} {
		c.Operations = append(c.Operations, operation{
			Name: op,
			Get:  link{Href: url},
			Post: link{Href: url},
		})
	}
	for _, p := range procs {
		c.Processes = append(c.Processes, brief(p.Describe(), true))
	}
	return c
}

// ProcessDescriptions

type owsDataType struct {
	Reference string `xml:"ows:reference,attr"`
	Name      string `xml:",chardata"`
}

type literalData struct {
	DataType      owsDataType `xml:"ows:DataType"`
	AllowedValues []string    `xml:"ows:AllowedValues>ows:Value,omitempty"`
	AnyValue      *struct{}   `xml:"ows:AnyValue,omitempty"`
	DefaultValue  string      `xml:"DefaultValue,omitempty"`
}

type inputDescription struct {
	MinOccurs  int         `xml:"minOccurs,attr"`
	MaxOccurs  int         `xml:"maxOccurs,attr"`
	Identifier string      `xml:"ows:Identifier"`
	Title      string      `xml:"ows:Title"`
	Abstract   string      `xml:"ows:Abstract,omitempty"`
	Literal    literalData `xml:"LiteralData"`
}

type format struct {
	MimeType string `xml:"MimeType"`
}

type complexOutput struct {
	Default   format   `xml:"Default>Format"`
	Supported []format `xml:"Supported>Format"`
}

type literalOutput struct {
	DataType owsDataType `xml:"ows:DataType"`
}

type outputDescription struct {
	Identifier string         `xml:"ows:Identifier"`
	Title      string         `xml:"ows:Title"`
	Abstract   string         `xml:"ows:Abstract,omitempty"`
	Literal    *literalOutput `xml:"LiteralOutput,omitempty"`
	Complex    *complexOutput `xml:"ComplexOutput,omitempty"`
}

type processDescription struct {
	processBrief
	StoreSupported  bool                `xml:"storeSupported,attr"`
	StatusSupported bool                `xml:"statusSupported,attr"`
	Inputs          []inputDescription  `xml:"DataInputs>Input,omitempty"`
	Outputs         []outputDescription `xml:"ProcessOutputs>Output"`
}

type processDescriptions struct {
	XMLName xml.Name `xml:"wps:ProcessDescriptions"`
	namespaces
	Service      string               `xml:"service,attr"`
	Version      string               `xml:"version,attr"`
	Lang         string               `xml:"xml:lang,attr"`
	Descriptions []processDescription `xml:"ProcessDescription"`
}

func dataType(t swallow.DataType) owsDataType {
	if t == "" {
		t = swallow.TypeString
	}
	return owsDataType{Reference: t.Reference(), Name: string(t)}
}

func describe(d *swallow.ProcessDescription) processDescription {
	pd := processDescription{
		processBrief:    brief(d, true),
		StoreSupported:  d.StoreSupported,
		StatusSupported: d.StatusSupported,
	}
	for _, in := range d.Inputs {
		max := in.MaxOccurs
		if max < 1 {
			max = 1
		}
		id := inputDescription{
			MinOccurs:  in.MinOccurs,
			MaxOccurs:  max,
			Identifier: in.Identifier,
			Title:      in.Title,
			Abstract:   in.Abstract,
			Literal: literalData{
				DataType:      dataType(in.DataType),
				AllowedValues: in.AllowedValues,
				DefaultValue:  in.Default,
			},
		}
		if len(in.AllowedValues) == 0 {
			id.Literal.AnyValue = &struct{}{}
		}
		pd.Inputs = append(pd.Inputs, id)
	}
	for _, o := range d.Outputs {
		od := outputDescription{
			Identifier: o.Identifier,
			Title:      o.Title,
			Abstract:   o.Abstract,
		}
		if o.Kind == swallow.ComplexOutput {
			c := &complexOutput{Default: format{MimeType: o.DefaultFormat()}}
			for _, f := range o.Formats {
				c.Supported = append(c.Supported, format{MimeType: f})
			}
			if len(c.Supported) == 0 {
				c.Supported = []format{c.Default}
			}
			od.Complex = c
		} else {
			od.Literal = &literalOutput{DataType: dataType(o.DataType)}
		}
		pd.Outputs = append(pd.Outputs, od)
	}
	return pd
}

func newProcessDescriptions(lang string, descs []*swallow.ProcessDescription) *processDescriptions {
	pds := &processDescriptions{
		namespaces: newNamespaces("wpsDescribeProcess_response.xsd"),
		Service:    "WPS",
		Version:    Version,
		Lang:       lang,
	}
	for _, d := range descs {
		pds.Descriptions = append(pds.Descriptions, describe(d))
	}
	return pds
}

// ExecuteResponse

type statusStarted struct {
	Percent int    `xml:"percentCompleted,attr"`
	Message string `xml:",chardata"`
}

type statusFailed struct {
	Report exceptionReport `xml:"ows:ExceptionReport"`
}

type status struct {
	CreationTime string         `xml:"creationTime,attr"`
	Accepted     *string        `xml:"wps:ProcessAccepted,omitempty"`
	Started      *statusStarted `xml:"wps:ProcessStarted,omitempty"`
	Succeeded    *string        `xml:"wps:ProcessSucceeded,omitempty"`
	Failed       *statusFailed  `xml:"wps:ProcessFailed,omitempty"`
}

type literalValue struct {
	DataType string `xml:"dataType,attr,omitempty"`
	Value    string `xml:",chardata"`
}

type complexValue struct {
	MimeType string `xml:"mimeType,attr,omitempty"`
	Encoding string `xml:"encoding,attr,omitempty"`
	Value    string `xml:",chardata"`
}

type dataValue struct {
	Literal *literalValue `xml:"wps:LiteralData,omitempty"`
	Complex *complexValue `xml:"wps:ComplexData,omitempty"`
}

type reference struct {
	Href     string `xml:"href,attr"`
	MimeType string `xml:"mimeType,attr,omitempty"`
}

type outputValue struct {
	Identifier string     `xml:"ows:Identifier"`
	Title      string     `xml:"ows:Title"`
	Abstract   string     `xml:"ows:Abstract,omitempty"`
	Data       *dataValue `xml:"wps:Data,omitempty"`
	Reference  *reference `xml:"wps:Reference,omitempty"`
}

type inputValue struct {
	Identifier string    `xml:"ows:Identifier"`
	Title      string    `xml:"ows:Title"`
	Data       dataValue `xml:"wps:Data"`
}

type outputDefinition struct {
	AsReference bool   `xml:"asReference,attr"`
	MimeType    string `xml:"mimeType,attr,omitempty"`
	Identifier  string `xml:"ows:Identifier"`
	Title       string `xml:"ows:Title"`
}

type executeResponse struct {
	XMLName xml.Name `xml:"wps:ExecuteResponse"`
	namespaces
	Service         string `xml:"service,attr"`
	Version         string `xml:"version,attr"`
	Lang            string `xml:"xml:lang,attr"`
	ServiceInstance string `xml:"serviceInstance,attr"`
	StatusLocation  string `xml:"statusLocation,attr,omitempty"`

	Process     processBrief       `xml:"wps:Process"`
	Status      status             `xml:"wps:Status"`
	DataInputs  []inputValue       `xml:"wps:DataInputs>wps:Input,omitempty"`
	Definitions []outputDefinition `xml:"wps:OutputDefinitions>wps:Output,omitempty"`
	Outputs     []outputValue      `xml:"wps:ProcessOutputs>wps:Output,omitempty"`
}

func newStatus(info *swallow.JobInfo, lang string) status {
	ts := info.Created
	switch {
	case !info.Finished.IsZero():
		ts = info.Finished
	case !info.Started.IsZero():
		ts = info.Started
	}
	st := status{CreationTime: ts.UTC().Format(time.RFC3339)}
	msg := info.Message
	switch info.Status {
	case swallow.StatusAccepted:
		st.Accepted = &msg
	case swallow.StatusStarted:
		st.Started = &statusStarted{Percent: info.Percent, Message: msg}
	case swallow.StatusSucceeded:
		st.Succeeded = &msg
	default:
		x := info.Exception()
		if x == nil {
			// WPS 1.0.0 knows no dismissal
			x = &swallow.Exception{Code: swallow.NoApplicableCode, Text: msg}
		}
		r := newExceptionReport(x, lang)
		r.OWS, r.XSI, r.Schema = "", "", ""
		st.Failed = &statusFailed{Report: *r}
	}
	return st
}

// lineage records what was asked for in the response.
type lineage struct {
	outputs []swallow.OutputRequest
}

func newExecuteResponse(d *swallow.ProcessDescription, info *swallow.JobInfo, instance, statusURL, lang string, lin *lineage) *executeResponse {
	er := &executeResponse{
		namespaces:      newNamespaces("wpsExecute_response.xsd"),
		Service:         "WPS",
		Version:         Version,
		Lang:            lang,
		ServiceInstance: instance,
		Process:         brief(d, false),
		Status:          newStatus(info, lang),
	}
	if info.Stored {
		er.StatusLocation = statusURL
	}
	if lin != nil {
		for _, in := range info.Inputs {
			title := in.Identifier
			if li := d.Input(in.Identifier); li != nil {
				title = li.Title
			}
			er.DataInputs = append(er.DataInputs, inputValue{
				Identifier: in.Identifier,
				Title:      title,
				Data:       dataValue{Literal: &literalValue{Value: in.Value}},
			})
		}
		for _, r := range lin.outputs {
			def := outputDefinition{
				AsReference: r.AsReference,
				MimeType:    r.MimeType,
				Identifier:  r.Identifier,
			}
			if o := d.Output(r.Identifier); o != nil {
				def.Title = o.Title
			}
			er.Definitions = append(er.Definitions, def)
		}
	}
	if info.Status != swallow.StatusSucceeded {
		return er
	}
	for _, v := range info.Outputs {
		o := d.Output(v.Identifier)
		if o == nil {
			continue
		}
		ov := outputValue{
			Identifier: v.Identifier,
			Title:      o.Title,
			Abstract:   o.Abstract,
		}
		switch {
		case v.Href != "":
			ov.Reference = &reference{Href: v.Href, MimeType: v.MimeType}
		case o.Kind == swallow.LiteralOutput:
			ov.Data = &dataValue{Literal: &literalValue{
				DataType: string(o.DataType),
				Value:    v.Data,
			}}
		default:
			ov.Data = &dataValue{Complex: &complexValue{
				MimeType: v.MimeType,
				Encoding: v.Encoding,
				Value:    v.Data,
			}}
		}
		er.Outputs = append(er.Outputs, ov)
	}
	return er
}

// Requests arriving by POST.  Elements are matched by local name, so
// that any namespace prefix is accepted.

type xmlOutputRequest struct {
	AsReference bool   `xml:"asReference,attr"`
	MimeType    string `xml:"mimeType,attr"`
	Identifier  string `xml:"Identifier"`
}

type xmlInput struct {
	Identifier string `xml:"Identifier"`
	Literal    *struct {
		Value string `xml:",chardata"`
	} `xml:"Data>LiteralData"`
	Complex *struct {
		Value string `xml:",innerxml"`
	} `xml:"Data>ComplexData"`
	BoundingBox *struct{} `xml:"Data>BoundingBoxData"`
	Reference   *struct {
		Href string `xml:"href,attr"`
	} `xml:"Reference"`
}

type xmlExecute struct {
	Service    string     `xml:"service,attr"`
	Version    string     `xml:"version,attr"`
	Identifier string     `xml:"Identifier"`
	Inputs     []xmlInput `xml:"DataInputs>Input"`
	Document   *struct {
		Store   bool               `xml:"storeExecuteResponse,attr"`
		Status  bool               `xml:"status,attr"`
		Lineage bool               `xml:"lineage,attr"`
		Outputs []xmlOutputRequest `xml:"Output"`
	} `xml:"ResponseForm>ResponseDocument"`
	Raw *xmlOutputRequest `xml:"ResponseForm>RawDataOutput"`
}

type xmlDescribeProcess struct {
	Service     string   `xml:"service,attr"`
	Version     string   `xml:"version,attr"`
	Identifiers []string `xml:"Identifier"`
}

type xmlGetCapabilities struct {
	Service  string   `xml:"service,attr"`
	Versions []string `xml:"AcceptVersions>Version"`
}
