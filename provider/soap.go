package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
)

const soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

// SOAPFault is a SOAP 1.1 fault
type SOAPFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail string `xml:"detail"`
}

func (f *SOAPFault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.String)
}

type soapRequestEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	NS      string   `xml:"xmlns:soapenv,attr"`
	Body    soapRequestBody
}

type soapRequestBody struct {
	XMLName xml.Name `xml:"soapenv:Body"`
	Content any
}

type soapResponseEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault   *SOAPFault `xml:"Fault"`
		Content []byte     `xml:",innerxml"`
	} `xml:"Body"`
}

// SOAPClient calls SOAP 1.1 operations with typed request and response structs
type SOAPClient struct {
	http *HTTPClient
}

// NewSOAPClient wraps an HTTP client
func NewSOAPClient(http *HTTPClient) *SOAPClient {
	return &SOAPClient{http: http}
}

// Call posts request to endpoint and decodes the body element into response.
// The request struct carries its own element name and namespace in XMLName.
func (c *SOAPClient) Call(ctx context.Context, op Op, endpoint, action string, request, response any) error {
	payload, err := xml.Marshal(soapRequestEnvelope{
		NS:   soapEnvelopeNS,
		Body: soapRequestBody{Content: request},
	})
	if err != nil {
		return NewTransportError(c.http.gateway, op, "encode", fmt.Errorf("failed to encode soap request: %w", err))
	}

	headers := map[string]string{"SOAPAction": `"` + action + `"`}
	resp, err := c.http.Do(ctx, &HTTPRequest{
		Op:          op,
		Method:      http.MethodPost,
		URL:         soapEndpoint(endpoint),
		Headers:     headers,
		Body:        xml.Header + string(payload),
		ContentType: "text/xml; charset=utf-8",
	})
	if err != nil {
		if fault := parseFault(resp); fault != nil {
			return NewTransportError(c.http.gateway, op, fault.Code, fault)
		}
		return err
	}

	var env soapResponseEnvelope
	if err := xml.Unmarshal(resp.Body, &env); err != nil {
		return NewTransportError(c.http.gateway, op, "malformed_response", fmt.Errorf("failed to decode soap envelope: %w", err))
	}
	if env.Body.Fault != nil && env.Body.Fault.Code != "" {
		return NewTransportError(c.http.gateway, op, env.Body.Fault.Code, env.Body.Fault)
	}
	if !resp.IsSuccess() {
		return NewTransportError(c.http.gateway, op, fmt.Sprint(resp.StatusCode),
			fmt.Errorf("HTTP error %d", resp.StatusCode))
	}
	if err := xml.Unmarshal(env.Body.Content, response); err != nil {
		return NewTransportError(c.http.gateway, op, "malformed_response", fmt.Errorf("failed to decode soap body: %w", err))
	}
	return nil
}

// parseFault returns the soap:Fault carried by an error response, if any
func parseFault(resp *HTTPResponse) *SOAPFault {
	if resp == nil || len(resp.Body) == 0 {
		return nil
	}
	var env soapResponseEnvelope
	if err := xml.Unmarshal(resp.Body, &env); err != nil {
		return nil
	}
	if env.Body.Fault == nil || env.Body.Fault.Code == "" {
		return nil
	}
	return env.Body.Fault
}

// soapEndpoint strips the ?wsdl suffix so the service URL can be posted to
func soapEndpoint(u string) string {
	lower := strings.ToLower(u)
	if i := strings.LastIndex(lower, "?wsdl"); i >= 0 && i == len(lower)-len("?wsdl") {
		return u[:i]
	}
	return u
}
