package epay

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	soapPrologue   = `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="` + soapEnvelopeNS + `"><soap:Body>`
	soapEpilogue = `</soap:Body></soap:Envelope>`
)

type captureRequest struct {
	XMLName        xml.Name `xml:"https://ssl.ditonlinebetalingssystem.dk/remote/payment capture"`
	MerchantNumber string   `xml:"merchantnumber"`
	TransactionID  string   `xml:"transactionid"`
	Amount         int64    `xml:"amount"`
	Password       string   `xml:"pwd,omitempty"`
	PBSResponse    string   `xml:"pbsResponse"`
	EpayResponse   string   `xml:"epayresponse"`
}

type captureResponse struct {
	XMLName       xml.Name `xml:"captureResponse"`
	CaptureResult string   `xml:"captureResult"`
	PBSResponse   string   `xml:"pbsResponse"`
	EpayResponse  string   `xml:"epayresponse"`
}

type getEpayErrorRequest struct {
	XMLName          xml.Name `xml:"https://ssl.ditonlinebetalingssystem.dk/remote/payment getEpayError"`
	MerchantNumber   string   `xml:"merchantnumber"`
	Language         int      `xml:"language"`
	EpayResponseCode string   `xml:"epayresponsecode"`
	Password         string   `xml:"pwd,omitempty"`
	EpayResponse     string   `xml:"epayresponse"`
}

type getEpayErrorResponse struct {
	XMLName            xml.Name `xml:"getEpayErrorResponse"`
	Result             string   `xml:"getEpayErrorResult"`
	EpayResponseString string   `xml:"epayresponsestring"`
	EpayResponse       string   `xml:"epayresponse"`
}

type getPbsErrorRequest struct {
	XMLName         xml.Name `xml:"https://ssl.ditonlinebetalingssystem.dk/remote/payment getPbsError"`
	MerchantNumber  string   `xml:"merchantnumber"`
	Language        int      `xml:"language"`
	PBSResponseCode string   `xml:"pbsresponsecode"`
	Password        string   `xml:"pwd,omitempty"`
	EpayResponse    string   `xml:"epayresponse"`
}

type getPbsErrorResponse struct {
	XMLName           xml.Name `xml:"getPbsErrorResponse"`
	Result            string   `xml:"getPbsErrorResult"`
	PBSResponseString string   `xml:"pbsresponsestring"`
	EpayResponse      string   `xml:"epayresponse"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type soapEnvelope struct {
	Body struct {
		Fault   *soapFault `xml:"Fault"`
		Content []byte     `xml:",innerxml"`
	} `xml:"Body"`
}

// encodeEnvelope wraps payload in a SOAP 1.1 envelope
func encodeEnvelope(payload interface{}) ([]byte, error) {
	inner, err := xml.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal soap body: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(soapPrologue) + len(inner) + len(soapEpilogue))
	buf.WriteString(soapPrologue)
	buf.Write(inner)
	buf.WriteString(soapEpilogue)
	return buf.Bytes(), nil
}

// decodeEnvelope unwraps a SOAP answer into out, surfacing faults as errors
func decodeEnvelope(body []byte, out interface{}) error {
	var env soapEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("unmarshal soap envelope: %w", err)
	}
	if env.Body.Fault != nil {
		return fmt.Errorf("soap fault %s: %s", env.Body.Fault.Code, env.Body.Fault.String)
	}
	if len(bytes.TrimSpace(env.Body.Content)) == 0 {
		return fmt.Errorf("empty soap body")
	}
	if err := xml.Unmarshal(env.Body.Content, out); err != nil {
		return fmt.Errorf("unmarshal soap response: %w", err)
	}
	return nil
}
