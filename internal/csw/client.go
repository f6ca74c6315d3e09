// Package csw is a minimal Catalogue Service for the Web client: it issues
// GetRecords requests (CSW 2.0.2, KVP over HTTP GET) and decodes the Dublin
// Core records of the response.
package csw

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/pbaille/geoharvest/internal/fetcher"
)

const outputSchema = "http://www.opengis.net/cat/csw/2.0.2"

// ErrException is returned when the server answers with an OWS exception report.
var ErrException = errors.New("csw: exception report")

// Getter is the HTTP transport the client runs on.
type Getter interface {
	Get(ctx context.Context, rawURL, accept string) (*fetcher.Response, error)
}

// Client queries one CSW endpoint.
type Client struct {
	endpoint string
	http     Getter
}

// New creates a Client for endpoint.
func New(endpoint string, http Getter) *Client {
	return &Client{endpoint: endpoint, http: http}
}

// Probe asks for a single record and returns the total number of matches.
func (c *Client) Probe(ctx context.Context) (int, error) {
	page, err := c.GetRecords(ctx, 0, 1)
	if err != nil {
		return 0, err
	}
	return page.Matched, nil
}

// Page fetches up to size records starting at start.
func (c *Client) Page(ctx context.Context, start, size int) (*Page, error) {
	return c.GetRecords(ctx, start, size)
}

// GetRecords issues a GetRecords request and decodes the search results.
func (c *Client) GetRecords(ctx context.Context, start, maxRecords int) (*Page, error) {
	reqURL, err := c.recordsURL(start, maxRecords)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Get(ctx, reqURL, "application/xml")
	if err != nil {
		return nil, fmt.Errorf("csw getrecords: %w", err)
	}
	page, err := Decode(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("csw getrecords: %w", err)
	}
	return page, nil
}

func (c *Client) recordsURL(start, maxRecords int) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("csw endpoint: %w", err)
	}
	q := u.Query()
	q.Set("service", "CSW")
	q.Set("version", "2.0.2")
	q.Set("request", "GetRecords")
	q.Set("typeNames", "csw:Record")
	q.Set("resultType", "results")
	q.Set("elementSetName", "full")
	q.Set("outputSchema", outputSchema)
	q.Set("startPosition", strconv.Itoa(start))
	q.Set("maxRecords", strconv.Itoa(maxRecords))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Decode parses a GetRecords response document. Non UTF-8 documents are
// converted according to their XML declaration.
func Decode(r io.Reader) (*Page, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, errors.New("csw: empty response")
		}
		if err != nil {
			return nil, fmt.Errorf("csw: decode: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "GetRecordsResponse":
			var resp getRecordsResponse
			if err := dec.DecodeElement(&resp, &start); err != nil {
				return nil, fmt.Errorf("csw: decode response: %w", err)
			}
			return resp.page(), nil
		case "ExceptionReport":
			var report exceptionReport
			if err := dec.DecodeElement(&report, &start); err != nil {
				return nil, fmt.Errorf("csw: decode exception: %w", err)
			}
			return nil, fmt.Errorf("%w: %s", ErrException, report)
		default:
			return nil, fmt.Errorf("csw: unexpected root element %q", start.Name.Local)
		}
	}
}

type exceptionReport struct {
	Exceptions []struct {
		Code    string   `xml:"exceptionCode,attr"`
		Locator string   `xml:"locator,attr"`
		Text    []string `xml:"ExceptionText"`
	} `xml:"Exception"`
}

func (r exceptionReport) String() string {
	var parts []string
	for _, e := range r.Exceptions {
		msg := e.Code
		if e.Locator != "" {
			msg += " (" + e.Locator + ")"
		}
		if len(e.Text) > 0 {
			msg += ": " + strings.TrimSpace(strings.Join(e.Text, " "))
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}
