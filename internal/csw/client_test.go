package csw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/pbaille/geoharvest/internal/fetcher"
)

const recordsXML = `<?xml version="1.0" encoding="UTF-8"?>
<csw:GetRecordsResponse xmlns:csw="http://www.opengis.net/cat/csw/2.0.2"
    xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dct="http://purl.org/dc/terms/">
  <csw:SearchStatus timestamp="2024-05-02T10:00:00Z"/>
  <csw:SearchResults numberOfRecordsMatched="150" numberOfRecordsReturned="2" nextRecord="3" elementSet="full">
    <csw:Record>
      <dc:identifier> rec-1 </dc:identifier>
      <dc:title>Rede hidrográfica</dc:title>
      <dct:abstract>Linhas de água</dct:abstract>
      <dc:type>liveData</dc:type>
      <dct:references scheme="OGC:WMS">https://sniamb.apambiente.pt/wms?service=WMS</dct:references>
    </csw:Record>
    <csw:Record>
      <dc:identifier>rec-2</dc:identifier>
      <dc:title>Albufeiras</dc:title>
      <dc:type>dataset</dc:type>
      <dc:date>2021-03-04</dc:date>
      <dc:URI protocol="WWW:DOWNLOAD">https://sniamb.apambiente.pt/files/albufeiras.zip</dc:URI>
    </csw:Record>
  </csw:SearchResults>
</csw:GetRecordsResponse>`

func TestDecode_Records(t *testing.T) {
	page, err := Decode(strings.NewReader(recordsXML))
	require.NoError(t, err)

	assert.Equal(t, 150, page.Matched)
	assert.Equal(t, 2, page.Returned)
	assert.Equal(t, 3, page.Next)
	require.Len(t, page.Records, 2)

	first := page.Records[0]
	assert.Equal(t, "rec-1", first.Identifier)
	assert.Equal(t, "Rede hidrográfica", first.Title)
	assert.Equal(t, "Linhas de água", first.Abstract)
	assert.Equal(t, "liveData", first.Type)
	assert.Equal(t, "https://sniamb.apambiente.pt/wms?service=WMS", first.FirstURL())

	second := page.Records[1]
	assert.Equal(t, "2021-03-04", second.Date)
	assert.Equal(t, "https://sniamb.apambiente.pt/files/albufeiras.zip", second.FirstURL())
}

func TestDecode_Latin1(t *testing.T) {
	doc := strings.Replace(recordsXML, `encoding="UTF-8"`, `encoding="ISO-8859-1"`, 1)
	latin1, err := charmap.ISO8859_1.NewEncoder().String(doc)
	require.NoError(t, err)

	page, err := Decode(strings.NewReader(latin1))
	require.NoError(t, err)
	assert.Equal(t, "Rede hidrográfica", page.Records[0].Title)
}

func TestDecode_ExceptionReport(t *testing.T) {
	doc := `<?xml version="1.0"?>
<ows:ExceptionReport xmlns:ows="http://www.opengis.net/ows" version="1.2.0">
  <ows:Exception exceptionCode="InvalidParameterValue" locator="startPosition">
    <ows:ExceptionText>startPosition out of range</ows:ExceptionText>
  </ows:Exception>
</ows:ExceptionReport>`

	_, err := Decode(strings.NewReader(doc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrException))
	assert.Contains(t, err.Error(), "InvalidParameterValue (startPosition): startPosition out of range")
}

func TestDecode_UnexpectedRoot(t *testing.T) {
	_, err := Decode(strings.NewReader(`<html><body>maintenance</body></html>`))
	assert.ErrorContains(t, err, "unexpected root element")
}

func TestClient_RequestParameters(t *testing.T) {
	var got []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		got = append(got, map[string]string{
			"request":       q.Get("request"),
			"startPosition": q.Get("startPosition"),
			"maxRecords":    q.Get("maxRecords"),
			"token":         q.Get("token"),
		})
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(recordsXML))
	}))
	defer srv.Close()

	c := New(srv.URL+"/geoportal/csw?token=abc", fetcher.New(fetcher.Config{VerifySSL: true}))

	matches, err := c.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 150, matches)

	page, err := c.Page(context.Background(), 100, 50)
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)

	require.Len(t, got, 2)
	assert.Equal(t, map[string]string{"request": "GetRecords", "startPosition": "0", "maxRecords": "1", "token": "abc"}, got[0])
	assert.Equal(t, map[string]string{"request": "GetRecords", "startPosition": "100", "maxRecords": "50", "token": "abc"}, got[1])
}
