package csw

import "strings"

// Page is one GetRecords result window.
type Page struct {
	Matched  int
	Returned int
	// Next is the server cursor for the following request; 0 means no more records.
	Next    int
	Records []Record
}

// Record is a Dublin Core csw:Record (full, summary or brief element set).
type Record struct {
	Identifier string      `xml:"identifier"`
	Title      string      `xml:"title"`
	Abstract   string      `xml:"abstract"`
	Type       string      `xml:"type"`
	Date       string      `xml:"date"`
	Modified   string      `xml:"modified"`
	References []Reference `xml:"references"`
	URIs       []Reference `xml:"URI"`
}

// Reference is a dct:references or dc:URI link.
type Reference struct {
	Scheme   string `xml:"scheme,attr"`
	Protocol string `xml:"protocol,attr"`
	URL      string `xml:",chardata"`
}

// FirstURL returns the first non-empty reference, falling back to dc:URI entries.
func (r Record) FirstURL() string {
	for _, refs := range [][]Reference{r.References, r.URIs} {
		for _, ref := range refs {
			if u := strings.TrimSpace(ref.URL); u != "" {
				return u
			}
		}
	}
	return ""
}

type getRecordsResponse struct {
	Results struct {
		Matched  int      `xml:"numberOfRecordsMatched,attr"`
		Returned int      `xml:"numberOfRecordsReturned,attr"`
		Next     int      `xml:"nextRecord,attr"`
		Full     []Record `xml:"Record"`
		Summary  []Record `xml:"SummaryRecord"`
		Brief    []Record `xml:"BriefRecord"`
	} `xml:"SearchResults"`
}

func (r getRecordsResponse) page() *Page {
	res := r.Results
	records := make([]Record, 0, len(res.Full)+len(res.Summary)+len(res.Brief))
	records = append(records, res.Full...)
	records = append(records, res.Summary...)
	records = append(records, res.Brief...)
	for i := range records {
		records[i].Identifier = strings.TrimSpace(records[i].Identifier)
		records[i].Title = strings.TrimSpace(records[i].Title)
		records[i].Type = strings.TrimSpace(records[i].Type)
	}
	return &Page{
		Matched:  res.Matched,
		Returned: res.Returned,
		Next:     res.Next,
		Records:  records,
	}
}
