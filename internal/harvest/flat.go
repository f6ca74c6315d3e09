package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"mime"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/pbaille/geoharvest/internal/domain"
	"github.com/pbaille/geoharvest/internal/fetcher"
)

// Getter is the blocking HTTP transport used by the flat walker.
type Getter interface {
	Get(ctx context.Context, rawURL, accept string) (*fetcher.Response, error)
}

// FlatWalker harvests a source that returns every record in one JSON document.
type FlatWalker struct {
	http   Getter
	url    string
	logger *slog.Logger
}

// NewFlatWalker creates a walker fetching url through http.
func NewFlatWalker(http Getter, url string, logger *slog.Logger) *FlatWalker {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlatWalker{http: http, url: url, logger: logger}
}

// Walk fetches the document and yields one Item per metadata entry.
func (w *FlatWalker) Walk(ctx context.Context) iter.Seq2[domain.Item, error] {
	return func(yield func(domain.Item, error) bool) {
		resp, err := w.http.Get(ctx, w.url, "application/json")
		if err != nil {
			yield(domain.Item{}, fmt.Errorf("flat fetch: %w", err))
			return
		}

		body, err := toUTF8(resp.Body, resp.ContentType)
		if err != nil {
			yield(domain.Item{}, fmt.Errorf("flat decode: %w", err))
			return
		}

		raws, err := decodeFlatDocument(body)
		if err != nil {
			w.logger.Error("flat: rejected payload", "error", err)
			yield(domain.Item{}, err)
			return
		}
		w.logger.Info("flat: decoded", "records", len(raws))

		for _, raw := range raws {
			if !yield(decodeFlatRecord(raw)) {
				return
			}
		}
	}
}

// metadataShape classifies the "metadata" field before any record decoding.
type metadataShape int

const (
	shapeOther metadataShape = iota
	shapeObject
	shapeList
	shapeString
)

func classify(raw json.RawMessage) metadataShape {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return shapeOther
	}
	switch trimmed[0] {
	case '{':
		return shapeObject
	case '[':
		return shapeList
	case '"':
		return shapeString
	}
	return shapeOther
}

type flatDocument struct {
	Metadata json.RawMessage `json:"metadata"`
	To       sentinel        `json:"@to"`
}

// sentinel holds the "@to" marker, which some servers send as a number.
type sentinel string

func (s *sentinel) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*s = sentinel(t)
	case float64:
		*s = sentinel(fmt.Sprintf("%g", t))
	default:
		*s = ""
	}
	return nil
}

type flatRecord struct {
	Info struct {
		UUID FirstString `json:"uuid"`
	} `json:"geonet:info"`
	Title           FirstString `json:"defaultTitle"`
	Abstract        FirstString `json:"defaultAbstract"`
	Links           StringList  `json:"link"`
	Keywords        StringList  `json:"keyword"`
	PublicationDate FirstString `json:"publicationDate"`
}

// decodeFlatDocument classifies the document's metadata field and returns
// its raw records. A string payload is an error: "@to" == "0" means the
// source is empty, "@to" == "1" means the payload is garbage. Unknown shapes
// yield zero records, which is then reported as ErrEmptySource.
func decodeFlatDocument(body []byte) ([]json.RawMessage, error) {
	var doc flatDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v (payload %s)", ErrUnparsableMetadata, err, excerpt(body))
	}

	var raws []json.RawMessage
	switch classify(doc.Metadata) {
	case shapeObject:
		raws = []json.RawMessage{doc.Metadata}
	case shapeList:
		if err := json.Unmarshal(doc.Metadata, &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparsableMetadata, err)
		}
	case shapeString:
		switch doc.To {
		case "1":
			return nil, fmt.Errorf("%w: metadata is a string: %s", ErrUnparsableMetadata, excerpt(doc.Metadata))
		case "0":
			return nil, ErrEmptySource
		}
	}

	if len(raws) == 0 {
		return nil, ErrEmptySource
	}
	return raws, nil
}

// decodeFlatRecord turns one raw metadata entry into an Item. Decode failures
// are confined to the record and carry its uuid when one can be read.
func decodeFlatRecord(raw json.RawMessage) (domain.Item, error) {
	var rec flatRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		var ident struct {
			Info struct {
				UUID FirstString `json:"uuid"`
			} `json:"geonet:info"`
		}
		_ = json.Unmarshal(raw, &ident)
		return domain.Item{}, &ItemError{
			RemoteID: strings.TrimSpace(string(ident.Info.UUID)),
			Err:      fmt.Errorf("%w: %v", ErrUnparsableMetadata, err),
		}
	}
	return rec.item()
}

func (r flatRecord) item() (domain.Item, error) {
	id := strings.TrimSpace(string(r.Info.UUID))
	if id == "" {
		return domain.Item{}, &ItemError{Title: string(r.Title), Err: ErrMissingIdentifier}
	}

	links, err := DecodeLinks(r.Links)
	if err != nil {
		return domain.Item{}, &ItemError{RemoteID: id, Title: string(r.Title), Err: err}
	}

	return domain.Item{
		RemoteID:    id,
		Title:       string(r.Title),
		Description: string(r.Abstract),
		Date:        parseDate(string(r.PublicationDate)),
		Resources:   links,
		Keywords:    r.Keywords,
		Kind:        domain.KindUnknown,
	}, nil
}

// toUTF8 transcodes body when the response declares a charset other than UTF-8.
func toUTF8(body []byte, contentType string) ([]byte, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body, nil
	}
	label := params["charset"]
	if label == "" || strings.EqualFold(label, "utf-8") {
		return body, nil
	}
	enc, _ := charset.Lookup(label)
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Bytes(body)
}

func excerpt(b []byte) string {
	const limit = 200
	s := string(b)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
