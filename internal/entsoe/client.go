package entsoe

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"nordata/internal/fetch"
)

// ErrNoData is returned when the platform answers with an
// Acknowledgement_MarketDocument, its way of saying the requested slice
// holds nothing. Callers treat it as an empty result, not a failure.
var ErrNoData = errors.New("no data for requested period")

// ErrUnauthorized is returned on HTTP 401 or when no token is configured.
// There is no point retrying until ENTSOE_API_TOKEN carries a valid key.
var ErrUnauthorized = errors.New("unauthorized, check ENTSOE_API_TOKEN")

const (
	ackTag       = "Acknowledgement_MarketDocument"
	periodLayout = "200601021504"
)

// RetryPolicy is what the platform tolerates: three attempts with waits
// doubling from five seconds, no jitter.
func RetryPolicy() fetch.Policy {
	return fetch.Policy{
		MaxRetries:  3,
		BackoffBase: 2,
		Scale:       5 * time.Second,
	}
}

// Params identifies one document request.
type Params struct {
	Document string
	Process  string
	// InDomain is the queried production area. Load queries address the
	// consumption side through OutBiddingZone instead.
	InDomain       string
	OutBiddingZone string
	Start, End     time.Time
}

func (p Params) values(token string) url.Values {
	v := url.Values{}
	v.Set("securityToken", token)
	v.Set("documentType", p.Document)
	v.Set("processType", p.Process)
	if p.InDomain != "" {
		v.Set("in_Domain", p.InDomain)
	}
	if p.OutBiddingZone != "" {
		v.Set("outBiddingZone_Domain", p.OutBiddingZone)
	}
	v.Set("periodStart", p.Start.UTC().Format(periodLayout))
	v.Set("periodEnd", p.End.UTC().Format(periodLayout))
	return v
}

// Client talks to the transparency platform restful API. One instance
// serves all four jobs.
type Client struct {
	session *fetch.Session
	baseURL string
	token   string
	logger  *zap.Logger
}

// NewClient builds a Client. The token is the securityToken sent with
// every request; it comes from configuration, never from source.
func NewClient(baseURL, token string, session *fetch.Session, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{session: session, baseURL: baseURL, token: token, logger: logger}
}

// Document fetches and decodes one market document. Acknowledgement
// replies, which the platform sends both as 200 bodies and as 400 errors,
// come back as ErrNoData.
func (c *Client) Document(ctx context.Context, p Params) (*MarketDocument, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: no token configured", ErrUnauthorized)
	}
	c.logger.Debug("document",
		zap.String("type", describe(DocumentTypes, p.Document)),
		zap.String("process", describe(ProcessTypes, p.Process)),
		zap.String("start", p.Start.UTC().Format(periodLayout)),
		zap.String("end", p.End.UTC().Format(periodLayout)))

	body, err := c.session.GetBytes(ctx, c.baseURL, p.values(c.token))
	if err != nil {
		var se *fetch.StatusError
		if errors.As(err, &se) {
			if se.StatusCode == http.StatusUnauthorized {
				return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
			}
			if strings.Contains(se.Body, ackTag) {
				return nil, ErrNoData
			}
		}
		return nil, err
	}
	if bytes.Contains(body, []byte(ackTag)) {
		return nil, ErrNoData
	}

	var doc MarketDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode market document: %w", err)
	}
	return &doc, nil
}

// MarketDocument is the common shape of the GL_MarketDocument and
// Publication_MarketDocument families. Fields match on local names only,
// so the two namespaces decode alike.
type MarketDocument struct {
	XMLName xml.Name
	Series  []TimeSeries `xml:"TimeSeries"`
}

// TimeSeries is one series of a market document.
type TimeSeries struct {
	Business string     `xml:"businessType"`
	PSR      MktPSRType `xml:"MktPSRType"`
	Periods  []Period   `xml:"Period"`
}

// MktPSRType carries the production type and, for per-unit documents, the
// resource behind the series.
type MktPSRType struct {
	Type     string   `xml:"psrType"`
	Resource Resource `xml:"PowerSystemResources"`
}

// Resource is one power system resource, a generation unit.
type Resource struct {
	MRID string `xml:"mRID"`
	Name string `xml:"name"`
}

// Period is one run of equally spaced points.
type Period struct {
	Interval   TimeInterval `xml:"timeInterval"`
	Resolution string       `xml:"resolution"`
	Points     []Point      `xml:"Point"`
}

type TimeInterval struct {
	Start string `xml:"start"`
	End   string `xml:"end"`
}

type Point struct {
	Position int     `xml:"position"`
	Quantity float64 `xml:"quantity"`
}

// Value is one expanded observation from a market document.
type Value struct {
	PSRType  string
	Unit     string
	Time     time.Time
	Quantity float64
}

// Values expands every period of every series, each point stamped
// start + (position-1) x step. Step follows the period resolution:
// fifteen minutes for PT15M, one hour otherwise.
func (d *MarketDocument) Values() ([]Value, error) {
	var out []Value
	for _, ts := range d.Series {
		for _, p := range ts.Periods {
			start, err := parseInterval(p.Interval.Start)
			if err != nil {
				return nil, err
			}
			step := time.Hour
			if p.Resolution == "PT15M" {
				step = 15 * time.Minute
			}
			for _, pt := range p.Points {
				out = append(out, Value{
					PSRType:  ts.PSR.Type,
					Unit:     ts.PSR.Resource.Name,
					Time:     start.Add(time.Duration(pt.Position-1) * step),
					Quantity: pt.Quantity,
				})
			}
		}
	}
	return out, nil
}

// parseInterval reads an interval bound. The platform spells them with
// minute precision, "2014-12-31T23:00Z".
func parseInterval(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02T15:04Z07:00", s)
	if err != nil {
		var err2 error
		if t, err2 = time.Parse(time.RFC3339, s); err2 != nil {
			return time.Time{}, fmt.Errorf("bad interval bound %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

// Stamp renders a UTC timestamp the way the output files spell time,
// "2014-01-01 00:00:00+00:00".
func Stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05-07:00")
}
