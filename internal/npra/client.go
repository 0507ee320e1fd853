package npra

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nordata/internal/fetch"
)

// Fixed-offset CET. The API reports summer timestamps with +02:00, but all
// file timestamps use the +01:00 rendering throughout, so windows stay
// contiguous across DST edges.
var cet = time.FixedZone("CET", 3600)

// stationsQuery fetches the full registration-point catalog.
const stationsQuery = `{
  trafficRegistrationPoints(searchQuery: {}) {
    id
    name
    trafficRegistrationType
    operationalStatus
    registrationFrequency
    dataTimeSpan {
      firstData
      firstDataWithQualityMetrics
      latestData {
        volumeByHour
        volumeByDay
      }
    }
    location {
      municipality { number }
      roadReference { shortForm }
      coordinates { latLon { lat lon } }
    }
  }
}`

// byHourQuery fetches hourly volumes for one station and window.
const byHourQuery = `{
  trafficData(trafficRegistrationPointId: "%s") {
    volume {
      byHour(from: "%s", to: "%s") {
        edges {
          node {
            from
            total {
              coverage { percentage }
              volumeNumbers { volume }
            }
            byLengthRange {
              lengthRange { representation }
              total {
                coverage { percentage }
                volumeNumbers { volume }
              }
            }
          }
        }
      }
    }
  }
}`

// Client talks to the trafikkdata GraphQL endpoint.
type Client struct {
	session *fetch.Session
	baseURL string
	logger  *zap.Logger
}

// NewClient builds a Client. A nil logger defaults to zap.NewNop.
func NewClient(baseURL string, session *fetch.Session, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{session: session, baseURL: baseURL, logger: logger}
}

type gqlRequest struct {
	Query string `json:"query"`
}

// FetchStations downloads the whole station catalog, flattened and indexed
// in response order.
func (c *Client) FetchStations(ctx context.Context) ([]Station, error) {
	var resp stationsResponse
	if err := c.session.PostJSON(ctx, c.baseURL, gqlRequest{Query: stationsQuery}, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch stations: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("stations query rejected: %s", resp.Errors[0].Message)
	}

	stations := make([]Station, 0, len(resp.Data.TrafficRegistrationPoints))
	for i, p := range resp.Data.TrafficRegistrationPoints {
		stations = append(stations, flattenPoint(i, p))
	}
	c.logger.Info("fetched station catalog", zap.Int("stations", len(stations)))
	return stations, nil
}

func flattenPoint(index int, p registrationPoint) Station {
	st := Station{
		ID:       index,
		NPRAID:   p.ID,
		Name:     p.Name,
		Bike:     p.TrafficRegistrationType == "BICYCLE",
		Periodic: p.RegistrationFrequency == "PERIODIC",
		Retired:  p.OperationalStatus == "RETIRED",
		TempOut:  p.OperationalStatus == "TEMPORARILY_OUT_OF_SERVICE",
	}
	if ts := p.DataTimeSpan; ts != nil {
		st.FirstTime = ts.FirstData
		if ts.LatestData != nil {
			st.LastHour = ts.LatestData.VolumeByHour
			st.LastDay = ts.LatestData.VolumeByDay
		}
	}
	if loc := p.Location; loc != nil {
		if loc.Municipality != nil {
			n := loc.Municipality.Number
			st.Municipality = &n
		}
		if loc.RoadReference != nil {
			st.RoadRef = loc.RoadReference.ShortForm
		}
		if loc.Coordinates != nil && loc.Coordinates.LatLon != nil {
			lat, lon := loc.Coordinates.LatLon.Lat, loc.Coordinates.LatLon.Lon
			st.Lat, st.Lon = &lat, &lon
		}
	}
	return st
}

// HourlyVolumes fetches the byHour edges for one station and one window.
// The window is half-open; FormatHour renders both bounds.
func (c *Client) HourlyVolumes(ctx context.Context, npraID string, from, to time.Time) ([]HourNode, error) {
	query := fmt.Sprintf(byHourQuery, npraID, FormatHour(from), FormatHour(to))

	var resp volumeResponse
	if err := c.session.PostJSON(ctx, c.baseURL, gqlRequest{Query: query}, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch volumes for %s: %w", npraID, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("volume query rejected for %s: %s", npraID, resp.Errors[0].Message)
	}

	td := resp.Data.TrafficData
	if td == nil || td.Volume == nil || td.Volume.ByHour == nil {
		return nil, nil
	}
	nodes := make([]HourNode, 0, len(td.Volume.ByHour.Edges))
	for _, e := range td.Volume.ByHour.Edges {
		nodes = append(nodes, e.Node)
	}
	return nodes, nil
}

// TotalRow normalizes one hour node to the aggvol.csv schema. Coverage is
// stored as a fraction of one, not the API's percentage.
func TotalRow(stationID int, node HourNode) VolumeRow {
	row := VolumeRow{ID: stationID, Time: node.From}
	if node.Total != nil {
		if vn := node.Total.VolumeNumbers; vn != nil && vn.Volume != nil {
			row.Volume = vn.Volume
		}
		if cv := node.Total.Coverage; cv != nil && cv.Percentage != nil {
			f := *cv.Percentage / 100
			row.Coverage = &f
		}
	}
	return row
}

// LengthRows normalizes one hour node to the lengthvol.csv schema. Hours
// without a by-length breakdown emit one empty row per known class.
func LengthRows(stationID int, node HourNode) []LengthRow {
	if len(node.ByLengthRange) == 0 {
		rows := make([]LengthRow, 0, len(LengthCategories))
		for _, lc := range LengthCategories {
			rows = append(rows, LengthRow{ID: stationID, Time: node.From, Length: lc})
		}
		return rows
	}

	rows := make([]LengthRow, 0, len(node.ByLengthRange))
	for _, lr := range node.ByLengthRange {
		if lr.LengthRange == nil {
			continue
		}
		row := LengthRow{ID: stationID, Time: node.From, Length: lr.LengthRange.Representation}
		if lr.Total != nil {
			if vn := lr.Total.VolumeNumbers; vn != nil && vn.Volume != nil {
				row.Volume = vn.Volume
			}
			if cv := lr.Total.Coverage; cv != nil && cv.Percentage != nil {
				f := *cv.Percentage / 100
				row.Coverage = &f
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// FormatHour renders a timestamp the way the volume files and queries spell
// hours: CET wall-clock hour with minutes and seconds zeroed and a fixed
// +01:00 offset.
func FormatHour(t time.Time) string {
	return t.In(cet).Format("2006-01-02T15") + ":00:00+01:00"
}

// Window is one half-open [From, To) query span.
type Window struct {
	From time.Time
	To   time.Time
}

// Windows splits [start, end) into spans of the given hour count. The final
// window may reach past end; the API simply has no data there yet.
func Windows(start, end time.Time, hours int) []Window {
	if hours <= 0 {
		hours = 100
	}
	step := time.Duration(hours) * time.Hour
	var out []Window
	for from := start; from.Before(end); from = from.Add(step) {
		out = append(out, Window{From: from, To: from.Add(step)})
	}
	return out
}
