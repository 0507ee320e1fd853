// Package npra downloads road-traffic registrations from the Statens
// vegvesen trafikkdata GraphQL API: the station catalog, hourly total
// volumes, and hourly volumes by vehicle length class.
package npra

// Station is one traffic registration point as written to
// trafficregpoints.csv. ID is the ordinal position in the catalog response;
// NPRAID is the upstream identifier.
type Station struct {
	ID           int      `csv:"id"`
	NPRAID       string   `csv:"npra_id"`
	Name         string   `csv:"name"`
	Municipality *int     `csv:"municipality"`
	RoadRef      string   `csv:"road_ref"`
	Lat          *float64 `csv:"lat"`
	Lon          *float64 `csv:"lon"`
	FirstTime    string   `csv:"firsttime"`
	LastHour     string   `csv:"lasthour"`
	LastDay      string   `csv:"lastday"`
	Bike         bool     `csv:"bike"`
	Periodic     bool     `csv:"periodic"`
	Retired      bool     `csv:"retired"`
	TempOut      bool     `csv:"tempout"`
}

// VolumeRow is one hour of total volume, aggvol.csv schema. Missing counts
// and coverage stay empty cells, never zeroes.
type VolumeRow struct {
	ID       int      `csv:"id"`
	Time     string   `csv:"time"`
	Volume   *int     `csv:"volume"`
	Coverage *float64 `csv:"coverage"`
}

// LengthRow is one hour of volume for one vehicle length class,
// lengthvol.csv schema.
type LengthRow struct {
	ID       int      `csv:"id"`
	Time     string   `csv:"time"`
	Length   string   `csv:"length"`
	Volume   *int     `csv:"volume"`
	Coverage *float64 `csv:"coverage"`
}

// LengthCategories are the vehicle length classes the API reports. Hours
// with no by-length breakdown still emit one empty row per class so the
// hour grid stays complete.
var LengthCategories = []string{
	"[...,5.6)", "[5.6,...)", "[5.6,7.6)", "[7.6,12.5)",
	"[12.5,16.0)", "[16.0,24.0)", "[24.0,..)",
}

// GraphQL response shapes. Every nested object can be null.

type gqlError struct {
	Message string `json:"message"`
}

type stationsResponse struct {
	Data struct {
		TrafficRegistrationPoints []registrationPoint `json:"trafficRegistrationPoints"`
	} `json:"data"`
	Errors []gqlError `json:"errors"`
}

type registrationPoint struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	TrafficRegistrationType string `json:"trafficRegistrationType"`
	OperationalStatus       string `json:"operationalStatus"`
	RegistrationFrequency   string `json:"registrationFrequency"`
	DataTimeSpan            *struct {
		FirstData                   string `json:"firstData"`
		FirstDataWithQualityMetrics string `json:"firstDataWithQualityMetrics"`
		LatestData                  *struct {
			VolumeByHour string `json:"volumeByHour"`
			VolumeByDay  string `json:"volumeByDay"`
		} `json:"latestData"`
	} `json:"dataTimeSpan"`
	Location *struct {
		Municipality *struct {
			Number int `json:"number"`
		} `json:"municipality"`
		RoadReference *struct {
			ShortForm string `json:"shortForm"`
		} `json:"roadReference"`
		Coordinates *struct {
			LatLon *struct {
				Lat float64 `json:"lat"`
				Lon float64 `json:"lon"`
			} `json:"latLon"`
		} `json:"coordinates"`
	} `json:"location"`
}

type volumeResponse struct {
	Data struct {
		TrafficData *struct {
			Volume *struct {
				ByHour *struct {
					Edges []struct {
						Node HourNode `json:"node"`
					} `json:"edges"`
				} `json:"byHour"`
			} `json:"volume"`
		} `json:"trafficData"`
	} `json:"data"`
	Errors []gqlError `json:"errors"`
}

// volumeTotal carries the count and coverage pair used both for the hour
// total and for each length class.
type volumeTotal struct {
	Coverage *struct {
		Percentage *float64 `json:"percentage"`
	} `json:"coverage"`
	VolumeNumbers *struct {
		Volume *int `json:"volume"`
	} `json:"volumeNumbers"`
}

// HourNode is one hour edge of the byHour query.
type HourNode struct {
	From          string       `json:"from"`
	Total         *volumeTotal `json:"total"`
	ByLengthRange []struct {
		LengthRange *struct {
			Representation string `json:"representation"`
		} `json:"lengthRange"`
		Total *volumeTotal `json:"total"`
	} `json:"byLengthRange"`
}
