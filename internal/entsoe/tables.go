package entsoe

// Document, process and resource codes the jobs request, from the
// platform guidelines appendix A.
const (
	DocActGenType = "A75" // actual generation per production type
	DocGenType    = "A68" // installed generation per type
	DocSysLoad    = "A65" // system total load
	DocActGen     = "A73" // actual generation per unit

	ProcDayAhead  = "A01"
	ProcRealised  = "A16"
	ProcYearAhead = "A33"
)

// DocumentTypes maps every documentType code to its short name.
var DocumentTypes = map[string]string{
	"A09": "FinSched",
	"A11": "AggEnergy",
	"A15": "AcqRes",
	"A24": "BidDoc",
	"A25": "AllocDoc",
	"A26": "CapDoc",
	"A31": "AgrCap",
	"A37": "ResBid",
	"A38": "ResAlloc",
	"A44": "Price",
	"A61": "ENTSOE",
	"A63": "Redispatch",
	"A65": "SysLoad",
	"A68": "GenType",
	"A69": "WSForecast",
	"A70": "LoadMarg",
	"A71": "GenForecast",
	"A72": "ResFill",
	"A73": "ActGen",
	"A74": "WSAct",
	"A75": "ActGenType",
	"A76": "LoadUnavail",
	"A77": "ProdUnavail",
	"A78": "TransUnavail",
	"A79": "OffUnavail",
	"A80": "GenUnavail",
	"A81": "ContrRes",
	"A82": "AccOffers",
	"A83": "ActBalQ",
	"A84": "ActBalP",
	"A85": "ImbPrice",
	"A86": "ImbVol",
	"A87": "FinSit",
	"A88": "CrossBal",
	"A89": "ContrResP",
	"A90": "NetExp",
	"A91": "CountTr",
	"A92": "CongCost",
	"A93": "DCLinkCap",
	"A94": "NonEUAlloc",
	"A95": "ConfigDoc",
	"B11": "FlowAlloc",
	"B17": "AggTSO",
	"B45": "BidAvail",
}

// ProcessTypes maps every processType code to its short name.
var ProcessTypes = map[string]string{
	"A01": "DA",
	"A02": "IDI",
	"A16": "Real",
	"A18": "IDT",
	"A31": "WA",
	"A32": "MA",
	"A33": "YA",
	"A39": "Sync",
	"A40": "ID",
	"A46": "RR",
	"A47": "mFRR_man",
	"A51": "aFRR",
	"A52": "FCR",
	"A56": "FRR",
	"A60": "mFRR_sched",
	"A61": "mFRR_dir",
	"A67": "aFRR_cen",
	"A68": "aFRR_loc",
}

// PSRTypes maps psrType codes to the short production type names used in
// the prodtype and Type columns.
var PSRTypes = map[string]string{
	"A03": "Mixed",
	"A04": "Gen",
	"A05": "Load",
	"B01": "Bio",
	"B02": "CoalBrown",
	"B03": "CoalGas",
	"B04": "Gas",
	"B05": "CoalHard",
	"B06": "Oil",
	"B07": "OilShale",
	"B08": "Peat",
	"B09": "Geo",
	"B10": "HydroPS",
	"B11": "HydroRoR",
	"B12": "HydroRes",
	"B13": "Marine",
	"B14": "Nuclear",
	"B15": "OtherRenew",
	"B16": "Solar",
	"B17": "Waste",
	"B18": "WindOff",
	"B19": "WindOn",
	"B20": "Other",
	"B21": "LinkAC",
	"B22": "LinkDC",
	"B23": "Substation",
	"B24": "Transformer",
}

// PSRShort returns the short name for a PSR code. Codes missing from the
// table pass through unchanged so new platform codes stay visible.
func PSRShort(code string) string {
	if name, ok := PSRTypes[code]; ok {
		return name
	}
	return code
}

// describe renders a code with its short name for logs, "A75 ActGenType".
func describe(table map[string]string, code string) string {
	if name, ok := table[code]; ok {
		return code + " " + name
	}
	return code
}

// Zone is a bidding zone or control area with its EIC code.
type Zone struct {
	Name string
	EIC  string
}

// NordicZones lists the Nordic bidding zones in download order.
var NordicZones = []Zone{
	{"DK1", "10YDK-1--------W"},
	{"DK2", "10YDK-2--------M"},
	{"FI", "10YFI-1--------U"},
	{"NO1", "10YNO-1--------2"},
	{"NO2", "10YNO-2--------T"},
	{"NO3", "10YNO-3--------J"},
	{"NO4", "10YNO-4--------9"},
	{"NO5", "10Y1001A1001A48H"},
	{"SE1", "10Y1001A1001A44P"},
	{"SE2", "10Y1001A1001A45N"},
	{"SE3", "10Y1001A1001A46L"},
	{"SE4", "10Y1001A1001A47J"},
}

// ControlAreas lists the four Nordic control areas the per-unit job walks.
var ControlAreas = []Zone{
	{"DK", "10Y1001A1001A796"},
	{"FI", "10YFI-1--------U"},
	{"NO", "10YNO-0--------C"},
	{"SE", "10YSE-1--------K"},
}

var zoneEIC = func() map[string]string {
	m := make(map[string]string, len(NordicZones))
	for _, z := range NordicZones {
		m[z.Name] = z.EIC
	}
	return m
}()
