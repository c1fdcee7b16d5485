package domain

// Venue is a liquidity source a token trades on, identified by its AMM tag.
type Venue struct {
	ID   string
	Name string
}

// Venues lists every venue the feed reports, in display order.
var Venues = []Venue{
	{ID: "cp_amm", Name: "METEORA AMM V2"},
	{ID: "raydium_amm", Name: "Raydium"},
	{ID: "pump", Name: "Pump"},
	{ID: "pump_amm", Name: "Pump AMM"},
	{ID: "amm_v3", Name: "Raydium CLMM"},
	{ID: "lb_clmm", Name: "Meteora AMM"},
	{ID: "token_launchpad", Name: "Moonit"},
	{ID: "raydium_launchpad", Name: "Bonk"},
}

// VenueIDs returns the ids of all known venues.
func VenueIDs() []string {
	ids := make([]string, len(Venues))
	for i, v := range Venues {
		ids[i] = v.ID
	}
	return ids
}

// VenueName returns the display name for id, or id itself if unknown.
func VenueName(id string) string {
	for _, v := range Venues {
		if v.ID == id {
			return v.Name
		}
	}
	return id
}
