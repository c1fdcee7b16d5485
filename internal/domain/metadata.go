package domain

// Metadata is the descriptive document a token's URI points at.
type Metadata struct {
	URI         string `json:"-"`
	Name        string `json:"name,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Twitter     string `json:"twitter,omitempty"`
	Telegram    string `json:"telegram,omitempty"`
	Website     string `json:"website,omitempty"`
	FetchedAt   int64  `json:"-"` // Unix milliseconds
}
