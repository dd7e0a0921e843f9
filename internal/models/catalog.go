package models

// ServerNode is a proxy node a requester can buy access to
type ServerNode struct {
	ID       int    `json:"id" yaml:"id"`
	Alias    string `json:"alias" yaml:"alias"`
	Address  string `json:"address" yaml:"address"`
	Location string `json:"location" yaml:"location"`
	Flag     string `json:"flag" yaml:"flag"` // country code, e.g. FR, NL, FIN
}

// Plan is a purchasable access duration
type Plan struct {
	ID             int    `json:"id" yaml:"id"`
	Title          string `json:"title" yaml:"title"`
	Price          int    `json:"price" yaml:"price"`
	DurationMonths int    `json:"duration_months" yaml:"duration_months"`
}

// flagEmoji maps the country codes used in the servers table to emoji
var flagEmoji = map[string]string{
	"FR":  "🇫🇷",
	"ND":  "🇳🇱",
	"NL":  "🇳🇱",
	"FIN": "🇫🇮",
	"FI":  "🇫🇮",
}

// FlagEmoji returns the emoji for the node's flag code, or the code itself
func (s ServerNode) FlagEmoji() string {
	if e, ok := flagEmoji[s.Flag]; ok {
		return e
	}
	return s.Flag
}
