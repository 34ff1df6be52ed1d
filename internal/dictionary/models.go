package dictionary

// Item is one stored option of a dictionary.
type Item struct {
	DictType string `bson:"dict_type" json:"dictType"`
	Code     string `bson:"code" json:"code"`
	Label    string `bson:"label" json:"label"`
	Sort     int    `bson:"sort" json:"sort"`
	Enabled  bool   `bson:"enabled" json:"enabled"`
}

// Option is what the API serves for a dictionary entry.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type RefreshResult struct {
	Types int            `json:"types"`
	Items map[string]int `json:"items"`
}
