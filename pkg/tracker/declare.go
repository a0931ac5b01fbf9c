package tracker

// This file defines the typed shape of the item and location declaration
// inputs per spec §6. jsonpack extracts the raw top-level array; Tracker's
// AddItems/AddLocations decode it into these types and hand them to the
// stores, so the stores stay free of encoding concerns.

// StageDecl is one authored stage of a staged item.
type StageDecl struct {
	Codes             []string `json:"codes"`
	SecondaryCodes    []string `json:"secondary_codes"`
	InheritCodes      *bool    `json:"inherit_codes"`
	Image             string   `json:"img"`
	DisabledImage     string   `json:"disabled_img"`
	ImageMods         []string `json:"img_mods"`
	DisabledImageMods []string `json:"disabled_img_mods"`
}

// ItemDecl is one authored item descriptor.
type ItemDecl struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Type              string      `json:"type"`
	Codes             StringList  `json:"codes"`
	Image             string      `json:"img"`
	DisabledImage     string      `json:"disabled_img"`
	ImageMods         []string    `json:"img_mods"`
	DisabledImageMods []string    `json:"disabled_img_mods"`
	Stages            []StageDecl `json:"stages"`
	Count             int         `json:"count"`
	MaxCount          *int        `json:"max_count"`
	AllowDisabled     bool        `json:"allow_disabled"`
	BaseItem          string      `json:"base_item"`
	LeftCode          string      `json:"left_code"`
	RightCode         string      `json:"right_code"`
	Wrap              *bool       `json:"wrap"`
	ItemShop          bool        `json:"item_shop"`
	Capturable        bool        `json:"capturable"`
	Loop              bool        `json:"loop"`
}

// RuleDecl is the raw disjunction-of-conjunctions shape as authored: a list
// of clauses, each a list of atom strings. It is kept as plain string
// slices (not rule.Set) in the declaration types; Location/Section
// construction converts it.
type RuleDecl [][]string

// MapPlacementDecl places a location or section onto a named map.
type MapPlacementDecl struct {
	Map string  `json:"map"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

// SectionDecl is one authored section of a location.
type SectionDecl struct {
	Name            string             `json:"name"`
	AccessRules     RuleDecl           `json:"access_rules"`
	VisibilityRules RuleDecl           `json:"visibility_rules"`
	Ref             string             `json:"ref"`
	ClearedCount    int                `json:"cleared_count"`
	ItemCount       int                `json:"item_count"`
	MapLocations    []MapPlacementDecl `json:"map_locations"`
}

// LocationDecl is one authored location node. Children nest arbitrarily
// deep; AddLocations flattens the tree, prefixing each child's id with its
// parent chain.
type LocationDecl struct {
	Name            string             `json:"name"`
	ShortName       string             `json:"short_name"`
	Parent          string             `json:"parent"`
	AccessRules     RuleDecl           `json:"access_rules"`
	VisibilityRules RuleDecl           `json:"visibility_rules"`
	Children        []LocationDecl     `json:"children"`
	Sections        []SectionDecl      `json:"sections"`
	MapLocations    []MapPlacementDecl `json:"map_locations"`
}

// StringList decodes either a JSON array of strings or a single
// comma-separated string, matching spec §6's "codes (list or comma
// string)".
type StringList []string
