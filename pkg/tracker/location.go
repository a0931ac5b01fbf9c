package tracker

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gitrdm/trackercore/pkg/rule"
)

// DuplicatePolicy selects how LocationStore.AddLocations handles a location
// id that is already present. Per spec §4.2 this is a build-time policy;
// this tracker defaults to Merge (see DESIGN.md's Open Question (a)).
type DuplicatePolicy int

const (
	// PolicyMerge unions sections and map placements into the existing
	// entry.
	PolicyMerge DuplicatePolicy = iota
	// PolicyRename appends "[n]" to the new id, n being the smallest
	// positive integer making it unique.
	PolicyRename
)

// MapPlacement pins a location or section onto a named map at a point.
type MapPlacement struct {
	Map string
	X   float64
	Y   float64
}

// Section is one clearable/visitable unit of a Location.
type Section struct {
	Name            string
	ParentID        string
	AccessRules     rule.Set
	VisibilityRules rule.Set
	// Ref, when non-empty, is a "location/section" path whose rules
	// replace this section's own rules during evaluation. Dereferenced
	// once (no chaining) per spec §4.4.
	Ref          string
	ClearedCount int
	MapLocations []MapPlacement
}

// Path returns this section's "location_id/section_name" identity, the key
// used for cycle-stack entries, cache entries, and change-event topics.
func (s *Section) Path() string {
	return s.ParentID + "/" + s.Name
}

// Location is a stable, slash-separated addressable node in the world.
type Location struct {
	ID              string
	Name            string
	ShortName       string
	AccessRules     rule.Set
	VisibilityRules rule.Set
	Sections        []*Section
	MapLocations    []MapPlacement
}

// MapLocationEntry is one placement returned by LocationStore.MapLocations.
type MapLocationEntry struct {
	LocationID  string
	SectionName string // empty when the placement is on the location itself
	Placement   MapPlacement
}

// LocationStore owns every declared location and its sections, plus the
// opaque maps/layouts blobs handed back to the UI collaborator unchanged.
type LocationStore struct {
	log    *zap.SugaredLogger
	policy DuplicatePolicy

	locations []*Location
	byID      map[string]*Location

	maps    map[string]any
	layouts map[string]any

	notify func(path string)
}

// NewLocationStore returns an empty store using policy for duplicate ids.
func NewLocationStore(log *zap.SugaredLogger, policy DuplicatePolicy) *LocationStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LocationStore{
		log:     log,
		policy:  policy,
		byID:    make(map[string]*Location),
		maps:    make(map[string]any),
		layouts: make(map[string]any),
	}
}

// SetNotifier installs the hook invoked once per observable section change
// (cleared-count update), carrying the section's "location_id/section_name"
// path. Ref-target changes are declaration-time events, already covered by
// the invalidation a fresh load performs; they do not fire this hook.
func (s *LocationStore) SetNotifier(fn func(path string)) {
	s.notify = fn
}

// SetClearedCount updates a section's cleared/completed count, firing its
// change notification when the value actually changes.
func (s *LocationStore) SetClearedCount(path string, count int) (bool, error) {
	_, sec, err := s.GetSection(path)
	if err != nil {
		return false, err
	}
	if sec.ClearedCount == count {
		return false, nil
	}
	sec.ClearedCount = count
	if s.notify != nil {
		s.notify(sec.Path())
	}
	return true, nil
}

func toRuleSet(d RuleDecl) rule.Set {
	if d == nil {
		return nil
	}
	s := make(rule.Set, len(d))
	for i, clause := range d {
		s[i] = append(rule.Clause(nil), clause...)
	}
	return s
}

// AddLocations flattens decls (a tree of nested children) into the store,
// propagating each child's id as parentID + "/" + name. A decl's own
// Parent field, when set, overrides the structural parent — some packs
// declare a flat list with explicit parent pointers rather than nesting.
func (s *LocationStore) AddLocations(decls []LocationDecl) {
	for _, d := range decls {
		s.addLocationTree(d, "")
	}
}

func (s *LocationStore) addLocationTree(d LocationDecl, structuralParent string) {
	if d.Name == "" {
		s.log.Warnw("skipping location descriptor with no name")
		return
	}
	parent := structuralParent
	if d.Parent != "" {
		parent = d.Parent
	}
	id := d.Name
	if parent != "" {
		id = parent + "/" + d.Name
	}

	loc := &Location{
		ID:              id,
		Name:            d.Name,
		ShortName:       d.ShortName,
		AccessRules:     toRuleSet(d.AccessRules),
		VisibilityRules: toRuleSet(d.VisibilityRules),
	}
	for _, mp := range d.MapLocations {
		loc.MapLocations = append(loc.MapLocations, MapPlacement{Map: mp.Map, X: mp.X, Y: mp.Y})
	}
	for _, sd := range d.Sections {
		sec := &Section{
			Name:            sd.Name,
			ParentID:        id,
			AccessRules:     toRuleSet(sd.AccessRules),
			VisibilityRules: toRuleSet(sd.VisibilityRules),
			Ref:             sd.Ref,
			ClearedCount:    sd.ClearedCount,
		}
		for _, mp := range sd.MapLocations {
			sec.MapLocations = append(sec.MapLocations, MapPlacement{Map: mp.Map, X: mp.X, Y: mp.Y})
		}
		loc.Sections = append(loc.Sections, sec)
	}

	s.insertLocation(loc)

	for _, child := range d.Children {
		s.addLocationTree(child, id)
	}
}

func (s *LocationStore) insertLocation(loc *Location) {
	existing, ok := s.byID[loc.ID]
	if !ok {
		s.locations = append(s.locations, loc)
		s.byID[loc.ID] = loc
		return
	}
	switch s.policy {
	case PolicyRename:
		n := 1
		newID := fmt.Sprintf("%s[%d]", loc.ID, n)
		for {
			if _, taken := s.byID[newID]; !taken {
				break
			}
			n++
			newID = fmt.Sprintf("%s[%d]", loc.ID, n)
		}
		s.log.Warnw("duplicate location id, renamed", "id", loc.ID, "renamed_to", newID)
		loc.ID = newID
		for _, sec := range loc.Sections {
			sec.ParentID = newID
		}
		s.locations = append(s.locations, loc)
		s.byID[newID] = loc
	default:
		s.mergeLocations(existing, loc)
	}
}

// mergeLocations unions loc's sections and map placements into existing.
// Section observers are keyed by path string ("location/section") in the
// reactive core, not by *Section pointer, so replacing a same-named
// section's rules here does not orphan any subscription — there is nothing
// to explicitly detach and re-subscribe, unlike the Rename path which does
// change every section's path.
func (s *LocationStore) mergeLocations(existing, incoming *Location) {
	if incoming.ShortName != "" {
		existing.ShortName = incoming.ShortName
	}
	if !incoming.AccessRules.Empty() {
		existing.AccessRules = incoming.AccessRules
	}
	if !incoming.VisibilityRules.Empty() {
		existing.VisibilityRules = incoming.VisibilityRules
	}
	existing.MapLocations = append(existing.MapLocations, incoming.MapLocations...)

	for _, sec := range incoming.Sections {
		sec.ParentID = existing.ID
		replaced := false
		for i, es := range existing.Sections {
			if es.Name == sec.Name {
				existing.Sections[i] = sec
				replaced = true
				break
			}
		}
		if !replaced {
			existing.Sections = append(existing.Sections, sec)
		}
	}
}

// AddMaps stores the maps blob unchanged for later retrieval by name.
func (s *LocationStore) AddMaps(data map[string]any) {
	for k, v := range data {
		s.maps[k] = v
	}
}

// AddLayouts stores the layouts blob unchanged for later retrieval by name.
func (s *LocationStore) AddLayouts(data map[string]any) {
	for k, v := range data {
		s.layouts[k] = v
	}
}

// GetMap returns the opaque map blob for name.
func (s *LocationStore) GetMap(name string) (any, bool) {
	v, ok := s.maps[name]
	return v, ok
}

// GetLayout returns the opaque layout blob for name.
func (s *LocationStore) GetLayout(name string) (any, bool) {
	v, ok := s.layouts[name]
	return v, ok
}

// MapNames returns every known map name.
func (s *LocationStore) MapNames() []string {
	names := make([]string, 0, len(s.maps))
	for k := range s.maps {
		names = append(names, k)
	}
	return names
}

// GetLocation resolves id to a Location. With partial=false only an exact id
// match is tried. With partial=true, on a miss: if id has no '/', it is
// matched against each location's Name; if it has a '/', it is matched
// against any location whose id ends with "/id".
func (s *LocationStore) GetLocation(id string, partial bool) (*Location, error) {
	if loc, ok := s.byID[id]; ok {
		return loc, nil
	}
	if !partial {
		return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, id)
	}
	if !strings.Contains(id, "/") {
		for _, loc := range s.locations {
			if loc.Name == id {
				return loc, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, id)
	}
	suffix := "/" + id
	for _, loc := range s.locations {
		if strings.HasSuffix(loc.ID, suffix) {
			return loc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, id)
}

// GetSection resolves "loc_path/section_name", splitting at the last '/',
// resolving the location with partial=true, then matching the section by
// exact name.
func (s *LocationStore) GetSection(path string) (*Location, *Section, error) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrSectionNotFound, path)
	}
	locPart, secName := path[:idx], path[idx+1:]
	loc, err := s.GetLocation(locPart, true)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrSectionNotFound, path)
	}
	for _, sec := range loc.Sections {
		if sec.Name == secName {
			return loc, sec, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrSectionNotFound, path)
}

// ResolveSectionRef dereferences sec.Ref once, if set, returning the section
// whose rules should actually be read. Resolution failure is reported via
// ok=false; callers log it and treat the atom/reference as NONE per §7
// "Unresolved atom", without falling back to a second dereference.
func (s *LocationStore) ResolveSectionRef(sec *Section) (*Section, bool) {
	if sec.Ref == "" {
		return sec, true
	}
	_, target, err := s.GetSection(sec.Ref)
	if err != nil {
		return nil, false
	}
	return target, true
}

// MapLocations returns every location/section placement declared against
// mapName.
func (s *LocationStore) MapLocations(mapName string) []MapLocationEntry {
	var out []MapLocationEntry
	for _, loc := range s.locations {
		for _, mp := range loc.MapLocations {
			if mp.Map == mapName {
				out = append(out, MapLocationEntry{LocationID: loc.ID, Placement: mp})
			}
		}
		for _, sec := range loc.Sections {
			for _, mp := range sec.MapLocations {
				if mp.Map == mapName {
					out = append(out, MapLocationEntry{LocationID: loc.ID, SectionName: sec.Name, Placement: mp})
				}
			}
		}
	}
	return out
}

// Locations returns every declared location in load order.
func (s *LocationStore) Locations() []*Location {
	return s.locations
}
