package tracker

import (
	"fmt"

	"go.uber.org/zap"
)

// ErrItemNotFound is returned by ChangeItemState for an unknown id.
var ErrItemNotFound = fmt.Errorf("tracker: item not found")

// ItemStore owns every declared item, keyed by id, in declaration order.
// It resolves composite/badged dependency wiring internally and hands raw
// "this id changed" notifications to whatever notify hook the owning
// Tracker installs; cache invalidation and bulk coalescing are the
// reactive core's job, not the store's (see reactive.go).
type ItemStore struct {
	log *zap.SugaredLogger

	items []*Item
	byID  map[string]*Item

	// compositeDeps/badgeDeps map an owning item's id to the ids of
	// composite/badged items that derive from it, so a change can be
	// propagated without a full scan.
	compositeDeps map[string][]string
	badgeDeps     map[string][]string

	notify func(id string)
}

// NewItemStore returns an empty store.
func NewItemStore(log *zap.SugaredLogger) *ItemStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ItemStore{
		log:           log,
		byID:          make(map[string]*Item),
		compositeDeps: make(map[string][]string),
		badgeDeps:     make(map[string][]string),
	}
}

// SetNotifier installs the hook invoked once per observable item change.
func (s *ItemStore) SetNotifier(fn func(id string)) {
	s.notify = fn
}

// Items returns every declared item in load order.
func (s *ItemStore) Items() []*Item {
	return s.items
}

// FindItemByID looks up an item by its declared id.
func (s *ItemStore) FindItemByID(id string) (*Item, bool) {
	it, ok := s.byID[id]
	return it, ok
}

// FindFirstProviding returns the first item (in declaration order) that can
// provide code, per CanProvide — a reverse lookup, not a count.
func (s *ItemStore) FindFirstProviding(code string) *Item {
	for _, it := range s.items {
		if it.CanProvide(code) {
			return it
		}
	}
	return nil
}

// FindActiveProviding returns the first item currently providing a positive
// count for code. This is the original's getItemByCode: "the item that
// actually supplies this code right now", distinct from FindFirstProviding's
// "an item that declares this code at all" (SPEC_FULL.md §3).
func (s *ItemStore) FindActiveProviding(code string) *Item {
	for _, it := range s.items {
		if it.Provides(code) > 0 {
			return it
		}
	}
	return nil
}

// AddItems appends decls to the store. A malformed individual descriptor is
// skipped (logged) and the rest continue to load, per spec §7
// "Item-shape error".
func (s *ItemStore) AddItems(decls []ItemDecl) {
	for _, d := range decls {
		it, err := s.buildItem(d)
		if err != nil {
			s.log.Warnw("skipping malformed item descriptor", "id", d.ID, "name", d.Name, "error", err)
			continue
		}
		if existing, ok := s.byID[it.ID]; ok {
			s.log.Warnw("item id redeclared, replacing", "id", it.ID)
			s.replaceItem(existing, it)
			continue
		}
		s.items = append(s.items, it)
		s.byID[it.ID] = it
	}
	s.rebuildDependents()
}

func (s *ItemStore) replaceItem(old, replacement *Item) {
	for i, it := range s.items {
		if it == old {
			s.items[i] = replacement
			break
		}
	}
	s.byID[replacement.ID] = replacement
}

func (s *ItemStore) buildItem(d ItemDecl) (*Item, error) {
	id := d.ID
	if id == "" {
		id = d.Name
	}
	if id == "" {
		return nil, fmt.Errorf("item descriptor has neither id nor name")
	}
	typ, ok := itemTypeNames[d.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItemType, d.Type)
	}

	it := NewItem(id, typ)
	it.Codes = []string(d.Codes)
	it.Image = d.Image
	it.DisabledImage = d.DisabledImage
	it.ImageMods = d.ImageMods
	it.DisabledImageMods = d.DisabledImageMods
	it.Count = d.Count
	it.MaxCount = d.MaxCount
	it.AllowDisabled = d.AllowDisabled
	it.LeftCode = d.LeftCode
	it.RightCode = d.RightCode
	it.BaseItemCode = d.BaseItem
	it.ItemShop = d.ItemShop
	it.Capturable = d.Capturable
	it.Loop = d.Loop
	if d.Wrap != nil {
		it.Wrap = *d.Wrap
	}

	for _, sd := range d.Stages {
		inherit := true
		if sd.InheritCodes != nil {
			inherit = *sd.InheritCodes
		}
		it.Stages = append(it.Stages, Stage{
			Codes:             sd.Codes,
			SecondaryCodes:    sd.SecondaryCodes,
			InheritCodes:      inherit,
			Image:             sd.Image,
			DisabledImage:     sd.DisabledImage,
			ImageMods:         sd.ImageMods,
			DisabledImageMods: sd.DisabledImageMods,
		})
	}

	if typ == TypeCompositeToggle && (d.LeftCode == "" || d.RightCode == "") {
		return nil, fmt.Errorf("composite_toggle item %q missing left_code/right_code", id)
	}
	if typ == TypeToggleBadged && d.BaseItem == "" {
		return nil, fmt.Errorf("toggle_badged item %q missing base_item", id)
	}

	return it, nil
}

// rebuildDependents recomputes the composite/badge dependency index and
// primes derived state (composite active stage, badge mirrored flag) from
// current item state. Called after every AddItems; Load does not call it and
// relies on fireChange's propagation to update dependents.
func (s *ItemStore) rebuildDependents() {
	s.compositeDeps = make(map[string][]string)
	s.badgeDeps = make(map[string][]string)

	for _, it := range s.items {
		switch it.Type {
		case TypeCompositeToggle:
			left := s.FindFirstProviding(it.LeftCode)
			right := s.FindFirstProviding(it.RightCode)
			if left != nil {
				s.addCompositeDep(left.ID, it.ID)
			}
			if right != nil && (left == nil || right.ID != left.ID) {
				s.addCompositeDep(right.ID, it.ID)
			}
			leftOn := left != nil && left.Provides(it.LeftCode) > 0
			rightOn := right != nil && right.Provides(it.RightCode) > 0
			it.recomputeCompositeStage(leftOn, rightOn)
		case TypeToggleBadged:
			owner := s.FindFirstProviding(it.BaseItemCode)
			if owner == nil {
				s.log.Warnw("toggle_badged base_item not found", "id", it.ID, "base_item", it.BaseItemCode)
				continue
			}
			s.badgeDeps[owner.ID] = append(s.badgeDeps[owner.ID], it.ID)
			it.Enabled = owner.Provides(it.BaseItemCode) > 0
		}
	}
}

func (s *ItemStore) addCompositeDep(ownerID, compID string) {
	for _, existing := range s.compositeDeps[ownerID] {
		if existing == compID {
			return
		}
	}
	s.compositeDeps[ownerID] = append(s.compositeDeps[ownerID], compID)
}

// ChangeItemState applies action to the named item, per the state machines
// of spec §4.1. COMPOSITE_TOGGLE and TOGGLE_BADGED ignore direct actions on
// themselves and delegate Primary to the item providing their referenced
// code.
func (s *ItemStore) ChangeItemState(id string, action Action) (bool, error) {
	it, ok := s.byID[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	switch it.Type {
	case TypeCompositeToggle:
		owner := s.FindFirstProviding(it.LeftCode)
		if owner == nil {
			return false, nil
		}
		return s.ChangeItemState(owner.ID, ActionPrimary)
	case TypeToggleBadged:
		owner := s.FindFirstProviding(it.BaseItemCode)
		if owner == nil {
			return false, nil
		}
		return s.ChangeItemState(owner.ID, ActionPrimary)
	default:
		changed := it.changeStateImpl(action)
		if changed {
			s.fireChange(id)
		}
		return changed, nil
	}
}

// fireChange propagates a raw item change to derived (composite/badged)
// dependents synchronously, then reports the change to the reactive core.
func (s *ItemStore) fireChange(id string) {
	s.propagateDependents(id)
	if s.notify != nil {
		s.notify(id)
	}
}

func (s *ItemStore) propagateDependents(id string) {
	for _, compID := range s.compositeDeps[id] {
		comp, ok := s.byID[compID]
		if !ok {
			continue
		}
		left := s.FindFirstProviding(comp.LeftCode)
		right := s.FindFirstProviding(comp.RightCode)
		leftOn := left != nil && left.Provides(comp.LeftCode) > 0
		rightOn := right != nil && right.Provides(comp.RightCode) > 0
		if comp.recomputeCompositeStage(leftOn, rightOn) {
			s.fireChange(compID)
		}
	}
	for _, badgeID := range s.badgeDeps[id] {
		badge, ok := s.byID[badgeID]
		if !ok {
			continue
		}
		owner := s.FindFirstProviding(badge.BaseItemCode)
		on := owner != nil && owner.Provides(badge.BaseItemCode) > 0
		if badge.Enabled != on {
			badge.Enabled = on
			s.fireChange(badgeID)
		}
	}
}
